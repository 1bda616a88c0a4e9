// Package servicelog is the leveled, structured logging facade used
// throughout streameye. It wraps zap so call sites never import zap
// directly, and sends it to a rotating file via lumberjack, instead of
// stderr, when a log file path is configured.
package servicelog

import (
	"net/url"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var registerLumberjackSink sync.Once

// Attrib is a single structured field attached to a log line.
type Attrib func() zap.Field

func String(name, value string) Attrib {
	return func() zap.Field { return zap.String(name, value) }
}

func Error(err error) Attrib {
	return func() zap.Field { return zap.Error(err) }
}

func Bool(name string, value bool) Attrib {
	return func() zap.Field { return zap.Bool(name, value) }
}

func Int(name string, value int) Attrib {
	return func() zap.Field { return zap.Int(name, value) }
}

func Duration(name string, value float64) Attrib {
	return func() zap.Field { return zap.Float64(name, value) }
}

// Logger is the leveled interface the rest of the relay programs against.
type Logger interface {
	With(attrs ...Attrib) Logger
	Debug(msg string, attrs ...Attrib)
	Info(msg string, attrs ...Attrib)
	Warn(msg string, attrs ...Attrib)
	Error(msg string, attrs ...Attrib)
	Fatal(msg string, attrs ...Attrib)
	Sync() error
}

type logger struct {
	z *zap.Logger
}

type lumberjackSink struct {
	*lumberjack.Logger
}

func (lumberjackSink) Sync() error { return nil }

// New builds the logging facade. debug raises the level to DEBUG;
// otherwise only INFO and above are emitted unless quiet is set, in
// which case only ERROR and above are emitted. logFile, if non-empty,
// routes output through a rotating lumberjack sink instead of stderr.
func New(debug, quiet bool, logFile string) (Logger, error) {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch {
	case debug:
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case quiet:
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if logFile != "" {
		absPath, err := filepath.Abs(logFile)
		if err != nil {
			return nil, err
		}
		registerLumberjackSink.Do(func() {
			zap.RegisterSink("lumberjack", func(u *url.URL) (zap.Sink, error) {
				return lumberjackSink{
					Logger: &lumberjack.Logger{
						Filename:   u.Path,
						MaxSize:    100, // MB
						MaxBackups: 3,
						MaxAge:     28, // days
					},
				}, nil
			})
		})
		config.OutputPaths = []string{"lumberjack://" + absPath}
	} else {
		config.OutputPaths = []string{"stderr"}
	}

	z, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &logger{z: z}, nil
}

func toFields(attrs []Attrib) []zap.Field {
	if len(attrs) == 0 {
		return nil
	}
	fields := make([]zap.Field, len(attrs))
	for i, a := range attrs {
		fields[i] = a()
	}
	return fields
}

func (l *logger) With(attrs ...Attrib) Logger {
	return &logger{z: l.z.With(toFields(attrs)...)}
}

func (l *logger) Debug(msg string, attrs ...Attrib) { l.z.Debug(msg, toFields(attrs)...) }
func (l *logger) Info(msg string, attrs ...Attrib)  { l.z.Info(msg, toFields(attrs)...) }
func (l *logger) Warn(msg string, attrs ...Attrib)  { l.z.Warn(msg, toFields(attrs)...) }
func (l *logger) Error(msg string, attrs ...Attrib) { l.z.Error(msg, toFields(attrs)...) }
func (l *logger) Fatal(msg string, attrs ...Attrib) { l.z.Fatal(msg, toFields(attrs)...) }
func (l *logger) Sync() error                       { return l.z.Sync() }
