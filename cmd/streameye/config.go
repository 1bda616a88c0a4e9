package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ccrisan/streameye/internal/relay"
)

// Config holds the fully-parsed, fully-validated command line. It is
// built from pflag in place of the original's getopt("a:c:dhlm:p:qs:t:"),
// with two SPEC_FULL additions (LogFile, MetricsAddr) for the ambient
// logging/metrics stack the distilled spec left implicit.
type Config struct {
	AuthMode         string
	Credentials      string
	Debug            bool
	Quiet            bool
	ListenLocalhost  bool
	MaxClients       int
	TCPPort          int
	InputSeparator   string
	ClientTimeoutSec int
	LogFile          string
	MetricsAddr      string

	// Warnings holds non-fatal advisories raised during check(), logged
	// by main once the logger exists.
	Warnings []string

	authUsername string
	authPassword string
	authRealm    string
}

// ParseFlags parses argv into a Config. Help (-h/--help) returns
// pflag.ErrHelp, which main treats as a clean exit.
func ParseFlags(argv []string) (*Config, error) {
	fs := pflag.NewFlagSet("streameye", pflag.ContinueOnError)
	cfg := &Config{}

	fs.StringVarP(&cfg.AuthMode, "auth", "a", "off", "authentication method: \"off\" or \"basic\"")
	fs.StringVarP(&cfg.Credentials, "credentials", "c", "", "username:password:realm, required when -a basic is set")
	fs.BoolVarP(&cfg.Debug, "debug", "d", false, "enable debug logging")
	fs.BoolVarP(&cfg.ListenLocalhost, "localhost", "l", false, "listen on localhost only")
	fs.IntVarP(&cfg.MaxClients, "max-clients", "m", 0, "maximum number of simultaneous clients (0 = unlimited)")
	fs.IntVarP(&cfg.TCPPort, "port", "p", relay.DefTCPPort, "TCP port to listen on")
	fs.BoolVarP(&cfg.Quiet, "quiet", "q", false, "suppress info logging")
	fs.StringVarP(&cfg.InputSeparator, "separator", "s", "", "explicit input frame separator (default: auto-detect JPEG boundaries)")
	fs.IntVarP(&cfg.ClientTimeoutSec, "timeout", "t", int(relay.DefClientTimeout.Seconds()), "client read/write timeout, in seconds")
	fs.StringVar(&cfg.LogFile, "log-file", "", "write logs to this file instead of stderr, with rotation")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) check() error {
	if c.AuthMode != "" && c.AuthMode != "off" && c.AuthMode != "basic" {
		return fmt.Errorf("unknown authentication method %q", c.AuthMode)
	}
	if c.AuthMode == "basic" {
		parts := strings.SplitN(c.Credentials, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return fmt.Errorf("credentials are required when using authentication (expected user:password:realm)")
		}
		c.authUsername, c.authPassword, c.authRealm = parts[0], parts[1], parts[2]
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("invalid clients number %d", c.MaxClients)
	}
	if c.TCPPort < 1 || c.TCPPort > 65535 {
		return fmt.Errorf("invalid port %d", c.TCPPort)
	}
	if c.InputSeparator != "" && len(c.InputSeparator) < 4 {
		c.Warnings = append(c.Warnings, "the input separator supplied is very likely to appear in the actual frame data (consider a longer one)")
	}
	if c.ClientTimeoutSec < 1 {
		return fmt.Errorf("invalid client timeout %d", c.ClientTimeoutSec)
	}
	if c.Debug && c.Quiet {
		return fmt.Errorf("-d/--debug and -q/--quiet are mutually exclusive")
	}
	return nil
}

// AuthCredentials returns the parsed username, password and realm.
// Only meaningful when AuthMode == "basic".
func (c *Config) AuthCredentials() (user, pass, realm string) {
	return c.authUsername, c.authPassword, c.authRealm
}
