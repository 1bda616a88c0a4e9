// Command streameye reads a motion-JPEG byte stream from stdin and
// republishes it as multipart/x-mixed-replace to any number of
// concurrent HTTP clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/ccrisan/streameye/internal/relay"
	"github.com/ccrisan/streameye/internal/servicelog"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// Exit codes: 0 clean, 1 startup-fatal (bad flags, can't bind; see
// SPEC_FULL.md §7), 2 when the producer returns an error.
const (
	exitOK           = 0
	exitStartupFatal = 1
	exitRuntimeFatal = 2
)

func run(argv []string) int {
	cfg, err := ParseFlags(argv)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "streameye: %v\n", err)
		return exitStartupFatal
	}

	log, err := servicelog.New(cfg.Debug, cfg.Quiet, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streameye: logger init failed: %v\n", err)
		return exitStartupFatal
	}
	defer log.Sync()

	log.Info("streamEye starting", servicelog.String("version", relay.Version))
	for _, w := range cfg.Warnings {
		log.Info(w)
	}

	auth := relay.NewAuthConfig()
	if cfg.AuthMode == "basic" {
		user, pass, realm := cfg.AuthCredentials()
		if err := auth.Configure(user, pass, realm); err != nil {
			log.Error("invalid credentials", servicelog.Error(err))
			return exitStartupFatal
		}
	}

	host := ""
	if cfg.ListenLocalhost {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("failed to bind listener", servicelog.String("addr", addr), servicelog.Error(err))
		return exitStartupFatal
	}
	log.Info("listening", servicelog.String("addr", addr))

	registry := relay.NewClientRegistry(cfg.MaxClients)
	running := relay.NewRunning()
	clock := relay.NewClock()
	reg := prometheus.NewRegistry()
	metrics := relay.NewMetrics(reg)
	hub := relay.NewFrameHub(relay.MinFrameCapacity, registry, running)

	var separator []byte
	if cfg.InputSeparator != "" {
		separator = []byte(cfg.InputSeparator)
	}
	producer := relay.NewProducer(os.Stdin, listener, hub, registry, auth, metrics, clock, log,
		running, time.Duration(cfg.ClientTimeoutSec)*time.Second, separator)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg, log)
	}

	signal.Ignore(syscall.SIGPIPE)
	go handleSignals(running, hub, listener, log)

	if err := producer.Run(context.Background()); err != nil {
		log.Error("producer exited with error", servicelog.Error(err))
		return exitRuntimeFatal
	}
	return exitOK
}

func serveMetrics(addr string, reg *prometheus.Registry, log servicelog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info("serving metrics", servicelog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", servicelog.Error(err))
	}
}

// handleSignals mirrors bye_handler in the original streameye.c: the
// first SIGINT/SIGTERM stops the flag and wakes every worker; further
// signals are ignored, logged as duplicates.
func handleSignals(running *relay.Running, hub *relay.FrameHub, listener net.Listener, log servicelog.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	for range ch {
		if !running.Stop() {
			log.Info("interrupt already received, ignoring signal")
			continue
		}
		log.Info("interrupt received, quitting")
		listener.Close()
		hub.WakeAll()
	}
}
