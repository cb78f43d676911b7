// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/lib/rendezvous"
	"github.com/bureau-foundation/vault/lib/version"
)

// shutdownTimeout bounds the wait for in-flight requests on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("vault-rendezvous", pflag.ContinueOnError)
	listen := flags.StringP("listen", "l", "127.0.0.1:7700", "TCP address to serve HTTP on")
	announceTTL := flags.Duration("announce-ttl", rendezvous.DefaultAnnounceTTL, "lifetime of an unrefreshed announcement")
	signalTTL := flags.Duration("signal-ttl", rendezvous.DefaultSignalTTL, "lifetime of an undelivered offer or answer")
	verbose := flags.BoolP("verbose", "v", false, "log at debug level")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("vault-rendezvous %s\n", version.Info())
		return nil
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	server := rendezvous.NewServer(rendezvous.ServerConfig{
		AnnounceTTL: *announceTTL,
		SignalTTL:   *signalTTL,
		Logger:      logger,
	})

	listener, err := net.Listen("tcp", *listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", *listen, err)
	}
	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- httpServer.Serve(listener)
	}()
	logger.Info("rendezvous serving",
		"address", listener.Addr().String(),
		"announce_ttl", *announceTTL,
		"signal_ttl", *signalTTL,
	)

	select {
	case err := <-serveErrors:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
