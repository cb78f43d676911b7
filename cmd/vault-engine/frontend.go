// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/vault/lib/config"
	"github.com/bureau-foundation/vault/lib/engine"
)

// frontend accepts consumers and hands them to the engine. done closes
// when a stdio consumer hangs up; socket frontends never close it.
type frontend struct {
	done  chan struct{}
	close func()
}

func startFrontend(ctx context.Context, rpcConfig config.RPCConfig, e *engine.Engine, logger *slog.Logger) (*frontend, error) {
	switch rpcConfig.Mode {
	case "stdio":
		return serveStdio(ctx, e, logger), nil
	case "socket":
		return serveSocket(ctx, rpcConfig.Socket, e, logger)
	default:
		return nil, fmt.Errorf("unknown rpc mode %q", rpcConfig.Mode)
	}
}

// stdioConn joins stdin and stdout into one stream.
type stdioConn struct {
	io.Reader
	io.Writer
	closer io.Closer
}

func (c stdioConn) Close() error { return c.closer.Close() }

func serveStdio(ctx context.Context, e *engine.Engine, logger *slog.Logger) *frontend {
	f := &frontend{done: make(chan struct{}), close: func() {}}
	go func() {
		defer close(f.done)
		conn := stdioConn{Reader: os.Stdin, Writer: os.Stdout, closer: os.Stdin}
		if err := e.Serve(ctx, conn); err != nil && !errors.Is(err, engine.ErrClosed) {
			logger.Warn("stdio session ended", "error", err)
		}
	}()
	return f
}

// errSocketInUse is returned when another engine answers on the
// configured socket.
var errSocketInUse = errors.New("socket is in use by a running engine")

// claimSocket removes a socket left by a crashed engine so Listen can
// bind the path. A socket that still accepts connections is left in
// place.
func claimSocket(path string) error {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", errSocketInUse, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	return nil
}

func serveSocket(ctx context.Context, path string, e *engine.Engine, logger *slog.Logger) (*frontend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if err := claimSocket(path); err != nil {
		return nil, err
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restricting socket: %w", err)
	}
	logger.Info("serving consumers", "socket", path)

	accepting := make(chan struct{})
	go func() {
		defer close(accepting)
		for {
			conn, err := listener.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					logger.Error("accepting consumer", "error", err)
				}
				return
			}
			go func() {
				if err := e.Serve(ctx, conn); err != nil && !errors.Is(err, engine.ErrClosed) {
					logger.Debug("consumer session ended", "error", err)
				}
			}()
		}
	}()

	return &frontend{
		done: make(chan struct{}),
		close: func() {
			listener.Close()
			<-accepting
			os.Remove(path)
		},
	}, nil
}
