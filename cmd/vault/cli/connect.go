// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/lib/config"
	"github.com/bureau-foundation/vault/lib/rpc"
)

// EngineFlags locates a running engine's socket. Embed it in the
// params of every command that talks to the engine.
type EngineFlags struct {
	Socket     string
	ConfigPath string
	Timeout    time.Duration
}

var _ FlagBinder = (*EngineFlags)(nil)

func (f *EngineFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.Socket, "socket", "s", "", "engine socket (default: rpc.socket from the configuration)")
	flagSet.StringVarP(&f.ConfigPath, "config", "c", "", "configuration file (default: $VAULT_CONFIG)")
	flagSet.DurationVar(&f.Timeout, "timeout", 0, "per-request timeout (default: rpc.request_timeout)")
}

// resolve fills the socket and timeout from the configuration where
// the flags left them unset.
func (f *EngineFlags) resolve() (socket string, timeout time.Duration, err error) {
	socket, timeout = f.Socket, f.Timeout
	if socket != "" && timeout > 0 {
		return socket, timeout, nil
	}
	cfg, err := config.Resolve(f.ConfigPath)
	if err != nil {
		return "", 0, Validation("%v", err)
	}
	if socket == "" {
		socket = cfg.RPC.Socket
	}
	if timeout <= 0 {
		if timeout, err = cfg.RequestTimeout(); err != nil {
			return "", 0, Validation("%v", err)
		}
	}
	return socket, timeout, nil
}

// Connect dials the engine and returns a protocol client. The caller
// closes it.
func (f *EngineFlags) Connect(ctx context.Context, logger *slog.Logger) (*rpc.Client, error) {
	socket, timeout, err := f.resolve()
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, diagnoseDial(socket, err)
	}
	return rpc.NewClient(conn, rpc.ClientConfig{Timeout: timeout, Logger: logger}), nil
}

// diagnoseDial explains the usual reasons an engine socket refuses a
// connection.
func diagnoseDial(socket string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Transient("no engine socket at %s; start one with 'vault-engine --socket %s'", socket, socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return Transient("engine socket %s refuses connections; the engine may have exited", socket)
	case errors.Is(err, os.ErrPermission):
		return Transient("no permission to connect to %s", socket)
	default:
		return Transient("connecting to engine at %s: %w", socket, err)
	}
}

// RequestError classifies an error from an rpc call.
func RequestError(err error) error {
	var commandErr *rpc.CommandError
	switch {
	case errors.As(err, &commandErr):
		return Internal("%w", err)
	case errors.Is(err, rpc.ErrTimeout), errors.Is(err, rpc.ErrClientClosed):
		return Transient("%w", err)
	default:
		return Internal("%w", err)
	}
}
