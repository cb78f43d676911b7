// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/vault/cmd/vault/cli"
	"github.com/bureau-foundation/vault/lib/rpc"
)

// streams are the process streams commands read and write. Tests
// substitute buffers.
type streams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// passphrase overrides the interactive prompt.
	passphrase func(prompt string) (string, error)

	logger *slog.Logger
}

// Root returns the vault command tree on the process streams.
func Root() *cli.Command {
	return newRoot(&streams{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		passphrase: promptPassphrase,
		logger:     cli.NewCommandLogger(slog.LevelWarn),
	})
}

func newRoot(s *streams) *cli.Command {
	return &cli.Command{
		Name:    "vault",
		Summary: "Work with a replicated vault drive",
		Description: `Work with a replicated vault drive.

Every command except 'identity' and 'version' talks to a running
vault-engine over its Unix socket.`,
		Examples: []cli.Example{
			{Description: "List the drive", Command: "vault ls"},
			{Description: "Upload a photo into a folder", Command: "vault put beach.jpg --folder Vacation"},
			{Description: "Share the drive key with another machine", Command: "vault key"},
		},
		Subcommands: []*cli.Command{
			lsCommand(s),
			mkdirCommand(s),
			rmdirCommand(s),
			putCommand(s),
			catCommand(s),
			findCommand(s),
			clearCommand(s),
			keyCommand(s),
			peersCommand(s),
			watchCommand(s),
			identityCommand(s),
			versionCommand(s),
		},
	}
}

// withClient connects to the engine and runs fn with a client that is
// closed afterwards.
func withClient(s *streams, flags *cli.EngineFlags, fn func(ctx context.Context, client *rpc.Client) error) error {
	ctx := context.Background()
	client, err := flags.Connect(ctx, s.logger)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, client)
}
