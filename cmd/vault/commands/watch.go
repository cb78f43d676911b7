// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/cmd/vault/cli"
	"github.com/bureau-foundation/vault/lib/drive"
	"github.com/bureau-foundation/vault/lib/rpc"
)

type watchParams struct {
	cli.EngineFlags
	Count int `flag:"count" desc:"exit after this many events (0 watches until interrupted)"`
}

func watchCommand(s *streams) *cli.Command {
	var params watchParams
	return &cli.Command{
		Name:    "watch",
		Summary: "Print drive events as they happen",
		Description: `Stay connected to the engine and print every event it pushes:
the invite on connect, a reset and full snapshot after each change,
and individual files as they are uploaded or fetched.`,
		Usage: "vault watch [flags]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("watch", &params) },
		Run: func(args []string) error {
			if len(args) != 0 {
				return cli.Validation("usage: vault watch")
			}
			if params.Count < 0 {
				return cli.Validation("--count must not be negative")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := params.Connect(ctx, s.logger)
			if err != nil {
				return err
			}
			defer client.Close()

			seen := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-client.Events():
					if !ok {
						if err := client.Err(); err != nil {
							return cli.Transient("engine connection lost: %w", err)
						}
						return cli.Transient("engine closed the connection")
					}
					printEvent(s.stdout, event)
					seen++
					if params.Count > 0 && seen >= params.Count {
						return nil
					}
				}
			}
		},
	}
}

// printEvent writes one line describing a pushed frame.
func printEvent(w io.Writer, event rpc.Frame) {
	switch event.Command {
	case rpc.CommandInvite:
		if string(event.Payload) == rpc.ConnectedInvite {
			fmt.Fprintln(w, "invite: connected to an existing drive")
		} else {
			fmt.Fprintf(w, "invite: new drive %s\n", event.Payload)
		}
	case rpc.CommandReset:
		fmt.Fprintln(w, "reset")
	case rpc.CommandLoadAllData:
		var all rpc.AllData
		if err := rpc.DecodePayload(event.Payload, &all); err != nil {
			fmt.Fprintf(w, "snapshot: %v\n", err)
			return
		}
		fmt.Fprintf(w, "snapshot: %d folders, %d files\n", len(all.Folders), len(all.Files))
	case rpc.CommandMessage:
		var record drive.FileRecord
		if err := rpc.DecodePayload(event.Payload, &record); err != nil {
			fmt.Fprintf(w, "file: %v\n", err)
			return
		}
		fmt.Fprintf(w, "file: %s (%s)\n", record.Filename, typeLabel(record))
	default:
		fmt.Fprintf(w, "%s: %d bytes\n", event.Command, len(event.Payload))
	}
}
