// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/cmd/vault/cli"
	"github.com/bureau-foundation/vault/lib/rpc"
)

type peersParams struct {
	cli.EngineFlags
	cli.JSONOutput
}

func peersCommand(s *streams) *cli.Command {
	var params peersParams
	return &cli.Command{
		Name:    "peers",
		Summary: "List replication peers",
		Usage:   "vault peers [flags]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("peers", &params) },
		Run: func(args []string) error {
			if len(args) != 0 {
				return cli.Validation("usage: vault peers")
			}
			return withClient(s, &params.EngineFlags, func(ctx context.Context, client *rpc.Client) error {
				peers, err := client.Peers(ctx)
				if err != nil {
					return cli.RequestError(err)
				}
				if done, err := params.EmitJSON(s.stdout, peers); done {
					return err
				}
				renderPeers(s.stdout, peers)
				return nil
			})
		},
	}
}
