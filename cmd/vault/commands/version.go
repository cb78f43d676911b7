// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/bureau-foundation/vault/cmd/vault/cli"
	"github.com/bureau-foundation/vault/lib/version"
)

func versionCommand(s *streams) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			if len(args) != 0 {
				return cli.Validation("usage: vault version")
			}
			fmt.Fprintf(s.stdout, "vault %s\n", version.Full())
			return nil
		},
	}
}
