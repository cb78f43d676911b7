// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/vault/cmd/vault/cli"
	"github.com/bureau-foundation/vault/cmd/vault/commands"
)

func main() {
	err := commands.Root().Execute(os.Args[1:])
	if err == nil {
		return
	}
	var exit *cli.ExitError
	if !errors.As(err, &exit) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
