// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the vault CLI.
//
// A [Command] tree is built in package commands and run with
// [Command.Execute], which routes the first positional argument to a
// subcommand, parses pflag flags, and prints help with examples.
// Mistyped commands and flags get a "did you mean" suggestion by edit
// distance.
//
// Parameters are plain structs whose tagged fields become flags
// through [FlagsFromParams]. [EngineFlags] is embedded by every command
// that talks to a running engine and yields an [rpc.Client] from
// [EngineFlags.Connect].
//
// Errors carry a [Category] ([Validation], [NotFound], [Transient],
// [Internal]); [ExitCode] maps it to the process exit status.
package cli
