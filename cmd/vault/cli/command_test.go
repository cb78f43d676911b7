// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesNested(t *testing.T) {
	var called string
	var received []string
	root := &Command{
		Name:   "vault",
		output: &bytes.Buffer{},
		Subcommands: []*Command{
			{Name: "ls", Run: func(args []string) error { called = "ls"; return nil }},
			{
				Name: "identity",
				Subcommands: []*Command{
					{Name: "export", Run: func(args []string) error {
						called, received = "identity export", args
						return nil
					}},
				},
			},
		},
	}

	if err := root.Execute([]string{"identity", "export", "backup.age"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "identity export" || len(received) != 1 || received[0] != "backup.age" {
		t.Errorf("called %q with %v", called, received)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var folder string
	var positional []string
	command := &Command{
		Name:   "put",
		output: &bytes.Buffer{},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("put", pflag.ContinueOnError)
			flagSet.StringVar(&folder, "folder", "", "destination")
			return flagSet
		},
		Run: func(args []string) error {
			positional = args
			return nil
		},
	}
	if err := command.Execute([]string{"--folder", "docs", "a.txt", "b.txt"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if folder != "docs" || len(positional) != 2 {
		t.Errorf("folder %q args %v", folder, positional)
	}
}

func TestExecuteSuggestions(t *testing.T) {
	root := &Command{
		Name:   "vault",
		output: &bytes.Buffer{},
		Subcommands: []*Command{
			{Name: "mkdir", Run: func([]string) error { return nil }},
			{
				Name: "put",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("put", pflag.ContinueOnError)
					flagSet.String("folder", "", "")
					return flagSet
				},
				Run: func([]string) error { return nil },
			},
		},
	}

	err := root.Execute([]string{"mkdri"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "mkdir"`) {
		t.Errorf("unknown command error = %v", err)
	}
	if ExitCode(err) != 2 {
		t.Errorf("ExitCode = %d, want 2", ExitCode(err))
	}

	err = root.Execute([]string{"put", "--foldr", "x"})
	if err == nil || !strings.Contains(err.Error(), "did you mean --folder") {
		t.Errorf("unknown flag error = %v", err)
	}

	err = root.Execute([]string{"zzzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("distant command error = %v", err)
	}
}

func TestExecuteHelp(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:    "vault",
		Summary: "Replicated drive CLI",
		output:  &help,
		Examples: []Example{
			{Description: "List the drive", Command: "vault ls"},
		},
		Subcommands: []*Command{
			{Name: "ls", Summary: "List folders and files", Run: func([]string) error { return nil }},
		},
	}
	if err := root.Execute([]string{"--help"}); err != nil {
		t.Fatalf("Execute(--help): %v", err)
	}
	for _, want := range []string{"Replicated drive CLI", "Usage:\n  vault <command> [flags]", "ls", "List folders and files", "# List the drive"} {
		if !strings.Contains(help.String(), want) {
			t.Errorf("help missing %q:\n%s", want, help.String())
		}
	}

	help.Reset()
	if err := root.Execute(nil); err == nil {
		t.Error("Execute with no subcommand succeeded")
	}
	if !strings.Contains(help.String(), "Commands:") {
		t.Errorf("no help printed for missing subcommand:\n%s", help.String())
	}
}

func TestFullName(t *testing.T) {
	root := &Command{Name: "vault"}
	identity := &Command{Name: "identity", parent: root}
	export := &Command{Name: "export", parent: identity}
	if export.fullName() != "vault identity export" {
		t.Errorf("fullName = %q", export.fullName())
	}
}
