// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the command tree: either a group that
// dispatches to Subcommands, a leaf with a Run function, or both.
type Command struct {
	// Name is the command name as typed by the user (e.g., "ls",
	// "mkdir").
	Name string

	// Summary is the one-line description shown in the parent's
	// command listing.
	Summary string

	// Description is the longer text shown at the top of the
	// command's own help. When empty, Summary is shown instead.
	Description string

	// Usage is the usage line (e.g., "vault cat <path> [flags]"). If
	// empty, it is synthesized from the command path and whether the
	// command has subcommands.
	Usage string

	// Examples are shown at the end of the command's help.
	Examples []Example

	// Flags returns a fresh *pflag.FlagSet for this command, usually
	// built with FlagsFromParams over the command's params struct.
	// It is called once per parse and again for help and flag
	// suggestions, so it must not carry state between calls. Nil
	// means the command accepts no flags.
	Flags func() *pflag.FlagSet

	// Subcommands are dispatched by the first positional argument.
	Subcommands []*Command

	// Run executes the command with the positional arguments left
	// after flag parsing. With Subcommands also set, Run handles
	// arguments that match no subcommand.
	Run func(args []string) error

	// parent is set during dispatch to build the full command path
	// for help and error messages.
	parent *Command

	// output receives help text. Nil means stderr; tests set it on the
	// root and subcommands inherit it.
	output io.Writer
}

// Example is a usage example shown in help output.
type Example struct {
	// Description explains what the example does. Optional.
	Description string
	// Command is the literal command line.
	Command string
}

// Execute parses args and dispatches to the matching subcommand or to
// Run. This is the entry point for the whole tree: main calls it on
// the root with os.Args[1:].
//
// A leading -h, --help or help prints the command's help and returns
// nil. Unknown subcommands and flags return a Validation error that
// names the closest match when one is near enough. A group without Run
// prints its help and returns a Validation error when no subcommand
// is given.
func (c *Command) Execute(args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(c.helpOutput())
		return nil
	}

	if len(c.Subcommands) > 0 && len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		for _, sub := range c.Subcommands {
			if sub.Name == args[0] {
				sub.parent = c
				return sub.Execute(args[1:])
			}
		}
		if c.Run == nil {
			if suggestion := suggestCommand(args[0], c.Subcommands); suggestion != "" {
				return Validation("unknown command %q (did you mean %q?)\n\nRun '%s --help' for usage.",
					args[0], suggestion, c.fullName())
			}
			return Validation("unknown command %q\n\nRun '%s --help' for usage.", args[0], c.fullName())
		}
	}

	if len(c.Subcommands) > 0 && c.Run == nil {
		c.PrintHelp(c.helpOutput())
		return Validation("%s: subcommand required", c.fullName())
	}

	if c.Flags != nil {
		flagSet := c.Flags()
		flagSet.SetOutput(io.Discard)
		if err := flagSet.Parse(args); err != nil {
			if suggestion := suggestFlag(args, c.Flags()); suggestion != "" && strings.Contains(err.Error(), "unknown") {
				return Validation("%v (did you mean %s?)\n\nRun '%s --help' for usage.", err, suggestion, c.fullName())
			}
			return Validation("%v\n\nRun '%s --help' for usage.", err, c.fullName())
		}
		args = flagSet.Args()
	}

	if c.Run == nil {
		c.PrintHelp(c.helpOutput())
		return Internal("no action defined for %q", c.fullName())
	}
	return c.Run(args)
}

// PrintHelp writes the command's help to w: description, usage line,
// subcommand listing, flag defaults, then examples.
func (c *Command) PrintHelp(w io.Writer) {
	name := c.fullName()

	switch {
	case c.Description != "":
		fmt.Fprintf(w, "%s\n\n", c.Description)
	case c.Summary != "":
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	switch {
	case c.Usage != "":
		fmt.Fprintf(w, "Usage:\n  %s\n", c.Usage)
	case len(c.Subcommands) > 0:
		fmt.Fprintf(w, "Usage:\n  %s <command> [flags]\n", name)
	default:
		fmt.Fprintf(w, "Usage:\n  %s [flags]\n", name)
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		table := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(table, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		table.Flush()
	}

	if c.Flags != nil {
		var defaults strings.Builder
		flagSet := c.Flags()
		flagSet.SetOutput(&defaults)
		flagSet.PrintDefaults()
		if defaults.Len() > 0 {
			fmt.Fprintf(w, "\nFlags:\n%s", defaults.String())
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\nExamples:\n")
		for _, example := range c.Examples {
			if example.Description != "" {
				fmt.Fprintf(w, "  # %s\n", example.Description)
			}
			fmt.Fprintf(w, "  %s\n", example.Command)
			if example.Description != "" {
				fmt.Fprintln(w)
			}
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", name)
	}
}

func (c *Command) helpOutput() io.Writer {
	for command := c; command != nil; command = command.parent {
		if command.output != nil {
			return command.output
		}
	}
	return os.Stderr
}

// fullName is the command path from the root, e.g. "vault identity export".
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
