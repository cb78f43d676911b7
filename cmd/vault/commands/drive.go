// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/cmd/vault/cli"
	"github.com/bureau-foundation/vault/lib/drive"
	"github.com/bureau-foundation/vault/lib/rpc"
)

type engineParams struct {
	cli.EngineFlags
}

type lsParams struct {
	cli.EngineFlags
	cli.JSONOutput
}

func lsCommand(s *streams) *cli.Command {
	var params lsParams
	return &cli.Command{
		Name:    "ls",
		Summary: "List folders and files",
		Description: `List the drive's folders and the files in each.

With a folder argument only that folder is listed. Sizes are the
stored file sizes; --json prints the full drive snapshot including
file contents.`,
		Usage: "vault ls [folder] [flags]",
		Examples: []cli.Example{
			{Description: "List everything", Command: "vault ls"},
			{Description: "List one folder", Command: "vault ls Vacation"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("ls", &params) },
		Run: func(args []string) error {
			if len(args) > 1 {
				return cli.Validation("usage: vault ls [folder]")
			}
			return withClient(s, &params.EngineFlags, func(ctx context.Context, client *rpc.Client) error {
				all, err := client.LoadAll(ctx)
				if err != nil {
					return cli.RequestError(err)
				}
				folder := ""
				if len(args) == 1 {
					folder = args[0]
				}
				if done, err := params.EmitJSON(s.stdout, all); done {
					return err
				}
				renderListing(s.stdout, all, folder)
				return nil
			})
		},
	}
}

func mkdirCommand(s *streams) *cli.Command {
	var params engineParams
	return &cli.Command{
		Name:    "mkdir",
		Summary: "Create a folder",
		Usage:   "vault mkdir <folder> [flags]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("mkdir", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: vault mkdir <folder>")
			}
			return withClient(s, &params.EngineFlags, func(ctx context.Context, client *rpc.Client) error {
				result, err := client.CreateFolder(ctx, args[0])
				if err != nil {
					return cli.RequestError(err)
				}
				fmt.Fprintf(s.stdout, "created %s\n", result.FolderPath)
				return nil
			})
		},
	}
}

func rmdirCommand(s *streams) *cli.Command {
	var params engineParams
	return &cli.Command{
		Name:    "rmdir",
		Summary: "Remove a folder marker",
		Description: `Remove a folder's marker from the drive.

Files stored under the folder are left in place; a folder that still
holds files keeps appearing in listings.`,
		Usage: "vault rmdir <folder> [flags]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("rmdir", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: vault rmdir <folder>")
			}
			return withClient(s, &params.EngineFlags, func(ctx context.Context, client *rpc.Client) error {
				result, err := client.DeleteFolder(ctx, args[0])
				if err != nil {
					return cli.RequestError(err)
				}
				fmt.Fprintf(s.stdout, "removed %s\n", result.FolderPath)
				return nil
			})
		},
	}
}

type putParams struct {
	cli.EngineFlags
	Folder string `flag:"folder,f" desc:"destination folder (required)"`
	Name   string `flag:"name" desc:"file name in the drive (default: the local file's base name)"`
}

func putCommand(s *streams) *cli.Command {
	var params putParams
	return &cli.Command{
		Name:    "put",
		Summary: "Upload a file into a folder",
		Description: `Upload a local file into a drive folder.

Use "-" to read the content from stdin; --name is then required.`,
		Usage: "vault put <file> --folder <folder> [flags]",
		Examples: []cli.Example{
			{Command: "vault put beach.jpg --folder Vacation"},
			{Description: "Upload from a pipe", Command: "echo hello | vault put - --folder Notes --name hello.txt"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("put", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: vault put <file> --folder <folder>")
			}
			if strings.Trim(params.Folder, "/") == "" {
				return cli.Validation("--folder is required")
			}
			name := params.Name
			var data []byte
			var err error
			if args[0] == "-" {
				if name == "" {
					return cli.Validation("--name is required when reading stdin")
				}
				data, err = io.ReadAll(s.stdin)
			} else {
				if name == "" {
					name = filepath.Base(args[0])
				}
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return cli.NotFound("reading %s: %v", args[0], err)
			}
			return withClient(s, &params.EngineFlags, func(ctx context.Context, client *rpc.Client) error {
				result, err := client.Upload(ctx, params.Folder, name, data)
				if err != nil {
					return cli.RequestError(err)
				}
				fmt.Fprintf(s.stdout, "uploaded %s\n", result.FilePath)
				return nil
			})
		},
	}
}

type catParams struct {
	cli.EngineFlags
	Output string `flag:"output,o" desc:"write the content to this file instead of stdout"`
}

func catCommand(s *streams) *cli.Command {
	var params catParams
	return &cli.Command{
		Name:    "cat",
		Summary: "Print a file",
		Usage:   "vault cat <path> [flags]",
		Examples: []cli.Example{
			{Command: "vault cat /Notes/todo.txt"},
			{Description: "Save a photo locally", Command: "vault cat /Vacation/beach.jpg -o beach.jpg"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("cat", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: vault cat <path>")
			}
			key := args[0]
			if !strings.HasPrefix(key, "/") {
				key = "/" + key
			}
			return withClient(s, &params.EngineFlags, func(ctx context.Context, client *rpc.Client) error {
				record, err := client.GetFile(ctx, key)
				if err != nil {
					var commandErr *rpc.CommandError
					if errors.As(err, &commandErr) {
						return cli.NotFound("%s: %s", key, commandErr.Failure.Message)
					}
					return cli.RequestError(err)
				}
				data, err := contents(record)
				if err != nil {
					return cli.Internal("decoding %s: %w", key, err)
				}
				if params.Output != "" {
					return os.WriteFile(params.Output, data, 0o644)
				}
				_, err = s.stdout.Write(data)
				return err
			})
		},
	}
}

type clearParams struct {
	cli.EngineFlags
	Yes bool `flag:"yes,y" desc:"confirm deleting every file and folder"`
}

func clearCommand(s *streams) *cli.Command {
	var params clearParams
	return &cli.Command{
		Name:    "clear",
		Summary: "Delete everything in the drive",
		Description: `Delete every file and folder in the drive.

The deletion replicates to every peer. --yes is required.`,
		Usage: "vault clear --yes [flags]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("clear", &params) },
		Run: func(args []string) error {
			if len(args) != 0 {
				return cli.Validation("usage: vault clear --yes")
			}
			if !params.Yes {
				return cli.Validation("refusing to clear the drive without --yes")
			}
			return withClient(s, &params.EngineFlags, func(ctx context.Context, client *rpc.Client) error {
				result, err := client.ClearAll(ctx)
				if err != nil {
					return cli.RequestError(err)
				}
				fmt.Fprintln(s.stdout, result.Message)
				return nil
			})
		},
	}
}

func keyCommand(s *streams) *cli.Command {
	var params engineParams
	return &cli.Command{
		Name:    "key",
		Summary: "Print the drive key",
		Description: `Print the running drive's key.

Start an engine on another machine with --join <key> to replicate
this drive there.`,
		Usage: "vault key [flags]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("key", &params) },
		Run: func(args []string) error {
			if len(args) != 0 {
				return cli.Validation("usage: vault key")
			}
			return withClient(s, &params.EngineFlags, func(ctx context.Context, client *rpc.Client) error {
				key, err := client.DriveKey(ctx)
				if err != nil {
					return cli.RequestError(err)
				}
				fmt.Fprintln(s.stdout, key)
				return nil
			})
		},
	}
}

// typeLabel is the listing label for a record's content type.
func typeLabel(record drive.FileRecord) string {
	if record.Type == "" {
		return "unknown"
	}
	return record.Type
}
