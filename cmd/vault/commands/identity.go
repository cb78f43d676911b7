// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/vault/cmd/vault/cli"
	"github.com/bureau-foundation/vault/lib/config"
	"github.com/bureau-foundation/vault/lib/identity"
)

// passphraseVariable supplies the backup passphrase non-interactively.
const passphraseVariable = "VAULT_PASSPHRASE"

func identityCommand(s *streams) *cli.Command {
	return &cli.Command{
		Name:    "identity",
		Summary: "Back up and restore the drive key",
		Description: `Back up and restore the drive key.

The drive key is the only secret a drive has: anyone holding it can
read and write the drive. Backups are age files encrypted under a
passphrase, read from $VAULT_PASSPHRASE or prompted for.`,
		Subcommands: []*cli.Command{
			identityExportCommand(s),
			identityImportCommand(s),
		},
	}
}

// KeyFileFlags locates the engine's saved drive key.
type KeyFileFlags struct {
	ConfigPath string `flag:"config,c" desc:"configuration file (default: $VAULT_CONFIG)"`
	KeyFile    string `flag:"key-file" desc:"drive key file (default: <storage root>/persistent/drive-key.txt)"`
}

func (f *KeyFileFlags) path() (string, error) {
	if f.KeyFile != "" {
		return f.KeyFile, nil
	}
	cfg, err := config.Resolve(f.ConfigPath)
	if err != nil {
		return "", cli.Validation("%v", err)
	}
	return filepath.Join(cfg.PersistentDirectory(), identity.KeyFileName), nil
}

type exportParams struct {
	KeyFileFlags
	Output string `flag:"output,o" desc:"write the backup to this file instead of stdout"`
}

func identityExportCommand(s *streams) *cli.Command {
	var params exportParams
	return &cli.Command{
		Name:    "export",
		Summary: "Write a passphrase-encrypted backup of the drive key",
		Usage:   "vault identity export [flags]",
		Examples: []cli.Example{
			{Command: "vault identity export -o drive-key.age"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("export", &params) },
		Run: func(args []string) error {
			if len(args) != 0 {
				return cli.Validation("usage: vault identity export [-o file]")
			}
			keyPath, err := params.path()
			if err != nil {
				return err
			}
			key, found, err := identity.LoadKeyFile(keyPath)
			if err != nil {
				return cli.Internal("%w", err)
			}
			if !found {
				return cli.NotFound("no drive key at %s; start vault-engine once to create one", keyPath)
			}
			passphrase, err := readPassphrase(s, true)
			if err != nil {
				return err
			}
			backup, err := identity.ExportBackup(key, passphrase)
			if err != nil {
				return cli.Internal("%w", err)
			}
			if params.Output == "" {
				_, err = s.stdout.Write(backup)
				return err
			}
			if err := os.WriteFile(params.Output, backup, 0o600); err != nil {
				return cli.Internal("writing backup: %w", err)
			}
			fmt.Fprintf(s.stderr, "wrote backup of drive %s to %s\n", key.DiscoveryKey(), params.Output)
			return nil
		},
	}
}

type importParams struct {
	KeyFileFlags
	Save  bool `flag:"save" desc:"write the key to the engine's key file instead of printing it"`
	Force bool `flag:"force" desc:"with --save, replace an existing key file"`
}

func identityImportCommand(s *streams) *cli.Command {
	var params importParams
	return &cli.Command{
		Name:    "import",
		Summary: "Restore a drive key from a backup",
		Description: `Decrypt a backup made by 'vault identity export'.

The key is printed for use with 'vault-engine --join', or written to
the engine's key file with --save. Use "-" to read the backup from
stdin.`,
		Usage: "vault identity import <backup> [flags]",
		Examples: []cli.Example{
			{Command: "vault identity import drive-key.age --save"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("import", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: vault identity import <backup>")
			}
			var backup []byte
			var err error
			if args[0] == "-" {
				backup, err = io.ReadAll(s.stdin)
			} else {
				backup, err = os.ReadFile(args[0])
			}
			if err != nil {
				return cli.NotFound("reading %s: %v", args[0], err)
			}
			passphrase, err := readPassphrase(s, false)
			if err != nil {
				return err
			}
			key, err := identity.ImportBackup(backup, passphrase)
			if errors.Is(err, identity.ErrNotBackup) {
				return cli.Validation("%s is not a drive key backup", args[0])
			}
			if err != nil {
				return cli.Validation("%v", err)
			}
			if !params.Save {
				fmt.Fprintln(s.stdout, key)
				return nil
			}

			keyPath, err := params.path()
			if err != nil {
				return err
			}
			existing, found, err := identity.LoadKeyFile(keyPath)
			if err != nil && !params.Force {
				return cli.Internal("%w", err)
			}
			if found && existing != key && !params.Force {
				return cli.Validation("%s already holds a different drive key; pass --force to replace it", keyPath)
			}
			if err := identity.SaveKeyFile(keyPath, key); err != nil {
				return cli.Internal("%w", err)
			}
			fmt.Fprintf(s.stdout, "saved drive %s to %s\n", key.DiscoveryKey(), keyPath)
			return nil
		},
	}
}

// readPassphrase takes the passphrase from the environment or the
// prompt. Exports ask twice.
func readPassphrase(s *streams, confirm bool) (string, error) {
	if value := os.Getenv(passphraseVariable); value != "" {
		return value, nil
	}
	passphrase, err := s.passphrase("Passphrase: ")
	if err != nil {
		return "", err
	}
	if passphrase == "" {
		return "", cli.Validation("passphrase must not be empty")
	}
	if confirm {
		again, err := s.passphrase("Confirm passphrase: ")
		if err != nil {
			return "", err
		}
		if again != passphrase {
			return "", cli.Validation("passphrases do not match")
		}
	}
	return passphrase, nil
}

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase(prompt string) (string, error) {
	descriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(descriptor) {
		return "", cli.Validation("stdin is not a terminal; set %s to supply the passphrase", passphraseVariable)
	}
	fmt.Fprint(os.Stderr, prompt)
	value, err := term.ReadPassword(descriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", cli.Internal("reading passphrase: %w", err)
	}
	return strings.TrimRight(string(value), "\r\n"), nil
}
