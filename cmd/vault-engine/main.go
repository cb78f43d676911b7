// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/lib/config"
	"github.com/bureau-foundation/vault/lib/drive"
	"github.com/bureau-foundation/vault/lib/engine"
	"github.com/bureau-foundation/vault/lib/mount"
	"github.com/bureau-foundation/vault/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line overrides applied over the
// configuration file.
type options struct {
	configPath string
	storage    string
	joinKey    string
	socket     string
	mountPath  string
	listen     string
	peers      []string
	offline    bool
	verbose    bool
}

func parseFlags(args []string) (options, bool, error) {
	var opts options
	flags := pflag.NewFlagSet("vault-engine", pflag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "", "configuration file (default: $VAULT_CONFIG, else built-in defaults)")
	flags.StringVar(&opts.storage, "storage", "", "storage root directory")
	flags.StringVar(&opts.joinKey, "join", "", "hex key of an existing drive to join")
	flags.StringVar(&opts.socket, "socket", "", "serve consumers on this Unix socket instead of stdio")
	flags.StringVar(&opts.mountPath, "mount", "", "mount the drive with FUSE at this directory")
	flags.StringVar(&opts.listen, "listen", "", "TCP address for peer connections")
	flags.StringSliceVar(&opts.peers, "peer", nil, "peer address to dial for every drive (repeatable)")
	flags.BoolVar(&opts.offline, "offline", false, "do not replicate with peers")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return opts, true, nil
		}
		return opts, false, err
	}
	if *showVersion {
		fmt.Printf("vault-engine %s\n", version.Info())
		return opts, true, nil
	}
	return opts, false, nil
}

// loadConfig resolves the configuration file and applies the flag
// overrides.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Resolve(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.storage != "" {
		cfg.Storage.Root = opts.storage
	}
	if opts.socket != "" {
		cfg.RPC.Mode = "socket"
		cfg.RPC.Socket = opts.socket
	}
	if opts.mountPath != "" {
		cfg.Mount.Path = opts.mountPath
	}
	if opts.listen != "" {
		cfg.Network.Listen = opts.listen
	}
	cfg.Network.Peers = append(cfg.Network.Peers, opts.peers...)
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(args []string) error {
	opts, exit, err := parseFlags(args)
	if err != nil || exit {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	folders, err := drive.ParseFolderIndex(cfg.Drive.FolderIndex)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	engineConfig := engine.Config{
		StorageDir: cfg.Storage.Root,
		JoinKey:    opts.joinKey,
		Folders:    folders,
		Logger:     logger,
	}
	if !opts.offline {
		network, err := buildNetwork(cfg.Network, logger)
		if err != nil {
			return err
		}
		engineConfig.Network = network
	}
	e, err := engine.New(engineConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Error("closing engine", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Consumers attach before Start so they receive the startup events.
	frontend, err := startFrontend(ctx, cfg.RPC, e, logger)
	if err != nil {
		return err
	}
	defer frontend.close()

	if err := e.Start(ctx); err != nil {
		return err
	}
	logger.Info("vault engine ready",
		"version", version.Info(),
		"storage", cfg.Storage.Root,
		"rpc", cfg.RPC.Mode,
	)

	if cfg.Mount.Path != "" {
		server, err := mount.Mount(mount.Options{
			Mountpoint: cfg.Mount.Path,
			Drive:      e.Drive(),
			AllowOther: cfg.Mount.AllowOther,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := server.Unmount(); err != nil {
				logger.Error("unmounting drive", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-frontend.done:
		logger.Info("consumer disconnected, shutting down")
	}
	return nil
}
