// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/vault/lib/config"
)

// newLogger builds the engine's handler. An empty format picks text
// for a terminal and JSON otherwise.
func newLogger(logging config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logging.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	options := &slog.HandlerOptions{Level: level}

	format := logging.Format
	if format == "" {
		format = "json"
		if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			format = "text"
		}
	}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	default:
		return nil, fmt.Errorf("logging.format: unknown format %q", format)
	}
}
