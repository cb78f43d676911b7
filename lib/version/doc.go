// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the vault binaries.
//
// Values are injected with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/vault/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Without them, Info falls back to the VCS revision the go command
// stamps into the binary.
package version
