// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads vault engine and CLI configuration.
//
// A configuration file is named explicitly, by the --config flag or
// the VAULT_CONFIG environment variable. There is no search path: with
// neither set, [Resolve] returns [Default]. Files ending in .json or
// .jsonc are parsed as JSON with comments (tidwall/jsonc); everything
// else is YAML. File values are merged over the defaults.
//
// After loading, ${HOME}, ${VAULT_ROOT}, and ${VAR:-default} patterns
// in path fields are expanded. VAULT_ROOT is the configured storage
// root, so other paths can be placed relative to it:
//
//	storage:
//	  root: ${HOME}/vaults/work
//	rpc:
//	  mode: socket
//	  socket: ${VAULT_ROOT}/engine.sock
//
// Key exports:
//
//   - [Config] with Storage, Network, RPC, Drive, Logging, Mount sections
//   - [Default], [Load], [LoadFile], [Resolve]
//   - [Config.Validate]
package config
