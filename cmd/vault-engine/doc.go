// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// vault-engine runs one vault: it opens (or creates, or joins) a
// drive under the storage root, replicates it with peers found through
// static addresses and a rendezvous server, and serves the framed
// command protocol to consumers.
//
// In stdio mode a single consumer speaks the protocol on stdin and
// stdout and the engine exits when it hangs up. In socket mode any
// number of consumers (the vault CLI among them) connect to a Unix
// socket, and the engine runs until interrupted.
//
// Flags override the configuration file:
//
//	vault-engine --config vault.yaml
//	vault-engine --storage ~/vaults/lab --join <hex key> --socket /tmp/lab.sock
//	vault-engine --mount ~/Vault
package main
