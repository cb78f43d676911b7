// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// vault is the command-line consumer of a running vault-engine. It
// connects to the engine's Unix socket and issues drive commands:
//
//	vault ls                      list folders and files
//	vault mkdir Vacation          create a folder
//	vault put beach.jpg -f Vacation
//	vault cat /Vacation/notes.txt
//	vault find beach              fuzzy-search file paths
//	vault watch                   stream change events
//	vault peers                   show replication connections
//	vault key                     print the drive key for joining
//	vault identity export         back up the drive key with a passphrase
//
// The socket comes from --socket or the rpc.socket setting of the
// configuration named by --config or VAULT_CONFIG.
package main
