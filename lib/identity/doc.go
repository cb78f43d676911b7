// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity holds the keys that name and authorize a vault
// drive.
//
// A [DriveKey] is the 32-byte Ed25519 public key generated when a
// drive is created. Its 64-character hex form is what users share:
// possessing it is what lets a peer join, read, and write the drive.
// The drive key is never sent over the network. Peers find each other
// by the [DiscoveryKey], a BLAKE3 keyed hash of the drive key, and
// prove possession of the drive key with a [DriveKey.Capability] MAC
// bound to their secure channel's transcript.
//
// A [Writer] is a per-install Ed25519 keypair that signs the records
// this install appends to its log. Its public half, the [WriterID],
// names the log on every peer.
//
// The drive key is persisted as a hex text file ([SaveKeyFile],
// [LoadKeyFile]) and can be exported as a passphrase-encrypted age
// backup ([ExportBackup], [ImportBackup]).
package identity
