// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package kvstore is vault's replicated key-value store: an ordered,
// versioned map from absolute paths to byte values that any number of
// peers can write to and that converges when they exchange logs.
//
// # Logs
//
// Every install writes to its own append-only log, named by its
// [identity.WriterID]. A log entry is a [Record]: a put or delete of
// one key, stamped with the writer's sequence number, a Lamport clock,
// and the BLAKE3 hash of the writer's previous record. The record hash
// is signed with the writer's Ed25519 key. Peers never modify each
// other's logs; they only append records they have verified.
//
// Values live in content-addressed blocks, keyed by the BLAKE3 hash of
// their plaintext and stored compressed: zstd for text, LZ4 for other
// binary data, uncompressed for small values and formats that are
// already compressed.
//
// # Entries
//
// The visible key space is a materialized view over all logs. For each
// key the record with the highest (clock, writer) pair wins; deletes
// win the same way and leave a tombstone so late-arriving older puts
// cannot resurrect the key. [Store.Get] and [Store.List] read only
// this view.
//
// The store's [Store.Version] counts applied records. It increases on
// every local or replicated write and carries no other meaning.
//
// # Notifications
//
// [Store.Watch] delivers a [Change] whenever a record alters the view
// under a prefix. Changes coalesce: a slow watcher sees one Change
// carrying every key touched since its last receive. [Store.Defer]
// holds notifications until its release function is called, so a
// multi-key operation produces one Change.
//
// # Replication
//
// [Store.Replicate] runs the replication protocol over any duplex
// stream that exposes its secure channel transcript. Both ends prove
// they hold the drive key, exchange log heads, send each other the
// records the other lacks, and then forward new records as they are
// appended.
package kvstore
