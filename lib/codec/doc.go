// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides vault's standard CBOR encoding configuration.
//
// vault uses two serialization formats with a clear boundary:
//
//   - JSON for the consumer-facing command payloads (folder listings,
//     upload requests, file records) that a front end renders.
//   - CBOR for everything peers and processes exchange internally: the
//     RPC frame envelope, append-only log records, replication
//     messages, and the rendezvous wire format.
//
// The encoder uses Core Deterministic Encoding: sorted map keys,
// smallest integer encoding, no indefinite-length items. Log record
// hashes are computed over the encoded bytes, so determinism is what
// lets two peers agree on a record's identity.
//
// For buffer-oriented operations (records, envelopes):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (replication connections):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// A `cbor` tag marks a type that is only ever CBOR. A `json` tag marks
// a type that may be serialized as both; fxamacker/cbor reads `json`
// tags when `cbor` tags are absent. Never put both tags on one field.
package codec
