// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc is the command channel between the vault engine and the
// processes that drive it.
//
// A channel is one duplex byte stream (the engine's stdio pipes or a
// unix socket connection) carrying frames: a 4-byte big-endian length
// followed by a CBOR [Frame]. A frame is a request from the consumer,
// a response from the engine, or an event the engine pushes unasked.
// Responses carry the request's id; the response command can differ
// from the request's (LIST_FOLDERS is answered with LOAD_ALL_DATA).
// Responses to different requests may arrive in any order.
//
// Payloads are UTF-8: JSON documents for structured commands, raw
// strings for paths and keys. The payload types in this package
// define each command's JSON shape.
//
// [Session] is the engine side: it reads requests in order, hands them
// to a [Handler], and funnels every outbound frame through one writer
// so pushes keep their order. [Client] is the consumer side: calls
// wait for their response up to a timeout, which surfaces requests the
// engine dropped ([ErrTimeout]), and events arrive on a channel.
package rpc
