// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides network and HTTP I/O helpers for vault.
//
// The rendezvous server and client exchange CBOR bodies; DecodeBody and
// WriteCBOR bound and encode them. IsExpectedCloseError separates a
// peer hanging up from a real failure in connection loops.
package netutil

import (
	"fmt"
	"io"
	"net/http"

	"github.com/bureau-foundation/vault/lib/codec"
)

// CBORContentType is the media type of CBOR request and response
// bodies.
const CBORContentType = "application/cbor"

// MaxBodySize bounds request and response bodies read by vault's HTTP
// endpoints. Signaling SDP blobs are the largest legitimate payloads
// and stay well under it.
const MaxBodySize int64 = 1 << 20

// DecodeBody reads a size-limited CBOR body into v.
func DecodeBody(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxBodySize+1))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > MaxBodySize {
		return fmt.Errorf("body exceeds %d bytes", MaxBodySize)
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	return nil
}

// WriteCBOR encodes v as the response body with the given status.
func WriteCBOR(w http.ResponseWriter, status int, v any) {
	data, err := codec.Marshal(v)
	if err != nil {
		http.Error(w, "encoding response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", CBORContentType)
	w.WriteHeader(status)
	w.Write(data)
}

// ErrorBody reads an error response body as text for inclusion in an
// error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return string(data)
}
