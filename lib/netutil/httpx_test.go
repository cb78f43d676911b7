// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"

	"github.com/bureau-foundation/vault/lib/codec"
)

func TestWriteAndDecodeCBOR(t *testing.T) {
	type lookup struct {
		Topic string   `cbor:"topic"`
		Peers []string `cbor:"peers"`
	}

	recorder := httptest.NewRecorder()
	WriteCBOR(recorder, http.StatusCreated, lookup{Topic: "abcd", Peers: []string{"tcp:10.0.0.1:7000"}})

	if recorder.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", recorder.Code)
	}
	if contentType := recorder.Header().Get("Content-Type"); contentType != CBORContentType {
		t.Errorf("Content-Type = %q", contentType)
	}

	var decoded lookup
	if err := DecodeBody(recorder.Body, &decoded); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if decoded.Topic != "abcd" || len(decoded.Peers) != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDecodeBody(t *testing.T) {
	t.Run("invalid CBOR", func(t *testing.T) {
		if err := DecodeBody(bytes.NewReader([]byte{0xff}), &struct{}{}); err == nil {
			t.Fatal("expected error for invalid CBOR")
		}
	})

	t.Run("oversized", func(t *testing.T) {
		payload, err := codec.Marshal(bytes.Repeat([]byte{1}, int(MaxBodySize)))
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var target []byte
		if err := DecodeBody(bytes.NewReader(payload), &target); err == nil {
			t.Fatal("expected error for oversized body")
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if err := DecodeBody(&failReader{}, &struct{}{}); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestErrorBodyTruncates(t *testing.T) {
	body := ErrorBody(bytes.NewReader(bytes.Repeat([]byte("x"), 10000)))
	if len(body) != 4096 {
		t.Errorf("len = %d, want 4096", len(body))
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	for _, test := range []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{fmt.Errorf("reading frame: %w", io.ErrUnexpectedEOF), true},
		{net.ErrClosed, true},
		{io.ErrClosedPipe, true},
		{&net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{syscall.EPIPE, true},
		{errors.New("disk full"), false},
	} {
		if got := IsExpectedCloseError(test.err); got != test.want {
			t.Errorf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
		}
	}
}

type failReader struct{}

func (*failReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("simulated read failure")
}
