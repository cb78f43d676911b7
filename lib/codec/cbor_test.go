// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"io"
	"testing"
)

// logEntry mirrors the shape of a replication record: cbor tags,
// integer counters, and a byte payload.
type logEntry struct {
	Key     string `cbor:"key"`
	Counter uint64 `cbor:"counter"`
	Payload []byte `cbor:"payload,omitempty"`
}

// folderListing uses json tags so it can travel over both formats.
type folderListing struct {
	Folders []string `json:"folders"`
	DriveID string   `json:"driveKey"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	entry := logEntry{Key: "/docs/report.txt", Counter: 19, Payload: []byte("body")}

	first, err := Marshal(entry)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(entry)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("encodings differ: %x vs %x", first, second)
	}

	var decoded logEntry
	if err := Unmarshal(first, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Key != entry.Key || decoded.Counter != entry.Counter || !bytes.Equal(decoded.Payload, entry.Payload) {
		t.Errorf("decoded = %+v, want %+v", decoded, entry)
	}
}

func TestJSONTagFallback(t *testing.T) {
	listing := folderListing{Folders: []string{"/a", "/b"}, DriveID: "abcd"}
	data, err := Marshal(listing)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var generic map[string]any
	if err := Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal into map: %v", err)
	}
	if generic["driveKey"] != "abcd" {
		t.Errorf("driveKey = %v, want abcd (json tag should name the CBOR key)", generic["driveKey"])
	}
}

func TestStreamRoundtrip(t *testing.T) {
	entries := []logEntry{
		{Key: "/a/.gitkeep", Counter: 1},
		{Key: "/a/file.txt", Counter: 2, Payload: []byte("hello")},
		{Key: "/a/file.txt", Counter: 3},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for index, want := range entries {
		var got logEntry
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode[%d]: %v", index, err)
		}
		if got.Key != want.Key || got.Counter != want.Counter {
			t.Errorf("entry %d = %+v, want %+v", index, got, want)
		}
	}

	var extra logEntry
	if err := decoder.Decode(&extra); err != io.EOF {
		t.Errorf("Decode past end = %v, want io.EOF", err)
	}
}

func TestRawMessageDefersDecoding(t *testing.T) {
	type envelope struct {
		Kind string     `cbor:"kind"`
		Body RawMessage `cbor:"body"`
	}

	body, err := Marshal(logEntry{Key: "/x", Counter: 5})
	if err != nil {
		t.Fatalf("Marshal body: %v", err)
	}
	data, err := Marshal(envelope{Kind: "append", Body: body})
	if err != nil {
		t.Fatalf("Marshal envelope: %v", err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal envelope: %v", err)
	}
	if decoded.Kind != "append" {
		t.Fatalf("Kind = %q, want append", decoded.Kind)
	}
	var entry logEntry
	if err := Unmarshal(decoded.Body, &entry); err != nil {
		t.Fatalf("Unmarshal body: %v", err)
	}
	if entry.Counter != 5 {
		t.Errorf("Counter = %d, want 5", entry.Counter)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]int{"seq": 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if diagnostic != `{"seq": 1}` {
		t.Errorf("Diagnose = %q", diagnostic)
	}
}
