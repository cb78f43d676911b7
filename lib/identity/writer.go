// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// WriterID is the Ed25519 public key naming one install's log.
type WriterID [KeySize]byte

// String returns the hex form.
func (w WriterID) String() string { return hex.EncodeToString(w[:]) }

// Short returns the first eight hex characters, for log lines.
func (w WriterID) Short() string { return w.String()[:8] }

// MarshalText implements encoding.TextMarshaler.
func (w WriterID) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *WriterID) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(KeySize) {
		return fmt.Errorf("identity: writer id must be %d hex characters", hex.EncodedLen(KeySize))
	}
	_, err := hex.Decode(w[:], text)
	return err
}

// Compare orders writer ids bytewise, returning -1, 0, or +1.
func (w WriterID) Compare(other WriterID) int {
	for index := range w {
		switch {
		case w[index] < other[index]:
			return -1
		case w[index] > other[index]:
			return 1
		}
	}
	return 0
}

// Verify checks an Ed25519 signature made by this writer.
func (w WriterID) Verify(message, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(w[:]), message, signature)
}

// Writer signs records appended to the local log.
type Writer struct {
	id      WriterID
	private ed25519.PrivateKey
}

// NewWriter generates a fresh writer keypair.
func NewWriter() (*Writer, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("identity: generating writer seed: %w", err)
	}
	return WriterFromSeed(seed)
}

// WriterFromSeed restores a writer from its 32-byte seed.
func WriterFromSeed(seed []byte) (*Writer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: writer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	private := ed25519.NewKeyFromSeed(seed)
	writer := &Writer{private: private}
	copy(writer.id[:], private.Public().(ed25519.PublicKey))
	return writer, nil
}

// ID returns the public writer id.
func (w *Writer) ID() WriterID { return w.id }

// Seed returns the private seed for persistence.
func (w *Writer) Seed() []byte { return w.private.Seed() }

// Sign signs message.
func (w *Writer) Sign(message []byte) []byte { return ed25519.Sign(w.private, message) }
