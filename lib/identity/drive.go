// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// KeySize is the byte length of drive keys, discovery keys, and writer
// ids.
const KeySize = 32

// ErrInvalidKey reports a drive key string that is not 64 hex
// characters.
var ErrInvalidKey = errors.New("identity: drive key must be 64 hex characters")

// DriveKey names a drive. Serializes as lowercase hex.
type DriveKey [KeySize]byte

// DiscoveryKey is the public topic peers announce and look up.
type DiscoveryKey [KeySize]byte

// domainKey is a BLAKE3 key that separates hash domains. Each is the
// ASCII domain name zero-padded to 32 bytes.
type domainKey [KeySize]byte

var (
	discoveryDomainKey = domainKey{
		'v', 'a', 'u', 'l', 't', '.', 'd', 'r', 'i', 'v', 'e', '.',
		'd', 'i', 's', 'c', 'o', 'v', 'e', 'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	capabilityContext = []byte("vault.replicate.capability")
)

// NewDriveKey generates the identity of a new drive.
func NewDriveKey() (DriveKey, error) {
	public, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return DriveKey{}, fmt.Errorf("identity: generating drive key: %w", err)
	}
	var key DriveKey
	copy(key[:], public)
	return key, nil
}

// ParseDriveKey parses the shareable hex form. Surrounding whitespace
// is ignored so a key pasted with a trailing newline still parses.
func ParseDriveKey(text string) (DriveKey, error) {
	var key DriveKey
	text = strings.TrimSpace(text)
	if len(text) != hex.EncodedLen(KeySize) {
		return key, ErrInvalidKey
	}
	if _, err := hex.Decode(key[:], []byte(text)); err != nil {
		return key, ErrInvalidKey
	}
	return key, nil
}

// String returns the 64-character hex form.
func (k DriveKey) String() string { return hex.EncodeToString(k[:]) }

// IsZero reports whether k is unset.
func (k DriveKey) IsZero() bool { return k == DriveKey{} }

// MarshalText implements encoding.TextMarshaler.
func (k DriveKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *DriveKey) UnmarshalText(text []byte) error {
	parsed, err := ParseDriveKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// DiscoveryKey derives the topic under which peers of this drive find
// each other. One-way: the topic does not reveal the drive key.
func (k DriveKey) DiscoveryKey() DiscoveryKey {
	hasher, err := blake3.NewKeyed(discoveryDomainKey[:])
	if err != nil {
		panic("identity: blake3.NewKeyed rejected a 32-byte key: " + err.Error())
	}
	hasher.Write(k[:])
	var topic DiscoveryKey
	copy(topic[:], hasher.Sum(nil))
	return topic
}

// Capability returns a MAC over transcript keyed by the drive key. Two
// ends of a secure channel that share a transcript and a drive key
// compute the same value; an eavesdropper, or a peer that only knows
// the discovery key, cannot.
func (k DriveKey) Capability(transcript []byte) [KeySize]byte {
	hasher, err := blake3.NewKeyed(k[:])
	if err != nil {
		panic("identity: blake3.NewKeyed rejected a 32-byte key: " + err.Error())
	}
	hasher.Write(capabilityContext)
	hasher.Write(transcript)
	var mac [KeySize]byte
	copy(mac[:], hasher.Sum(nil))
	return mac
}

// String returns the hex form.
func (d DiscoveryKey) String() string { return hex.EncodeToString(d[:]) }

// MarshalText implements encoding.TextMarshaler.
func (d DiscoveryKey) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DiscoveryKey) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(KeySize) {
		return fmt.Errorf("identity: discovery key must be %d hex characters", hex.EncodedLen(KeySize))
	}
	_, err := hex.Decode(d[:], text)
	return err
}

// ParseDiscoveryKey parses the hex form of a discovery key.
func ParseDiscoveryKey(text string) (DiscoveryKey, error) {
	var topic DiscoveryKey
	err := topic.UnmarshalText([]byte(text))
	return topic, err
}
