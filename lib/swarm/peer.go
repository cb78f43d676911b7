// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package swarm

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

// PeerID is a swarm member's Ed25519 public key. It identifies a
// running engine, not a drive or a writer.
type PeerID [ed25519.PublicKeySize]byte

// ParsePeerID decodes the 64-character hex form.
func ParsePeerID(text string) (PeerID, error) {
	var id PeerID
	if err := id.UnmarshalText([]byte(strings.TrimSpace(text))); err != nil {
		return PeerID{}, err
	}
	return id, nil
}

func (p PeerID) String() string { return hex.EncodeToString(p[:]) }

// Short returns the first eight hex characters, for log lines.
func (p PeerID) Short() string { return p.String()[:8] }

// IsZero reports whether the id is unset, as for statically
// configured peers whose identity is learned on connect.
func (p PeerID) IsZero() bool { return p == PeerID{} }

// Compare orders peer ids bytewise.
func (p PeerID) Compare(other PeerID) int { return bytes.Compare(p[:], other[:]) }

func (p PeerID) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PeerID) UnmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) != len(p) {
		return fmt.Errorf("swarm: peer id must be %d hex characters, got %d", 2*len(p), len(text))
	}
	_, err := hex.Decode(p[:], text)
	return err
}

// PeerInfo is what discovery knows about a peer: who it is and where
// to reach it.
type PeerInfo struct {
	// ID is zero when only the address is known.
	ID PeerID `json:"id"`

	// Addresses are "<network>:<address>" strings, tried in order:
	// "tcp:192.168.1.4:7000", "webrtc:<peer id hex>".
	Addresses []string `json:"addresses"`
}

// splitAddress separates "<network>:<address>".
func splitAddress(address string) (network, target string, err error) {
	network, target, ok := strings.Cut(address, ":")
	if !ok || network == "" || target == "" {
		return "", "", fmt.Errorf("swarm: address %q is not <network>:<address>", address)
	}
	return network, target, nil
}
