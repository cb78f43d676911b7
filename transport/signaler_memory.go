// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process [Signaler]. Transports sharing one
// MemorySignaler can establish PeerConnections without any network
// signaling.
type MemorySignaler struct {
	mu      sync.Mutex
	offers  map[string][]SignalMessage
	answers map[string][]SignalMessage
}

// NewMemorySignaler creates an empty in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		offers:  make(map[string][]SignalMessage),
		answers: make(map[string][]SignalMessage),
	}
}

func (s *MemorySignaler) PublishOffer(_ context.Context, from, to, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[to] = append(s.offers[to], SignalMessage{Peer: from, SDP: sdp})
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, offerer, answerer, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[offerer] = append(s.answers[offerer], SignalMessage{Peer: answerer, SDP: sdp})
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, peer string) ([]SignalMessage, error) {
	return s.drain(s.offers, peer), nil
}

func (s *MemorySignaler) PollAnswers(_ context.Context, peer string) ([]SignalMessage, error) {
	return s.drain(s.answers, peer), nil
}

func (s *MemorySignaler) drain(mailboxes map[string][]SignalMessage, peer string) []SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := mailboxes[peer]
	delete(mailboxes, peer)
	return messages
}
