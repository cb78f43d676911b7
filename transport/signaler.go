// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// Signaler exchanges WebRTC session descriptions between peers. The
// rendezvous client implements it over HTTP; tests use
// [MemorySignaler].
//
// Signaling is vanilla ICE: every candidate is gathered before the SDP
// is published, so establishing a connection takes exactly one
// offer/answer round-trip. Messages are mailbox-style: a poll returns
// each message once and removes it.
type Signaler interface {
	// PublishOffer leaves a complete SDP offer from peer "from" in the
	// mailbox of peer "to".
	PublishOffer(ctx context.Context, from, to, sdp string) error

	// PublishAnswer leaves a complete SDP answer from peer "answerer"
	// in the mailbox of the peer that sent the offer.
	PublishAnswer(ctx context.Context, offerer, answerer, sdp string) error

	// PollOffers drains the offers addressed to peer.
	PollOffers(ctx context.Context, peer string) ([]SignalMessage, error)

	// PollAnswers drains the answers addressed to peer.
	PollAnswers(ctx context.Context, peer string) ([]SignalMessage, error)
}

// SignalMessage is one offer or answer taken from a mailbox.
type SignalMessage struct {
	// Peer is the sender: the offerer for offers, the answerer for
	// answers.
	Peer string `json:"peer"`

	// SDP is the complete session description with all ICE candidates
	// embedded.
	SDP string `json:"sdp"`
}
