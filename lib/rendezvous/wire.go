// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/lib/swarm"
	"github.com/bureau-foundation/vault/transport"
)

// announceRequest is the body of POST /v1/announce.
type announceRequest struct {
	Topic identity.DiscoveryKey `cbor:"topic"`
	Peer  swarm.PeerInfo        `cbor:"peer"`
}

// announceResponse tells the peer how long the announcement lives.
type announceResponse struct {
	TTLSeconds int64 `cbor:"ttl"`
}

// unannounceRequest is the body of POST /v1/unannounce.
type unannounceRequest struct {
	Topic identity.DiscoveryKey `cbor:"topic"`
	ID    swarm.PeerID          `cbor:"id"`
}

// lookupResponse is the body returned by GET /v1/lookup/{topic}.
type lookupResponse struct {
	Peers []swarm.PeerInfo `cbor:"peers"`
}

// signalRequest is the body of POST /v1/signal/offer and
// POST /v1/signal/answer. For offers From is the offerer and To the
// target; for answers From is the answerer and To the offerer.
type signalRequest struct {
	From string `cbor:"from"`
	To   string `cbor:"to"`
	SDP  string `cbor:"sdp"`
}

// signalResponse is returned by the mailbox drain endpoints.
type signalResponse struct {
	Messages []transport.SignalMessage `cbor:"messages"`
}
