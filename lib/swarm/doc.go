// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package swarm finds and connects peers that share a topic.
//
// A topic is a drive's discovery key. [Swarm.Join] announces the local
// peer under the topic through a [Discovery] backend, looks up the other
// announcers, and dials each one over the configured transports. The
// lookup repeats every LookupInterval so late joiners are found;
// [Swarm.Flush] waits for the first round.
//
// Every raw stream is wrapped by transport.Secure, then both sides
// exchange a signed header naming their [PeerID] and the topic. The
// signature covers the channel's handshake hash and the sender's role,
// so a header cannot be replayed on another channel or reflected back.
// A responder that has not joined the requested topic refuses the
// connection.
//
// The swarm keeps one connection per (peer, topic). When two peers dial
// each other at once, both keep the connection initiated by the smaller
// peer id. Kept connections go to the [ConnectionHandler] installed
// with [Swarm.OnConnection].
//
// Backends: [MemoryDiscovery] for tests, [StaticDiscovery] for
// configured bootstrap addresses, and the rendezvous client in
// lib/rendezvous. [Combine] merges several.
package swarm
