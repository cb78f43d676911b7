// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries byte streams between vault peers.
//
// [Listener] accepts inbound streams (Accept, Address, Close) and
// [Dialer] opens outbound ones (DialContext). Two implementations exist:
//
//   - [TCPListener] and [TCPDialer] for peers with direct reachability,
//     typically the same LAN.
//   - [WebRTCTransport] for peers behind NAT. It keeps one pion
//     PeerConnection per remote peer and opens an ordered, reliable data
//     channel per stream. [DataChannelConn] adapts a detached channel's
//     message framing to a byte stream.
//
// WebRTC connection setup goes through a [Signaler], which exchanges SDP
// offers and answers through per-peer mailboxes. Signaling is vanilla
// ICE: candidates are gathered before the SDP is published, so one
// offer/answer round-trip suffices. The rendezvous client is the
// production signaler; [MemorySignaler] serves tests. When two peers
// offer to each other at once, the peer with the smaller id is the
// canonical offerer and the other abandons its attempt.
//
// Raw streams are never used directly. [Secure] wraps each one in an
// encrypted channel: ephemeral X25519 agreement, HKDF-derived
// per-direction keys, and XChaCha20-Poly1305 frames. The handshake does
// not authenticate either end; upper layers prove identity and drive key
// possession by binding signatures and MACs to
// [SecureConn.HandshakeHash].
package transport
