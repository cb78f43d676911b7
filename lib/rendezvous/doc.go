// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rendezvous implements a small HTTP meeting point for vault
// peers: topic announcements with expiry, and mailbox signaling for
// WebRTC offers and answers.
//
// The server keeps everything in memory. Announcements expire unless
// refreshed (swarms refresh on every lookup pass), so a crashed peer
// falls out of lookups on its own. Signal mailboxes are drained by
// polling and expire if nobody polls.
//
// [Client] implements both swarm.Discovery and transport.Signaler, so
// one rendezvous URL in the engine config serves discovery and WebRTC
// setup. Bodies are CBOR.
//
// The server learns which peers share a topic and their addresses. It
// never sees drive keys or drive content: topics are discovery keys,
// and replication runs end to end over the secure channel.
package rendezvous
