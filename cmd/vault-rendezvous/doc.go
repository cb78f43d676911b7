// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Vault-rendezvous is the meeting point for vault engines that cannot
// find each other through static peers: it holds topic announcements
// and relays WebRTC offers and answers. It stores nothing on disk and
// never sees drive keys or content.
package main
