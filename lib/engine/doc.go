// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine runs one vault: it decides which drive to open,
// opens its store, joins the peer network, and serves the command
// channel.
//
// An [Engine] owns every long-lived handle. Start picks the drive key
// (a join key, else the saved key, else a new drive), opens the store
// under the storage directory, replicates with every peer the network
// connects, and starts the change watcher. Sessions may be served
// before Start finishes; their commands are dropped until the drive is
// ready.
//
// The watcher re-ships the whole drive on every change: a RESET push
// followed by LOAD_ALL_DATA, to every session. Mutating commands hold
// the store's notifications until they finish, so each produces one
// reload however many keys it touched.
//
// Startup pushes an INVITE: the hex key for a new drive, or
// "connected" after opening an existing one. The latest INVITE is
// replayed to sessions that attach later.
//
// Close tears down in order: sessions and watcher, then the network,
// then the store.
package engine
