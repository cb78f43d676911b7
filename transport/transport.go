// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
)

// Listener accepts inbound byte streams from peers.
type Listener interface {
	// Accept blocks until a peer opens a stream, ctx is cancelled, or
	// the listener is closed. After Close it returns net.ErrClosed.
	Accept(ctx context.Context) (net.Conn, error)

	// Address returns the address peers dial to reach this listener.
	// For TCP this is "host:port"; for WebRTC it is the local peer id
	// used in signaling.
	Address() string

	// Close stops accepting and releases the listener's resources.
	// Streams already accepted are not closed.
	Close() error
}

// Dialer opens outbound byte streams to peers.
type Dialer interface {
	// DialContext opens a stream to the peer at address. The address
	// format is transport-specific and matches what the remote
	// Listener's Address returns.
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// acceptResult carries the outcome of a blocking Accept performed on a
// helper goroutine.
type acceptResult struct {
	conn net.Conn
	err  error
}
