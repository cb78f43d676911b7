// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// TCPListener accepts inbound TCP streams. It is the same-LAN transport
// and requires direct reachability; peers behind NAT use WebRTC.
type TCPListener struct {
	listener net.Listener

	// pending holds a connection accepted by a goroutine whose Accept
	// caller gave up (ctx cancelled). The next Accept returns it rather
	// than dropping a live peer.
	mu      sync.Mutex
	pending chan acceptResult
}

// NewTCPListener listens on address (e.g. ":7891" or
// "192.168.1.10:7891"). Use ":0" for a random available port.
func NewTCPListener(address string) (*TCPListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener: listener}, nil
}

// Accept returns the next inbound connection.
func (l *TCPListener) Accept(ctx context.Context) (net.Conn, error) {
	l.mu.Lock()
	results := l.pending
	if results == nil {
		results = make(chan acceptResult, 1)
		l.pending = results
		go func() {
			conn, err := l.listener.Accept()
			results <- acceptResult{conn: conn, err: err}
		}()
	}
	l.mu.Unlock()

	select {
	case result := <-results:
		l.mu.Lock()
		l.pending = nil
		l.mu.Unlock()
		if result.err != nil {
			if errors.Is(result.err, net.ErrClosed) {
				return nil, net.ErrClosed
			}
			return nil, result.err
		}
		if tcp, ok := result.conn.(*net.TCPConn); ok {
			tcp.SetKeepAlivePeriod(30 * time.Second)
		}
		return result.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Address returns the listening address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close stops the listener. Pending Accept calls return net.ErrClosed.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// TCPDialer opens TCP streams to peers.
type TCPDialer struct {
	// Timeout bounds connection establishment. Zero means only the
	// context deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout, KeepAlive: 30 * time.Second}).DialContext(ctx, "tcp", address)
}
