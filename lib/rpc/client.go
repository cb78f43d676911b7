// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/vault/lib/netutil"
)

// DefaultTimeout bounds a call when ClientConfig.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// eventBuffer is the number of unread events a client holds before
// dropping new ones.
const eventBuffer = 1024

var (
	// ErrTimeout is returned when the engine sends no response within
	// the call timeout. The engine drops requests that arrive before
	// its drive is ready, so this is the usual symptom of calling too
	// early.
	ErrTimeout = errors.New("rpc: no response before timeout")

	// ErrClientClosed is returned by calls on a closed client, and by
	// calls in flight when the stream ends.
	ErrClientClosed = errors.New("rpc: client closed")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Timeout bounds each call. Zero uses DefaultTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client is the consumer end of a channel.
type Client struct {
	conn    io.ReadWriteCloser
	timeout time.Duration
	logger  *slog.Logger
	events  chan Frame

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Frame
	closed  bool
	err     error
	done    chan struct{}
}

// NewClient wraps conn and starts reading responses and events.
func NewClient(conn io.ReadWriteCloser, config ClientConfig) *Client {
	client := &Client{
		conn:    conn,
		timeout: config.Timeout,
		logger:  config.Logger,
		events:  make(chan Frame, eventBuffer),
		pending: make(map[uint64]chan Frame),
		done:    make(chan struct{}),
	}
	if client.timeout <= 0 {
		client.timeout = DefaultTimeout
	}
	if client.logger == nil {
		client.logger = slog.New(slog.DiscardHandler)
	}
	go client.readLoop()
	return client
}

// Events delivers pushed frames in order. It is closed when the
// stream ends. Events that arrive while the buffer is full are
// dropped.
func (c *Client) Events() <-chan Frame { return c.events }

// Done is closed when the stream ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the stream ended, or nil while it is open or after a
// clean hang-up.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Call sends a request and waits for its response.
func (c *Client) Call(ctx context.Context, command Command, payload []byte) (Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, ErrClientClosed
	}
	c.nextID++
	id := c.nextID
	reply := make(chan Frame, 1)
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := WriteFrame(c.conn, Frame{Type: TypeRequest, ID: id, Command: command, Payload: payload})
	c.writeMu.Unlock()
	if err != nil {
		return Frame{}, fmt.Errorf("rpc: sending %s: %w", command, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case frame := <-reply:
		return frame, nil
	case <-timer.C:
		return Frame{}, fmt.Errorf("%w: %s after %v", ErrTimeout, command, c.timeout)
	case <-c.done:
		return Frame{}, ErrClientClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *Client) readLoop() {
	var finalErr error
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.err = finalErr
		c.mu.Unlock()
		close(c.done)
		close(c.events)
	}()

	for {
		frame, err := ReadFrame(c.conn)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				c.logger.Warn("skipping malformed frame", "error", err)
				continue
			}
			if !netutil.IsExpectedCloseError(err) {
				finalErr = err
			}
			return
		}
		switch frame.Type {
		case TypeResponse:
			c.mu.Lock()
			reply, ok := c.pending[frame.ID]
			c.mu.Unlock()
			if !ok {
				c.logger.Debug("response for unknown request", "id", frame.ID, "command", frame.Command)
				continue
			}
			reply <- frame
		case TypeEvent:
			select {
			case c.events <- frame:
			default:
				c.logger.Warn("event buffer full, dropping event", "command", frame.Command)
			}
		default:
			c.logger.Warn("ignoring request frame from engine", "command", frame.Command)
		}
	}
}

// Close closes the stream. Calls in flight fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
