// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// dataChannelMessageSize bounds each message written to a data channel.
// SCTP implementations disagree on the largest message they accept;
// 16 KiB is safe everywhere.
const dataChannelMessageSize = 16 << 10

// dataChannelReadSize is the scratch buffer for one inbound message.
// Detached pion channels fail a Read whose buffer is shorter than the
// message, so it must cover the peer's largest message.
const dataChannelReadSize = 64 << 10

// Compile-time interface check.
var _ net.Conn = (*DataChannelConn)(nil)

// DataChannelConn adapts a detached, message-oriented data channel to a
// byte stream. Writes are split into bounded messages; reads buffer any
// part of a message the caller's slice could not hold.
//
// Deadlines are emulated: when one fires the channel is closed, which
// unblocks pending I/O permanently.
type DataChannelConn struct {
	channel io.ReadWriteCloser
	local   string
	remote  string

	readMu   sync.Mutex
	scratch  []byte
	leftover []byte

	writeMu sync.Mutex

	timerMu sync.Mutex
	timers  [2]*time.Timer
	expired bool
}

// NewDataChannelConn wraps a detached data channel. The labels name
// the two endpoints for LocalAddr and RemoteAddr.
func NewDataChannelConn(channel io.ReadWriteCloser, local, remote string) *DataChannelConn {
	return &DataChannelConn{channel: channel, local: local, remote: remote}
}

func (c *DataChannelConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.leftover) == 0 {
		if c.scratch == nil {
			c.scratch = make([]byte, dataChannelReadSize)
		}
		n, err := c.channel.Read(c.scratch)
		if err != nil {
			return 0, c.translate(err)
		}
		c.leftover = c.scratch[:n]
	}
	n := copy(p, c.leftover)
	c.leftover = c.leftover[n:]
	return n, nil
}

func (c *DataChannelConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(p) {
		end := min(len(p), written+dataChannelMessageSize)
		n, err := c.channel.Write(p[written:end])
		written += n
		if err != nil {
			return written, c.translate(err)
		}
	}
	return written, nil
}

// translate reports a deadline-triggered close as a timeout so callers
// that check os.ErrDeadlineExceeded behave as they would on a socket.
func (c *DataChannelConn) translate(err error) error {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.expired {
		return os.ErrDeadlineExceeded
	}
	return err
}

func (c *DataChannelConn) Close() error {
	c.timerMu.Lock()
	for index, timer := range c.timers {
		if timer != nil {
			timer.Stop()
			c.timers[index] = nil
		}
	}
	c.timerMu.Unlock()
	return c.channel.Close()
}

func (c *DataChannelConn) LocalAddr() net.Addr  { return dataChannelAddr(c.local) }
func (c *DataChannelConn) RemoteAddr() net.Addr { return dataChannelAddr(c.remote) }

func (c *DataChannelConn) SetDeadline(deadline time.Time) error {
	c.setDeadline(0, deadline)
	c.setDeadline(1, deadline)
	return nil
}

func (c *DataChannelConn) SetReadDeadline(deadline time.Time) error {
	c.setDeadline(0, deadline)
	return nil
}

func (c *DataChannelConn) SetWriteDeadline(deadline time.Time) error {
	c.setDeadline(1, deadline)
	return nil
}

// setDeadline arms timer slot 0 (read) or 1 (write). A zero deadline
// disarms the slot.
func (c *DataChannelConn) setDeadline(slot int, deadline time.Time) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timers[slot] != nil {
		c.timers[slot].Stop()
		c.timers[slot] = nil
	}
	if deadline.IsZero() || c.expired {
		return
	}
	c.timers[slot] = time.AfterFunc(time.Until(deadline), c.expire)
}

func (c *DataChannelConn) expire() {
	c.timerMu.Lock()
	if c.expired {
		c.timerMu.Unlock()
		return
	}
	c.expired = true
	c.timerMu.Unlock()
	c.channel.Close()
}

// dataChannelAddr is a synthetic net.Addr naming one end of a data
// channel as "<peer id>/<label>".
type dataChannelAddr string

func (a dataChannelAddr) Network() string { return "webrtc" }
func (a dataChannelAddr) String() string  { return string(a) }
