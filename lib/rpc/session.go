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

	"github.com/bureau-foundation/vault/lib/netutil"
)

// outboundQueue is the number of frames a session buffers ahead of a
// slow consumer before Send blocks and TrySend fails.
const outboundQueue = 64

var (
	// ErrSessionClosed is returned by Send after the session has ended.
	ErrSessionClosed = errors.New("rpc: session closed")

	// ErrQueueFull is returned by TrySend when the consumer has fallen
	// a full queue behind.
	ErrQueueFull = errors.New("rpc: session queue full")
)

// Handler processes one request. Requests on a session are handled
// one at a time in arrival order. A handler that sends no response
// drops the request.
type Handler interface {
	HandleRequest(ctx context.Context, session *Session, request Frame)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, session *Session, request Frame)

func (f HandlerFunc) HandleRequest(ctx context.Context, session *Session, request Frame) {
	f(ctx, session, request)
}

// Session is the engine end of one channel.
type Session struct {
	conn   io.ReadWriteCloser
	logger *slog.Logger

	outbound  chan Frame
	done      chan struct{}
	writeDone chan struct{}
	closeOnce sync.Once
}

// NewSession wraps conn and starts its writer.
func NewSession(conn io.ReadWriteCloser, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	session := &Session{
		conn:      conn,
		logger:    logger,
		outbound:  make(chan Frame, outboundQueue),
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	go session.writeLoop()
	return session
}

// Serve reads requests and hands them to handler until the stream
// ends or ctx is cancelled. Malformed frames are logged and skipped.
// A clean hang-up returns nil. The session is closed on return.
func (s *Session) Serve(ctx context.Context, handler Handler) error {
	defer s.Close()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		frame, err := ReadFrame(s.conn)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				s.logger.Warn("skipping malformed frame", "error", err)
				continue
			}
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			return fmt.Errorf("rpc: reading frame: %w", err)
		}
		if frame.Type != TypeRequest {
			s.logger.Warn("ignoring non-request frame", "type", frame.Type, "command", frame.Command)
			continue
		}
		s.logger.Debug("request received", "id", frame.ID, "command", frame.Command, "size", len(frame.Payload))
		handler.HandleRequest(ctx, s, frame)
	}
}

// Respond answers request. The response command may differ from the
// request's.
func (s *Session) Respond(ctx context.Context, request Frame, command Command, payload []byte) error {
	return s.Send(ctx, Frame{Type: TypeResponse, ID: request.ID, Command: command, Payload: payload})
}

// Push sends an unsolicited event.
func (s *Session) Push(ctx context.Context, command Command, payload []byte) error {
	return s.Send(ctx, Frame{Type: TypeEvent, Command: command, Payload: payload})
}

// Send queues a frame for the writer. Frames are written in the order
// Send is called.
func (s *Session) Send(ctx context.Context, frame Frame) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend queues a frame without waiting. It fails with ErrQueueFull
// when the writer is outboundQueue frames behind.
func (s *Session) TrySend(frame Frame) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.outbound <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Session) writeLoop() {
	defer close(s.writeDone)
	for {
		select {
		case frame := <-s.outbound:
			if err := WriteFrame(s.conn, frame); err != nil {
				if !netutil.IsExpectedCloseError(err) {
					s.logger.Warn("writing frame failed", "command", frame.Command, "error", err)
				}
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session and closes the stream. Queued frames that
// were not yet written are discarded.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
