// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/vault/lib/rpc"
)

// hub fans pushes out to every attached session. Pushes are queued
// under the hub lock so every session sees them in the same order, and
// a session attaching mid-stream never sees half of a RESET and
// LOAD_ALL_DATA pair. Queueing never waits: a session whose outbound
// queue is full is closed and dropped, so one stalled consumer cannot
// hold up the others or the command that triggered the push.
type hub struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[*rpc.Session]struct{}
	invite   []byte
}

func newHub(logger *slog.Logger) *hub {
	return &hub{logger: logger, sessions: make(map[*rpc.Session]struct{})}
}

// attach registers session and replays the latest INVITE to it.
func (h *hub) attach(session *rpc.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[session] = struct{}{}
	if h.invite != nil {
		if err := session.TrySend(event(rpc.CommandInvite, h.invite)); err != nil {
			h.logger.Debug("replaying invite failed", "error", err)
		}
	}
}

func (h *hub) detach(session *rpc.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, session)
}

// broadcast pushes each frame, in order, to every session.
func (h *hub) broadcast(frames ...rpc.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendLocked(frames)
}

// setInvite records the sticky INVITE and pushes it.
func (h *hub) setInvite(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invite = payload
	h.sendLocked([]rpc.Frame{event(rpc.CommandInvite, payload)})
}

// sendLocked queues frames on every session. A session that cannot
// take all of them is closed, since a gap would leave it with a stale
// view of the drive.
func (h *hub) sendLocked(frames []rpc.Frame) {
	for session := range h.sessions {
		for _, frame := range frames {
			err := session.TrySend(frame)
			if err == nil {
				continue
			}
			if errors.Is(err, rpc.ErrQueueFull) {
				h.logger.Warn("dropping stalled session", "command", frame.Command)
				session.Close()
			}
			delete(h.sessions, session)
			break
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func event(command rpc.Command, payload []byte) rpc.Frame {
	return rpc.Frame{Type: rpc.TypeEvent, Command: command, Payload: payload}
}
