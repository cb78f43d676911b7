// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/vault/lib/clock"
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/lib/netutil"
	"github.com/bureau-foundation/vault/lib/swarm"
	"github.com/bureau-foundation/vault/transport"
)

const (
	// DefaultAnnounceTTL is how long an announcement survives without
	// a refresh. Swarms refresh every lookup interval, so it must
	// exceed the largest interval in use.
	DefaultAnnounceTTL = 2 * time.Minute

	// DefaultSignalTTL is how long an undelivered offer or answer is
	// kept.
	DefaultSignalTTL = time.Minute

	// maxMailbox bounds the undelivered messages held per peer.
	maxMailbox = 64

	// maxAddresses bounds the addresses accepted per announcement.
	maxAddresses = 16
)

// ServerConfig configures a Server.
type ServerConfig struct {
	AnnounceTTL time.Duration
	SignalTTL   time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Server holds topic announcements and signaling mailboxes in memory.
// Nothing survives a restart; swarms re-announce on their next
// refresh.
type Server struct {
	announceTTL time.Duration
	signalTTL   time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	mu      sync.Mutex
	topics  map[identity.DiscoveryKey]map[swarm.PeerID]announcement
	offers  map[string][]mailboxEntry
	answers map[string][]mailboxEntry
}

type announcement struct {
	peer    swarm.PeerInfo
	expires time.Time
}

type mailboxEntry struct {
	message transport.SignalMessage
	expires time.Time
}

// NewServer creates an empty Server.
func NewServer(config ServerConfig) *Server {
	server := &Server{
		announceTTL: config.AnnounceTTL,
		signalTTL:   config.SignalTTL,
		clock:       config.Clock,
		logger:      config.Logger,
		topics:      make(map[identity.DiscoveryKey]map[swarm.PeerID]announcement),
		offers:      make(map[string][]mailboxEntry),
		answers:     make(map[string][]mailboxEntry),
	}
	if server.announceTTL <= 0 {
		server.announceTTL = DefaultAnnounceTTL
	}
	if server.signalTTL <= 0 {
		server.signalTTL = DefaultSignalTTL
	}
	if server.clock == nil {
		server.clock = clock.Real()
	}
	if server.logger == nil {
		server.logger = slog.New(slog.DiscardHandler)
	}
	return server
}

// Handler returns the server's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/announce", s.handleAnnounce)
	mux.HandleFunc("POST /v1/unannounce", s.handleUnannounce)
	mux.HandleFunc("GET /v1/lookup/{topic}", s.handleLookup)
	mux.HandleFunc("POST /v1/signal/offer", s.handleSignal(func() map[string][]mailboxEntry { return s.offers }))
	mux.HandleFunc("POST /v1/signal/answer", s.handleSignal(func() map[string][]mailboxEntry { return s.answers }))
	mux.HandleFunc("GET /v1/signal/offers/{peer}", s.handleDrain(func() map[string][]mailboxEntry { return s.offers }))
	mux.HandleFunc("GET /v1/signal/answers/{peer}", s.handleDrain(func() map[string][]mailboxEntry { return s.answers }))
	return mux
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var request announceRequest
	if err := netutil.DecodeBody(r.Body, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if request.Peer.ID.IsZero() {
		http.Error(w, "announcement requires a peer id", http.StatusBadRequest)
		return
	}
	if len(request.Peer.Addresses) == 0 || len(request.Peer.Addresses) > maxAddresses {
		http.Error(w, "announcement requires 1 to 16 addresses", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	peers := s.topics[request.Topic]
	if peers == nil {
		peers = make(map[swarm.PeerID]announcement)
		s.topics[request.Topic] = peers
	}
	_, refreshed := peers[request.Peer.ID]
	peers[request.Peer.ID] = announcement{peer: request.Peer, expires: s.clock.Now().Add(s.announceTTL)}
	s.mu.Unlock()

	if !refreshed {
		s.logger.Info("peer announced",
			"topic", request.Topic.String(),
			"peer", request.Peer.ID.Short(),
			"addresses", request.Peer.Addresses,
		)
	}
	netutil.WriteCBOR(w, http.StatusOK, announceResponse{TTLSeconds: int64(s.announceTTL / time.Second)})
}

func (s *Server) handleUnannounce(w http.ResponseWriter, r *http.Request) {
	var request unannounceRequest
	if err := netutil.DecodeBody(r.Body, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	if peers, ok := s.topics[request.Topic]; ok {
		delete(peers, request.ID)
		if len(peers) == 0 {
			delete(s.topics, request.Topic)
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	topic, err := identity.ParseDiscoveryKey(r.PathValue("topic"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := s.clock.Now()
	s.mu.Lock()
	response := lookupResponse{Peers: []swarm.PeerInfo{}}
	for id, entry := range s.topics[topic] {
		if !now.Before(entry.expires) {
			delete(s.topics[topic], id)
			continue
		}
		response.Peers = append(response.Peers, entry.peer)
	}
	if len(s.topics[topic]) == 0 {
		delete(s.topics, topic)
	}
	s.mu.Unlock()

	slices.SortFunc(response.Peers, func(a, b swarm.PeerInfo) int { return a.ID.Compare(b.ID) })
	netutil.WriteCBOR(w, http.StatusOK, response)
}

func (s *Server) handleSignal(mailboxes func() map[string][]mailboxEntry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var request signalRequest
		if err := netutil.DecodeBody(r.Body, &request); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if request.From == "" || request.To == "" || request.SDP == "" {
			http.Error(w, "signal requires from, to, and sdp", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		boxes := mailboxes()
		mailbox := s.liveLocked(boxes[request.To])
		if len(mailbox) >= maxMailbox {
			http.Error(w, "mailbox full", http.StatusTooManyRequests)
			return
		}
		boxes[request.To] = append(mailbox, mailboxEntry{
			message: transport.SignalMessage{Peer: request.From, SDP: request.SDP},
			expires: s.clock.Now().Add(s.signalTTL),
		})
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleDrain(mailboxes func() map[string][]mailboxEntry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer := r.PathValue("peer")

		s.mu.Lock()
		boxes := mailboxes()
		entries := s.liveLocked(boxes[peer])
		delete(boxes, peer)
		s.mu.Unlock()

		response := signalResponse{Messages: make([]transport.SignalMessage, 0, len(entries))}
		for _, entry := range entries {
			response.Messages = append(response.Messages, entry.message)
		}
		netutil.WriteCBOR(w, http.StatusOK, response)
	}
}

// liveLocked drops expired entries.
func (s *Server) liveLocked(entries []mailboxEntry) []mailboxEntry {
	now := s.clock.Now()
	return slices.DeleteFunc(entries, func(entry mailboxEntry) bool {
		return !now.Before(entry.expires)
	})
}
