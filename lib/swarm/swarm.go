// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package swarm

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/vault/lib/clock"
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/transport"
)

// defaultLookupInterval applies when Config.LookupInterval is zero.
const defaultLookupInterval = 30 * time.Second

// dialTimeout bounds one dial attempt including the secure handshake
// and header exchange.
const dialTimeout = 20 * time.Second

// ErrDestroyed is returned by operations on a destroyed swarm.
var ErrDestroyed = errors.New("swarm: destroyed")

// Config configures a Swarm.
type Config struct {
	// Key is the swarm's Ed25519 identity. Nil generates a fresh one.
	Key ed25519.PrivateKey

	// Listeners accept inbound streams. A swarm without listeners can
	// only dial out.
	Listeners []transport.Listener

	// Dialers maps an address network ("tcp", "webrtc") to the dialer
	// that reaches it.
	Dialers map[string]transport.Dialer

	// Addresses are announced to discovery. Empty derives them from
	// the listeners; set it when a listener's bound address is not what
	// peers should dial (":0", NAT).
	Addresses []string

	// Discovery finds peers. Required.
	Discovery Discovery

	// LookupInterval is the period between discovery refreshes.
	LookupInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// ConnInfo describes one established peer connection.
type ConnInfo struct {
	Peer      PeerID                `json:"id"`
	Topic     identity.DiscoveryKey `json:"topic"`
	Initiator bool                  `json:"initiator"`
	Address   string                `json:"address"`
}

// ConnectionHandler is called on its own goroutine for every
// connection the swarm keeps. The handler owns conn and must close it.
type ConnectionHandler func(conn *Conn, info ConnInfo)

// Conn is an authenticated, encrypted stream to a peer for one topic.
type Conn struct {
	*transport.SecureConn

	info      ConnInfo
	swarm     *Swarm
	closeOnce sync.Once
}

// Info describes the connection.
func (c *Conn) Info() ConnInfo { return c.info }

// Close releases the connection and forgets it in the swarm.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.swarm.forget(c)
		err = c.SecureConn.Close()
	})
	return err
}

type connKey struct {
	peer  PeerID
	topic identity.DiscoveryKey
}

type topicState struct {
	cancel  context.CancelFunc
	flushed chan struct{}
	done    chan struct{}
}

// Swarm joins topics, finds peers through Discovery, and maintains one
// connection per (peer, topic).
type Swarm struct {
	key            ed25519.PrivateKey
	id             PeerID
	listeners      []transport.Listener
	dialers        map[string]transport.Dialer
	addresses      []string
	discovery      Discovery
	lookupInterval time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	mu        sync.Mutex
	handler   ConnectionHandler
	topics    map[identity.DiscoveryKey]*topicState
	conns     map[connKey]*Conn
	destroyed bool

	// learned maps dialed addresses to the peer that answered, so
	// statically configured peers are not redialed while connected.
	learned map[string]PeerID
}

// New creates a swarm and starts accepting on its listeners.
func New(config Config) (*Swarm, error) {
	if config.Discovery == nil {
		return nil, fmt.Errorf("swarm: Discovery is required")
	}
	key := config.Key
	if key == nil {
		var err error
		if _, key, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, fmt.Errorf("swarm: generating key: %w", err)
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	interval := config.LookupInterval
	if interval <= 0 {
		interval = defaultLookupInterval
	}

	s := &Swarm{
		key:            key,
		listeners:      config.Listeners,
		dialers:        config.Dialers,
		discovery:      config.Discovery,
		lookupInterval: interval,
		clock:          clk,
		logger:         logger,
		topics:         make(map[identity.DiscoveryKey]*topicState),
		conns:          make(map[connKey]*Conn),
		learned:        make(map[string]PeerID),
	}
	copy(s.id[:], key.Public().(ed25519.PublicKey))

	s.addresses = slices.Clone(config.Addresses)
	if len(s.addresses) == 0 {
		for _, listener := range config.Listeners {
			s.addresses = append(s.addresses, listenerAddress(listener))
		}
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, listener := range config.Listeners {
		s.workers.Add(1)
		go s.acceptLoop(listener)
	}
	return s, nil
}

func listenerAddress(listener transport.Listener) string {
	if _, ok := listener.(*transport.WebRTCTransport); ok {
		return "webrtc:" + listener.Address()
	}
	return "tcp:" + listener.Address()
}

// ID returns the swarm's peer id.
func (s *Swarm) ID() PeerID { return s.id }

// Addresses returns the addresses announced to discovery.
func (s *Swarm) Addresses() []string { return slices.Clone(s.addresses) }

// OnConnection installs the handler for new connections. Connections
// established while no handler is installed are closed.
func (s *Swarm) OnConnection(handler ConnectionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Join announces the swarm under topic and starts looking up and
// dialing peers. Joining a topic twice is a no-op.
func (s *Swarm) Join(ctx context.Context, topic identity.DiscoveryKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	if _, ok := s.topics[topic]; ok {
		return nil
	}
	topicCtx, cancel := context.WithCancel(s.ctx)
	state := &topicState{cancel: cancel, flushed: make(chan struct{}), done: make(chan struct{})}
	s.topics[topic] = state

	s.logger.Info("joined topic", "topic", topic.String(), "peer", s.id.Short())
	s.workers.Add(1)
	go s.maintain(topicCtx, topic, state)
	return nil
}

// Flush blocks until every joined topic has completed its first
// announce, lookup, and dial round.
func (s *Swarm) Flush(ctx context.Context) error {
	s.mu.Lock()
	var waiting []chan struct{}
	for _, state := range s.topics {
		waiting = append(waiting, state.flushed)
	}
	s.mu.Unlock()

	for _, flushed := range waiting {
		select {
		case <-flushed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Leave stops looking up topic, withdraws the announcement, and closes
// the topic's connections.
func (s *Swarm) Leave(ctx context.Context, topic identity.DiscoveryKey) error {
	s.mu.Lock()
	state, ok := s.topics[topic]
	if ok {
		delete(s.topics, topic)
	}
	var closing []*Conn
	for key, conn := range s.conns {
		if key.topic == topic {
			closing = append(closing, conn)
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	state.cancel()
	<-state.done
	for _, conn := range closing {
		conn.Close()
	}
	s.logger.Info("left topic", "topic", topic.String())
	return s.discovery.Unannounce(ctx, topic, s.id)
}

// Destroy leaves every topic, stops the listeners, and closes every
// connection. It waits for the swarm's goroutines, not for connection
// handlers.
func (s *Swarm) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	topics := make([]identity.DiscoveryKey, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	s.mu.Unlock()

	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, topic := range topics {
		if err := s.Leave(ctx, topic); err != nil {
			errs = append(errs, fmt.Errorf("leaving %s: %w", topic, err))
		}
	}

	s.cancel()
	for _, listener := range s.listeners {
		if err := listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	remaining := make([]*Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		remaining = append(remaining, conn)
	}
	s.mu.Unlock()
	for _, conn := range remaining {
		conn.Close()
	}

	s.workers.Wait()
	return errors.Join(errs...)
}

// Peers lists the current connections ordered by peer id.
func (s *Swarm) Peers() []ConnInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]ConnInfo, 0, len(s.conns))
	for _, conn := range s.conns {
		peers = append(peers, conn.info)
	}
	slices.SortFunc(peers, func(a, b ConnInfo) int {
		if order := a.Peer.Compare(b.Peer); order != 0 {
			return order
		}
		return slices.Compare(a.Topic[:], b.Topic[:])
	})
	return peers
}

// maintain runs the discovery loop for one topic.
func (s *Swarm) maintain(ctx context.Context, topic identity.DiscoveryKey, state *topicState) {
	defer s.workers.Done()
	defer close(state.done)

	s.refresh(ctx, topic)
	close(state.flushed)

	ticker := s.clock.NewTicker(s.lookupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx, topic)
		}
	}
}

// refresh announces, looks up, and dials every peer not yet connected.
// It returns once all dials have finished.
func (s *Swarm) refresh(ctx context.Context, topic identity.DiscoveryKey) {
	if err := s.discovery.Announce(ctx, topic, PeerInfo{ID: s.id, Addresses: s.addresses}); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("announce failed", "topic", topic.String(), "error", err)
	}
	peers, err := s.discovery.Lookup(ctx, topic)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Partial results from combined backends are still usable.
		s.logger.Warn("lookup failed", "topic", topic.String(), "error", err)
	}

	var dials sync.WaitGroup
	for _, peer := range peers {
		if peer.ID.IsZero() && len(peer.Addresses) == 1 {
			s.mu.Lock()
			peer.ID = s.learned[peer.Addresses[0]]
			s.mu.Unlock()
		}
		if peer.ID == s.id || (!peer.ID.IsZero() && s.connected(peer.ID, topic)) {
			continue
		}
		dials.Add(1)
		go func() {
			defer dials.Done()
			s.dialPeer(ctx, topic, peer)
		}()
	}
	dials.Wait()
}

func (s *Swarm) connected(peer PeerID, topic identity.DiscoveryKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[connKey{peer: peer, topic: topic}]
	return ok
}

// dialPeer tries the peer's addresses in order until one connects.
func (s *Swarm) dialPeer(ctx context.Context, topic identity.DiscoveryKey, peer PeerInfo) {
	for _, address := range peer.Addresses {
		err := s.dial(ctx, topic, peer.ID, address)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Debug("dial failed", "address", address, "topic", topic.String(), "error", err)
	}
}

func (s *Swarm) dial(ctx context.Context, topic identity.DiscoveryKey, expected PeerID, address string) error {
	network, target, err := splitAddress(address)
	if err != nil {
		return err
	}
	dialer, ok := s.dialers[network]
	if !ok {
		return fmt.Errorf("no dialer for network %q", network)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	raw, err := dialer.DialContext(dialCtx, target)
	if err != nil {
		return err
	}
	secure, err := transport.Secure(dialCtx, raw, true)
	if err != nil {
		raw.Close()
		return err
	}
	remote, err := initiateHeader(secure, s.key, topic)
	if err != nil {
		secure.Close()
		return err
	}
	s.mu.Lock()
	s.learned[address] = remote
	s.mu.Unlock()
	if remote == s.id {
		secure.Close()
		return fmt.Errorf("dialed self at %s", address)
	}
	if !expected.IsZero() && remote != expected {
		secure.Close()
		return fmt.Errorf("%w: %s answered as %s", ErrPeerAuth, address, remote.Short())
	}
	s.adopt(secure, ConnInfo{Peer: remote, Topic: topic, Initiator: true, Address: address})
	return nil
}

func (s *Swarm) acceptLoop(listener transport.Listener) {
	defer s.workers.Done()
	for {
		raw, err := listener.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "listener", listener.Address(), "error", err)
			select {
			case <-s.clock.After(100 * time.Millisecond):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		s.workers.Add(1)
		go s.handleInbound(raw)
	}
}

func (s *Swarm) handleInbound(raw net.Conn) {
	defer s.workers.Done()
	ctx, cancel := context.WithTimeout(s.ctx, dialTimeout)
	defer cancel()

	secure, err := transport.Secure(ctx, raw, false)
	if err != nil {
		raw.Close()
		s.logger.Debug("inbound handshake failed", "remote", raw.RemoteAddr().String(), "error", err)
		return
	}
	remote, topic, err := respondHeader(secure, s.key, s.joined)
	if err != nil {
		secure.Close()
		s.logger.Debug("inbound header rejected", "remote", raw.RemoteAddr().String(), "error", err)
		return
	}
	if remote == s.id {
		secure.Close()
		return
	}
	s.adopt(secure, ConnInfo{Peer: remote, Topic: topic, Initiator: false, Address: raw.RemoteAddr().String()})
}

func (s *Swarm) joined(topic identity.DiscoveryKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	return ok
}

// adopt registers a connection and hands it to the handler, or closes
// it when it loses to an existing connection.
//
// Two peers that dial each other at once end up with two connections.
// Both sides keep the one initiated by the smaller peer id, so they
// agree without further messages.
func (s *Swarm) adopt(secure *transport.SecureConn, info ConnInfo) {
	conn := &Conn{SecureConn: secure, info: info, swarm: s}
	key := connKey{peer: info.Peer, topic: info.Topic}

	s.mu.Lock()
	if s.destroyed || s.handler == nil || s.topics[info.Topic] == nil {
		s.mu.Unlock()
		secure.Close()
		return
	}
	var displaced *Conn
	if existing, ok := s.conns[key]; ok {
		if !s.canonical(info) || s.canonical(existing.info) {
			s.mu.Unlock()
			s.logger.Debug("dropping duplicate connection", "peer", info.Peer.Short(), "initiator", info.Initiator)
			secure.Close()
			return
		}
		displaced = existing
	}
	s.conns[key] = conn
	handler := s.handler
	s.mu.Unlock()

	if displaced != nil {
		s.logger.Debug("replacing duplicate connection", "peer", info.Peer.Short())
		displaced.Close()
	}
	s.logger.Info("peer connected",
		"peer", info.Peer.Short(),
		"topic", info.Topic.String(),
		"initiator", info.Initiator,
		"address", info.Address,
	)
	go handler(conn, info)
}

// canonical reports whether the connection was initiated by the
// smaller of the two peer ids.
func (s *Swarm) canonical(info ConnInfo) bool {
	initiator := s.id
	if !info.Initiator {
		initiator = info.Peer
	}
	other := info.Peer
	if !info.Initiator {
		other = s.id
	}
	return initiator.Compare(other) < 0
}

func (s *Swarm) forget(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := connKey{peer: conn.info.Peer, topic: conn.info.Topic}
	if s.conns[key] == conn {
		delete(s.conns, key)
		s.logger.Info("peer disconnected", "peer", conn.info.Peer.Short(), "topic", conn.info.Topic.String())
	}
}
