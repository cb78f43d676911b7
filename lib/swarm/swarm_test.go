// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package swarm

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/bureau-foundation/vault/lib/clock"
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/lib/testutil"
	"github.com/bureau-foundation/vault/transport"
)

func testTopic(t *testing.T) identity.DiscoveryKey {
	t.Helper()
	key, err := identity.NewDriveKey()
	if err != nil {
		t.Fatalf("NewDriveKey: %v", err)
	}
	return key.DiscoveryKey()
}

type swarmOption func(*Config)

func withClock(c clock.Clock) swarmOption {
	return func(config *Config) { config.Clock = c }
}

// newTestSwarm starts a swarm on a loopback TCP listener. Accepted
// connections are reported on the returned channel and drained until
// the peer closes.
func newTestSwarm(t *testing.T, discovery Discovery, options ...swarmOption) (*Swarm, <-chan ConnInfo) {
	t.Helper()
	listener, err := transport.NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener: %v", err)
	}
	config := Config{
		Listeners: []transport.Listener{listener},
		Dialers:   map[string]transport.Dialer{"tcp": &transport.TCPDialer{Timeout: 2 * time.Second}},
		Discovery: discovery,
		Logger:    testutil.Logger(t),
	}
	for _, option := range options {
		option(&config)
	}
	s, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	connections := make(chan ConnInfo, 16)
	s.OnConnection(func(conn *Conn, info ConnInfo) {
		connections <- info
		io.Copy(io.Discard, conn)
		conn.Close()
	})
	t.Cleanup(func() { s.Destroy() })
	return s, connections
}

func flush(t *testing.T, s *Swarm) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

// waitForPeers polls until s reports want connections.
func waitForPeers(t *testing.T, s *Swarm, want int) []ConnInfo {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		peers := s.Peers()
		if len(peers) == want {
			return peers
		}
		if time.Now().After(deadline) {
			t.Fatalf("swarm %s has %d peers, want %d", s.ID().Short(), len(peers), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewRequiresDiscovery(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without discovery")
	}
}

func TestSwarmsOnSameTopicConnect(t *testing.T) {
	discovery := NewMemoryDiscovery()
	topic := testTopic(t)
	alpha, alphaConnections := newTestSwarm(t, discovery)
	beta, betaConnections := newTestSwarm(t, discovery)

	ctx := context.Background()
	if err := alpha.Join(ctx, topic); err != nil {
		t.Fatalf("alpha Join: %v", err)
	}
	flush(t, alpha)
	if err := beta.Join(ctx, topic); err != nil {
		t.Fatalf("beta Join: %v", err)
	}
	flush(t, beta)

	atBeta := testutil.RequireReceive(t, betaConnections, 5*time.Second, "beta connection")
	atAlpha := testutil.RequireReceive(t, alphaConnections, 5*time.Second, "alpha connection")

	if atBeta.Peer != alpha.ID() || !atBeta.Initiator {
		t.Errorf("beta saw %+v, want outbound connection to alpha", atBeta)
	}
	if atAlpha.Peer != beta.ID() || atAlpha.Initiator {
		t.Errorf("alpha saw %+v, want inbound connection from beta", atAlpha)
	}
	if atAlpha.Topic != topic || atBeta.Topic != topic {
		t.Error("connection carries the wrong topic")
	}
	waitForPeers(t, alpha, 1)
	waitForPeers(t, beta, 1)
}

func TestJoinTwiceIsNoop(t *testing.T) {
	alpha, _ := newTestSwarm(t, NewMemoryDiscovery())
	topic := testTopic(t)
	if err := alpha.Join(context.Background(), topic); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := alpha.Join(context.Background(), topic); err != nil {
		t.Fatalf("second Join: %v", err)
	}
	flush(t, alpha)
}

func TestUnjoinedTopicRefused(t *testing.T) {
	beta, betaConnections := newTestSwarm(t, NewMemoryDiscovery())
	alpha, alphaConnections := newTestSwarm(t, StaticDiscovery(beta.Addresses()))

	// beta has joined nothing, so alpha's header is refused.
	if err := alpha.Join(context.Background(), testTopic(t)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	flush(t, alpha)

	testutil.RequireNoReceive(t, alphaConnections, 100*time.Millisecond, "alpha connection")
	testutil.RequireNoReceive(t, betaConnections, 10*time.Millisecond, "beta connection")
}

func TestStaticSelfAddressIgnored(t *testing.T) {
	discovery := StaticDiscovery{}
	alpha, connections := newTestSwarm(t, &discovery)
	discovery = append(discovery, alpha.Addresses()...)

	if err := alpha.Join(context.Background(), testTopic(t)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	flush(t, alpha)
	testutil.RequireNoReceive(t, connections, 100*time.Millisecond, "self connection")
	if peers := alpha.Peers(); len(peers) != 0 {
		t.Errorf("Peers = %+v, want none", peers)
	}
}

func TestSimultaneousDialsKeepCanonicalConnection(t *testing.T) {
	topic := testTopic(t)
	var alphaBootstrap, betaBootstrap StaticDiscovery
	alpha, _ := newTestSwarm(t, &alphaBootstrap)
	beta, _ := newTestSwarm(t, &betaBootstrap)
	alphaBootstrap = StaticDiscovery(beta.Addresses())
	betaBootstrap = StaticDiscovery(alpha.Addresses())

	ctx := context.Background()
	alpha.Join(ctx, topic)
	beta.Join(ctx, topic)
	flush(t, alpha)
	flush(t, beta)

	// Whichever dials win, both sides converge on one connection and
	// agree on its direction.
	deadline := time.Now().Add(10 * time.Second)
	for {
		alphaPeers, betaPeers := alpha.Peers(), beta.Peers()
		if len(alphaPeers) == 1 && len(betaPeers) == 1 && alphaPeers[0].Initiator != betaPeers[0].Initiator {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no agreement: alpha=%+v beta=%+v", alphaPeers, betaPeers)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCanonicalConnection(t *testing.T) {
	low, high := PeerID{1}, PeerID{2}

	atLow := &Swarm{id: low}
	if !atLow.canonical(ConnInfo{Peer: high, Initiator: true}) {
		t.Error("low's outbound connection to high should be canonical")
	}
	if atLow.canonical(ConnInfo{Peer: high, Initiator: false}) {
		t.Error("high's inbound connection at low should not be canonical")
	}

	atHigh := &Swarm{id: high}
	if !atHigh.canonical(ConnInfo{Peer: low, Initiator: false}) {
		t.Error("low's connection seen at high should be canonical")
	}
	if atHigh.canonical(ConnInfo{Peer: low, Initiator: true}) {
		t.Error("high's outbound connection should not be canonical")
	}
}

func TestLeaveClosesConnections(t *testing.T) {
	discovery := NewMemoryDiscovery()
	topic := testTopic(t)
	alpha, _ := newTestSwarm(t, discovery)
	beta, _ := newTestSwarm(t, discovery)

	ctx := context.Background()
	alpha.Join(ctx, topic)
	flush(t, alpha)
	beta.Join(ctx, topic)
	flush(t, beta)
	waitForPeers(t, alpha, 1)

	if err := beta.Leave(ctx, topic); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	waitForPeers(t, beta, 0)
	waitForPeers(t, alpha, 0)

	peers, _ := discovery.Lookup(ctx, topic)
	for _, peer := range peers {
		if peer.ID == beta.ID() {
			t.Error("beta still announced after Leave")
		}
	}
}

// lookupBlind announces but never finds anyone, so its swarm only
// receives connections.
type lookupBlind struct{ Discovery }

func (lookupBlind) Lookup(context.Context, identity.DiscoveryKey) ([]PeerInfo, error) {
	return nil, nil
}

func TestPeriodicLookupFindsLateAnnouncements(t *testing.T) {
	discovery := NewMemoryDiscovery()
	topic := testTopic(t)
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	alpha, alphaConnections := newTestSwarm(t, discovery, withClock(fake))
	beta, _ := newTestSwarm(t, lookupBlind{discovery})

	ctx := context.Background()
	alpha.Join(ctx, topic)
	flush(t, alpha)
	beta.Join(ctx, topic)
	flush(t, beta)

	testutil.RequireNoReceive(t, alphaConnections, 50*time.Millisecond, "connection before re-lookup")

	fake.WaitForTimers(1)
	fake.Advance(defaultLookupInterval)

	info := testutil.RequireReceive(t, alphaConnections, 10*time.Second, "connection after re-lookup")
	if info.Peer != beta.ID() || !info.Initiator {
		t.Errorf("alpha connection = %+v, want outbound to beta", info)
	}
}

func TestDestroyIsIdempotentAndRejectsJoin(t *testing.T) {
	alpha, _ := newTestSwarm(t, NewMemoryDiscovery())
	if err := alpha.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := alpha.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if err := alpha.Join(context.Background(), testTopic(t)); err != ErrDestroyed {
		t.Errorf("Join after Destroy = %v, want ErrDestroyed", err)
	}
}

func TestConfiguredKeyDeterminesID(t *testing.T) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s, err := New(Config{Key: private, Discovery: NewMemoryDiscovery()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Destroy()
	if s.ID() != PeerID(public) {
		t.Errorf("ID = %s, want %x", s.ID(), public)
	}
}
