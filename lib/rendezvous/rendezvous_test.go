// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/vault/lib/clock"
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/lib/swarm"
	"github.com/bureau-foundation/vault/lib/testutil"
	"github.com/bureau-foundation/vault/transport"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestServer starts a rendezvous server on a fake clock and returns
// a client for it.
func newTestServer(t *testing.T) (*Client, *clock.FakeClock, string) {
	t.Helper()
	fake := clock.Fake(epoch)
	server := NewServer(ServerConfig{
		AnnounceTTL: time.Minute,
		SignalTTL:   10 * time.Second,
		Clock:       fake,
		Logger:      testutil.Logger(t),
	})
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	client, err := NewClient(httpServer.URL, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, fake, httpServer.URL
}

func testTopic(t *testing.T) identity.DiscoveryKey {
	t.Helper()
	key, err := identity.NewDriveKey()
	if err != nil {
		t.Fatalf("NewDriveKey: %v", err)
	}
	return key.DiscoveryKey()
}

func peerInfo(b byte, address string) swarm.PeerInfo {
	var id swarm.PeerID
	for i := range id {
		id[i] = b
	}
	return swarm.PeerInfo{ID: id, Addresses: []string{address}}
}

func TestAnnounceAndLookup(t *testing.T) {
	client, _, _ := newTestServer(t)
	ctx := context.Background()
	topic := testTopic(t)

	second := peerInfo(2, "tcp:10.0.0.2:7000")
	first := peerInfo(1, "tcp:10.0.0.1:7000")
	for _, peer := range []swarm.PeerInfo{second, first} {
		if err := client.Announce(ctx, topic, peer); err != nil {
			t.Fatalf("Announce: %v", err)
		}
	}

	peers, err := client.Lookup(ctx, topic)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("Lookup returned %d peers, want 2", len(peers))
	}
	if peers[0].ID != first.ID || peers[1].ID != second.ID {
		t.Errorf("Lookup order = [%s %s], want sorted by id", peers[0].ID.Short(), peers[1].ID.Short())
	}
	if peers[0].Addresses[0] != "tcp:10.0.0.1:7000" {
		t.Errorf("address = %q", peers[0].Addresses[0])
	}

	other, err := client.Lookup(ctx, testTopic(t))
	if err != nil {
		t.Fatalf("Lookup other topic: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated topic returned %d peers", len(other))
	}
}

func TestAnnouncementExpires(t *testing.T) {
	client, fake, _ := newTestServer(t)
	ctx := context.Background()
	topic := testTopic(t)

	stale := peerInfo(1, "tcp:10.0.0.1:7000")
	fresh := peerInfo(2, "tcp:10.0.0.2:7000")
	if err := client.Announce(ctx, topic, stale); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	fake.Advance(40 * time.Second)
	if err := client.Announce(ctx, topic, fresh); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	fake.Advance(30 * time.Second)

	peers, err := client.Lookup(ctx, topic)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(peers) != 1 || peers[0].ID != fresh.ID {
		t.Fatalf("Lookup after expiry = %v, want only the refreshed peer", peers)
	}

	// Refreshing restarts the TTL.
	fake.Advance(20 * time.Second)
	if err := client.Announce(ctx, topic, fresh); err != nil {
		t.Fatalf("Announce refresh: %v", err)
	}
	fake.Advance(50 * time.Second)
	peers, err = client.Lookup(ctx, topic)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("refreshed peer expired early: %v", peers)
	}
}

func TestUnannounce(t *testing.T) {
	client, _, _ := newTestServer(t)
	ctx := context.Background()
	topic := testTopic(t)
	peer := peerInfo(1, "tcp:10.0.0.1:7000")

	if err := client.Announce(ctx, topic, peer); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if err := client.Unannounce(ctx, topic, peer.ID); err != nil {
		t.Fatalf("Unannounce: %v", err)
	}
	peers, err := client.Lookup(ctx, topic)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(peers) != 0 {
		t.Errorf("Lookup after unannounce = %v", peers)
	}

	// Withdrawing an unknown announcement is not an error.
	if err := client.Unannounce(ctx, topic, peer.ID); err != nil {
		t.Errorf("second Unannounce: %v", err)
	}
}

func TestAnnounceValidation(t *testing.T) {
	client, _, _ := newTestServer(t)
	ctx := context.Background()
	topic := testTopic(t)

	err := client.Announce(ctx, topic, swarm.PeerInfo{Addresses: []string{"tcp:10.0.0.1:7000"}})
	if err == nil || !strings.Contains(err.Error(), "HTTP 400") {
		t.Errorf("zero peer id: err = %v, want HTTP 400", err)
	}

	err = client.Announce(ctx, topic, swarm.PeerInfo{ID: peerInfo(1, "").ID})
	if err == nil || !strings.Contains(err.Error(), "HTTP 400") {
		t.Errorf("no addresses: err = %v, want HTTP 400", err)
	}
}

func TestLookupRejectsMalformedTopic(t *testing.T) {
	_, _, url := newTestServer(t)
	response, err := http.Get(url + "/v1/lookup/not-hex")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", response.StatusCode)
	}
}

func TestSignalMailboxes(t *testing.T) {
	client, _, _ := newTestServer(t)
	ctx := context.Background()

	if err := client.PublishOffer(ctx, "alpha", "beta", "offer-sdp"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	offers, err := client.PollOffers(ctx, "beta")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 1 || offers[0] != (transport.SignalMessage{Peer: "alpha", SDP: "offer-sdp"}) {
		t.Fatalf("PollOffers = %v", offers)
	}
	offers, err = client.PollOffers(ctx, "beta")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("mailbox not drained: %v", offers)
	}

	if err := client.PublishAnswer(ctx, "alpha", "beta", "answer-sdp"); err != nil {
		t.Fatalf("PublishAnswer: %v", err)
	}
	if offers, _ := client.PollOffers(ctx, "alpha"); len(offers) != 0 {
		t.Errorf("answer landed in the offer mailbox: %v", offers)
	}
	answers, err := client.PollAnswers(ctx, "alpha")
	if err != nil {
		t.Fatalf("PollAnswers: %v", err)
	}
	if len(answers) != 1 || answers[0] != (transport.SignalMessage{Peer: "beta", SDP: "answer-sdp"}) {
		t.Fatalf("PollAnswers = %v", answers)
	}
}

func TestSignalExpiry(t *testing.T) {
	client, fake, _ := newTestServer(t)
	ctx := context.Background()

	if err := client.PublishOffer(ctx, "alpha", "beta", "old"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	fake.Advance(11 * time.Second)
	if err := client.PublishOffer(ctx, "gamma", "beta", "new"); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	offers, err := client.PollOffers(ctx, "beta")
	if err != nil {
		t.Fatalf("PollOffers: %v", err)
	}
	if len(offers) != 1 || offers[0].Peer != "gamma" {
		t.Errorf("PollOffers = %v, want only the unexpired offer", offers)
	}
}

func TestSignalMailboxFull(t *testing.T) {
	client, _, _ := newTestServer(t)
	ctx := context.Background()

	for range maxMailbox {
		if err := client.PublishOffer(ctx, "alpha", "beta", "sdp"); err != nil {
			t.Fatalf("PublishOffer: %v", err)
		}
	}
	err := client.PublishOffer(ctx, "alpha", "beta", "sdp")
	if err == nil || !strings.Contains(err.Error(), "HTTP 429") {
		t.Errorf("overflow: err = %v, want HTTP 429", err)
	}
}

func TestSignalValidation(t *testing.T) {
	client, _, _ := newTestServer(t)
	err := client.PublishOffer(context.Background(), "", "beta", "sdp")
	if err == nil || !strings.Contains(err.Error(), "HTTP 400") {
		t.Errorf("missing sender: err = %v, want HTTP 400", err)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "example.com:8080", "://"} {
		if _, err := NewClient(raw, nil); err == nil {
			t.Errorf("NewClient(%q) succeeded", raw)
		}
	}
}

// TestSwarmsMeetThroughRendezvous runs two swarms whose only discovery
// backend is the rendezvous server.
func TestSwarmsMeetThroughRendezvous(t *testing.T) {
	client, _, _ := newTestServer(t)
	topic := testTopic(t)

	start := func() (*swarm.Swarm, <-chan swarm.ConnInfo) {
		listener, err := transport.NewTCPListener("127.0.0.1:0")
		if err != nil {
			t.Fatalf("NewTCPListener: %v", err)
		}
		s, err := swarm.New(swarm.Config{
			Listeners: []transport.Listener{listener},
			Dialers:   map[string]transport.Dialer{"tcp": &transport.TCPDialer{Timeout: 2 * time.Second}},
			Discovery: client,
			Logger:    testutil.Logger(t),
		})
		if err != nil {
			t.Fatalf("swarm.New: %v", err)
		}
		t.Cleanup(func() { s.Destroy() })

		connections := make(chan swarm.ConnInfo, 4)
		s.OnConnection(func(conn *swarm.Conn, info swarm.ConnInfo) {
			connections <- info
			buffer := make([]byte, 1)
			conn.Read(buffer)
			conn.Close()
		})
		if err := s.Join(context.Background(), topic); err != nil {
			t.Fatalf("Join: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Flush(ctx); err != nil {
			t.Fatalf("Flush: %v", err)
		}
		return s, connections
	}

	first, firstConnections := start()
	second, secondConnections := start()

	fromFirst := testutil.RequireReceive(t, firstConnections, 10*time.Second, "first swarm connection")
	fromSecond := testutil.RequireReceive(t, secondConnections, 10*time.Second, "second swarm connection")
	if fromFirst.Peer != second.ID() || fromSecond.Peer != first.ID() {
		t.Errorf("peers = (%s, %s), want (%s, %s)",
			fromFirst.Peer.Short(), fromSecond.Peer.Short(), second.ID().Short(), first.ID().Short())
	}
	if fromFirst.Topic != topic {
		t.Errorf("topic = %s, want %s", fromFirst.Topic, topic)
	}
}
