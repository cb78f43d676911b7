// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package swarm

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/bureau-foundation/vault/lib/identity"
)

// Discovery finds the peers announcing a topic.
type Discovery interface {
	// Announce advertises self under topic. Repeated announcements
	// refresh the advertisement.
	Announce(ctx context.Context, topic identity.DiscoveryKey, self PeerInfo) error

	// Unannounce withdraws an advertisement.
	Unannounce(ctx context.Context, topic identity.DiscoveryKey, id PeerID) error

	// Lookup returns the peers currently announcing topic. The result
	// may include the caller.
	Lookup(ctx context.Context, topic identity.DiscoveryKey) ([]PeerInfo, error)
}

// Compile-time interface checks.
var (
	_ Discovery = (*MemoryDiscovery)(nil)
	_ Discovery = StaticDiscovery(nil)
	_ Discovery = multiDiscovery(nil)
)

// MemoryDiscovery is an in-process Discovery shared by swarms in one
// test binary.
type MemoryDiscovery struct {
	mu     sync.Mutex
	topics map[identity.DiscoveryKey]map[PeerID]PeerInfo
}

// NewMemoryDiscovery creates an empty MemoryDiscovery.
func NewMemoryDiscovery() *MemoryDiscovery {
	return &MemoryDiscovery{topics: make(map[identity.DiscoveryKey]map[PeerID]PeerInfo)}
}

func (d *MemoryDiscovery) Announce(_ context.Context, topic identity.DiscoveryKey, self PeerInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	peers := d.topics[topic]
	if peers == nil {
		peers = make(map[PeerID]PeerInfo)
		d.topics[topic] = peers
	}
	peers[self.ID] = PeerInfo{ID: self.ID, Addresses: slices.Clone(self.Addresses)}
	return nil
}

func (d *MemoryDiscovery) Unannounce(_ context.Context, topic identity.DiscoveryKey, id PeerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.topics[topic], id)
	return nil
}

func (d *MemoryDiscovery) Lookup(_ context.Context, topic identity.DiscoveryKey) ([]PeerInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	peers := make([]PeerInfo, 0, len(d.topics[topic]))
	for _, peer := range d.topics[topic] {
		peers = append(peers, PeerInfo{ID: peer.ID, Addresses: slices.Clone(peer.Addresses)})
	}
	slices.SortFunc(peers, func(a, b PeerInfo) int { return a.ID.Compare(b.ID) })
	return peers, nil
}

// StaticDiscovery returns a fixed set of bootstrap addresses for every
// topic. Peer identities are learned when the connection is made.
type StaticDiscovery []string

func (StaticDiscovery) Announce(context.Context, identity.DiscoveryKey, PeerInfo) error { return nil }

func (StaticDiscovery) Unannounce(context.Context, identity.DiscoveryKey, PeerID) error { return nil }

func (d StaticDiscovery) Lookup(context.Context, identity.DiscoveryKey) ([]PeerInfo, error) {
	peers := make([]PeerInfo, 0, len(d))
	for _, address := range d {
		peers = append(peers, PeerInfo{Addresses: []string{address}})
	}
	return peers, nil
}

// Combine merges several backends: announcements go to all of them and
// lookups return the union. A failing backend does not hide results
// from the others; its error is returned alongside them.
func Combine(backends ...Discovery) Discovery {
	return multiDiscovery(backends)
}

type multiDiscovery []Discovery

func (m multiDiscovery) Announce(ctx context.Context, topic identity.DiscoveryKey, self PeerInfo) error {
	var errs []error
	for _, backend := range m {
		errs = append(errs, backend.Announce(ctx, topic, self))
	}
	return errors.Join(errs...)
}

func (m multiDiscovery) Unannounce(ctx context.Context, topic identity.DiscoveryKey, id PeerID) error {
	var errs []error
	for _, backend := range m {
		errs = append(errs, backend.Unannounce(ctx, topic, id))
	}
	return errors.Join(errs...)
}

func (m multiDiscovery) Lookup(ctx context.Context, topic identity.DiscoveryKey) ([]PeerInfo, error) {
	var peers []PeerInfo
	var errs []error
	for _, backend := range m {
		found, err := backend.Lookup(ctx, topic)
		errs = append(errs, err)
		peers = append(peers, found...)
	}
	return peers, errors.Join(errs...)
}
