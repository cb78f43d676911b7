// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Change reports that the entries view changed.
type Change struct {
	// Version is the store version after the change.
	Version uint64

	// Keys lists the keys whose visible state changed, sorted. When
	// changes coalesce this is the union.
	Keys []string
}

// notifier fans changes out to watchers. Changes made while deferred
// accumulate and are delivered as one when the last deferral is
// released.
type notifier struct {
	mu          sync.Mutex
	deferrals   int
	pending     map[string]struct{}
	version     uint64
	watchers    map[*watcher]struct{}
	closed      bool
	appendFeeds map[chan struct{}]struct{}
}

type watcher struct {
	prefix  string
	channel chan Change
}

func newNotifier() *notifier {
	return &notifier{
		pending:     make(map[string]struct{}),
		watchers:    make(map[*watcher]struct{}),
		appendFeeds: make(map[chan struct{}]struct{}),
	}
}

// watch registers a watcher that lives until ctx ends or the notifier
// closes, after which the channel is closed.
func (n *notifier) watch(ctx context.Context, prefix string) <-chan Change {
	entry := &watcher{prefix: prefix, channel: make(chan Change, 1)}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(entry.channel)
		return entry.channel
	}
	n.watchers[entry] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.watchers[entry]; ok {
			delete(n.watchers, entry)
			close(entry.channel)
		}
	}()
	return entry.channel
}

// changed records that keys changed at version and delivers unless
// deferred.
func (n *notifier) changed(version uint64, keys ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, key := range keys {
		n.pending[key] = struct{}{}
	}
	n.version = version
	if n.deferrals == 0 {
		n.flushLocked()
	}
}

// appended wakes replication senders. Called for every applied
// record, whether or not it changed the view.
func (n *notifier) appended() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for feed := range n.appendFeeds {
		select {
		case feed <- struct{}{}:
		default:
		}
	}
}

func (n *notifier) subscribeAppends() (<-chan struct{}, func()) {
	feed := make(chan struct{}, 1)
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(feed)
		return feed, func() {}
	}
	n.appendFeeds[feed] = struct{}{}
	n.mu.Unlock()
	return feed, func() {
		n.mu.Lock()
		delete(n.appendFeeds, feed)
		n.mu.Unlock()
	}
}

func (n *notifier) hold() func() {
	n.mu.Lock()
	n.deferrals++
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.deferrals--
			if n.deferrals == 0 {
				n.flushLocked()
			}
		})
	}
}

func (n *notifier) flushLocked() {
	if len(n.pending) == 0 || n.closed {
		return
	}
	keys := make([]string, 0, len(n.pending))
	for key := range n.pending {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	clear(n.pending)

	for entry := range n.watchers {
		var matched []string
		for _, key := range keys {
			if strings.HasPrefix(key, entry.prefix) {
				matched = append(matched, key)
			}
		}
		if len(matched) == 0 {
			continue
		}
		change := Change{Version: n.version, Keys: matched}
		select {
		case entry.channel <- change:
		default:
			// Coalesce with the undelivered change. Only this
			// goroutine sends, and it holds n.mu, so the buffer is
			// free after the drain.
			select {
			case previous := <-entry.channel:
				change.Keys = mergeSorted(previous.Keys, change.Keys)
			default:
			}
			entry.channel <- change
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for entry := range n.watchers {
		close(entry.channel)
	}
	clear(n.watchers)
	for feed := range n.appendFeeds {
		close(feed)
	}
	clear(n.appendFeeds)
}

func mergeSorted(first, second []string) []string {
	merged := append(slices.Clone(first), second...)
	slices.Sort(merged)
	return slices.Compact(merged)
}
