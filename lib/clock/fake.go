// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time advances only through Advance. Safe
// for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

type pendingTimer struct {
	deadline time.Time
	channel  chan time.Time
	// period is non-zero for tickers, which re-arm after firing.
	period  time.Duration
	stopped bool
}

// Fake returns a FakeClock set to start.
func Fake(start time.Time) *FakeClock {
	fake := &FakeClock{now: start}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot timer.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.pending = append(c.pending, &pendingTimer{deadline: c.now.Add(d), channel: channel})
	c.changed.Broadcast()
	return channel
}

// NewTicker registers a periodic timer.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	timer := &pendingTimer{deadline: c.now.Add(d), channel: channel, period: d}
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			timer.stopped = true
		},
	}
}

// Advance moves the clock forward by d and fires every timer whose
// deadline has been reached, earliest first. A ticker spanning several
// periods fires once per period; ticks that find the channel full are
// dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now

	for {
		var due []*pendingTimer
		var keep []*pendingTimer
		for _, timer := range c.pending {
			switch {
			case timer.stopped:
			case !timer.deadline.After(target):
				due = append(due, timer)
			default:
				keep = append(keep, timer)
			}
		}
		if len(due) == 0 {
			c.pending = keep
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
		for _, timer := range due {
			select {
			case timer.channel <- target:
			default:
			}
			if timer.period > 0 {
				timer.deadline = timer.deadline.Add(timer.period)
				keep = append(keep, timer)
			}
		}
		c.pending = keep
	}
}

// WaitForTimers blocks until at least n timers or tickers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed timers and tickers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) activeLocked() int {
	count := 0
	for _, timer := range c.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
