// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Production code receives Real(). Tests receive Fake(start), whose
// time only moves when the test calls Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go swarm.lookupLoop(ctx)      // registers a ticker
//	fake.WaitForTimers(1)         // wait for the registration
//	fake.Advance(30 * time.Second) // fire it
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past its deadline.
package clock
