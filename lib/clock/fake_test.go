// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fake := Fake(epoch)
	channel := fake.After(10 * time.Second)

	fake.Advance(9 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-channel:
		if !fired.Equal(epoch.Add(10 * time.Second)) {
			t.Errorf("fired at %v, want %v", fired, epoch.Add(10*time.Second))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if fake.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after one-shot fired", fake.PendingCount())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fake := Fake(epoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) should be ready immediately")
	}
}

func TestFakeTickerRearmsAndStops(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(5 * time.Second)

	for round := 0; round < 3; round++ {
		fake.Advance(5 * time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("round %d: no tick", round)
		}
	}

	ticker.Stop()
	fake.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker ticked")
	default:
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	fake := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-fake.After(time.Minute)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine did not observe the timer")
	}
}

func TestRealClockNow(t *testing.T) {
	before := time.Now()
	now := Real().Now()
	if now.Before(before) {
		t.Errorf("Real().Now() = %v, earlier than %v", now, before)
	}
}
