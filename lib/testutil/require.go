// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// Fataler is the subset of testing.TB the Require helpers need.
type Fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from channel, failing the test
// if none arrives within timeout or the channel is closed.
//
//	event := testutil.RequireReceive(t, events, 5*time.Second, "waiting for RESET")
func RequireReceive[T any](t Fataler, channel <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	select {
	case value, ok := <-channel:
		if !ok {
			t.Fatalf("channel closed: %s", describe(msgAndArgs))
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("nothing received after %v: %s", timeout, describe(msgAndArgs))
	}
	panic("unreachable")
}

// RequireClosed waits for channel to close or deliver a value.
func RequireClosed(t Fataler, channel <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case <-channel:
	case <-time.After(timeout):
		t.Fatalf("channel still open after %v: %s", timeout, describe(msgAndArgs))
	}
}

// RequireNoReceive fails the test if channel yields a value within
// window. Use sparingly: it always costs window of wall time.
func RequireNoReceive[T any](t Fataler, channel <-chan T, window time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case value := <-channel:
		t.Fatalf("unexpected value %v: %s", value, describe(msgAndArgs))
	case <-time.After(window):
	}
}

func describe(msgAndArgs []any) string {
	switch {
	case len(msgAndArgs) == 0:
		return "(no message)"
	case len(msgAndArgs) == 1:
		return fmt.Sprint(msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
