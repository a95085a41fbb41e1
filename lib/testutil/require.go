// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "time"

// Timeout bounds every wait in this package.
const Timeout = 5 * time.Second

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Receive returns the next value from ch, failing the test if ch is
// closed or nothing arrives within Timeout. what describes the wait in
// the failure message.
//
//	err := testutil.Receive(t, done, "Run to return")
func Receive[T any](t TB, ch <-chan T, what string) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for %s", what)
		}
		return value
	case <-time.After(Timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v waiting for %s", Timeout, what)
	}
	panic("unreachable")
}

// Closed waits for ch to be closed, failing the test after Timeout.
func Closed(t TB, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(Timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v waiting for %s", Timeout, what)
	}
}
