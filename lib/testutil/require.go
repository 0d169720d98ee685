// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "time"

// failer is the subset of testing.TB the helpers need. Keeping it
// structural avoids importing testing here.
type failer interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch within timeout, or fails the
// test. Use it instead of a bare channel receive wherever the sender
// is a goroutine that may have died.
//
//	payload := testutil.RequireReceive(t, activations, 30*time.Second, "component activation")
func RequireReceive[T any](t failer, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for %s", what)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for %s", timeout, what)
	}
	panic("unreachable")
}

// RequireClosed waits for ch to be closed (or to deliver a value)
// within timeout, or fails the test.
func RequireClosed(t failer, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for %s", timeout, what)
	}
}
