// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"io"
	"testing"
)

// Stopper is anything with a Stop method, typically a server.
type Stopper interface {
	Stop() error
}

// MustStop stops s and logs, rather than fails on, a shutdown error.
func MustStop(t testing.TB, s Stopper) {
	t.Helper()
	if err := s.Stop(); err != nil {
		t.Logf("warning: stop returned error: %v", err)
	}
}

// MustClose closes c and fails the test on error.
func MustClose(t testing.TB, c io.Closer) {
	t.Helper()
	if err := c.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
}
