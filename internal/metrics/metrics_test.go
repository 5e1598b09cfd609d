// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSpawn(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveSpawn("toolbox", ResultOK, 20*time.Millisecond)
	m.ObserveSpawn("toolbox", ResultOK, 30*time.Millisecond)
	m.ObserveSpawn("toolbox", ResultMerge, 0)

	if got := testutil.ToFloat64(m.Spawns.WithLabelValues("toolbox", ResultOK)); got != 2 {
		t.Errorf("ok spawns = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Spawns.WithLabelValues("toolbox", ResultMerge)); got != 1 {
		t.Errorf("merge failures = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.SpawnDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestObserveProviderUpdate(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveProviderUpdate("podman", 4, nil)
	m.ObserveProviderUpdate("podman", 0, errors.New("locked"))

	if got := testutil.ToFloat64(m.Containers.WithLabelValues("podman")); got != 4 {
		t.Errorf("containers gauge = %v, want 4 (failures keep the last count)", got)
	}
	if got := testutil.ToFloat64(m.ProviderUpdates.WithLabelValues("podman", "error")); got != 1 {
		t.Errorf("error updates = %v, want 1", got)
	}
}

func TestSessions(t *testing.T) {
	t.Parallel()

	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.AuthFailed()

	if got := testutil.ToFloat64(m.SSHSessionsActive); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SSHSessionsTotal); got != 2 {
		t.Errorf("total sessions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SSHAuthFailures); got != 1 {
		t.Errorf("auth failures = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveSpawn("session", ResultOK, time.Second)
	m.ObserveExit("session", "exited")
	m.ObserveProviderUpdate("docker", 1, nil)
	m.SessionOpened()
	m.SessionClosed()
	m.AuthFailed()
}

func TestHandler(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveExit("session", "signaled")

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `termlaunch_exits_total{how="signaled",target="session"} 1`) {
		t.Errorf("metrics output missing exit counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing Go runtime collector")
	}
}
