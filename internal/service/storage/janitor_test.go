package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	model "github.com/shadowsculpt/backend/internal/model/session"
	"github.com/shadowsculpt/backend/internal/service/session"
)

func newTestJanitor(t *testing.T, retention time.Duration) (*Janitor, *Layout, *session.Registry) {
	t.Helper()
	layout := newTestLayout(t)
	registry := session.NewRegistry()
	return NewJanitor(layout, registry, retention), layout, registry
}

func ageSession(t *testing.T, layout *Layout, sessionID string, age time.Duration) {
	t.Helper()
	dir := filepath.Join(layout.Root(), sessionID)
	old := time.Now().Add(-age)
	if err := os.Chtimes(dir, old, old); err != nil {
		t.Fatalf("failed to age session dir: %v", err)
	}
}

func TestSweepReclaimsStaleSessions(t *testing.T) {
	j, layout, registry := newTestJanitor(t, time.Hour)

	registry.Join("stale", model.RoleSensor, "conn-1")
	if err := layout.SaveFrame("stale", "0001700000000-000001", []byte("x")); err != nil {
		t.Fatalf("save frame: %v", err)
	}
	ageSession(t, layout, "stale", 2*time.Hour)

	if got := j.Sweep(); got != 1 {
		t.Fatalf("expected 1 reclaimed session, got %d", got)
	}
	if _, err := os.Stat(filepath.Join(layout.Root(), "stale")); !os.IsNotExist(err) {
		t.Fatalf("expected directory removed, got %v", err)
	}
	if registry.Known("stale") {
		t.Fatalf("expected registry record removed")
	}
}

func TestSweepKeepsFreshSessions(t *testing.T) {
	j, layout, registry := newTestJanitor(t, time.Hour)

	registry.Join("fresh", model.RoleSensor, "conn-1")
	if err := layout.SaveFrame("fresh", "0001700000000-000001", []byte("x")); err != nil {
		t.Fatalf("save frame: %v", err)
	}

	if got := j.Sweep(); got != 0 {
		t.Fatalf("expected nothing reclaimed, got %d", got)
	}
	if !registry.Known("fresh") {
		t.Fatalf("fresh session must survive the sweep")
	}
}

func TestSweepProtectsInFlightJobs(t *testing.T) {
	j, layout, registry := newTestJanitor(t, time.Hour)

	registry.Join("busy", model.RoleSensor, "conn-1")
	if err := layout.SaveFrame("busy", "0001700000000-000001", []byte("x")); err != nil {
		t.Fatalf("save frame: %v", err)
	}
	if err := registry.TryBeginJob("busy"); err != nil {
		t.Fatalf("begin job: %v", err)
	}
	ageSession(t, layout, "busy", 48*time.Hour)

	if got := j.Sweep(); got != 0 {
		t.Fatalf("in-flight session must never be reclaimed, got %d", got)
	}
	if _, err := os.Stat(filepath.Join(layout.Root(), "busy")); err != nil {
		t.Fatalf("expected directory to survive, got %v", err)
	}

	// Once the job reaches a terminal state the session is fair game again.
	registry.SetJobState("busy", model.JobSucceeded)
	if got := j.Sweep(); got != 1 {
		t.Fatalf("expected reclamation after terminal state, got %d", got)
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	j, layout, registry := newTestJanitor(t, time.Hour)

	for _, id := range []string{"one", "two"} {
		registry.Join(id, model.RoleSensor, "conn-1")
		if err := layout.SaveFrame(id, "0001700000000-000001", []byte("x")); err != nil {
			t.Fatalf("save frame: %v", err)
		}
		ageSession(t, layout, id, 2*time.Hour)
	}

	// Both stale, both reclaimable: a failure on one must not stop the other.
	// Simulate by protecting "one" mid-sweep via an in-flight job.
	if err := registry.TryBeginJob("one"); err != nil {
		t.Fatalf("begin job: %v", err)
	}

	if got := j.Sweep(); got != 1 {
		t.Fatalf("expected the unprotected session reclaimed, got %d", got)
	}
	if !registry.Known("one") {
		t.Fatalf("protected session must keep its record")
	}
	if registry.Known("two") {
		t.Fatalf("stale session should have been reclaimed")
	}
}
