package storage

import (
	"context"
	"log"
	"time"

	"github.com/shadowsculpt/backend/internal/service/session"
)

// Janitor reclaims session directories that have been idle past the retention
// threshold. Sessions with an in-flight reconstruction job are never
// reclaimed, regardless of age.
type Janitor struct {
	layout    *Layout
	registry  *session.Registry
	retention time.Duration
	now       func() time.Time
}

// NewJanitor 创建存储回收器。retention 为目录保留时长。
func NewJanitor(layout *Layout, registry *session.Registry, retention time.Duration) *Janitor {
	return &Janitor{
		layout:    layout,
		registry:  registry,
		retention: retention,
		now:       time.Now,
	}
}

// Sweep walks every session directory once and deletes the stale ones.
// Failures are isolated per session: one bad directory never aborts the rest
// of the sweep. Returns the number of sessions reclaimed.
func (j *Janitor) Sweep() int {
	dirs, err := j.layout.Sessions()
	if err != nil {
		log.Printf("[janitor] sweep aborted: %v", err)
		return 0
	}

	cutoff := j.now().Add(-j.retention)
	reclaimed := 0
	for _, dir := range dirs {
		if dir.ModTime.After(cutoff) {
			continue
		}
		if j.registry.JobInFlight(dir.SessionID) {
			log.Printf("[janitor] skipping session %s: reconstruction in flight", dir.SessionID)
			continue
		}
		if err := j.layout.Remove(dir.SessionID); err != nil {
			log.Printf("[janitor] failed to remove session %s: %v", dir.SessionID, err)
			continue
		}
		j.registry.Remove(dir.SessionID)
		log.Printf("[janitor] reclaimed stale session %s", dir.SessionID)
		reclaimed++
	}
	return reclaimed
}

// Run sweeps on a fixed interval until the context is cancelled. Optional:
// the coordinator also triggers Sweep opportunistically on every join.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}
