package session

import (
	"errors"
	"sync"
	"time"

	model "github.com/shadowsculpt/backend/internal/model/session"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrJobInFlight    = errors.New("reconstruction job already in flight")
)

// Registry is the single shared mutable structure of the pipeline: it owns
// every active session record. The outer map is guarded by an RWMutex; each
// record carries its own mutex so mutations for the same session serialize
// while sessions never contend with each other.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*record
}

type record struct {
	mu             sync.Mutex
	id             string
	createdAt      time.Time
	lastActivityAt time.Time
	members        map[string]model.Role
	frameCount     int
	jobState       model.JobState
}

// NewRegistry 创建一个空的会话注册表。
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*record)}
}

// get returns the record for a session, or nil when absent.
func (r *Registry) get(sessionID string) *record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// getOrCreate returns the record for a session, creating it when absent.
func (r *Registry) getOrCreate(sessionID string) *record {
	if rec := r.get(sessionID); rec != nil {
		return rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.sessions[sessionID]; ok {
		return rec
	}
	now := time.Now().UTC()
	rec := &record{
		id:             sessionID,
		createdAt:      now,
		lastActivityAt: now,
		members:        make(map[string]model.Role),
		jobState:       model.JobIdle,
	}
	r.sessions[sessionID] = rec
	return rec
}

// Join registers a connection as a member of the session, creating the
// session record if absent. Idempotent for repeated joins by the same
// connection.
func (r *Registry) Join(sessionID string, role model.Role, connID string) {
	rec := r.getOrCreate(sessionID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.members[connID] = role
	rec.lastActivityAt = time.Now().UTC()
}

// Leave removes one connection's membership. Session data is untouched:
// other members or a later reconnect may still need it.
func (r *Registry) Leave(sessionID, connID string) {
	rec := r.get(sessionID)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	delete(rec.members, connID)
}

// Touch refreshes the session's last-activity timestamp.
func (r *Registry) Touch(sessionID string) {
	rec := r.get(sessionID)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.lastActivityAt = time.Now().UTC()
}

// RecordFrame increments the session's frame count after a successful frame
// persistence. Fails with ErrUnknownSession when the session was reclaimed
// concurrently, so the caller can roll the write back.
func (r *Registry) RecordFrame(sessionID string) (int, error) {
	rec := r.get(sessionID)
	if rec == nil {
		return 0, ErrUnknownSession
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.frameCount++
	rec.lastActivityAt = time.Now().UTC()
	return rec.frameCount, nil
}

// TryBeginJob transitions the session into Submitting if and only if no job
// instance is currently in flight. This is the one-in-flight-job invariant:
// concurrent process requests race here and exactly one wins.
func (r *Registry) TryBeginJob(sessionID string) error {
	rec := r.getOrCreate(sessionID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.jobState.InFlight() {
		return ErrJobInFlight
	}
	rec.jobState = model.JobSubmitting
	rec.lastActivityAt = time.Now().UTC()
	return nil
}

// SetJobState records a job-state transition.
func (r *Registry) SetJobState(sessionID string, state model.JobState) {
	rec := r.get(sessionID)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.jobState = state
}

// JobInFlight reports whether the session currently has a running job.
func (r *Registry) JobInFlight(sessionID string) bool {
	rec := r.get(sessionID)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.jobState.InFlight()
}

// Known reports whether a session record exists.
func (r *Registry) Known(sessionID string) bool {
	return r.get(sessionID) != nil
}

// Remove drops the session record. Called by the janitor after the session
// directory has been reclaimed.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Snapshot returns a read-only listing of every session. The registry lock is
// held only long enough to collect the records; per-record fields are read
// under each record's own lock.
func (r *Registry) Snapshot() []model.Summary {
	r.mu.RLock()
	records := make([]*record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	summaries := make([]model.Summary, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		summaries = append(summaries, model.Summary{
			ID:             rec.id,
			CreatedAt:      rec.createdAt,
			LastActivityAt: rec.lastActivityAt,
			FrameCount:     rec.frameCount,
			MemberCount:    len(rec.members),
			JobState:       rec.jobState,
		})
		rec.mu.Unlock()
	}
	return summaries
}
