package session

import "time"

// Role 标识房间成员的设备角色。
type Role string

const (
	RoleSensor Role = "sensor"
	RoleViewer Role = "viewer"
)

// JobState tracks the reconstruction lifecycle for a session. Submitting and
// Polling are the in-flight states; Succeeded and Failed are terminal for a
// single job instance but allow a fresh request to start a new one.
type JobState string

const (
	JobIdle       JobState = "idle"
	JobSubmitting JobState = "submitting"
	JobPolling    JobState = "polling"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
)

// InFlight reports whether a job instance is currently running.
func (s JobState) InFlight() bool {
	return s == JobSubmitting || s == JobPolling
}

// Summary is a read-only view of one session, used by the janitor and for
// diagnostics. Mutable state lives inside the registry.
type Summary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	FrameCount     int       `json:"frameCount"`
	MemberCount    int       `json:"memberCount"`
	JobState       JobState  `json:"jobState"`
}
