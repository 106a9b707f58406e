package model

import "time"

// SyncStatus tracks whether a local record has been pushed to the remote store.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// SessionState is the remote-side lifecycle state of a session.
type SessionState string

const (
	SessionRunning SessionState = "running"
	SessionStopped SessionState = "stopped"
)

// Activity is a user-defined category of time usage as stored locally.
type Activity struct {
	ID        string // UUID
	Name      string
	Color     string // Hex color, e.g. "#3B82F6"
	Icon      string // Icon identifier, e.g. "Briefcase"
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RemoteActivity is an activity row in the remote store. Remote rows carry
// display ordering and a soft-delete flag the local store does not have:
// local deletes are hard, remote deletes archive the row.
type RemoteActivity struct {
	ID         string
	UserID     string
	Name       string
	Color      string
	Icon       string
	Category   string
	SortOrder  int64
	IsArchived bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Session is one timed interval spent on an activity, as stored locally.
// EndTime == nil means the session is still running. Duration is derived
// exactly once at stop time: floor(end-start) in whole seconds, so
// Duration != nil iff EndTime != nil.
type Session struct {
	ID         string // UUID; doubles as the correlation key when pushed remotely
	ActivityID string
	StartTime  time.Time
	EndTime    *time.Time
	Duration   *int64 // seconds
	SyncStatus SyncStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Running reports whether the session has not been stopped yet.
func (s *Session) Running() bool { return s.EndTime == nil }

// RemoteSession is a session row in the remote store. ClientID is the
// client-generated correlation key; (UserID, ClientID) is unique remotely
// so pushes can be retried safely.
type RemoteSession struct {
	ID         string
	UserID     string
	ClientID   string
	ActivityID string
	StartTime  time.Time
	EndTime    *time.Time
	Duration   *int64 // seconds
	Status     SessionState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TimerState is the per-device singleton mirroring the locally-known timer.
// It may be stale relative to GlobalTimerState if another device moved the
// timer since this device last looked.
type TimerState struct {
	IsRunning         bool
	CurrentSessionID  string
	CurrentActivityID string
	StartTime         *time.Time
}

// GlobalTimerState is the remote singleton per user: the authoritative
// cross-device lock. The device whose id is recorded here owns the timer,
// but only while IsRunning is true.
type GlobalTimerState struct {
	UserID            string
	DeviceID          string
	DeviceName        string
	IsRunning         bool
	CurrentSessionID  string
	CurrentActivityID string
	StartTime         *time.Time
	LastActivity      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Device is one remote row per device ever seen for a user. LastSeen is
// advisory only (heartbeat), not part of the locking protocol.
type Device struct {
	ID         string // remote row id
	UserID     string
	DeviceID   string // fingerprint-derived identifier
	DeviceName string
	UserAgent  string
	LastSeen   time.Time
}

// ActivityTotal aggregates completed time for one activity within a day.
type ActivityTotal struct {
	ActivityID   string
	TotalSeconds int64
	SessionCount int64
}

// DailySummary is the per-day rollup of completed sessions.
type DailySummary struct {
	Date         string // YYYY-MM-DD
	TotalSeconds int64
	Activities   []ActivityTotal
}

// DefaultActivity describes one entry of the seed set installed into a
// fresh local store.
type DefaultActivity struct {
	Name  string
	Color string
	Icon  string
}

// DefaultActivities is the seed set for new users.
var DefaultActivities = []DefaultActivity{
	{Name: "Work", Color: "#3B82F6", Icon: "Briefcase"},
	{Name: "Coding", Color: "#8B5CF6", Icon: "Code"},
	{Name: "Reading", Color: "#10B981", Icon: "BookOpen"},
	{Name: "Exercise", Color: "#F59E0B", Icon: "Dumbbell"},
	{Name: "Scrolling", Color: "#EF4444", Icon: "Smartphone"},
	{Name: "Rest", Color: "#6B7280", Icon: "Coffee"},
}
