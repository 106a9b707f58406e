package tracker

import (
	"context"
	"time"

	"tt-go/internal/model"
)

// SessionQuery narrows ListSessions. Zero-value fields are ignored.
// Results are always ordered by start time descending and capped, so
// callers must accept partial pulls rather than full history in one pass.
type SessionQuery struct {
	ActivityID string
	Status     model.SessionState
	From       time.Time
	To         time.Time
	Limit      int // defaults to DefaultSessionLimit, capped at MaxSessionLimit
}

const (
	DefaultSessionLimit = 100
	MaxSessionLimit     = 500
)

// EffectiveLimit resolves the query limit against the default and cap.
func (q SessionQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultSessionLimit
	}
	if q.Limit > MaxSessionLimit {
		return MaxSessionLimit
	}
	return q.Limit
}

// RemoteStore provides an interface for the multi-tenant remote backend.
// Every operation is scoped to the owning user: implementations must
// guarantee one user can never read or mutate another user's rows.
// Find-style methods return (nil, nil) when no record matches.
type RemoteStore interface {
	// Activity operations

	// ListActivities returns the user's non-archived activities ordered by
	// sort order, capped at DefaultSessionLimit rows.
	ListActivities(ctx context.Context, userID string) ([]*model.RemoteActivity, error)

	// CreateActivity inserts a new activity row owned by the user.
	CreateActivity(ctx context.Context, userID string, activity *model.RemoteActivity) (*model.RemoteActivity, error)

	// UpdateActivity updates display attributes of an activity row.
	UpdateActivity(ctx context.Context, userID string, activity *model.RemoteActivity) error

	// ArchiveActivity soft-deletes an activity row (sets the archived flag).
	ArchiveActivity(ctx context.Context, userID, activityID string) error

	// Session operations

	// ListSessions returns the user's sessions matching the query.
	ListSessions(ctx context.Context, userID string, query SessionQuery) ([]*model.RemoteSession, error)

	// FindSessionByClientID returns the session carrying the given
	// correlation key, or (nil, nil).
	FindSessionByClientID(ctx context.Context, userID, clientID string) (*model.RemoteSession, error)

	// PushSession upserts a session row keyed by its client id. The write
	// is idempotent: if a row with the same (user, client id) already
	// exists, including via a unique-constraint conflict from a racing
	// retry, its end state is refreshed and no duplicate is created.
	PushSession(ctx context.Context, userID string, session *model.RemoteSession) (*model.RemoteSession, error)

	// UpdateSession updates a session row.
	UpdateSession(ctx context.Context, userID string, session *model.RemoteSession) error

	// DeleteSession removes a session row.
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// Global timer operations

	// GetGlobalTimer returns the user's global timer record, or (nil, nil)
	// when no timer has ever been started or the record was cleared.
	GetGlobalTimer(ctx context.Context, userID string) (*model.GlobalTimerState, error)

	// UpsertGlobalTimer writes the user's global timer record. The write is
	// an unconditional overwrite: there is no version token, so whichever
	// writer lands last wins.
	UpsertGlobalTimer(ctx context.Context, state *model.GlobalTimerState) error

	// ClearGlobalTimer deletes the user's global timer record entirely so
	// any device can subsequently start fresh.
	ClearGlobalTimer(ctx context.Context, userID string) error

	// TransferGlobalTimer reassigns ownership of the running timer to the
	// given device, preserving session id, activity id and start time.
	// Returns the updated record, or (nil, nil) when no record exists.
	TransferGlobalTimer(ctx context.Context, userID, deviceID, deviceName string) (*model.GlobalTimerState, error)

	// Device operations

	// RegisterDevice upserts the device row for (user, device id) and
	// refreshes its last-seen timestamp.
	RegisterDevice(ctx context.Context, device *model.Device) (*model.Device, error)

	// TouchDevice updates the device's last-seen timestamp.
	TouchDevice(ctx context.Context, userID, deviceID string, seenAt time.Time) error

	// ListDevices returns all devices ever seen for the user, most recently
	// seen first.
	ListDevices(ctx context.Context, userID string) ([]*model.Device, error)

	// Ping verifies the remote store is reachable. Used as the online
	// round-trip required before taking the timer lock.
	Ping(ctx context.Context) error
}
