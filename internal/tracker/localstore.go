package tracker

import (
	"context"

	"tt-go/internal/model"
)

// LocalStore provides an interface for the per-user embedded store holding
// activities, sessions and the singleton timer state. Find-style methods
// return (nil, nil) when no record matches.
type LocalStore interface {
	// Activity operations

	// ListActivities returns all activities.
	ListActivities(ctx context.Context) ([]*model.Activity, error)

	// GetActivity returns an activity by id.
	GetActivity(ctx context.Context, id string) (*model.Activity, error)

	// FindActivityByName returns an activity by case-insensitive name match.
	FindActivityByName(ctx context.Context, name string) (*model.Activity, error)

	// CreateActivity inserts a new activity. ID and timestamps must be set
	// by the caller.
	CreateActivity(ctx context.Context, activity *model.Activity) error

	// UpdateActivity updates the mutable display attributes of an activity.
	UpdateActivity(ctx context.Context, activity *model.Activity) error

	// DeleteActivity removes an activity permanently. The remote store
	// archives instead; this asymmetry is intentional.
	DeleteActivity(ctx context.Context, id string) error

	// SeedDefaultActivities installs the default activity set into an empty
	// store. No-op if any activity already exists.
	SeedDefaultActivities(ctx context.Context) (int, error)

	// Session operations

	// ListSessions returns all sessions, newest start time first.
	ListSessions(ctx context.Context) ([]*model.Session, error)

	// GetSession returns a session by id.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// ListPendingSessions returns sessions with sync status pending, oldest
	// start time first so retries happen in order.
	ListPendingSessions(ctx context.Context) ([]*model.Session, error)

	// ListSessionsByDate returns sessions whose start time falls on the
	// given local date (YYYY-MM-DD).
	ListSessionsByDate(ctx context.Context, date string) ([]*model.Session, error)

	// CreateSession inserts a new session.
	CreateSession(ctx context.Context, session *model.Session) error

	// StopSession records end time and duration for a session and flips its
	// sync status back to pending so the stop is re-pushed.
	StopSession(ctx context.Context, id string, session *model.Session) error

	// MarkSessionSynced flips a session's sync status to synced.
	MarkSessionSynced(ctx context.Context, id string) error

	// Timer state (singleton)

	// GetTimerState returns the device-local timer state. A zero-value
	// state is returned when none has been written yet.
	GetTimerState(ctx context.Context) (*model.TimerState, error)

	// SetTimerState overwrites the device-local timer state.
	SetTimerState(ctx context.Context, state *model.TimerState) error

	// Aggregations

	// DailySummary aggregates completed sessions for the given date.
	DailySummary(ctx context.Context, date string) (*model.DailySummary, error)

	// Close closes the store.
	Close() error
}
