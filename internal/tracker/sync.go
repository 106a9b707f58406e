package tracker

import (
	"context"
	"fmt"
	"strings"

	"tt-go/internal/model"
)

// SyncEngine reconciles the local and remote stores for activities and
// sessions. Sessions are matched by their client-generated correlation
// key, so pushes are safe to retry; activities are matched by
// case-insensitive name, a weaker guarantee, since their local and remote
// id spaces are unrelated.
//
// The engine never returns an error from a sync pass: per-item failures
// are accumulated in the result and the items stay pending, to be retried
// on the next trigger. At-least-once delivery with idempotent writes.
type SyncEngine struct {
	local  LocalStore
	remote RemoteStore
	logger Logger
	clock  Clock
	idgen  IDGenerator
}

// NewSyncEngine creates a SyncEngine with the provided dependencies.
func NewSyncEngine(local LocalStore, remote RemoteStore, logger Logger, clock Clock, idgen IDGenerator) *SyncEngine {
	return &SyncEngine{
		local:  local,
		remote: remote,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}
}

// ActivitySyncResult counts one pass of activity reconciliation.
type ActivitySyncResult struct {
	Pushed int
	Pulled int
	Errors []string
}

// SessionSyncResult counts one pass of session reconciliation.
type SessionSyncResult struct {
	Pushed int
	Pulled int
	Failed int
	Errors []string
}

// FullSyncResult aggregates all four phases of a sync pass.
type FullSyncResult struct {
	Activities ActivitySyncResult
	Sessions   SessionSyncResult
	Success    bool
}

// PerformFullSync runs the four reconciliation phases in order: push
// activities, pull activities, push sessions, pull sessions. Each phase
// is independently fault-tolerant; a failure in one does not abort the
// rest.
func (e *SyncEngine) PerformFullSync(ctx context.Context, userID string) *FullSyncResult {
	result := &FullSyncResult{}

	e.pushActivities(ctx, userID, &result.Activities)
	e.pullActivities(ctx, userID, &result.Activities)
	e.pushSessions(ctx, userID, &result.Sessions)
	e.pullSessions(ctx, userID, &result.Sessions)

	result.Success = len(result.Activities.Errors) == 0 && len(result.Sessions.Errors) == 0

	e.logger.Info("sync pass complete",
		"activities_pushed", result.Activities.Pushed,
		"activities_pulled", result.Activities.Pulled,
		"sessions_pushed", result.Sessions.Pushed,
		"sessions_pulled", result.Sessions.Pulled,
		"sessions_failed", result.Sessions.Failed,
		"success", result.Success)

	return result
}

// pushActivities creates remotely every local activity whose name is not
// present (case-insensitively) among non-archived remote activities.
func (e *SyncEngine) pushActivities(ctx context.Context, userID string, result *ActivitySyncResult) {
	local, err := e.local.ListActivities(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("activity push: %v", err))
		return
	}
	remote, err := e.remote.ListActivities(ctx, userID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("activity push: %v", err))
		return
	}

	remoteNames := make(map[string]bool, len(remote))
	for _, a := range remote {
		remoteNames[strings.ToLower(a.Name)] = true
	}

	for _, a := range local {
		if remoteNames[strings.ToLower(a.Name)] {
			continue
		}
		_, err := e.remote.CreateActivity(ctx, userID, &model.RemoteActivity{
			Name:     a.Name,
			Color:    a.Color,
			Icon:     a.Icon,
			Category: "general",
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("activity %s: %v", a.Name, err))
			continue
		}
		result.Pushed++
		e.logger.Debug("activity pushed", "name", a.Name)
	}
}

// pullActivities creates locally every remote non-archived activity whose
// name is not present locally.
func (e *SyncEngine) pullActivities(ctx context.Context, userID string, result *ActivitySyncResult) {
	remote, err := e.remote.ListActivities(ctx, userID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("activity pull: %v", err))
		return
	}
	local, err := e.local.ListActivities(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("activity pull: %v", err))
		return
	}

	localNames := make(map[string]bool, len(local))
	for _, a := range local {
		localNames[strings.ToLower(a.Name)] = true
	}

	for _, r := range remote {
		if localNames[strings.ToLower(r.Name)] {
			continue
		}
		now := e.clock.Now()
		err := e.local.CreateActivity(ctx, &model.Activity{
			ID:        e.idgen.New(),
			Name:      r.Name,
			Color:     r.Color,
			Icon:      r.Icon,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("activity %s: %v", r.Name, err))
			continue
		}
		result.Pulled++
		e.logger.Debug("activity pulled", "name", r.Name)
	}
}

// pushSessions upserts every pending local session remotely, keyed by its
// client id. Successes are marked synced; failures stay pending and are
// retried on the next pass. There is no backoff schedule, the next sync
// trigger is the retry.
func (e *SyncEngine) pushSessions(ctx context.Context, userID string, result *SessionSyncResult) {
	pending, err := e.local.ListPendingSessions(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("session push: %v", err))
		return
	}
	if len(pending) > 0 {
		e.logger.Debug("pending sessions found", "count", len(pending))
	}

	for _, s := range pending {
		status := model.SessionStopped
		if s.Running() {
			status = model.SessionRunning
		}
		_, err := e.remote.PushSession(ctx, userID, &model.RemoteSession{
			ClientID:   s.ID,
			ActivityID: s.ActivityID,
			StartTime:  s.StartTime,
			EndTime:    s.EndTime,
			Duration:   s.Duration,
			Status:     status,
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("session %s: %v", s.ID, err))
			continue
		}
		if err := e.local.MarkSessionSynced(ctx, s.ID); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("session %s: %v", s.ID, err))
			continue
		}
		result.Pushed++
		e.logger.Debug("session pushed", "session", s.ID)
	}
}

// pullSessions copies into the local store every remote session whose
// client id (or literal row id) is not already present locally. Pulled
// copies are stamped synced.
func (e *SyncEngine) pullSessions(ctx context.Context, userID string, result *SessionSyncResult) {
	remote, err := e.remote.ListSessions(ctx, userID, SessionQuery{Limit: MaxSessionLimit})
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("session pull: %v", err))
		return
	}
	local, err := e.local.ListSessions(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("session pull: %v", err))
		return
	}

	localIDs := make(map[string]bool, len(local))
	for _, s := range local {
		localIDs[s.ID] = true
	}

	for _, r := range remote {
		if r.ClientID != "" && localIDs[r.ClientID] {
			continue
		}
		if localIDs[r.ID] {
			continue
		}
		now := e.clock.Now()
		id := r.ClientID
		if id == "" {
			id = e.idgen.New()
		}
		err := e.local.CreateSession(ctx, &model.Session{
			ID:         id,
			ActivityID: r.ActivityID,
			StartTime:  r.StartTime,
			EndTime:    r.EndTime,
			Duration:   r.Duration,
			SyncStatus: model.SyncSynced,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("session %s: %v", r.ID, err))
			continue
		}
		result.Pulled++
		e.logger.Debug("session pulled", "start", r.StartTime)
	}
}
