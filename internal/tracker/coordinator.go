package tracker

import (
	"context"
	"fmt"
	"time"

	"tt-go/internal/model"
)

// Coordinator enforces the single-writer timer protocol: at most one
// running timer per user across all devices, with explicit conflict
// surfacing and an ownership-transfer path.
//
// The "lock" is the remote GlobalTimerState record. It is a versionless
// last-writer-wins document: two devices racing Start inside the same
// network round-trip window can both observe no running timer and both
// claim ownership, and whichever write lands last wins. That race is
// accepted; the remote store's single-row update is the only
// serialization point.
type Coordinator struct {
	local  LocalStore
	remote RemoteStore
	id     Identity
	device DeviceInfo
	logger Logger
	clock  Clock
	idgen  IDGenerator
}

// NewCoordinator creates a Coordinator with the provided dependencies.
func NewCoordinator(local LocalStore, remote RemoteStore, id Identity, device DeviceInfo, logger Logger, clock Clock, idgen IDGenerator) *Coordinator {
	return &Coordinator{
		local:  local,
		remote: remote,
		id:     id,
		device: device,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}
}

// TimerStatus is a point-in-time view of the local and global timers.
type TimerStatus struct {
	Local      *model.TimerState
	Global     *model.GlobalTimerState
	DeviceID   string
	DeviceName string

	// Conflict is true when another device owns the running timer.
	// CanTakeOver mirrors it.
	Conflict        bool
	ConflictMessage string
	CanTakeOver     bool

	// ElapsedSeconds is recomputed from wall-clock time on every call; it
	// is display state, not persisted, so inter-device clock skew does not
	// affect the duration recorded at stop time.
	ElapsedSeconds int64
}

// OwnedByThisDevice reports whether the global timer is held by this device.
func (s *TimerStatus) OwnedByThisDevice() bool {
	return s.Global != nil && s.Global.DeviceID == s.DeviceID
}

// Status loads both timer views and computes conflict state.
func (c *Coordinator) Status(ctx context.Context) (*TimerStatus, error) {
	local, err := c.local.GetTimerState(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading local timer state: %w", err)
	}

	status := &TimerStatus{
		Local:      local,
		DeviceID:   c.device.ID,
		DeviceName: c.device.Name,
	}

	if local.IsRunning && local.StartTime != nil {
		status.ElapsedSeconds = c.elapsed(*local.StartTime)
	}

	userID := c.id.UserID()
	if userID == "" {
		return status, nil
	}

	global, err := c.remote.GetGlobalTimer(ctx, userID)
	if err != nil {
		// The remote view is unavailable offline; the local view still
		// renders. Conflict detection resumes on the next online load.
		c.logger.Warn("global timer unavailable", "error", err)
		return status, nil
	}
	status.Global = global

	if global != nil && global.IsRunning && global.DeviceID != c.device.ID {
		status.Conflict = true
		status.CanTakeOver = true
		status.ConflictMessage = (&ConflictError{DeviceName: global.DeviceName}).Error()
	}

	return status, nil
}

// Start begins tracking the given activity on this device.
//
// Start requires an online round-trip: claiming the lock while the remote
// store is unreachable would invite split-brain, so it simply fails. The
// local session and timer state are written first (optimistic), then the
// global record is published. If the remote write fails after the local
// writes succeed, a RemoteWriteError is returned and the stores stay
// divergent until the next sync pass.
func (c *Coordinator) Start(ctx context.Context, activityID string) (*model.Session, error) {
	userID := c.id.UserID()
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if err := c.remote.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}

	global, err := c.remote.GetGlobalTimer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading global timer: %w", err)
	}
	if global != nil && global.IsRunning && global.DeviceID != c.device.ID {
		return nil, &ConflictError{DeviceName: global.DeviceName}
	}

	now := c.clock.Now()
	session := &model.Session{
		ID:         c.idgen.New(),
		ActivityID: activityID,
		StartTime:  now,
		SyncStatus: model.SyncPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.local.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	state := &model.TimerState{
		IsRunning:         true,
		CurrentSessionID:  session.ID,
		CurrentActivityID: activityID,
		StartTime:         &now,
	}
	if err := c.local.SetTimerState(ctx, state); err != nil {
		return nil, fmt.Errorf("writing local timer state: %w", err)
	}

	err = c.remote.UpsertGlobalTimer(ctx, &model.GlobalTimerState{
		UserID:            userID,
		DeviceID:          c.device.ID,
		DeviceName:        c.device.Name,
		IsRunning:         true,
		CurrentSessionID:  session.ID,
		CurrentActivityID: activityID,
		StartTime:         &now,
		LastActivity:      now,
	})
	if err != nil {
		return session, &RemoteWriteError{Op: "start", SessionID: session.ID, Err: err}
	}

	c.logger.Info("timer started", "activity", activityID, "session", session.ID, "device", c.device.ID)
	return session, nil
}

// Stop ends the currently-tracked session. Returns (nil, nil) when this
// device is not tracking a session. Duration is computed here, once, as
// whole seconds; the stopped session goes back to pending so the final
// state is pushed on the next sync pass.
func (c *Coordinator) Stop(ctx context.Context) (*model.Session, error) {
	userID := c.id.UserID()
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	local, err := c.local.GetTimerState(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading local timer state: %w", err)
	}
	if local.CurrentSessionID == "" || local.StartTime == nil {
		return nil, nil
	}

	now := c.clock.Now()
	duration := int64(now.Sub(*local.StartTime).Seconds())

	session, err := c.local.GetSession(ctx, local.CurrentSessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("tracked session %s not found", local.CurrentSessionID)
	}

	session.EndTime = &now
	session.Duration = &duration
	session.SyncStatus = model.SyncPending
	session.UpdatedAt = now
	if err := c.local.StopSession(ctx, session.ID, session); err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}

	if err := c.local.SetTimerState(ctx, &model.TimerState{}); err != nil {
		return nil, fmt.Errorf("clearing local timer state: %w", err)
	}

	// Full delete, not merely isRunning=false, so any device can start fresh.
	if err := c.remote.ClearGlobalTimer(ctx, userID); err != nil {
		return session, &RemoteWriteError{Op: "stop", SessionID: session.ID, Err: err}
	}

	c.logger.Info("timer stopped", "session", session.ID, "duration_s", duration)
	return session, nil
}

// TakeOver reassigns ownership of a timer running on another device to
// this device. Session id, activity id and start time are preserved: the
// clock keeps running, only the owner changes. The local timer state is
// then overwritten to match the now-owned global record.
func (c *Coordinator) TakeOver(ctx context.Context) (*model.GlobalTimerState, error) {
	userID := c.id.UserID()
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if err := c.remote.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}

	global, err := c.remote.GetGlobalTimer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading global timer: %w", err)
	}
	if global == nil || !global.IsRunning || global.DeviceID == c.device.ID {
		return nil, ErrNoConflict
	}

	updated, err := c.remote.TransferGlobalTimer(ctx, userID, c.device.ID, c.device.Name)
	if err != nil {
		return nil, fmt.Errorf("transferring timer: %w", err)
	}
	if updated == nil {
		return nil, ErrNoConflict
	}

	state := &model.TimerState{
		IsRunning:         updated.IsRunning,
		CurrentSessionID:  updated.CurrentSessionID,
		CurrentActivityID: updated.CurrentActivityID,
		StartTime:         updated.StartTime,
	}
	if err := c.local.SetTimerState(ctx, state); err != nil {
		return updated, fmt.Errorf("writing local timer state: %w", err)
	}

	c.logger.Info("timer taken over", "from", global.DeviceName, "session", updated.CurrentSessionID)
	return updated, nil
}

// SwitchActivity stops the current session (if any) and starts a new one.
// Not atomic: a crash between the two calls leaves the global timer
// cleared with no new session, and the user must restart manually.
func (c *Coordinator) SwitchActivity(ctx context.Context, activityID string) (*model.Session, error) {
	local, err := c.local.GetTimerState(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading local timer state: %w", err)
	}
	if local.IsRunning {
		if _, err := c.Stop(ctx); err != nil {
			return nil, fmt.Errorf("stopping current session: %w", err)
		}
	}
	return c.Start(ctx, activityID)
}

// RegisterDevice upserts this device's row remotely. Called once on app
// startup per device per user.
func (c *Coordinator) RegisterDevice(ctx context.Context) (*model.Device, error) {
	userID := c.id.UserID()
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	return c.remote.RegisterDevice(ctx, &model.Device{
		UserID:     userID,
		DeviceID:   c.device.ID,
		DeviceName: c.device.Name,
		UserAgent:  c.device.UserAgent,
		LastSeen:   c.clock.Now(),
	})
}

// Heartbeat refreshes this device's last-seen timestamp. Advisory only:
// failures are logged and swallowed, never surfaced.
func (c *Coordinator) Heartbeat(ctx context.Context) {
	userID := c.id.UserID()
	if userID == "" {
		return
	}
	if err := c.remote.TouchDevice(ctx, userID, c.device.ID, c.clock.Now()); err != nil {
		c.logger.Debug("heartbeat failed", "error", err)
	}
}

// Devices lists all devices seen for the user. Failures are advisory.
func (c *Coordinator) Devices(ctx context.Context) ([]*model.Device, error) {
	userID := c.id.UserID()
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	return c.remote.ListDevices(ctx, userID)
}

// elapsed computes whole seconds since start against the injected clock.
func (c *Coordinator) elapsed(start time.Time) int64 {
	return int64(c.clock.Now().Sub(start).Seconds())
}
