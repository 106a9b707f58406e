package remotestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tt-go/internal/model"
	"tt-go/internal/tracker"
)

// MemoryStore is an in-memory implementation of the RemoteStore interface.
// It enforces the same per-user scoping as the Postgres implementation and
// is safe for concurrent use, which lets tests simulate multiple devices
// sharing one backend.
type MemoryStore struct {
	mu         sync.RWMutex
	activities map[string]*model.RemoteActivity   // row id -> activity
	sessions   map[string]*model.RemoteSession    // row id -> session
	timers     map[string]*model.GlobalTimerState // user id -> singleton
	devices    map[string]*model.Device           // row id -> device
	pingErr    error
	timerErr   error
	clearErr   error
}

// NewMemoryStore creates an empty in-memory remote store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		activities: make(map[string]*model.RemoteActivity),
		sessions:   make(map[string]*model.RemoteSession),
		timers:     make(map[string]*model.GlobalTimerState),
		devices:    make(map[string]*model.Device),
	}
}

// SetPingError makes subsequent Ping calls fail with err (nil restores
// reachability). Lets tests and demos simulate going offline.
func (m *MemoryStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// SetTimerError makes GetGlobalTimer fail with err until reset with nil.
func (m *MemoryStore) SetTimerError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timerErr = err
}

// SetClearError makes ClearGlobalTimer fail with err until reset with nil.
func (m *MemoryStore) SetClearError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearErr = err
}

// Activity operations

func (m *MemoryStore) ListActivities(_ context.Context, userID string) ([]*model.RemoteActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.RemoteActivity
	for _, a := range m.activities {
		if a.UserID == userID && !a.IsArchived {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > tracker.DefaultSessionLimit {
		out = out[:tracker.DefaultSessionLimit]
	}
	return out, nil
}

func (m *MemoryStore) CreateActivity(_ context.Context, userID string, activity *model.RemoteActivity) (*model.RemoteActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	created := *activity
	created.ID = uuid.New().String()
	created.UserID = userID
	if created.Category == "" {
		created.Category = "general"
	}
	created.CreatedAt = now
	created.UpdatedAt = now
	m.activities[created.ID] = &created

	result := created
	return &result, nil
}

func (m *MemoryStore) UpdateActivity(_ context.Context, userID string, activity *model.RemoteActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.activities[activity.ID]
	if !ok || existing.UserID != userID {
		return errNotFound("activity", activity.ID)
	}
	existing.Name = activity.Name
	existing.Color = activity.Color
	existing.Icon = activity.Icon
	existing.Category = activity.Category
	existing.SortOrder = activity.SortOrder
	existing.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ArchiveActivity(_ context.Context, userID, activityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.activities[activityID]
	if !ok || existing.UserID != userID {
		return errNotFound("activity", activityID)
	}
	existing.IsArchived = true
	existing.UpdatedAt = time.Now()
	return nil
}

// Session operations

func (m *MemoryStore) ListSessions(_ context.Context, userID string, query tracker.SessionQuery) ([]*model.RemoteSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.RemoteSession
	for _, s := range m.sessions {
		if s.UserID != userID {
			continue
		}
		if query.ActivityID != "" && s.ActivityID != query.ActivityID {
			continue
		}
		if query.Status != "" && s.Status != query.Status {
			continue
		}
		if !query.From.IsZero() && s.StartTime.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && s.StartTime.After(query.To) {
			continue
		}
		copied := *s
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit := query.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) FindSessionByClientID(_ context.Context, userID, clientID string) (*model.RemoteSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByClientIDLocked(userID, clientID), nil
}

func (m *MemoryStore) findByClientIDLocked(userID, clientID string) *model.RemoteSession {
	if clientID == "" {
		return nil
	}
	for _, s := range m.sessions {
		if s.UserID == userID && s.ClientID == clientID {
			copied := *s
			return &copied
		}
	}
	return nil
}

func (m *MemoryStore) PushSession(_ context.Context, userID string, session *model.RemoteSession) (*model.RemoteSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotent by correlation key: a retried push of the same session
	// updates the existing row instead of creating a duplicate, so a
	// session pushed while running converges to its stopped state.
	if session.ClientID != "" {
		for _, s := range m.sessions {
			if s.UserID == userID && s.ClientID == session.ClientID {
				s.EndTime = session.EndTime
				s.Duration = session.Duration
				s.Status = session.Status
				s.UpdatedAt = time.Now()
				copied := *s
				return &copied, nil
			}
		}
	}

	now := time.Now()
	created := *session
	created.ID = uuid.New().String()
	created.UserID = userID
	created.CreatedAt = now
	created.UpdatedAt = now
	m.sessions[created.ID] = &created

	result := created
	return &result, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, userID string, session *model.RemoteSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[session.ID]
	if !ok || existing.UserID != userID {
		return errNotFound("session", session.ID)
	}
	existing.ActivityID = session.ActivityID
	existing.StartTime = session.StartTime
	existing.EndTime = session.EndTime
	existing.Duration = session.Duration
	existing.Status = session.Status
	existing.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[sessionID]
	if !ok || existing.UserID != userID {
		return errNotFound("session", sessionID)
	}
	delete(m.sessions, sessionID)
	return nil
}

// Global timer operations

func (m *MemoryStore) GetGlobalTimer(_ context.Context, userID string) (*model.GlobalTimerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.timerErr != nil {
		return nil, m.timerErr
	}
	state, ok := m.timers[userID]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (m *MemoryStore) UpsertGlobalTimer(_ context.Context, state *model.GlobalTimerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	copied := *state
	copied.UpdatedAt = now
	if existing, ok := m.timers[state.UserID]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else {
		copied.CreatedAt = now
	}
	// Unconditional overwrite: last writer wins.
	m.timers[state.UserID] = &copied
	return nil
}

func (m *MemoryStore) ClearGlobalTimer(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	delete(m.timers, userID)
	return nil
}

func (m *MemoryStore) TransferGlobalTimer(_ context.Context, userID, deviceID, deviceName string) (*model.GlobalTimerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.timers[userID]
	if !ok {
		return nil, nil
	}
	// Ownership moves; session, activity and start time stay put.
	existing.DeviceID = deviceID
	existing.DeviceName = deviceName
	existing.LastActivity = time.Now()
	existing.UpdatedAt = time.Now()

	copied := *existing
	return &copied, nil
}

// Device operations

func (m *MemoryStore) RegisterDevice(_ context.Context, device *model.Device) (*model.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.devices {
		if d.UserID == device.UserID && d.DeviceID == device.DeviceID {
			d.DeviceName = device.DeviceName
			d.UserAgent = device.UserAgent
			d.LastSeen = device.LastSeen
			copied := *d
			return &copied, nil
		}
	}

	created := *device
	created.ID = uuid.New().String()
	m.devices[created.ID] = &created

	result := created
	return &result, nil
}

func (m *MemoryStore) TouchDevice(_ context.Context, userID, deviceID string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.devices {
		if d.UserID == userID && d.DeviceID == deviceID {
			d.LastSeen = seenAt
			return nil
		}
	}
	return errNotFound("device", deviceID)
}

func (m *MemoryStore) ListDevices(_ context.Context, userID string) ([]*model.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Device
	for _, d := range m.devices {
		if d.UserID == userID {
			copied := *d
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out, nil
}

// Ping reports reachability; configurable via SetPingError.
func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

type notFoundError struct {
	kind string
	id   string
}

func (e *notFoundError) Error() string {
	return e.kind + " not found: " + e.id
}

func errNotFound(kind, id string) error {
	return &notFoundError{kind: kind, id: id}
}

// Compile-time check that MemoryStore implements tracker.RemoteStore
var _ tracker.RemoteStore = (*MemoryStore)(nil)
