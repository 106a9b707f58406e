package remotestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tt-go/internal/model"
	"tt-go/internal/tracker"
)

// uniqueViolation is the Postgres error code for unique-constraint conflicts.
const uniqueViolation = "23505"

// PostgresStore implements the RemoteStore interface against Postgres.
// Every statement filters on user_id, so a caller can only ever see or
// mutate its own rows.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at the given DSN.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to remote store: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool. The caller retains
// ownership of the pool.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Activity operations

const activityColumns = `id, user_id, name, color, icon, category, sort_order, is_archived, created_at, updated_at`

func (s *PostgresStore) ListActivities(ctx context.Context, userID string) ([]*model.RemoteActivity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activities
		 WHERE user_id = $1 AND is_archived = FALSE
		 ORDER BY sort_order, created_at
		 LIMIT $2`,
		userID, tracker.DefaultSessionLimit)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	var activities []*model.RemoteActivity
	for rows.Next() {
		var a model.RemoteActivity
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Color, &a.Icon, &a.Category,
			&a.SortOrder, &a.IsArchived, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}

func (s *PostgresStore) CreateActivity(ctx context.Context, userID string, activity *model.RemoteActivity) (*model.RemoteActivity, error) {
	now := time.Now()
	created := *activity
	created.ID = uuid.New().String()
	created.UserID = userID
	if created.Category == "" {
		created.Category = "general"
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO activities (`+activityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		created.ID, created.UserID, created.Name, created.Color, created.Icon,
		created.Category, created.SortOrder, created.IsArchived, created.CreatedAt, created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating activity: %w", err)
	}
	return &created, nil
}

func (s *PostgresStore) UpdateActivity(ctx context.Context, userID string, activity *model.RemoteActivity) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE activities SET name = $1, color = $2, icon = $3, category = $4, sort_order = $5, updated_at = $6
		 WHERE user_id = $7 AND id = $8`,
		activity.Name, activity.Color, activity.Icon, activity.Category, activity.SortOrder,
		time.Now(), userID, activity.ID)
	if err != nil {
		return fmt.Errorf("updating activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errNotFound("activity", activity.ID)
	}
	return nil
}

func (s *PostgresStore) ArchiveActivity(ctx context.Context, userID, activityID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE activities SET is_archived = TRUE, updated_at = $1 WHERE user_id = $2 AND id = $3`,
		time.Now(), userID, activityID)
	if err != nil {
		return fmt.Errorf("archiving activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errNotFound("activity", activityID)
	}
	return nil
}

// Session operations

const remoteSessionColumns = `id, user_id, client_id, activity_id, start_time, end_time, duration, status, created_at, updated_at`

func (s *PostgresStore) ListSessions(ctx context.Context, userID string, query tracker.SessionQuery) ([]*model.RemoteSession, error) {
	sql := `SELECT ` + remoteSessionColumns + ` FROM sessions WHERE user_id = $1`
	args := []any{userID}

	if query.ActivityID != "" {
		args = append(args, query.ActivityID)
		sql += fmt.Sprintf(" AND activity_id = $%d", len(args))
	}
	if query.Status != "" {
		args = append(args, query.Status)
		sql += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !query.From.IsZero() {
		args = append(args, query.From)
		sql += fmt.Sprintf(" AND start_time >= $%d", len(args))
	}
	if !query.To.IsZero() {
		args = append(args, query.To)
		sql += fmt.Sprintf(" AND start_time <= $%d", len(args))
	}
	args = append(args, query.EffectiveLimit())
	sql += fmt.Sprintf(" ORDER BY start_time DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.RemoteSession
	for rows.Next() {
		session, err := scanRemoteSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) FindSessionByClientID(ctx context.Context, userID, clientID string) (*model.RemoteSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+remoteSessionColumns+` FROM sessions WHERE user_id = $1 AND client_id = $2`,
		userID, clientID)
	session, err := scanRemoteSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding session by client id: %w", err)
	}
	return session, nil
}

// PushSession creates the session row. A unique-constraint conflict on
// (user_id, client_id) means the session was pushed before; the existing
// row is updated with the incoming end state instead of erroring, so
// retried pushes are safe and a session pushed while running converges to
// its stopped state.
func (s *PostgresStore) PushSession(ctx context.Context, userID string, session *model.RemoteSession) (*model.RemoteSession, error) {
	now := time.Now()
	created := *session
	created.ID = uuid.New().String()
	created.UserID = userID
	created.CreatedAt = now
	created.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (`+remoteSessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		created.ID, created.UserID, created.ClientID, created.ActivityID,
		created.StartTime, created.EndTime, created.Duration, created.Status,
		created.CreatedAt, created.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return s.updateByClientID(ctx, userID, session)
		}
		return nil, fmt.Errorf("pushing session: %w", err)
	}
	return &created, nil
}

// updateByClientID refreshes the end state of an already-pushed session.
func (s *PostgresStore) updateByClientID(ctx context.Context, userID string, session *model.RemoteSession) (*model.RemoteSession, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE sessions SET end_time = $1, duration = $2, status = $3, updated_at = $4
		 WHERE user_id = $5 AND client_id = $6
		 RETURNING `+remoteSessionColumns,
		session.EndTime, session.Duration, session.Status, time.Now(), userID, session.ClientID)
	updated, err := scanRemoteSession(row)
	if err != nil {
		return nil, fmt.Errorf("updating pushed session: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, userID string, session *model.RemoteSession) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET activity_id = $1, start_time = $2, end_time = $3, duration = $4, status = $5, updated_at = $6
		 WHERE user_id = $7 AND id = $8`,
		session.ActivityID, session.StartTime, session.EndTime, session.Duration, session.Status,
		time.Now(), userID, session.ID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errNotFound("session", session.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE user_id = $1 AND id = $2`, userID, sessionID)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errNotFound("session", sessionID)
	}
	return nil
}

// Global timer operations

const globalTimerColumns = `user_id, device_id, device_name, is_running, current_session_id, current_activity_id, start_time, last_activity, created_at, updated_at`

func (s *PostgresStore) GetGlobalTimer(ctx context.Context, userID string) (*model.GlobalTimerState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+globalTimerColumns+` FROM global_timer WHERE user_id = $1`, userID)
	state, err := scanGlobalTimer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // No timer ever started, or cleared
		}
		return nil, fmt.Errorf("loading global timer: %w", err)
	}
	return state, nil
}

// UpsertGlobalTimer overwrites the user's singleton row unconditionally.
// There is no version token: whichever writer lands last wins.
func (s *PostgresStore) UpsertGlobalTimer(ctx context.Context, state *model.GlobalTimerState) error {
	now := time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO global_timer (`+globalTimerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (user_id) DO UPDATE SET
		   device_id = excluded.device_id,
		   device_name = excluded.device_name,
		   is_running = excluded.is_running,
		   current_session_id = excluded.current_session_id,
		   current_activity_id = excluded.current_activity_id,
		   start_time = excluded.start_time,
		   last_activity = excluded.last_activity,
		   updated_at = excluded.updated_at`,
		state.UserID, state.DeviceID, state.DeviceName, state.IsRunning,
		state.CurrentSessionID, state.CurrentActivityID, state.StartTime,
		state.LastActivity, now)
	if err != nil {
		return fmt.Errorf("upserting global timer: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearGlobalTimer(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM global_timer WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clearing global timer: %w", err)
	}
	return nil
}

func (s *PostgresStore) TransferGlobalTimer(ctx context.Context, userID, deviceID, deviceName string) (*model.GlobalTimerState, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE global_timer SET device_id = $1, device_name = $2, last_activity = $3, updated_at = $3
		 WHERE user_id = $4
		 RETURNING `+globalTimerColumns,
		deviceID, deviceName, time.Now(), userID)
	state, err := scanGlobalTimer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Nothing to transfer
		}
		return nil, fmt.Errorf("transferring global timer: %w", err)
	}
	return state, nil
}

// Device operations

func (s *PostgresStore) RegisterDevice(ctx context.Context, device *model.Device) (*model.Device, error) {
	created := *device
	created.ID = uuid.New().String()

	row := s.pool.QueryRow(ctx,
		`INSERT INTO devices (id, user_id, device_id, device_name, user_agent, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, device_id) DO UPDATE SET
		   device_name = excluded.device_name,
		   user_agent = excluded.user_agent,
		   last_seen = excluded.last_seen
		 RETURNING id, user_id, device_id, device_name, user_agent, last_seen`,
		created.ID, created.UserID, created.DeviceID, created.DeviceName,
		created.UserAgent, created.LastSeen)

	var d model.Device
	if err := row.Scan(&d.ID, &d.UserID, &d.DeviceID, &d.DeviceName, &d.UserAgent, &d.LastSeen); err != nil {
		return nil, fmt.Errorf("registering device: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) TouchDevice(ctx context.Context, userID, deviceID string, seenAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE devices SET last_seen = $1 WHERE user_id = $2 AND device_id = $3`,
		seenAt, userID, deviceID)
	if err != nil {
		return fmt.Errorf("touching device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errNotFound("device", deviceID)
	}
	return nil
}

func (s *PostgresStore) ListDevices(ctx context.Context, userID string) ([]*model.Device, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, device_id, device_name, user_agent, last_seen
		 FROM devices WHERE user_id = $1 ORDER BY last_seen DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []*model.Device
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.DeviceID, &d.DeviceName, &d.UserAgent, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

// Ping verifies connectivity. Used as the online round-trip before any
// lock mutation.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRemoteSession(row rowScanner) (*model.RemoteSession, error) {
	var session model.RemoteSession
	err := row.Scan(&session.ID, &session.UserID, &session.ClientID, &session.ActivityID,
		&session.StartTime, &session.EndTime, &session.Duration, &session.Status,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func scanGlobalTimer(row rowScanner) (*model.GlobalTimerState, error) {
	var (
		state      model.GlobalTimerState
		sessionID  *string
		activityID *string
	)
	err := row.Scan(&state.UserID, &state.DeviceID, &state.DeviceName, &state.IsRunning,
		&sessionID, &activityID, &state.StartTime, &state.LastActivity,
		&state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		state.CurrentSessionID = *sessionID
	}
	if activityID != nil {
		state.CurrentActivityID = *activityID
	}
	return &state, nil
}

// Compile-time check that PostgresStore implements tracker.RemoteStore
var _ tracker.RemoteStore = (*PostgresStore)(nil)
