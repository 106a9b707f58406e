package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tt-go/internal/localstore/migrations"
	"tt-go/internal/model"
	"tt-go/internal/tracker"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements the LocalStore interface using SQLite. One
// database file per user keeps account switches from leaking data.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) a SQLite local store at path and
// brings its schema up to date. path can be ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating local store: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a raw connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys are off by default in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Activity operations

func (s *SQLiteStore) ListActivities(ctx context.Context) ([]*model.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, color, icon, created_at, updated_at FROM activities ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	var activities []*model.Activity
	for rows.Next() {
		var a model.Activity
		if err := rows.Scan(&a.ID, &a.Name, &a.Color, &a.Icon, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}

func (s *SQLiteStore) GetActivity(ctx context.Context, id string) (*model.Activity, error) {
	var a model.Activity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, color, icon, created_at, updated_at FROM activities WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Color, &a.Icon, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding activity: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) FindActivityByName(ctx context.Context, name string) (*model.Activity, error) {
	var a model.Activity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, color, icon, created_at, updated_at FROM activities WHERE LOWER(name) = LOWER(?)`, name).
		Scan(&a.ID, &a.Name, &a.Color, &a.Icon, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding activity by name: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) CreateActivity(ctx context.Context, activity *model.Activity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (id, name, color, icon, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		activity.ID, activity.Name, activity.Color, activity.Icon, activity.CreatedAt, activity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating activity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateActivity(ctx context.Context, activity *model.Activity) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE activities SET name = ?, color = ?, icon = ?, updated_at = ? WHERE id = ?`,
		activity.Name, activity.Color, activity.Icon, activity.UpdatedAt, activity.ID)
	if err != nil {
		return fmt.Errorf("updating activity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteActivity(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting activity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SeedDefaultActivities(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting activities: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, d := range model.DefaultActivities {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO activities (id, name, color, icon, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), d.Name, d.Color, d.Icon, now, now)
		if err != nil {
			return 0, fmt.Errorf("seeding activity %s: %w", d.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return len(model.DefaultActivities), nil
}

// Session operations

const sessionColumns = `id, activity_id, start_time, end_time, duration, sync_status, created_at, updated_at`

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) ListPendingSessions(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE sync_status = ? ORDER BY start_time`, model.SyncPending)
	if err != nil {
		return nil, fmt.Errorf("listing pending sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *SQLiteStore) ListSessionsByDate(ctx context.Context, date string) ([]*model.Session, error) {
	dayStart, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE start_time >= ? AND start_time < ? ORDER BY start_time`,
		dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("listing sessions by date: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.ActivityID, session.StartTime,
		nullTime(session.EndTime), nullInt(session.Duration),
		session.SyncStatus, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StopSession(ctx context.Context, id string, session *model.Session) error {
	// The stop always goes back to pending so it is re-pushed, even when
	// the running session had already been synced.
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET end_time = ?, duration = ?, sync_status = ?, updated_at = ? WHERE id = ?`,
		nullTime(session.EndTime), nullInt(session.Duration), model.SyncPending, session.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("stopping session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkSessionSynced(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET sync_status = ?, updated_at = ? WHERE id = ?`,
		model.SyncSynced, time.Now(), id)
	if err != nil {
		return fmt.Errorf("marking session synced: %w", err)
	}
	return nil
}

// Timer state (singleton row, id = 1)

func (s *SQLiteStore) GetTimerState(ctx context.Context) (*model.TimerState, error) {
	var (
		state      model.TimerState
		sessionID  sql.NullString
		activityID sql.NullString
		startTime  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT is_running, current_session_id, current_activity_id, start_time FROM timer_state WHERE id = 1`).
		Scan(&state.IsRunning, &sessionID, &activityID, &startTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &model.TimerState{}, nil // Never written: idle
		}
		return nil, fmt.Errorf("loading timer state: %w", err)
	}

	state.CurrentSessionID = sessionID.String
	state.CurrentActivityID = activityID.String
	if startTime.Valid {
		t := startTime.Time
		state.StartTime = &t
	}
	return &state, nil
}

func (s *SQLiteStore) SetTimerState(ctx context.Context, state *model.TimerState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timer_state (id, is_running, current_session_id, current_activity_id, start_time)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   is_running = excluded.is_running,
		   current_session_id = excluded.current_session_id,
		   current_activity_id = excluded.current_activity_id,
		   start_time = excluded.start_time`,
		state.IsRunning, nullString(state.CurrentSessionID), nullString(state.CurrentActivityID),
		nullTime(state.StartTime))
	if err != nil {
		return fmt.Errorf("writing timer state: %w", err)
	}
	return nil
}

// Aggregations

// DailySummary rolls up completed sessions for the given date. Running
// sessions are excluded: duration only exists once a session stops.
func (s *SQLiteStore) DailySummary(ctx context.Context, date string) (*model.DailySummary, error) {
	sessions, err := s.ListSessionsByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	summary := &model.DailySummary{Date: date}
	totals := make(map[string]*model.ActivityTotal)
	var order []string

	for _, session := range sessions {
		if session.EndTime == nil || session.Duration == nil {
			continue
		}
		summary.TotalSeconds += *session.Duration

		t, ok := totals[session.ActivityID]
		if !ok {
			t = &model.ActivityTotal{ActivityID: session.ActivityID}
			totals[session.ActivityID] = t
			order = append(order, session.ActivityID)
		}
		t.TotalSeconds += *session.Duration
		t.SessionCount++
	}

	for _, id := range order {
		summary.Activities = append(summary.Activities, *totals[id])
	}
	return summary, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// SnapshotTo creates a complete copy of the database at destPath using
// VACUUM INTO. Used by the archive pipeline.
func (s *SQLiteStore) SnapshotTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("snapshotting database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*model.Session, error) {
	var (
		session  model.Session
		endTime  sql.NullTime
		duration sql.NullInt64
	)
	err := sc.Scan(&session.ID, &session.ActivityID, &session.StartTime,
		&endTime, &duration, &session.SyncStatus, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		session.EndTime = &t
	}
	if duration.Valid {
		d := duration.Int64
		session.Duration = &d
	}
	return &session, nil
}

func scanSessions(rows *sql.Rows) ([]*model.Session, error) {
	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time check that SQLiteStore implements tracker.LocalStore
var _ tracker.LocalStore = (*SQLiteStore)(nil)
