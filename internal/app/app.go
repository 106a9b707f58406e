package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tt-go/internal/archive"
	"tt-go/internal/config"
	"tt-go/internal/device"
	"tt-go/internal/encryption"
	"tt-go/internal/localstore"
	"tt-go/internal/model"
	"tt-go/internal/remotestore"
	"tt-go/internal/tracker"
)

// TrackerApp is the application layer between the CLI and the tracker
// packages. It constructs all dependencies from config, exposes
// high-level operations that accept names instead of ids, and manages
// store lifecycles on Close.
type TrackerApp struct {
	cfg         *config.Config
	local       tracker.LocalStore
	remote      tracker.RemoteStore
	encryptor   tracker.Encryptor
	coordinator *tracker.Coordinator
	engine      *tracker.SyncEngine
	runner      *tracker.Runner
	archiver    *archive.Archiver
	logger      tracker.Logger
	logFile     *os.File
}

// NewTrackerApp creates a fully wired TrackerApp from the given config.
// operation identifies the CLI command being run (e.g. "Start", "Sync").
// The caller must call Close when done.
func NewTrackerApp(ctx context.Context, cfg *config.Config, operation string) (*TrackerApp, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("no user_id configured; run `tt config init` first")
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger.With("op", operation)}

	info, err := device.Resolve(cfg.Local.DataDir, cfg.Device.ID, cfg.Device.Name)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("resolving device identity: %w", err)
	}

	local, err := localstore.NewLocalStoreFromConfig(cfg.Local, cfg.UserID)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating local store: %w", err)
	}

	remote, err := remotestore.NewRemoteStoreFromConfig(ctx, cfg.Remote)
	if err != nil {
		local.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating remote store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		local.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	id := tracker.StaticIdentity(cfg.UserID)
	coordinator := tracker.NewCoordinator(local, remote, id, info, logger, tracker.RealClock{}, tracker.UUIDGenerator{})
	engine := tracker.NewSyncEngine(local, remote, logger, tracker.RealClock{}, tracker.UUIDGenerator{})

	online := func(ctx context.Context) bool { return remote.Ping(ctx) == nil }
	runner := tracker.NewRunner(engine, coordinator, id, online, logger)

	a := &TrackerApp{
		cfg:         cfg,
		local:       local,
		remote:      remote,
		encryptor:   enc,
		coordinator: coordinator,
		engine:      engine,
		runner:      runner,
		logger:      logger,
		logFile:     logFile,
	}

	// The archive pipeline needs a snapshot-capable local store. The
	// memory store is sqlite-backed too, so in practice this always holds.
	if snap, ok := local.(archive.Snapshotter); ok {
		store, err := archive.NewStoreFromConfig(ctx, cfg.Archive)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating archive store: %w", err)
		}
		a.archiver = archive.NewArchiver(snap, enc, store, logger, tracker.RealClock{})
	}

	return a, nil
}

// SeedDefaults installs the default activity set into the local store.
// Returns the number of activities created.
func (a *TrackerApp) SeedDefaults(ctx context.Context) (int, error) {
	return a.local.SeedDefaultActivities(ctx)
}

// resolveActivity finds a local activity by case-insensitive name.
func (a *TrackerApp) resolveActivity(ctx context.Context, name string) (*model.Activity, error) {
	activity, err := a.local.FindActivityByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("looking up activity: %w", err)
	}
	if activity == nil {
		return nil, fmt.Errorf("no activity named %q; run `tt activity list`", name)
	}
	return activity, nil
}

// Start begins tracking the named activity.
func (a *TrackerApp) Start(ctx context.Context, activityName string) (*model.Session, error) {
	activity, err := a.resolveActivity(ctx, activityName)
	if err != nil {
		return nil, err
	}
	return a.coordinator.Start(ctx, activity.ID)
}

// Stop ends the currently-tracked session. Returns (nil, nil) when no
// session is being tracked on this device.
func (a *TrackerApp) Stop(ctx context.Context) (*model.Session, error) {
	return a.coordinator.Stop(ctx)
}

// Switch stops the current session and starts tracking the named activity.
func (a *TrackerApp) Switch(ctx context.Context, activityName string) (*model.Session, error) {
	activity, err := a.resolveActivity(ctx, activityName)
	if err != nil {
		return nil, err
	}
	return a.coordinator.SwitchActivity(ctx, activity.ID)
}

// Status returns the combined local and global timer view.
func (a *TrackerApp) Status(ctx context.Context) (*tracker.TimerStatus, error) {
	return a.coordinator.Status(ctx)
}

// TakeOver transfers ownership of a timer running on another device here.
func (a *TrackerApp) TakeOver(ctx context.Context) (*model.GlobalTimerState, error) {
	return a.coordinator.TakeOver(ctx)
}

// AddActivity creates a new local activity, pending sync.
func (a *TrackerApp) AddActivity(ctx context.Context, name, color, icon string) (*model.Activity, error) {
	existing, err := a.local.FindActivityByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking for existing activity: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("activity %q already exists", existing.Name)
	}

	now := time.Now()
	activity := &model.Activity{
		ID:        tracker.UUIDGenerator{}.New(),
		Name:      name,
		Color:     color,
		Icon:      icon,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.local.CreateActivity(ctx, activity); err != nil {
		return nil, fmt.Errorf("creating activity: %w", err)
	}
	return activity, nil
}

// ListActivities returns all local activities.
func (a *TrackerApp) ListActivities(ctx context.Context) ([]*model.Activity, error) {
	return a.local.ListActivities(ctx)
}

// RemoveActivity deletes the named activity locally. The remote copy, if
// one exists, is archived rather than deleted so other devices keep
// their history.
func (a *TrackerApp) RemoveActivity(ctx context.Context, name string) error {
	activity, err := a.resolveActivity(ctx, name)
	if err != nil {
		return err
	}
	if err := a.local.DeleteActivity(ctx, activity.ID); err != nil {
		return fmt.Errorf("deleting activity: %w", err)
	}

	// Best effort: archive the matching remote row when reachable.
	// Local and remote rows carry independent ids, so the match uses the
	// same case-insensitive name correlation as sync.
	remotes, err := a.remote.ListActivities(ctx, a.cfg.UserID)
	if err != nil {
		a.logger.Warn("remote activity archive skipped", "error", err)
		return nil
	}
	for _, r := range remotes {
		if strings.EqualFold(r.Name, activity.Name) {
			if err := a.remote.ArchiveActivity(ctx, a.cfg.UserID, r.ID); err != nil {
				a.logger.Warn("remote activity archive failed", "activity", r.ID, "error", err)
			}
			return nil
		}
	}
	return nil
}

// Sync runs one full bidirectional sync pass.
func (a *TrackerApp) Sync(ctx context.Context) *tracker.FullSyncResult {
	return a.engine.PerformFullSync(ctx, a.cfg.UserID)
}

// Devices lists all devices registered for the user.
func (a *TrackerApp) Devices(ctx context.Context) ([]*model.Device, error) {
	return a.coordinator.Devices(ctx)
}

// RegisterDevice upserts this device's remote row.
func (a *TrackerApp) RegisterDevice(ctx context.Context) (*model.Device, error) {
	return a.coordinator.RegisterDevice(ctx)
}

// Summary returns the daily rollup of completed sessions for a date.
func (a *TrackerApp) Summary(ctx context.Context, date string) (*model.DailySummary, error) {
	return a.local.DailySummary(ctx, date)
}

// Sessions returns the most recent local sessions, capped at limit when
// limit is positive.
func (a *TrackerApp) Sessions(ctx context.Context, limit int) ([]*model.Session, error) {
	sessions, err := a.local.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// Runner returns the background sync runner for daemon mode.
func (a *TrackerApp) Runner() *tracker.Runner {
	return a.runner
}

// SetupEncryption generates the archive key pair. One-time, from config init.
func (a *TrackerApp) SetupEncryption(passphrase string) error {
	return a.encryptor.Setup(passphrase)
}

// CreateArchive snapshots, encrypts and uploads the local database.
func (a *TrackerApp) CreateArchive(ctx context.Context) (string, error) {
	if a.archiver == nil {
		return "", fmt.Errorf("local store does not support snapshots")
	}
	return a.archiver.Create(ctx, a.cfg.UserID)
}

// ListArchives lists the user's stored archives, newest first.
func (a *TrackerApp) ListArchives(ctx context.Context) ([]archive.Entry, error) {
	if a.archiver == nil {
		return nil, fmt.Errorf("local store does not support snapshots")
	}
	return a.archiver.List(ctx, a.cfg.UserID)
}

// RestoreArchive downloads and decrypts an archive next to the live
// database. The restored copy is written as <db>.restored so the live file
// is never clobbered.
func (a *TrackerApp) RestoreArchive(ctx context.Context, key, passphrase string) (string, error) {
	if a.archiver == nil {
		return "", fmt.Errorf("local store does not support snapshots")
	}
	decCtx, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return "", fmt.Errorf("unlocking archive key: %w", err)
	}

	destPath := filepath.Join(a.cfg.Local.DataDir, a.cfg.UserID+".db.restored")
	if err := a.archiver.Restore(ctx, key, destPath, decCtx); err != nil {
		return "", err
	}
	return destPath, nil
}

// Close releases all resources.
func (a *TrackerApp) Close() error {
	var firstErr error

	if err := a.local.Close(); err != nil {
		firstErr = fmt.Errorf("closing local store: %w", err)
	}

	if closer, ok := a.remote.(interface{ Close() }); ok {
		closer.Close()
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
