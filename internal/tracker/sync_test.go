package tracker_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"tt-go/internal/model"
	"tt-go/internal/remotestore"
	"tt-go/internal/testutil"
	"tt-go/internal/tracker"
)

func newTestSyncEngine(t *testing.T, remote tracker.RemoteStore) (*tracker.SyncEngine, tracker.LocalStore) {
	t.Helper()
	local := testutil.NewTestLocalStore(t)
	engine := tracker.NewSyncEngine(local, remote, tracker.NewNopLogger(),
		testutil.FixedClock(), testutil.NewStubIDGenerator())
	return engine, local
}

func seedLocalActivity(t *testing.T, local tracker.LocalStore, id, name string) {
	t.Helper()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	err := local.CreateActivity(context.Background(), &model.Activity{
		ID: id, Name: name, Color: "#3B82F6", Icon: "Briefcase",
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seeding activity %s: %v", name, err)
	}
}

func seedStoppedSession(t *testing.T, local tracker.LocalStore, id, activityID string, start time.Time, durationSec int64) {
	t.Helper()
	end := start.Add(time.Duration(durationSec) * time.Second)
	err := local.CreateSession(context.Background(), &model.Session{
		ID:         id,
		ActivityID: activityID,
		StartTime:  start,
		EndTime:    &end,
		Duration:   &durationSec,
		SyncStatus: model.SyncPending,
		CreatedAt:  start,
		UpdatedAt:  end,
	})
	if err != nil {
		t.Fatalf("seeding session %s: %v", id, err)
	}
}

func TestSyncEngine_PushSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("pushes pending and marks synced", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		engine, local := newTestSyncEngine(t, remote)

		start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
		seedStoppedSession(t, local, "sess-1", "act-1", start, 300)

		result := engine.PerformFullSync(ctx, testUser)
		if !result.Success {
			t.Fatalf("sync failed: %v %v", result.Activities.Errors, result.Sessions.Errors)
		}
		if result.Sessions.Pushed != 1 {
			t.Errorf("Pushed = %d, want 1", result.Sessions.Pushed)
		}

		remoteSessions, err := remote.ListSessions(ctx, testUser, tracker.SessionQuery{})
		if err != nil {
			t.Fatalf("ListSessions() error = %v", err)
		}
		if len(remoteSessions) != 1 {
			t.Fatalf("remote has %d sessions, want 1", len(remoteSessions))
		}
		if remoteSessions[0].ClientID != "sess-1" {
			t.Errorf("remote ClientID = %q, want %q", remoteSessions[0].ClientID, "sess-1")
		}
		if remoteSessions[0].Status != model.SessionStopped {
			t.Errorf("remote Status = %q, want stopped", remoteSessions[0].Status)
		}

		pending, err := local.ListPendingSessions(ctx)
		if err != nil {
			t.Fatalf("ListPendingSessions() error = %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("still %d pending after push, want 0", len(pending))
		}
	})

	t.Run("retried push creates exactly one remote record", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		engine, local := newTestSyncEngine(t, remote)

		start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
		seedStoppedSession(t, local, "sess-1", "act-1", start, 120)

		engine.PerformFullSync(ctx, testUser)

		// Simulate a false-negative: the push succeeded remotely but the
		// synced mark was lost, so the session is pending again.
		session, err := local.GetSession(ctx, "sess-1")
		if err != nil {
			t.Fatalf("GetSession() error = %v", err)
		}
		session.SyncStatus = model.SyncPending
		if err := local.StopSession(ctx, session.ID, session); err != nil {
			t.Fatalf("StopSession() error = %v", err)
		}

		engine.PerformFullSync(ctx, testUser)

		remoteSessions, err := remote.ListSessions(ctx, testUser, tracker.SessionQuery{})
		if err != nil {
			t.Fatalf("ListSessions() error = %v", err)
		}
		if len(remoteSessions) != 1 {
			t.Errorf("remote has %d sessions after retry, want exactly 1", len(remoteSessions))
		}
	})

	t.Run("stopped state reaches a session pushed while running", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		engine, local := newTestSyncEngine(t, remote)

		start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
		if err := local.CreateSession(ctx, &model.Session{
			ID: "sess-1", ActivityID: "act-1", StartTime: start,
			SyncStatus: model.SyncPending, CreatedAt: start, UpdatedAt: start,
		}); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}

		engine.PerformFullSync(ctx, testUser)

		remoteSessions, _ := remote.ListSessions(ctx, testUser, tracker.SessionQuery{})
		if len(remoteSessions) != 1 || remoteSessions[0].Status != model.SessionRunning {
			t.Fatalf("remote after first sync = %+v, want one running session", remoteSessions)
		}

		// Stop locally; the session goes back to pending.
		session, _ := local.GetSession(ctx, "sess-1")
		end := start.Add(10 * time.Minute)
		dur := int64(600)
		session.EndTime = &end
		session.Duration = &dur
		if err := local.StopSession(ctx, session.ID, session); err != nil {
			t.Fatalf("StopSession() error = %v", err)
		}

		engine.PerformFullSync(ctx, testUser)

		remoteSessions, _ = remote.ListSessions(ctx, testUser, tracker.SessionQuery{})
		if len(remoteSessions) != 1 {
			t.Fatalf("remote has %d sessions, want 1", len(remoteSessions))
		}
		got := remoteSessions[0]
		if got.Status != model.SessionStopped || got.Duration == nil || *got.Duration != 600 {
			t.Errorf("remote session = %+v, want stopped with duration 600", got)
		}
	})
}

func TestSyncEngine_PullSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("pulls remote-only sessions as synced", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		engine, local := newTestSyncEngine(t, remote)

		start := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
		end := start.Add(time.Hour)
		dur := int64(3600)
		if _, err := remote.PushSession(ctx, testUser, &model.RemoteSession{
			ClientID: "other-device-sess", ActivityID: "act-1",
			StartTime: start, EndTime: &end, Duration: &dur,
			Status: model.SessionStopped,
		}); err != nil {
			t.Fatalf("PushSession() error = %v", err)
		}

		result := engine.PerformFullSync(ctx, testUser)
		if result.Sessions.Pulled != 1 {
			t.Errorf("Pulled = %d, want 1", result.Sessions.Pulled)
		}

		pulled, err := local.GetSession(ctx, "other-device-sess")
		if err != nil {
			t.Fatalf("GetSession() error = %v", err)
		}
		if pulled == nil {
			t.Fatal("pulled session not found under its client id")
		}
		if pulled.SyncStatus != model.SyncSynced {
			t.Errorf("pulled SyncStatus = %q, want synced", pulled.SyncStatus)
		}
		if pulled.Duration == nil || *pulled.Duration != 3600 {
			t.Errorf("pulled Duration = %v, want 3600", pulled.Duration)
		}
	})

	t.Run("does not duplicate sessions this device pushed", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		engine, local := newTestSyncEngine(t, remote)

		start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
		seedStoppedSession(t, local, "sess-1", "act-1", start, 60)

		engine.PerformFullSync(ctx, testUser)
		result := engine.PerformFullSync(ctx, testUser)

		if result.Sessions.Pulled != 0 {
			t.Errorf("second sync Pulled = %d, want 0", result.Sessions.Pulled)
		}
		sessions, err := local.ListSessions(ctx)
		if err != nil {
			t.Fatalf("ListSessions() error = %v", err)
		}
		if len(sessions) != 1 {
			t.Errorf("local has %d sessions, want 1", len(sessions))
		}
	})
}

func TestSyncEngine_Activities(t *testing.T) {
	ctx := context.Background()

	t.Run("pushes local-only and pulls remote-only", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		engine, local := newTestSyncEngine(t, remote)

		seedLocalActivity(t, local, "act-1", "Work")
		if _, err := remote.CreateActivity(ctx, testUser, &model.RemoteActivity{
			Name: "Reading", Color: "#10B981", Icon: "BookOpen", Category: "general",
		}); err != nil {
			t.Fatalf("CreateActivity() error = %v", err)
		}

		result := engine.PerformFullSync(ctx, testUser)
		if result.Activities.Pushed != 1 || result.Activities.Pulled != 1 {
			t.Errorf("Pushed/Pulled = %d/%d, want 1/1", result.Activities.Pushed, result.Activities.Pulled)
		}

		locals, err := local.ListActivities(ctx)
		if err != nil {
			t.Fatalf("ListActivities() error = %v", err)
		}
		if len(locals) != 2 {
			t.Errorf("local has %d activities, want 2", len(locals))
		}

		remotes, err := remote.ListActivities(ctx, testUser)
		if err != nil {
			t.Fatalf("ListActivities() error = %v", err)
		}
		if len(remotes) != 2 {
			t.Errorf("remote has %d activities, want 2", len(remotes))
		}
	})

	t.Run("matches names case-insensitively", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		engine, local := newTestSyncEngine(t, remote)

		seedLocalActivity(t, local, "act-1", "Work")
		if _, err := remote.CreateActivity(ctx, testUser, &model.RemoteActivity{
			Name: "WORK", Color: "#000000", Icon: "Briefcase", Category: "general",
		}); err != nil {
			t.Fatalf("CreateActivity() error = %v", err)
		}

		result := engine.PerformFullSync(ctx, testUser)
		if result.Activities.Pushed != 0 || result.Activities.Pulled != 0 {
			t.Errorf("Pushed/Pulled = %d/%d, want 0/0 (name match)", result.Activities.Pushed, result.Activities.Pulled)
		}
	})

	t.Run("ignores archived remote activities", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		engine, local := newTestSyncEngine(t, remote)

		created, err := remote.CreateActivity(ctx, testUser, &model.RemoteActivity{
			Name: "Old Project", Color: "#6B7280", Icon: "Folder", Category: "general",
		})
		if err != nil {
			t.Fatalf("CreateActivity() error = %v", err)
		}
		if err := remote.ArchiveActivity(ctx, testUser, created.ID); err != nil {
			t.Fatalf("ArchiveActivity() error = %v", err)
		}

		result := engine.PerformFullSync(ctx, testUser)
		if result.Activities.Pulled != 0 {
			t.Errorf("Pulled = %d, want 0 (archived rows excluded)", result.Activities.Pulled)
		}
		locals, _ := local.ListActivities(ctx)
		if len(locals) != 0 {
			t.Errorf("local has %d activities, want 0", len(locals))
		}
	})
}

func TestSyncEngine_Idempotence(t *testing.T) {
	ctx := context.Background()

	remote := remotestore.NewMemoryStore()
	engine, local := newTestSyncEngine(t, remote)

	seedLocalActivity(t, local, "act-1", "Work")
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	seedStoppedSession(t, local, "sess-1", "act-1", start, 1500)

	first := engine.PerformFullSync(ctx, testUser)
	if !first.Success {
		t.Fatalf("first sync failed: %v %v", first.Activities.Errors, first.Sessions.Errors)
	}

	second := engine.PerformFullSync(ctx, testUser)
	if !second.Success {
		t.Fatalf("second sync failed: %v %v", second.Activities.Errors, second.Sessions.Errors)
	}
	if second.Activities.Pushed != 0 || second.Activities.Pulled != 0 {
		t.Errorf("second sync activities = %d pushed %d pulled, want 0/0",
			second.Activities.Pushed, second.Activities.Pulled)
	}
	if second.Sessions.Pushed != 0 || second.Sessions.Pulled != 0 {
		t.Errorf("second sync sessions = %d pushed %d pulled, want 0/0",
			second.Sessions.Pushed, second.Sessions.Pulled)
	}
}

// Two devices, one user: a "Work" activity created offline on device A is
// pushed exactly once, and device B, which independently seeded its own
// "Work" default, ends up with a single copy plus A's session.
func TestSyncEngine_TwoDeviceScenario(t *testing.T) {
	ctx := context.Background()
	remote := remotestore.NewMemoryStore()

	engineA, localA := newTestSyncEngine(t, remote)
	engineB, localB := newTestSyncEngine(t, remote)

	seedLocalActivity(t, localA, "a-work", "Work")
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	seedStoppedSession(t, localA, "a-sess-1", "a-work", start, 2400)

	// Device B seeded its own default of the same name while offline.
	seedLocalActivity(t, localB, "b-work", "work")

	resultA := engineA.PerformFullSync(ctx, testUser)
	if !resultA.Success || resultA.Activities.Pushed != 1 || resultA.Sessions.Pushed != 1 {
		t.Fatalf("device A sync = %+v, want 1 activity and 1 session pushed", resultA)
	}

	resultB := engineB.PerformFullSync(ctx, testUser)
	if !resultB.Success {
		t.Fatalf("device B sync failed: %v %v", resultB.Activities.Errors, resultB.Sessions.Errors)
	}
	if resultB.Activities.Pulled != 0 {
		t.Errorf("device B pulled %d activities, want 0 (name-matching dedup)", resultB.Activities.Pulled)
	}
	if resultB.Sessions.Pulled != 1 {
		t.Errorf("device B pulled %d sessions, want 1", resultB.Sessions.Pulled)
	}

	activitiesB, err := localB.ListActivities(ctx)
	if err != nil {
		t.Fatalf("ListActivities() error = %v", err)
	}
	workCount := 0
	for _, a := range activitiesB {
		if strings.EqualFold(a.Name, "work") {
			workCount++
		}
	}
	if workCount != 1 {
		t.Errorf("device B has %d Work activities, want exactly 1", workCount)
	}

	remotes, err := remote.ListActivities(ctx, testUser)
	if err != nil {
		t.Fatalf("ListActivities() error = %v", err)
	}
	remoteWork := 0
	for _, a := range remotes {
		if strings.EqualFold(a.Name, "work") {
			remoteWork++
		}
	}
	if remoteWork != 1 {
		t.Errorf("remote has %d Work activities, want exactly 1", remoteWork)
	}
}
