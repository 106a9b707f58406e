package tracker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tt-go/internal/model"
	"tt-go/internal/remotestore"
	"tt-go/internal/testutil"
	"tt-go/internal/tracker"
)

const testUser = "user-1"

func newTestCoordinator(t *testing.T, deviceID, deviceName string, remote tracker.RemoteStore, clock *testutil.StubClock) (*tracker.Coordinator, tracker.LocalStore) {
	t.Helper()
	local := testutil.NewTestLocalStore(t)
	device := tracker.DeviceInfo{ID: deviceID, Name: deviceName, UserAgent: "tt-go (test)"}
	c := tracker.NewCoordinator(local, remote, tracker.StaticIdentity(testUser), device,
		tracker.NewNopLogger(), clock, testutil.NewStubIDGenerator())
	return c, local
}

func TestCoordinator_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("claims the global timer", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		clock := testutil.FixedClock()
		c, local := newTestCoordinator(t, "dev-a", "Linux Device", remote, clock)

		session, err := c.Start(ctx, "act-1")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if session.SyncStatus != model.SyncPending {
			t.Errorf("session SyncStatus = %q, want %q", session.SyncStatus, model.SyncPending)
		}

		state, err := local.GetTimerState(ctx)
		if err != nil {
			t.Fatalf("GetTimerState() error = %v", err)
		}
		if !state.IsRunning || state.CurrentSessionID != session.ID {
			t.Errorf("local timer state = %+v, want running session %s", state, session.ID)
		}

		global, err := remote.GetGlobalTimer(ctx, testUser)
		if err != nil {
			t.Fatalf("GetGlobalTimer() error = %v", err)
		}
		if global == nil || !global.IsRunning {
			t.Fatal("global timer not running after Start")
		}
		if global.DeviceID != "dev-a" || global.CurrentSessionID != session.ID {
			t.Errorf("global timer = %+v, want owned by dev-a with session %s", global, session.ID)
		}
	})

	t.Run("rejects when another device owns the timer", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		clock := testutil.FixedClock()
		a, _ := newTestCoordinator(t, "dev-a", "Linux Device", remote, clock)
		b, localB := newTestCoordinator(t, "dev-b", "Mac", remote, clock)

		if _, err := a.Start(ctx, "act-1"); err != nil {
			t.Fatalf("Start() on dev-a error = %v", err)
		}

		_, err := b.Start(ctx, "act-2")
		var conflict *tracker.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("Start() on dev-b error = %v, want ConflictError", err)
		}
		if conflict.DeviceName != "Linux Device" {
			t.Errorf("ConflictError.DeviceName = %q, want %q", conflict.DeviceName, "Linux Device")
		}

		// The rejected start must leave no local residue.
		state, err := localB.GetTimerState(ctx)
		if err != nil {
			t.Fatalf("GetTimerState() error = %v", err)
		}
		if state.IsRunning {
			t.Error("dev-b local timer running after rejected Start")
		}
	})

	t.Run("requires the remote store to be reachable", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		remote.SetPingError(errors.New("no route to host"))
		c, _ := newTestCoordinator(t, "dev-a", "Linux Device", remote, testutil.FixedClock())

		_, err := c.Start(ctx, "act-1")
		if !errors.Is(err, tracker.ErrOffline) {
			t.Errorf("Start() offline error = %v, want ErrOffline", err)
		}
	})

	t.Run("requires a user", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		local := testutil.NewTestLocalStore(t)
		c := tracker.NewCoordinator(local, remote, tracker.StaticIdentity(""),
			tracker.DeviceInfo{ID: "dev-a"}, tracker.NewNopLogger(),
			testutil.FixedClock(), testutil.NewStubIDGenerator())

		if _, err := c.Start(ctx, "act-1"); !errors.Is(err, tracker.ErrNotAuthenticated) {
			t.Errorf("Start() error = %v, want ErrNotAuthenticated", err)
		}
	})

	t.Run("same device may restart its own timer", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		clock := testutil.FixedClock()
		c, _ := newTestCoordinator(t, "dev-a", "Linux Device", remote, clock)

		if _, err := c.Start(ctx, "act-1"); err != nil {
			t.Fatalf("first Start() error = %v", err)
		}
		// Owning the global record already, the same device is not in conflict.
		if _, err := c.Start(ctx, "act-2"); err != nil {
			t.Fatalf("second Start() error = %v", err)
		}
	})
}

func TestCoordinator_Stop(t *testing.T) {
	ctx := context.Background()

	t.Run("computes duration and clears both stores", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		clock := testutil.FixedClock()
		c, local := newTestCoordinator(t, "dev-a", "Linux Device", remote, clock)

		started, err := c.Start(ctx, "act-1")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		clock.Advance(90*time.Second + 700*time.Millisecond)

		stopped, err := c.Stop(ctx)
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		if stopped.ID != started.ID {
			t.Errorf("stopped session %s, want %s", stopped.ID, started.ID)
		}
		if stopped.Duration == nil || *stopped.Duration != 90 {
			t.Errorf("Duration = %v, want 90 (whole seconds, floored)", stopped.Duration)
		}
		if stopped.SyncStatus != model.SyncPending {
			t.Errorf("SyncStatus = %q, want pending so the final state is pushed", stopped.SyncStatus)
		}

		state, err := local.GetTimerState(ctx)
		if err != nil {
			t.Fatalf("GetTimerState() error = %v", err)
		}
		if state.IsRunning || state.CurrentSessionID != "" {
			t.Errorf("local timer state not cleared: %+v", state)
		}

		global, err := remote.GetGlobalTimer(ctx, testUser)
		if err != nil {
			t.Fatalf("GetGlobalTimer() error = %v", err)
		}
		if global != nil {
			t.Errorf("global timer record still present after Stop: %+v", global)
		}
	})

	t.Run("returns nil when nothing is tracked", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		c, _ := newTestCoordinator(t, "dev-a", "Linux Device", remote, testutil.FixedClock())

		session, err := c.Stop(ctx)
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		if session != nil {
			t.Errorf("Stop() = %+v, want nil", session)
		}
	})

	t.Run("works offline for the local half", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		clock := testutil.FixedClock()
		c, local := newTestCoordinator(t, "dev-a", "Linux Device", remote, clock)

		if _, err := c.Start(ctx, "act-1"); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		clock.Advance(30 * time.Second)

		// Clearing the global record fails; the session still stops locally.
		remote.SetClearError(errors.New("connection reset"))
		session, err := c.Stop(ctx)

		var remoteErr *tracker.RemoteWriteError
		if !errors.As(err, &remoteErr) {
			t.Fatalf("Stop() error = %v, want RemoteWriteError", err)
		}
		if session == nil || session.Duration == nil || *session.Duration != 30 {
			t.Fatalf("Stop() session = %+v, want stopped with duration 30", session)
		}

		state, err := local.GetTimerState(ctx)
		if err != nil {
			t.Fatalf("GetTimerState() error = %v", err)
		}
		if state.IsRunning {
			t.Error("local timer still running after Stop with remote failure")
		}
	})
}

func TestCoordinator_TakeOver(t *testing.T) {
	ctx := context.Background()

	t.Run("preserves session and start time, swaps the owner", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		clock := testutil.FixedClock()
		a, _ := newTestCoordinator(t, "dev-a", "Linux Device", remote, clock)
		b, localB := newTestCoordinator(t, "dev-b", "Mac", remote, clock)

		started, err := a.Start(ctx, "act-1")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		startTime := started.StartTime

		clock.Advance(10 * time.Minute)

		taken, err := b.TakeOver(ctx)
		if err != nil {
			t.Fatalf("TakeOver() error = %v", err)
		}
		if taken.DeviceID != "dev-b" || taken.DeviceName != "Mac" {
			t.Errorf("owner = %s/%s, want dev-b/Mac", taken.DeviceID, taken.DeviceName)
		}
		if taken.CurrentSessionID != started.ID {
			t.Errorf("CurrentSessionID = %s, want %s", taken.CurrentSessionID, started.ID)
		}
		if taken.StartTime == nil || !taken.StartTime.Equal(startTime) {
			t.Errorf("StartTime = %v, want %v (clock keeps running)", taken.StartTime, startTime)
		}

		state, err := localB.GetTimerState(ctx)
		if err != nil {
			t.Fatalf("GetTimerState() error = %v", err)
		}
		if !state.IsRunning || state.CurrentSessionID != started.ID {
			t.Errorf("dev-b local state = %+v, want running session %s", state, started.ID)
		}
	})

	t.Run("rejects when no timer is running", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		c, _ := newTestCoordinator(t, "dev-b", "Mac", remote, testutil.FixedClock())

		if _, err := c.TakeOver(ctx); !errors.Is(err, tracker.ErrNoConflict) {
			t.Errorf("TakeOver() error = %v, want ErrNoConflict", err)
		}
	})

	t.Run("rejects taking over own timer", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		c, _ := newTestCoordinator(t, "dev-a", "Linux Device", remote, testutil.FixedClock())

		if _, err := c.Start(ctx, "act-1"); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if _, err := c.TakeOver(ctx); !errors.Is(err, tracker.ErrNoConflict) {
			t.Errorf("TakeOver() error = %v, want ErrNoConflict", err)
		}
	})

	t.Run("requires the remote store to be reachable", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		remote.SetPingError(errors.New("network down"))
		c, _ := newTestCoordinator(t, "dev-b", "Mac", remote, testutil.FixedClock())

		if _, err := c.TakeOver(ctx); !errors.Is(err, tracker.ErrOffline) {
			t.Errorf("TakeOver() error = %v, want ErrOffline", err)
		}
	})
}

func TestCoordinator_Status(t *testing.T) {
	ctx := context.Background()

	t.Run("reports conflict when another device owns the timer", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		clock := testutil.FixedClock()
		a, _ := newTestCoordinator(t, "dev-a", "Linux Device", remote, clock)
		b, _ := newTestCoordinator(t, "dev-b", "Mac", remote, clock)

		if _, err := a.Start(ctx, "act-1"); err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		status, err := b.Status(ctx)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if !status.Conflict || !status.CanTakeOver {
			t.Errorf("status = %+v, want conflict and takeover offered", status)
		}
		if status.ConflictMessage == "" {
			t.Error("ConflictMessage empty")
		}
		if status.OwnedByThisDevice() {
			t.Error("OwnedByThisDevice() = true on dev-b")
		}

		ownStatus, err := a.Status(ctx)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if ownStatus.Conflict {
			t.Error("owner sees a conflict against itself")
		}
		if !ownStatus.OwnedByThisDevice() {
			t.Error("OwnedByThisDevice() = false on owner")
		}
	})

	t.Run("elapsed time is recomputed from the clock", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		clock := testutil.FixedClock()
		c, _ := newTestCoordinator(t, "dev-a", "Linux Device", remote, clock)

		if _, err := c.Start(ctx, "act-1"); err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		clock.Advance(2 * time.Hour)
		status, err := c.Status(ctx)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if status.ElapsedSeconds != 7200 {
			t.Errorf("ElapsedSeconds = %d, want 7200", status.ElapsedSeconds)
		}
	})

	t.Run("renders the local view when the remote is unavailable", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		clock := testutil.FixedClock()
		c, _ := newTestCoordinator(t, "dev-a", "Linux Device", remote, clock)

		if _, err := c.Start(ctx, "act-1"); err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		remote.SetTimerError(errors.New("timeout"))
		status, err := c.Status(ctx)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if status.Local == nil || !status.Local.IsRunning {
			t.Error("local view missing when remote unavailable")
		}
		if status.Global != nil {
			t.Error("stale global view returned despite remote failure")
		}
		if status.Conflict {
			t.Error("conflict reported without a global view")
		}
	})
}

func TestCoordinator_SwitchActivity(t *testing.T) {
	ctx := context.Background()

	remote := remotestore.NewMemoryStore()
	clock := testutil.FixedClock()
	c, local := newTestCoordinator(t, "dev-a", "Linux Device", remote, clock)

	first, err := c.Start(ctx, "act-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	clock.Advance(time.Minute)

	second, err := c.SwitchActivity(ctx, "act-2")
	if err != nil {
		t.Fatalf("SwitchActivity() error = %v", err)
	}
	if second.ActivityID != "act-2" {
		t.Errorf("new session activity = %s, want act-2", second.ActivityID)
	}

	stopped, err := local.GetSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if stopped.EndTime == nil || stopped.Duration == nil || *stopped.Duration != 60 {
		t.Errorf("previous session = %+v, want stopped with duration 60", stopped)
	}

	global, err := remote.GetGlobalTimer(ctx, testUser)
	if err != nil {
		t.Fatalf("GetGlobalTimer() error = %v", err)
	}
	if global == nil || global.CurrentSessionID != second.ID {
		t.Errorf("global timer = %+v, want session %s", global, second.ID)
	}
}

func TestCoordinator_DeviceRegistry(t *testing.T) {
	ctx := context.Background()

	remote := remotestore.NewMemoryStore()
	clock := testutil.FixedClock()
	c, _ := newTestCoordinator(t, "dev-a", "Linux Device", remote, clock)

	registered, err := c.RegisterDevice(ctx)
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	if registered.DeviceID != "dev-a" {
		t.Errorf("DeviceID = %s, want dev-a", registered.DeviceID)
	}

	firstSeen := registered.LastSeen
	clock.Advance(5 * time.Minute)
	c.Heartbeat(ctx)

	devices, err := c.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("Devices() = %d entries, want 1", len(devices))
	}
	if !devices[0].LastSeen.After(firstSeen) {
		t.Errorf("LastSeen = %v, want after %v", devices[0].LastSeen, firstSeen)
	}

	// Registering again must update, not duplicate.
	if _, err := c.RegisterDevice(ctx); err != nil {
		t.Fatalf("second RegisterDevice() error = %v", err)
	}
	devices, err = c.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("Devices() = %d entries after re-register, want 1", len(devices))
	}
}
