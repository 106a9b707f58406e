package tracker_test

import (
	"context"
	"testing"
	"time"

	"tt-go/internal/remotestore"
	"tt-go/internal/testutil"
	"tt-go/internal/tracker"
)

func newTestRunner(t *testing.T, remote *remotestore.MemoryStore, online tracker.OnlineFunc) (*tracker.Runner, tracker.LocalStore) {
	t.Helper()
	local := testutil.NewTestLocalStore(t)
	logger := tracker.NewNopLogger()
	clock := testutil.NewStubClock(testutil.FixedClock().Now())
	idgen := testutil.NewStubIDGenerator()
	id := tracker.StaticIdentity(testUser)
	device := tracker.DeviceInfo{ID: "dev-a", Name: "Linux Device", UserAgent: "tt-go (linux/amd64)"}

	engine := tracker.NewSyncEngine(local, remote, logger, clock, idgen)
	coordinator := tracker.NewCoordinator(local, remote, id, device, logger, clock, idgen)
	runner := tracker.NewRunner(engine, coordinator, id, online, logger)
	runner.PollInterval = 10 * time.Millisecond
	runner.HeartbeatInterval = time.Hour
	return runner, local
}

func alwaysOnline(context.Context) bool { return true }

func waitForResult(t *testing.T, runner *tracker.Runner) *tracker.FullSyncResult {
	t.Helper()
	select {
	case result := <-runner.Results():
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sync result")
		return nil
	}
}

func TestRunner_Run(t *testing.T) {
	t.Run("syncs once at startup when online", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		runner, local := newTestRunner(t, remote, alwaysOnline)

		seedLocalActivity(t, local, "act-1", "Work")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go runner.Run(ctx)

		result := waitForResult(t, runner)
		if !result.Success || result.Activities.Pushed != 1 {
			t.Errorf("startup sync = %+v, want success with 1 activity pushed", result)
		}

		remotes, err := remote.ListActivities(ctx, testUser)
		if err != nil {
			t.Fatalf("ListActivities() error = %v", err)
		}
		if len(remotes) != 1 {
			t.Errorf("remote has %d activities, want 1", len(remotes))
		}
	})

	t.Run("registers the device at startup", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		runner, _ := newTestRunner(t, remote, alwaysOnline)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go runner.Run(ctx)

		waitForResult(t, runner)

		devices, err := remote.ListDevices(ctx, testUser)
		if err != nil {
			t.Fatalf("ListDevices() error = %v", err)
		}
		if len(devices) != 1 || devices[0].DeviceID != "dev-a" {
			t.Errorf("devices = %+v, want one registration for dev-a", devices)
		}
	})

	t.Run("manual trigger runs a pass", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		runner, local := newTestRunner(t, remote, alwaysOnline)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go runner.Run(ctx)

		waitForResult(t, runner) // startup pass

		seedLocalActivity(t, local, "act-2", "Reading")
		runner.Trigger()

		result := waitForResult(t, runner)
		if result.Activities.Pushed != 1 {
			t.Errorf("triggered sync pushed %d activities, want 1", result.Activities.Pushed)
		}
	})

	t.Run("syncs on offline to online transition", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		var reachable bool
		online := func(context.Context) bool {
			return reachable
		}
		runner, local := newTestRunner(t, remote, online)

		seedLocalActivity(t, local, "act-1", "Work")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go runner.Run(ctx)

		// Starting offline, no sync happens. Give the poller a few ticks.
		select {
		case result := <-runner.Results():
			t.Fatalf("unexpected sync while offline: %+v", result)
		case <-time.After(50 * time.Millisecond):
		}

		reachable = true

		result := waitForResult(t, runner)
		if result.Activities.Pushed != 1 {
			t.Errorf("transition sync pushed %d activities, want 1", result.Activities.Pushed)
		}
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		runner, _ := newTestRunner(t, remote, alwaysOnline)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			runner.Run(ctx)
			close(done)
		}()

		waitForResult(t, runner)
		cancel()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancellation")
		}
	})

	t.Run("idles without an authenticated user", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		local := testutil.NewTestLocalStore(t)
		logger := tracker.NewNopLogger()
		clock := testutil.NewStubClock(testutil.FixedClock().Now())
		idgen := testutil.NewStubIDGenerator()
		id := tracker.StaticIdentity("")
		device := tracker.DeviceInfo{ID: "dev-a", Name: "Linux Device"}

		engine := tracker.NewSyncEngine(local, remote, logger, clock, idgen)
		coordinator := tracker.NewCoordinator(local, remote, id, device, logger, clock, idgen)
		runner := tracker.NewRunner(engine, coordinator, id, alwaysOnline, logger)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			runner.Run(ctx)
			close(done)
		}()

		select {
		case result := <-runner.Results():
			t.Fatalf("unexpected sync without a user: %+v", result)
		case <-time.After(50 * time.Millisecond):
		}

		cancel()
		<-done

		devices, err := remote.ListDevices(ctx, "")
		if err != nil {
			t.Fatalf("ListDevices() error = %v", err)
		}
		if len(devices) != 0 {
			t.Errorf("devices registered without a user: %+v", devices)
		}
	})
}

func TestRunner_Trigger(t *testing.T) {
	t.Run("coalesces while a request is queued", func(t *testing.T) {
		remote := remotestore.NewMemoryStore()
		runner, _ := newTestRunner(t, remote, alwaysOnline)

		// Not running; all triggers land in the one-slot buffer.
		runner.Trigger()
		runner.Trigger()
		runner.Trigger()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go runner.Run(ctx)

		waitForResult(t, runner) // startup pass
		waitForResult(t, runner) // the single coalesced trigger

		select {
		case result := <-runner.Results():
			t.Fatalf("triggers did not coalesce, extra result: %+v", result)
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestRunner_ResultsBestEffort(t *testing.T) {
	remote := remotestore.NewMemoryStore()
	runner, local := newTestRunner(t, remote, alwaysOnline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	// Never read the startup result; the buffered slot stays full. Later
	// passes must still complete instead of blocking forever.
	time.Sleep(20 * time.Millisecond)

	seedLocalActivity(t, local, "act-1", "Work")
	runner.Trigger()

	deadline := time.Now().Add(2 * time.Second)
	for {
		remotes, err := remote.ListActivities(ctx, testUser)
		if err != nil {
			t.Fatalf("ListActivities() error = %v", err)
		}
		if len(remotes) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("triggered sync never reached the remote store")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
