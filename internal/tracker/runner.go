package tracker

import (
	"context"
	"time"
)

// Runner drives event-driven synchronization in the background: one sync
// pass when it starts (auth just became available), one on every
// offline-to-online transition, and one per manual trigger. There is no
// periodic sync while online and idle; the only timer here is the
// advisory device heartbeat.
//
// Triggering and completion reporting are plain channel sends, so any
// foreground context can request a pass and observe its result. Running
// without a Runner degrades gracefully: everything it does is also
// reachable from foreground calls.
type Runner struct {
	engine      *SyncEngine
	coordinator *Coordinator
	id          Identity
	online      OnlineFunc
	logger      Logger

	// PollInterval is the online-probe cadence. HeartbeatInterval refreshes
	// the device's last-seen timestamp.
	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	trigger chan struct{}
	results chan *FullSyncResult
}

// NewRunner creates a Runner with default intervals.
func NewRunner(engine *SyncEngine, coordinator *Coordinator, id Identity, online OnlineFunc, logger Logger) *Runner {
	return &Runner{
		engine:            engine,
		coordinator:       coordinator,
		id:                id,
		online:            online,
		logger:            logger,
		PollInterval:      15 * time.Second,
		HeartbeatInterval: 5 * time.Minute,
		trigger:           make(chan struct{}, 1),
		results:           make(chan *FullSyncResult, 1),
	}
}

// Trigger requests a sync pass. Non-blocking; while a request is already
// queued, additional triggers coalesce into it.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Results delivers completed sync results. Best-effort: results are
// dropped if nobody is listening.
func (r *Runner) Results() <-chan *FullSyncResult {
	return r.results
}

// Run blocks until ctx is cancelled. The caller owns the goroutine.
func (r *Runner) Run(ctx context.Context) {
	userID := r.id.UserID()
	if userID == "" {
		r.logger.Warn("runner started without authenticated user; nothing to do")
		<-ctx.Done()
		return
	}

	if _, err := r.coordinator.RegisterDevice(ctx); err != nil {
		r.logger.Debug("device registration failed", "error", err)
	}
	r.coordinator.Heartbeat(ctx)

	wasOnline := r.online(ctx)
	if wasOnline {
		r.sync(ctx, userID)
	}

	poll := time.NewTicker(r.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(r.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
			r.sync(ctx, userID)
		case <-heartbeat.C:
			r.coordinator.Heartbeat(ctx)
		case <-poll.C:
			nowOnline := r.online(ctx)
			if nowOnline && !wasOnline {
				r.logger.Info("back online, syncing")
				r.sync(ctx, userID)
			}
			wasOnline = nowOnline
		}
	}
}

func (r *Runner) sync(ctx context.Context, userID string) {
	result := r.engine.PerformFullSync(ctx, userID)
	select {
	case r.results <- result:
	default:
	}
}
