package identity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/repositories"
)

// ActivityTracker records last-active timestamps in the background.
// Track never blocks and never fails the caller: when the buffer is
// full the update is dropped and logged.
type ActivityTracker struct {
	users   repositories.UserRepository
	logger  *zap.Logger
	updates chan activityUpdate
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

type activityUpdate struct {
	userID string
	at     time.Time
}

// TrackerConfig holds configuration for the ActivityTracker
type TrackerConfig struct {
	BufferSize  int
	WorkerCount int
}

// DefaultTrackerConfig returns the default configuration
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		BufferSize:  1024,
		WorkerCount: 2,
	}
}

// NewActivityTracker creates a new ActivityTracker
func NewActivityTracker(users repositories.UserRepository, logger *zap.Logger, cfg TrackerConfig) *ActivityTracker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultTrackerConfig().BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultTrackerConfig().WorkerCount
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ActivityTracker{
		users:   users,
		logger:  logger,
		updates: make(chan activityUpdate, cfg.BufferSize),
		workers: cfg.WorkerCount,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the background workers
func (t *ActivityTracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return
	}

	for i := 0; i < t.workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}
	t.started = true
}

// Stop drains pending updates and stops the workers
func (t *ActivityTracker) Stop(timeout time.Duration) {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	t.mu.Unlock()

	close(t.updates)

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.logger.Warn("activity tracker stop timed out",
			zap.Int("pending_updates", len(t.updates)))
	}
	t.cancel()
}

// Track schedules a last-active update for userID. It returns
// immediately; a full buffer drops the update.
func (t *ActivityTracker) Track(userID string) {
	select {
	case t.updates <- activityUpdate{userID: userID, at: time.Now()}:
	default:
		t.logger.Debug("activity buffer full, dropping update",
			zap.String("user_id", userID))
	}
}

func (t *ActivityTracker) worker() {
	defer t.wg.Done()

	for update := range t.updates {
		ctx, cancel := context.WithTimeout(t.ctx, 5*time.Second)
		err := t.users.UpdateLastActiveAt(ctx, update.userID, update.at)
		cancel()

		if err != nil {
			// never propagated: activity tracking must not affect auth
			t.logger.Warn("failed to update last active timestamp",
				zap.String("user_id", update.userID),
				zap.Error(err))
		}
	}
}
