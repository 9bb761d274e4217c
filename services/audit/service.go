// Package audit persists audit records asynchronously so that policy
// decisions and group mutations never block on the audit store.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knowledgehub/knowledge-hub/models"
	"github.com/knowledgehub/knowledge-hub/repositories"
)

// Service handles asynchronous audit logging
type Service struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *models.AuditLog
	workerCount int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	mu          sync.Mutex
}

// Config holds configuration for the audit Service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  4096,
		WorkerCount: 2,
	}
}

// NewService creates a new audit Service
func NewService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *Service {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *models.AuditLog, config.BufferSize),
		workerCount: config.WorkerCount,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", cap(s.eventChan)))
	return nil
}

// Stop gracefully stops the audit service, draining pending events
// within the timeout.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))
	close(s.eventChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timed out with %d pending events", len(s.eventChan))
	}

	s.cancel()
	return nil
}

// Record enqueues an audit entry. It never blocks: when the buffer is
// full the record is dropped and logged, keeping audit off every
// request's critical path.
func (s *Service) Record(log *models.AuditLog) {
	select {
	case s.eventChan <- log:
	default:
		s.logger.Error("audit buffer full, dropping record",
			zap.String("actor_id", log.ActorID),
			zap.String("action", string(log.Action)))
	}
}

func (s *Service) worker() {
	defer s.wg.Done()

	for entry := range s.eventChan {
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		err := s.auditRepo.Insert(ctx, entry)
		cancel()

		if err != nil {
			s.logger.Error("failed to persist audit record",
				zap.String("actor_id", entry.ActorID),
				zap.String("action", string(entry.Action)),
				zap.Error(err))
		}
	}
}
