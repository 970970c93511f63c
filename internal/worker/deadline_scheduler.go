package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danyuan/approvalflow/internal/application/port"
	"github.com/danyuan/approvalflow/internal/application/workflow"
)

// DeadlineScheduler periodically sweeps pending requests whose SLA deadline
// has lapsed and asks the engine to escalate each one. It never decides
// anything itself: all legality checks live in the engine, so a request
// resolved by a human between the query and the escalate call is a benign
// no-op.
type DeadlineScheduler struct {
	requestRepo port.RequestRepository
	engine      workflow.Engine
	logger      *zap.Logger

	// Configuration
	sweepInterval time.Duration // how often to sweep
	batchSize     int           // max overdue records per sweep
	recordTimeout time.Duration // per-record operation budget

	// State
	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc

	now func() time.Time
}

// SchedulerOption configures the deadline scheduler
type SchedulerOption func(*DeadlineScheduler)

// WithSweepInterval sets how often the scheduler sweeps
func WithSweepInterval(interval time.Duration) SchedulerOption {
	return func(s *DeadlineScheduler) {
		s.sweepInterval = interval
	}
}

// WithBatchSize caps how many overdue records one sweep processes
func WithBatchSize(size int) SchedulerOption {
	return func(s *DeadlineScheduler) {
		s.batchSize = size
	}
}

// WithRecordTimeout bounds how long one escalate call may take
func WithRecordTimeout(timeout time.Duration) SchedulerOption {
	return func(s *DeadlineScheduler) {
		s.recordTimeout = timeout
	}
}

// WithSchedulerClock overrides the scheduler's time source (used by tests)
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *DeadlineScheduler) {
		s.now = now
	}
}

// NewDeadlineScheduler creates a new deadline scheduler
func NewDeadlineScheduler(
	requestRepo port.RequestRepository,
	engine workflow.Engine,
	logger *zap.Logger,
	opts ...SchedulerOption,
) *DeadlineScheduler {
	s := &DeadlineScheduler{
		requestRepo:   requestRepo,
		engine:        engine,
		logger:        logger,
		sweepInterval: 30 * time.Second,
		batchSize:     50,
		recordTimeout: 10 * time.Second,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start starts the sweep loop
func (s *DeadlineScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("deadline scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true

	s.logger.Info("DeadlineScheduler started",
		zap.Duration("sweep_interval", s.sweepInterval),
		zap.Int("batch_size", s.batchSize))

	go s.sweepLoop()

	return nil
}

// Stop stops the sweep loop
func (s *DeadlineScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	s.isRunning = false
	if s.cancel != nil {
		s.cancel()
	}

	s.logger.Info("DeadlineScheduler stopped")
}

// Name returns the worker name for identification
func (s *DeadlineScheduler) Name() string {
	return "DeadlineScheduler"
}

func (s *DeadlineScheduler) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	// Sweep immediately on start
	s.Sweep(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Sweep loop context cancelled")
			return

		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

// Sweep runs one pass over overdue requests, escalating each at most once.
// Per-record failures are logged and the sweep continues; a request that was
// resolved between the query and the escalate call counts as handled.
func (s *DeadlineScheduler) Sweep(ctx context.Context) {
	overdue, err := s.requestRepo.ListOverdue(ctx, s.now(), s.batchSize)
	if err != nil {
		s.logger.Error("Failed to query overdue requests", zap.Error(err))
		return
	}

	if len(overdue) == 0 {
		return
	}

	s.logger.Debug("Sweeping overdue requests", zap.Int("count", len(overdue)))

	escalated := 0
	for _, request := range overdue {
		recordCtx, cancel := context.WithTimeout(ctx, s.recordTimeout)
		_, err := s.engine.Escalate(recordCtx, request.ID)
		cancel()

		if err != nil {
			s.logger.Error("Escalation failed",
				zap.String("request_id", request.ID),
				zap.Error(err))
			continue
		}
		escalated++
	}

	s.logger.Info("Deadline sweep completed",
		zap.Int("overdue", len(overdue)),
		zap.Int("processed", escalated))
}

var _ Worker = (*DeadlineScheduler)(nil)
