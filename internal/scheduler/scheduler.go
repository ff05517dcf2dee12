// Package scheduler turns wall-clock time into cycle triggers: one daily
// run at a fixed local time, an optional run at start, and a one-shot
// timer for the pending retry deadline.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/meterbridge/internal/adapters/mq/queue"
	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
)

// Enqueuer accepts triggers.
type Enqueuer interface {
	Enqueue(ctx context.Context, t model.Trigger) error
}

// RetrySource exposes the pending retry deadline.
type RetrySource interface {
	Pending() (time.Time, bool)
}

// Scheduler emits triggers into a queue.
type Scheduler struct {
	queue      Enqueuer
	retry      RetrySource
	clock      model.Clock
	loc        *time.Location
	hour       int
	minute     int
	runOnStart bool
	logger     logger.Logger

	mu         sync.Mutex
	started    bool
	retryTimer *time.Timer
	retryAt    time.Time
	stop       chan struct{}
	wg         sync.WaitGroup
}

// New creates a scheduler. The default daily run is 08:15 UTC.
func New(q Enqueuer, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:  q,
		clock:  model.SystemClock{},
		loc:    time.UTC,
		hour:   8,
		minute: 15,
		logger: logger.Nop(),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextRun returns the first daily run time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.loc)
	}
	return next
}

// Start launches the daily loop and arms the retry timer.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if s.runOnStart {
		s.fire(ctx, model.TriggerStartup)
	}
	s.ArmRetry(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info(ctx, "scheduler started",
		logger.Time("next_run", s.NextRun(s.clock.Now())),
		logger.Bool("run_on_start", s.runOnStart))
}

// Stop halts the daily loop and the retry timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
}

// ArmRetry aligns the one-shot retry timer with the pending deadline. A
// deadline already in the past fires at once. It is called at start and
// after every cycle.
func (s *Scheduler) ArmRetry(ctx context.Context) {
	if s.retry == nil {
		return
	}
	at, pending := s.retry.Pending()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if !pending {
		if s.retryTimer != nil {
			s.retryTimer.Stop()
			s.retryTimer = nil
			s.retryAt = time.Time{}
		}
		return
	}
	if s.retryTimer != nil && s.retryAt.Equal(at) {
		return
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}

	delay := max(at.Sub(s.clock.Now()), 0)
	s.retryAt = at
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.retryAt.Equal(at) {
			s.retryTimer = nil
			s.retryAt = time.Time{}
		}
		s.mu.Unlock()
		s.fire(context.WithoutCancel(ctx), model.TriggerRetry)
	})
	s.logger.Info(ctx, "retry timer armed",
		logger.Time("retry_at", at),
		logger.Duration("in", delay))
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.NextRun(s.clock.Now())
		timer := time.NewTimer(next.Sub(s.clock.Now()))
		select {
		case <-timer.C:
			s.fire(ctx, model.TriggerSchedule)
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, reason model.TriggerReason) {
	t := model.NewTrigger(reason, s.clock.Now())
	err := s.queue.Enqueue(ctx, t)
	switch {
	case err == nil:
		s.logger.Debug(ctx, "trigger enqueued",
			logger.String("trigger_id", t.ID.String()),
			logger.String("reason", string(reason)))
	case errors.Is(err, queue.ErrCoalesced):
		s.logger.Info(ctx, "trigger coalesced with pending cycle", logger.String("reason", string(reason)))
	default:
		s.logger.Warn(ctx, "trigger dropped", logger.String("reason", string(reason)), logger.Error(err))
	}
}
