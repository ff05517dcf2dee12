// Package retry keeps the single pending retry deadline of the ingestion
// cycle. The deadline survives restarts through a Store.
package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
	"github.com/okian/meterbridge/pkg/metrics"
)

const defaultDelay = 90 * time.Minute

// State of the controller.
type State int

const (
	Idle State = iota
	RetryPending
)

func (s State) String() string {
	if s == RetryPending {
		return "retry_pending"
	}
	return "idle"
}

// Store persists the retry deadline. Load returns nil when no retry is pending.
type Store interface {
	LoadRetry(ctx context.Context) (*model.RetryState, error)
	SaveRetry(ctx context.Context, st model.RetryState) error
	ClearRetry(ctx context.Context) error
}

// Controller is the Idle/RetryPending state machine.
//
// A failure while a deadline is pending and still in the future leaves the
// deadline untouched: the first failure wins until it fires.
type Controller struct {
	mu      sync.Mutex
	store   Store
	delay   time.Duration
	clock   model.Clock
	logger  logger.Logger
	pending *model.RetryState
}

// New creates a Controller backed by store.
func New(store Store, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	c := &Controller{
		store:  store,
		delay:  defaultDelay,
		clock:  model.SystemClock{},
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Load restores the persisted deadline. It is called once at startup.
func (c *Controller) Load(ctx context.Context) error {
	st, err := c.store.LoadRetry(ctx)
	if err != nil {
		return fmt.Errorf("retry: load: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = st
	if st != nil {
		c.logger.Info(ctx, "restored pending retry",
			logger.Time("retry_at", st.RetryAt),
			logger.String("reason", st.Reason))
	}
	c.report()
	return nil
}

// Fail moves the controller to RetryPending and returns the deadline in force.
func (c *Controller) Fail(ctx context.Context, reason string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.pending != nil && c.pending.RetryAt.After(now) {
		c.logger.Debug(ctx, "retry already pending",
			logger.Time("retry_at", c.pending.RetryAt),
			logger.String("reason", reason))
		return c.pending.RetryAt, nil
	}

	st := model.RetryState{RetryAt: now.Add(c.delay), Reason: reason}
	if err := c.store.SaveRetry(ctx, st); err != nil {
		// keep the deadline in memory so the running process still retries
		c.pending = &st
		c.report()
		return st.RetryAt, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	c.pending = &st
	c.report()
	c.logger.Info(ctx, "retry scheduled",
		logger.Time("retry_at", st.RetryAt),
		logger.Duration("delay", c.delay),
		logger.String("reason", reason))
	return st.RetryAt, nil
}

// Succeed returns the controller to Idle and clears the persisted deadline.
func (c *Controller) Succeed(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	had := c.pending != nil
	if err := c.store.ClearRetry(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	c.pending = nil
	c.report()
	if had {
		c.logger.Info(ctx, "retry cleared")
	}
	return nil
}

// Pending returns the deadline when a retry is pending.
func (c *Controller) Pending() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return time.Time{}, false
	}
	return c.pending.RetryAt, true
}

// Due reports whether a pending deadline has passed.
func (c *Controller) Due() bool {
	at, ok := c.Pending()
	return ok && !at.After(c.clock.Now())
}

// State returns the current state.
func (c *Controller) State() State {
	if _, ok := c.Pending(); ok {
		return RetryPending
	}
	return Idle
}

// Snapshot returns a copy of the pending retry, or nil.
func (c *Controller) Snapshot() *model.RetryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	st := *c.pending
	return &st
}

func (c *Controller) report() {
	if c.pending == nil {
		metrics.UpdateRetry(false, time.Time{})
		return
	}
	metrics.UpdateRetry(true, c.pending.RetryAt)
}
