package scheduler

import (
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithDailyRun sets the daily run time in the series location.
func WithDailyRun(hour, minute int, loc *time.Location) Option {
	return func(s *Scheduler) {
		s.hour, s.minute = hour, minute
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithRunOnStart enqueues a cycle as soon as the scheduler starts.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) { s.runOnStart = enabled }
}

// WithRetry sets the source of the pending retry deadline.
func WithRetry(r RetrySource) Option {
	return func(s *Scheduler) { s.retry = r }
}

// WithClock sets the scheduler's time source.
func WithClock(clock model.Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets a custom logger for the scheduler.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
