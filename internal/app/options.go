package service

import (
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/internal/domain/retry"
	"github.com/okian/meterbridge/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithSource sets the reading source.
func WithSource(src Source) Option {
	return func(s *Service) { s.source = src }
}

// WithSink sets the statistics store.
func WithSink(sk Sink) Option {
	return func(s *Service) { s.sink = sk }
}

// WithRetry sets the retry controller.
func WithRetry(c *retry.Controller) Option {
	return func(s *Service) { s.retry = c }
}

// WithMirror sets the local import-state mirror.
func WithMirror(m Mirror) Option {
	return func(s *Service) { s.mirror = m }
}

// WithJournal sets the cycle journal.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithPublisher sets where the newest imported day is announced after an import.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithStatistic sets the target series' metadata.
func WithStatistic(meta model.StatisticMetadata) Option {
	return func(s *Service) { s.meta = meta }
}

// WithLocation sets the series' civil calendar.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock sets the service's time source.
func WithClock(clock model.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCatchupDays sets how many finalized days an empty series is seeded with.
func WithCatchupDays(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.catchupDays = n
		}
	}
}

// WithCycleTimeout bounds a whole cycle.
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cycleTimeout = d
		}
	}
}

// WithLookback sets the anchor query window.
func WithLookback(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lookback = d
		}
	}
}

// WithProbeWindow sets the wide query used when the lookback window is empty.
func WithProbeWindow(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.probeWindow = d
		}
	}
}

// WithExpectedHours pins the number of hours a complete day has.
func WithExpectedHours(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.expectedHours = n
		}
	}
}

// WithCutoffDays sets how many days behind today(UTC) the newest importable day is.
func WithCutoffDays(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.cutoffDays = n
		}
	}
}

// WithDailyRun sets the daily trigger time in the series location.
func WithDailyRun(hour, minute int) Option {
	return func(s *Service) {
		s.runHour, s.runMinute = hour, minute
	}
}

// WithRunOnStart runs a cycle as soon as the service starts.
func WithRunOnStart(enabled bool) Option {
	return func(s *Service) { s.runOnStart = enabled }
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
