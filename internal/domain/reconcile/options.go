package reconcile

import (
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithLocation sets the series' civil calendar.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithLookback sets how far back the anchor query reaches.
func WithLookback(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lookback = d
		}
	}
}

// WithProbeWindow sets the span of the coarse query that runs when the
// lookback window is empty. Zero disables the probe.
func WithProbeWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.probeWindow = d
		}
	}
}

// WithClock sets the clock stamped on produced import states.
func WithClock(clock model.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}
