// Package completeness decides which readings are finalized enough to import.
package completeness

import (
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
)

// Option applies a configuration option to the Filter.
type Option func(*Filter)

// WithLocation sets the civil calendar used to group readings into days.
func WithLocation(loc *time.Location) Option {
	return func(f *Filter) {
		if loc != nil {
			f.loc = loc
		}
	}
}

// WithClock sets the clock used to compute the cutoff day.
func WithClock(clock model.Clock) Option {
	return func(f *Filter) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithExpectedHours fixes the number of hours a full day must have.
// Zero or negative uses the civil length of each day in the location.
func WithExpectedHours(hours int) Option {
	return func(f *Filter) {
		f.expectedHours = hours
	}
}

// WithCutoffDays sets how many days behind today(UTC) the cutoff day lies.
func WithCutoffDays(days int) Option {
	return func(f *Filter) {
		if days >= 0 {
			f.cutoffDays = days
		}
	}
}
