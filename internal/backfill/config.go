// Package backfill drives the one-shot history import behind cmd/import-history.
package backfill

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/meterbridge/internal/domain/model"
)

// ErrInvalidRange is returned for a missing or reversed day range.
var ErrInvalidRange = errors.New("backfill: invalid range")

// Config holds the options of one backfill run.
type Config struct {
	From model.Day // first day to import
	To   model.Day // last day; capped at the cutoff by the service
}

// ParseRange parses -from/-to flags (YYYY-MM-DD). An empty to means today;
// the service caps it at the cutoff.
func ParseRange(from, to string, today model.Day) (model.Day, model.Day, error) {
	if strings.TrimSpace(from) == "" {
		return model.Day{}, model.Day{}, fmt.Errorf("%w: -from is required", ErrInvalidRange)
	}
	f, err := model.ParseDay(strings.TrimSpace(from))
	if err != nil {
		return model.Day{}, model.Day{}, fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}

	t := today
	if strings.TrimSpace(to) != "" {
		if t, err = model.ParseDay(strings.TrimSpace(to)); err != nil {
			return model.Day{}, model.Day{}, fmt.Errorf("%w: %w", ErrInvalidRange, err)
		}
	}
	if t.Before(f) {
		return model.Day{}, model.Day{}, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, f, t)
	}
	return f, t, nil
}
