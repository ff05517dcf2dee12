// Package reconcile turns finalized readings into an import batch that
// extends the statistics store's cumulative sum exactly once.
//
// The statistics store is the only source of truth: the anchor (last
// imported day and running sum) is read from it on every call, never from a
// local cache. The series is append-forward only; days at or before the
// anchor day are treated as already imported.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
)

// Default engine configuration constants.
const (
	defaultLookback    = 90 * 24 * time.Hour
	defaultProbeWindow = 10 * 365 * 24 * time.Hour
)

// Reader is the query side of the statistics store.
type Reader interface {
	// QueryLast returns the series' points within lookback, oldest first.
	QueryLast(ctx context.Context, statisticID string, lookback time.Duration, period model.Period) ([]model.StatisticPoint, error)
}

// Result is the outcome of one reconciliation.
type Result struct {
	// NoOp is set when every candidate day is already in the store.
	NoOp bool
	// Anchor is the store's state before this batch.
	Anchor model.ImportState
	// Next is the state after the batch is accepted. Equal to Anchor on NoOp.
	Next model.ImportState
	// SeedSum is the running sum the batch extends.
	SeedSum float64
	// Entries is the ordered import batch.
	Entries []model.StatisticEntry
	// Days lists the days covered by Entries.
	Days []model.Day
	// Skipped counts candidate readings dropped as already imported.
	Skipped int
}

// Engine reconciles candidate readings against the store's anchor.
type Engine struct {
	statisticID string
	loc         *time.Location
	lookback    time.Duration
	probeWindow time.Duration
	clock       model.Clock
}

// New creates an Engine for one statistic id.
func New(statisticID string, opts ...Option) *Engine {
	e := &Engine{
		statisticID: statisticID,
		loc:         time.UTC,
		lookback:    defaultLookback,
		probeWindow: defaultProbeWindow,
		clock:       model.SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StatisticID returns the series this engine reconciles.
func (e *Engine) StatisticID() string { return e.statisticID }

// Anchor reads the store's last imported day and running sum.
// A series without history yields the zero state.
func (e *Engine) Anchor(ctx context.Context, r Reader) (model.ImportState, error) {
	points, err := r.QueryLast(ctx, e.statisticID, e.lookback, model.PeriodHour)
	if err != nil {
		return model.ImportState{}, fmt.Errorf("%w: %s: %w", ErrQueryFailed, e.statisticID, err)
	}

	if len(points) == 0 {
		if err := e.probe(ctx, r); err != nil {
			return model.ImportState{}, err
		}
		return model.ImportState{}, nil
	}

	last := points[len(points)-1]
	if last.Start.IsZero() || math.IsNaN(last.Sum) || math.IsInf(last.Sum, 0) {
		return model.ImportState{}, fmt.Errorf("%w: start=%v sum=%v", ErrMalformedAnchor, last.Start, last.Sum)
	}
	return model.ImportState{
		LastImportedDate: model.DayOf(last.Start, e.loc),
		RunningSum:       last.Sum,
	}, nil
}

// probe makes sure an empty lookback window really means an empty series.
// Seeding from zero on top of older history would corrupt the series.
func (e *Engine) probe(ctx context.Context, r Reader) error {
	if e.probeWindow <= e.lookback {
		return nil
	}
	points, err := r.QueryLast(ctx, e.statisticID, e.probeWindow, model.PeriodMonth)
	if err != nil {
		return fmt.Errorf("%w: probe %s: %w", ErrQueryFailed, e.statisticID, err)
	}
	if len(points) > 0 {
		last := points[len(points)-1]
		return fmt.Errorf("%w: last point %s, lookback %s", ErrAnchorOutsideLookback, last.Start.Format(time.RFC3339), e.lookback)
	}
	return nil
}

// Reconcile drops readings already covered by the store and builds the
// batch for the rest. readings must come from the completeness filter:
// whole days, chronological.
func (e *Engine) Reconcile(ctx context.Context, r Reader, readings []model.Reading) (Result, error) {
	anchor, err := e.Anchor(ctx, r)
	if err != nil {
		return Result{}, err
	}
	return e.Extend(anchor, readings)
}

// Extend is the pure part of Reconcile: given the anchor, keep the readings
// of days after the anchor day and accumulate their sums.
func (e *Engine) Extend(anchor model.ImportState, readings []model.Reading) (Result, error) {
	res := Result{Anchor: anchor, Next: anchor, SeedSum: anchor.RunningSum}

	fresh := make([]model.Reading, 0, len(readings))
	for _, rd := range readings {
		d := rd.Day(e.loc)
		if !anchor.LastImportedDate.IsZero() && !d.After(anchor.LastImportedDate) {
			res.Skipped++
			continue
		}
		fresh = append(fresh, rd)
	}
	if len(fresh) == 0 {
		res.NoOp = true
		return res, nil
	}

	days := daysOf(fresh, e.loc)
	if err := contiguous(anchor.LastImportedDate, days); err != nil {
		return Result{}, err
	}

	entries, err := BuildEntries(fresh, anchor.RunningSum, e.loc)
	if err != nil {
		return Result{}, err
	}
	res.Entries = entries
	res.Days = days
	res.Next = model.ImportState{
		LastImportedDate: res.Days[len(res.Days)-1],
		RunningSum:       entries[len(entries)-1].Sum,
		UpdatedAt:        e.clock.Now(),
	}
	return res, nil
}

// BuildEntries accumulates readings on top of seed. The sum is carried in
// the same float64 the store keeps, so entries[i].Sum is exactly
// entries[i-1].Sum + entries[i].State and entries[0].Sum is seed + State.
func BuildEntries(readings []model.Reading, seed float64, loc *time.Location) ([]model.StatisticEntry, error) {
	if loc == nil {
		loc = time.UTC
	}
	entries := make([]model.StatisticEntry, 0, len(readings))
	sum := seed
	var prev time.Time
	for i, rd := range readings {
		if !rd.Valid() {
			return nil, fmt.Errorf("%w: %s value %v", ErrInvalidReading, rd.Timestamp.Format(time.RFC3339), rd.Value)
		}
		if i > 0 && !rd.Timestamp.After(prev) {
			return nil, fmt.Errorf("%w: %s after %s", ErrUnsortedReadings, rd.Timestamp.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
		prev = rd.Timestamp

		sum += rd.Value
		entries = append(entries, model.StatisticEntry{
			Start: rd.Timestamp.In(loc).Format(time.RFC3339),
			State: rd.Value,
			Sum:   sum,
		})
	}
	return entries, nil
}

// contiguous checks that days follow the anchor day without holes. An empty
// series may start anywhere.
func contiguous(anchor model.Day, days []model.Day) error {
	prev := anchor
	for _, d := range days {
		if !prev.IsZero() && d != prev.AddDays(1) {
			return fmt.Errorf("%w: %s follows %s", ErrGap, d, prev)
		}
		prev = d
	}
	return nil
}

func daysOf(readings []model.Reading, loc *time.Location) []model.Day {
	seen := make(map[model.Day]struct{})
	var days []model.Day
	for _, rd := range readings {
		d := rd.Day(loc)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
