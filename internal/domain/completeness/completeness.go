// Package completeness decides which readings are finalized enough to import.
//
// A day is importable only when it is old enough that the portal will no
// longer revise it and every hour of it carries a measured value. Partial
// days are skipped whole; they are never imported hour by hour.
package completeness

import (
	"sort"
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
)

// Default filter configuration constants.
const (
	defaultCutoffDays = 2
)

// Reasons a day is not eligible.
const (
	ReasonEligible     = ""
	ReasonAfterCutoff  = "after_cutoff"
	ReasonMissingHours = "missing_hours"
	ReasonExtraHours   = "extra_hours"
	ReasonDuplicate    = "duplicate_hour"
	ReasonNotMeasured  = "not_measured"
	ReasonInvalidValue = "invalid_value"
	ReasonNoReadings   = "no_readings"
)

// Filter implements the completeness gate.
type Filter struct {
	loc           *time.Location
	clock         model.Clock
	expectedHours int
	cutoffDays    int
}

// Verdict explains the decision taken for one day.
type Verdict struct {
	Day      model.Day
	Hours    int
	Expected int
	Reason   string
}

// Eligible reports whether the day passed the gate.
func (v Verdict) Eligible() bool { return v.Reason == ReasonEligible }

// New creates a Filter. Defaults: UTC calendar, system clock, civil day
// length, cutoff two days behind today(UTC).
func New(opts ...Option) *Filter {
	f := &Filter{
		loc:        time.UTC,
		clock:      model.SystemClock{},
		cutoffDays: defaultCutoffDays,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Cutoff returns the newest day that may be imported.
func (f *Filter) Cutoff() model.Day {
	return model.DayOf(f.clock.Now(), time.UTC).AddDays(-f.cutoffDays)
}

// Completed returns the readings of every fully measured day on or before
// the cutoff, sorted chronologically. It returns nil when no day qualifies.
func (f *Filter) Completed(readings []model.Reading) []model.Reading {
	byDay := f.group(readings)
	verdicts := f.evaluate(byDay)

	var out []model.Reading
	for _, v := range verdicts {
		if v.Eligible() {
			out = append(out, byDay[v.Day]...)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Evaluate returns one verdict per day present in readings, oldest first.
func (f *Filter) Evaluate(readings []model.Reading) []Verdict {
	byDay := f.group(readings)
	return f.evaluate(byDay)
}

// Leading returns the readings of the run of consecutive eligible days that
// starts at from, plus a verdict for every day in [from, to] (days without
// any reading included). The run stops at the first ineligible or missing
// day: importing past a gap would skip that day for good.
func (f *Filter) Leading(readings []model.Reading, from, to model.Day) ([]model.Reading, []Verdict) {
	if from.IsZero() || to.Before(from) {
		return nil, nil
	}
	byDay := f.group(readings)
	cutoff := f.Cutoff()

	var (
		out      []model.Reading
		verdicts []Verdict
	)
	open := true
	for d := from; !d.After(to); d = d.AddDays(1) {
		rs, ok := byDay[d]
		var v Verdict
		if ok {
			v = f.judge(d, rs, cutoff)
		} else {
			v = Verdict{Day: d, Expected: f.expected(d), Reason: ReasonNoReadings}
		}
		verdicts = append(verdicts, v)

		if open && v.Eligible() {
			out = append(out, rs...)
			continue
		}
		open = false
	}
	if len(out) == 0 {
		return nil, verdicts
	}
	return out, verdicts
}

func (f *Filter) expected(d model.Day) int {
	if f.expectedHours > 0 {
		return f.expectedHours
	}
	return d.Hours(f.loc)
}

// group buckets readings by civil day, each bucket sorted by time.
func (f *Filter) group(readings []model.Reading) map[model.Day][]model.Reading {
	byDay := make(map[model.Day][]model.Reading)
	for _, r := range readings {
		d := r.Day(f.loc)
		byDay[d] = append(byDay[d], r)
	}
	for _, rs := range byDay {
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Timestamp.Before(rs[j].Timestamp) })
	}
	return byDay
}

func (f *Filter) evaluate(byDay map[model.Day][]model.Reading) []Verdict {
	cutoff := f.Cutoff()
	verdicts := make([]Verdict, 0, len(byDay))
	for d, rs := range byDay {
		verdicts = append(verdicts, f.judge(d, rs, cutoff))
	}
	sort.Slice(verdicts, func(i, j int) bool { return verdicts[i].Day.Before(verdicts[j].Day) })
	return verdicts
}

func (f *Filter) judge(d model.Day, rs []model.Reading, cutoff model.Day) Verdict {
	expected := f.expected(d)
	v := Verdict{Day: d, Hours: len(rs), Expected: expected}

	if d.After(cutoff) {
		v.Reason = ReasonAfterCutoff
		return v
	}

	slots := make(map[int64]struct{}, len(rs))
	for _, r := range rs {
		key := r.Timestamp.Unix()
		if _, dup := slots[key]; dup {
			v.Reason = ReasonDuplicate
			return v
		}
		slots[key] = struct{}{}
		if r.Status != model.StatusMeasured {
			v.Reason = ReasonNotMeasured
			return v
		}
		if !r.Valid() {
			v.Reason = ReasonInvalidValue
			return v
		}
	}

	switch {
	case len(slots) < expected:
		v.Reason = ReasonMissingHours
	case len(slots) > expected:
		v.Reason = ReasonExtraHours
	}
	return v
}
