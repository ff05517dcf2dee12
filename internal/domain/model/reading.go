// Package model contains domain models passed between layers.
package model

import (
	"math"
	"strings"
	"time"
)

// Status is the measurement state the portal attaches to a reading.
type Status int

// Reading statuses.
const (
	StatusUnknown Status = iota
	StatusMeasured
	StatusProvisional
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusMeasured:
		return "measured"
	case StatusProvisional:
		return "provisional"
	default:
		return "unknown"
	}
}

// ParseStatus maps the portal's textual flags onto a Status.
// Unrecognised values are StatusUnknown.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "measured", "final", "ok", "valid", "m":
		return StatusMeasured
	case "provisional", "estimated", "preliminary", "calculated", "p", "e":
		return StatusProvisional
	default:
		return StatusUnknown
	}
}

// Reading is one hourly consumption value as produced by the reading source.
type Reading struct {
	Timestamp time.Time // start of the hour
	Value     float64   // kWh, never negative
	Status    Status
}

// Valid reports whether the value is a finite, non-negative number.
func (r Reading) Valid() bool {
	return !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0) && r.Value >= 0
}

// Day returns the civil day of the reading in loc.
func (r Reading) Day(loc *time.Location) Day {
	return DayOf(r.Timestamp, loc)
}
