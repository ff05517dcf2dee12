package reconcile

import "errors"

// Sentinel kinds for reconciliation errors.
var (
	ErrQueryFailed           = errors.New("reconcile: anchor query failed")
	ErrMalformedAnchor       = errors.New("reconcile: malformed anchor point")
	ErrAnchorOutsideLookback = errors.New("reconcile: series history is older than the lookback window")
	ErrInvalidReading        = errors.New("reconcile: invalid reading")
	ErrUnsortedReadings      = errors.New("reconcile: readings are not strictly chronological")
	ErrGap                   = errors.New("reconcile: batch does not continue the series day by day")
)
