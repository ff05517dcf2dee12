package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrMissingDependency = errors.New("service: missing dependency")
	ErrCycleInProgress   = errors.New("service: a cycle is already running")
	ErrNotStarted        = errors.New("service: not started")
	ErrSinkUnavailable   = errors.New("service: statistics store unavailable")
	ErrCyclePanic        = errors.New("service: cycle panicked")
	ErrInvalidRange      = errors.New("service: invalid backfill range")
)
