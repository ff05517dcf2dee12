package queue

import "errors"

// Sentinel kinds for enqueue errors.
var (
	ErrClosed    = errors.New("queue closed")
	ErrCoalesced = errors.New("trigger coalesced into the pending one")
)
