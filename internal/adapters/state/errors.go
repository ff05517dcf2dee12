package state

import "errors"

var (
	ErrCorruptState = errors.New("state: corrupt state file")
	ErrWriteState   = errors.New("state: failed to write state file")
)
