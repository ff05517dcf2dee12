package retry

import "errors"

var (
	ErrNilStore    = errors.New("retry: store is required")
	ErrPersistence = errors.New("retry: failed to persist retry state")
)
