package sink

import (
	"errors"
	"fmt"
)

var (
	ErrDial              = errors.New("sink: dial failed")
	ErrAuthFailed        = errors.New("sink: authentication failed")
	ErrMalformedResponse = errors.New("sink: malformed response")
	ErrRequestFailed     = errors.New("sink: request failed")
	ErrImportRejected    = errors.New("sink: import rejected")
	ErrClosed            = errors.New("sink: session closed")
)

// RemoteError is the error object the statistics store attaches to a failed result.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
