package portal

import "errors"

var (
	// ErrSourceUnavailable wraps every failure to obtain readings. Callers
	// treat it as recoverable.
	ErrSourceUnavailable = errors.New("portal: source unavailable")
	ErrLoginFailed       = errors.New("portal: login failed")
	ErrUnexpectedStatus  = errors.New("portal: unexpected http status")
	ErrMalformedPayload  = errors.New("portal: malformed payload")
	ErrInvalidRange      = errors.New("portal: invalid date range")
)
