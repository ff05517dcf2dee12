package mqtt

import "errors"

var (
	ErrConnect = errors.New("mqtt: connect failed")
	ErrPublish = errors.New("mqtt: publish failed")
	ErrTimeout = errors.New("mqtt: broker did not answer in time")
	ErrNoData  = errors.New("mqtt: no readings for day")
)
