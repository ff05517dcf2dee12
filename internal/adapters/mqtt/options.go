package mqtt

import (
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
)

// Option applies a configuration option to the Publisher.
type Option func(*Publisher)

// WithCredentials sets the broker username and password.
func WithCredentials(username, password string) Option {
	return func(p *Publisher) {
		p.username, p.password = username, password
	}
}

// WithClientID sets the MQTT client id.
func WithClientID(id string) Option {
	return func(p *Publisher) {
		if id != "" {
			p.clientID = id
		}
	}
}

// WithTopics sets the discovery prefix and the node id the topics are built from.
func WithTopics(discoveryPrefix, nodeID string) Option {
	return func(p *Publisher) {
		if discoveryPrefix != "" {
			p.discoveryPrefix = discoveryPrefix
		}
		if nodeID != "" {
			p.nodeID = nodeID
		}
	}
}

// WithMeteringPoint sets the id used in unique ids and the device identifier.
func WithMeteringPoint(id string) Option {
	return func(p *Publisher) { p.meteringPoint = id }
}

// WithDeviceName sets the Home Assistant device name.
func WithDeviceName(name string) Option {
	return func(p *Publisher) {
		if name != "" {
			p.deviceName = name
		}
	}
}

// WithTimeout bounds the connect and every publish.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLocation sets the calendar the published day and timestamp use.
func WithLocation(loc *time.Location) Option {
	return func(p *Publisher) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithClock sets the clock stamped into the state message.
func WithClock(clock model.Clock) Option {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithConn replaces the paho client.
func WithConn(c Conn) Option {
	return func(p *Publisher) {
		if c != nil {
			p.conn = c
		}
	}
}

// WithLogger sets a custom logger for the publisher.
func WithLogger(l logger.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}
