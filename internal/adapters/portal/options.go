package portal

import (
	"net/http"
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithMeteringPoint selects one metering point when the account has several.
func WithMeteringPoint(id string) Option {
	return func(c *Client) { c.meteringPoint = id }
}

// WithPeriodID sets the portal's resolution id sent with every query.
func WithPeriodID(id int) Option {
	return func(c *Client) {
		if id > 0 {
			c.periodID = id
		}
	}
}

// WithTimeout bounds every portal request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMissingStatus sets the status given to rows without a status flag.
func WithMissingStatus(s model.Status) Option {
	return func(c *Client) { c.missingStatus = s }
}

// WithLocation sets the zone for timestamps the portal sends without an offset.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its Jar is replaced
// with a fresh cookie jar per fetch.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
