// Package portal fetches hourly consumption readings from the metering
// portal. Each fetch logs in with a fresh cookie session and queries one
// civil day at a time.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
	"github.com/okian/meterbridge/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultPeriodID = 9
	defaultTimeout  = 45 * time.Second
	maxBodyBytes    = 8 << 20
)

// Credentials locate and authenticate the portal account.
type Credentials struct {
	LoginURL string
	DataURL  string
	Username string
	Password string
}

// Client is the metering portal reading source.
type Client struct {
	creds         Credentials
	meteringPoint string
	periodID      int
	timeout       time.Duration
	missingStatus model.Status
	loc           *time.Location
	httpClient    *http.Client
	logger        logger.Logger
}

// NewClient creates a portal client.
func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		creds:         creds,
		periodID:      defaultPeriodID,
		timeout:       defaultTimeout,
		missingStatus: model.StatusMeasured,
		loc:           time.UTC,
		httpClient:    &http.Client{},
		logger:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the readings for every day in [from, to]. Any failure is an
// error wrapping ErrSourceUnavailable; an empty result is never used to
// signal one.
func (c *Client) Fetch(ctx context.Context, from, to model.Day) ([]model.Reading, error) {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, fmt.Errorf("%w: %w: %s..%s", ErrSourceUnavailable, ErrInvalidRange, from, to)
	}

	hc, err := c.session()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if err := c.login(ctx, hc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	var readings []model.Reading
	for d := from; !d.After(to); d = d.AddDays(1) {
		rs, err := c.fetchDay(ctx, hc, d)
		if err != nil {
			return nil, fmt.Errorf("%w: day %s: %w", ErrSourceUnavailable, d, err)
		}
		readings = append(readings, rs...)
	}

	metrics.RecordPortalReadings(len(readings))
	c.logger.Info(ctx, "fetched readings",
		logger.String("from", from.String()),
		logger.String("to", to.String()),
		logger.Int("readings", len(readings)))
	return readings, nil
}

// session returns a client sharing the configured transport with a new cookie jar.
func (c *Client) session() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	hc := *c.httpClient
	hc.Jar = jar
	if hc.Timeout == 0 {
		hc.Timeout = c.timeout
	}
	return &hc, nil
}

func (c *Client) login(ctx context.Context, hc *http.Client) (err error) {
	start := time.Now()
	defer func() { metrics.RecordPortalRequest("login", err, time.Since(start)) }()

	form := url.Values{}
	form.Set("username", c.creds.Username)
	form.Set("password", c.creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.creds.LoginURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %w: %d", ErrLoginFailed, ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

func (c *Client) fetchDay(ctx context.Context, hc *http.Client, d model.Day) (readings []model.Reading, err error) {
	start := time.Now()
	defer func() { metrics.RecordPortalRequest("data", err, time.Since(start)) }()

	body, err := json.Marshal(newDataRequest(d, c.loc, c.periodID, c.meteringPoint))
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.creds.DataURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var payload dataResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if payload.Data == nil {
		return nil, fmt.Errorf("%w: no data object", ErrMalformedPayload)
	}

	rows := payload.Data.Dataset.Data.List
	readings, err = c.toReadings(rows)
	if err != nil {
		return nil, err
	}
	readings = onDay(readings, d, c.loc)
	c.logger.Debug(ctx, "fetched day",
		logger.String("day", d.String()),
		logger.Int("rows", len(rows)),
		logger.Int("readings", len(readings)))
	return readings, nil
}
