// Package sink talks to the statistics store over its websocket API.
//
// A Session is one authenticated connection. Requests carry increasing ids
// and replies are matched by id; any other message on the connection is
// skipped while a reply is awaited.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
	"github.com/okian/meterbridge/pkg/metrics"
)

const defaultTimeout = 30 * time.Second

// Client opens authenticated sessions.
type Client struct {
	url     string
	token   string
	timeout time.Duration
	dialer  *websocket.Dialer
	clock   model.Clock
	logger  logger.Logger
}

// NewClient creates a Client for the websocket endpoint url.
func NewClient(url, token string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		token:   token,
		timeout: defaultTimeout,
		clock:   model.SystemClock{},
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{HandshakeTimeout: c.timeout}
	}
	return c
}

// Open dials the store and completes the auth handshake. Any reply other
// than auth_ok is ErrAuthFailed.
func (c *Client) Open(ctx context.Context) (s *Session, err error) {
	start := time.Now()
	defer func() { metrics.RecordSinkRequest("auth", err, time.Since(start)) }()

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, resp, err := c.dialer.DialContext(dialCtx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDial, c.url, err)
	}

	s = &Session{conn: conn, timeout: c.timeout, clock: c.clock, logger: c.logger}
	if err := s.authenticate(ctx, c.token); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.logger.Debug(ctx, "sink session opened", logger.String("url", c.url))
	return s, nil
}

// Session is one authenticated connection. It is safe for sequential use
// by one goroutine at a time; calls are serialized.
type Session struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int
	closed  bool
	timeout time.Duration
	clock   model.Clock
	logger  logger.Logger
}

func (s *Session) authenticate(ctx context.Context, token string) error {
	var first envelope
	if err := s.read(ctx, &first); err != nil {
		return fmt.Errorf("%w: waiting for challenge: %w", ErrAuthFailed, err)
	}
	if first.Type != typeAuthRequired {
		return fmt.Errorf("%w: unexpected %q before auth", ErrAuthFailed, first.Type)
	}

	if err := s.write(ctx, authMessage{Type: typeAuth, AccessToken: token}); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	var reply envelope
	if err := s.read(ctx, &reply); err != nil {
		return fmt.Errorf("%w: waiting for reply: %w", ErrAuthFailed, err)
	}
	switch reply.Type {
	case typeAuthOK:
		return nil
	case typeAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthFailed, reply.Message)
	default:
		return fmt.Errorf("%w: unexpected %q", ErrAuthFailed, reply.Type)
	}
}

// QueryLast returns the series' points from now-lookback, oldest first.
func (s *Session) QueryLast(ctx context.Context, statisticID string, lookback time.Duration, period model.Period) (points []model.StatisticPoint, err error) {
	start := time.Now()
	defer func() { metrics.RecordSinkRequest("query", err, time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.id()
	q := statisticsQuery{
		ID:           id,
		Type:         typeStatisticsDuringPeriod,
		StartTime:    s.clock.Now().Add(-lookback).UTC().Format(time.RFC3339),
		StatisticIDs: []string{statisticID},
		Period:       period,
		Types:        []string{"sum", "state"},
	}
	reply, err := s.call(ctx, id, q)
	if err != nil {
		return nil, err
	}
	if !*reply.Success {
		return nil, fmt.Errorf("%w: query %s: %w", ErrRequestFailed, statisticID, remoteErr(reply))
	}

	points, err = decodePoints(reply.Result, statisticID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Start.Before(points[j].Start) })

	s.logger.Debug(ctx, "queried statistics",
		logger.String("statistic_id", statisticID),
		logger.String("period", string(period)),
		logger.Int("points", len(points)))
	return points, nil
}

// Import sends the whole batch in one command. The store accepts or rejects
// it as a unit.
func (s *Session) Import(ctx context.Context, meta model.StatisticMetadata, entries []model.StatisticEntry) (err error) {
	start := time.Now()
	defer func() { metrics.RecordSinkRequest("import", err, time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.id()
	reply, err := s.call(ctx, id, importCommand{
		ID:       id,
		Type:     typeImportStatistics,
		Metadata: meta,
		Stats:    entries,
	})
	if err != nil {
		return err
	}
	if !*reply.Success {
		return fmt.Errorf("%w: %s: %w", ErrImportRejected, meta.StatisticID, remoteErr(reply))
	}
	s.logger.Debug(ctx, "imported statistics",
		logger.String("statistic_id", meta.StatisticID),
		logger.Int("entries", len(entries)))
	return nil
}

// Close sends a close frame and releases the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}

func (s *Session) id() int {
	s.nextID++
	return s.nextID
}

// call sends cmd and waits for the result carrying id.
func (s *Session) call(ctx context.Context, id int, cmd any) (envelope, error) {
	if s.closed {
		return envelope{}, ErrClosed
	}
	if err := s.write(ctx, cmd); err != nil {
		return envelope{}, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	for {
		var msg envelope
		if err := s.read(ctx, &msg); err != nil {
			if errors.Is(err, ErrMalformedResponse) {
				return envelope{}, err
			}
			return envelope{}, fmt.Errorf("%w: %w", ErrRequestFailed, err)
		}
		if msg.ID != id || msg.Type != typeResult {
			s.logger.Debug(ctx, "skipping unrelated message",
				logger.Int("id", msg.ID),
				logger.String("type", msg.Type))
			continue
		}
		if msg.Success == nil {
			return envelope{}, fmt.Errorf("%w: result %d has no success flag", ErrMalformedResponse, id)
		}
		return msg, nil
	}
}

func (s *Session) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(s.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func (s *Session) write(ctx context.Context, v any) error {
	if err := s.conn.SetWriteDeadline(s.deadline(ctx)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *Session) read(ctx context.Context, v *envelope) error {
	if err := s.conn.SetReadDeadline(s.deadline(ctx)); err != nil {
		return err
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func remoteErr(e envelope) error {
	if e.Error != nil {
		return e.Error
	}
	return errors.New("no error detail")
}
