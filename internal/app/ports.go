package service

import (
	"context"

	"github.com/okian/meterbridge/internal/adapters/journal"
	"github.com/okian/meterbridge/internal/adapters/sink"
	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/internal/domain/reconcile"
)

// Source produces raw readings for a day range. An error means the source
// was unavailable; it is never reported as an empty result.
type Source interface {
	Fetch(ctx context.Context, from, to model.Day) ([]model.Reading, error)
}

// Session is one authenticated connection to the statistics store.
type Session interface {
	reconcile.Reader
	Import(ctx context.Context, meta model.StatisticMetadata, entries []model.StatisticEntry) error
	Close() error
}

// Sink opens sessions to the statistics store.
type Sink interface {
	Open(ctx context.Context) (Session, error)
}

// Mirror is the local, non-authoritative copy of the import state.
type Mirror interface {
	LoadImport(ctx context.Context) (*model.ImportState, error)
	SaveImport(ctx context.Context, st model.ImportState) error
}

// Journal records finished cycles.
type Journal interface {
	Record(ctx context.Context, c journal.Cycle) error
	Recent(ctx context.Context, limit int) ([]journal.Cycle, error)
	Counts(ctx context.Context) (map[string]int, error)
}

// Publisher announces the newest imported day outside the statistics store.
type Publisher interface {
	PublishDay(ctx context.Context, d model.Day, readings []model.Reading) error
}

type sinkClient struct {
	client *sink.Client
}

// NewSink adapts a websocket sink client to Sink.
func NewSink(c *sink.Client) Sink {
	return sinkClient{client: c}
}

func (s sinkClient) Open(ctx context.Context) (Session, error) {
	session, err := s.client.Open(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}
