package service

import (
	"context"
	"fmt"

	"github.com/okian/meterbridge/internal/adapters/journal"
	"github.com/okian/meterbridge/internal/adapters/mqtt"
	"github.com/okian/meterbridge/internal/adapters/portal"
	"github.com/okian/meterbridge/internal/adapters/sink"
	"github.com/okian/meterbridge/internal/adapters/state"
	"github.com/okian/meterbridge/internal/config"
	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/internal/domain/retry"
	"github.com/okian/meterbridge/pkg/logger"
)

// FromConfig builds a Service and its adapters from a validated
// configuration. The returned cleanup closes the journal.
func FromConfig(ctx context.Context, cfg *config.Config, log logger.Logger) (*Service, func() error, error) {
	if log == nil {
		log = logger.Nop()
	}
	loc := cfg.Location()
	hour, minute, err := config.ParseRunTime(cfg.RunTime)
	if err != nil {
		return nil, nil, err
	}

	files, err := state.NewFileStore(cfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	rc, err := retry.New(files,
		retry.WithDelay(cfg.RetryDelay),
		retry.WithLogger(log.Named("retry")),
	)
	if err != nil {
		return nil, nil, err
	}

	source := portal.NewClient(portal.Credentials{
		LoginURL: cfg.PortalLoginURL,
		DataURL:  cfg.PortalURL,
		Username: cfg.PortalUsername,
		Password: cfg.PortalPassword,
	},
		portal.WithMeteringPoint(cfg.PortalMeteringPoint),
		portal.WithPeriodID(cfg.PortalPeriodID),
		portal.WithTimeout(cfg.PortalTimeout),
		portal.WithMissingStatus(model.ParseStatus(cfg.PortalMissingStatus)),
		portal.WithLocation(loc),
		portal.WithLogger(log.Named("portal")),
	)
	statistics := sink.NewClient(cfg.SinkURL, cfg.SinkToken,
		sink.WithTimeout(cfg.SinkTimeout),
		sink.WithLogger(log.Named("sink")),
	)

	opts := []Option{
		WithSource(source),
		WithSink(NewSink(statistics)),
		WithRetry(rc),
		WithMirror(files),
		WithStatistic(model.NewSumMetadata(cfg.StatisticID, cfg.StatisticName, cfg.StatisticUnit)),
		WithLocation(loc),
		WithCatchupDays(cfg.CatchupDays),
		WithCycleTimeout(cfg.CycleTimeout),
		WithLookback(cfg.Lookback),
		WithProbeWindow(cfg.ProbeWindow),
		WithExpectedHours(cfg.ExpectedHours),
		WithCutoffDays(cfg.CutoffDays),
		WithDailyRun(hour, minute),
		WithRunOnStart(cfg.RunOnStart),
		WithLogger(log.Named("service")),
	}

	if cfg.MQTTBroker != "" {
		opts = append(opts, WithPublisher(mqtt.NewPublisher(cfg.MQTTBroker,
			mqtt.WithCredentials(cfg.MQTTUsername, cfg.MQTTPassword),
			mqtt.WithClientID(cfg.MQTTClientID),
			mqtt.WithTopics(cfg.MQTTDiscoveryPrefix, cfg.MQTTNodeID),
			mqtt.WithMeteringPoint(cfg.PortalMeteringPoint),
			mqtt.WithTimeout(cfg.MQTTTimeout),
			mqtt.WithLocation(loc),
			mqtt.WithLogger(log.Named("mqtt")),
		)))
	}

	cleanup := func() error { return nil }
	if cfg.JournalPath != "" {
		j, err := journal.Open(ctx, cfg.JournalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open cycle journal: %w", err)
		}
		opts = append(opts, WithJournal(j))
		cleanup = j.Close
	}

	svc, err := New(opts...)
	if err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}
