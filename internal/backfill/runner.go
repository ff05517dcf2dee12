package backfill

import (
	"context"
	"fmt"
	"time"

	service "github.com/okian/meterbridge/internal/app"
	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
)

// Backfiller imports an explicit day range.
type Backfiller interface {
	Backfill(ctx context.Context, from, to model.Day) (service.BackfillReport, error)
}

// Run executes one backfill and logs its summary.
func Run(ctx context.Context, cfg Config, b Backfiller, log logger.Logger) (service.BackfillReport, error) {
	if cfg.From.IsZero() || cfg.To.IsZero() {
		return service.BackfillReport{}, fmt.Errorf("%w: from and to are required", ErrInvalidRange)
	}
	if log == nil {
		log = logger.Nop()
	}

	log.Info(ctx, "starting history import",
		logger.String("from", cfg.From.String()),
		logger.String("to", cfg.To.String()))

	start := time.Now()
	rep, err := b.Backfill(ctx, cfg.From, cfg.To)
	if err != nil {
		return rep, fmt.Errorf("history import failed: %w", err)
	}

	displayReport(ctx, log, rep, time.Since(start))
	return rep, nil
}

// displayReport logs the final summary of a run.
func displayReport(ctx context.Context, log logger.Logger, rep service.BackfillReport, d time.Duration) {
	fields := []logger.Field{
		logger.String("from", rep.From.String()),
		logger.String("to", rep.To.String()),
		logger.Int("days", rep.Days),
		logger.Int("entries", rep.Entries),
		logger.Int("batches", rep.Batches),
		logger.Float64("seed_sum", rep.Anchor.RunningSum),
		logger.Float64("running_sum", rep.Next.RunningSum),
		logger.String("last_imported_date", rep.Next.LastImportedDate.String()),
		logger.Duration("duration", d),
	}
	switch {
	case rep.Reason != "":
		log.Warn(ctx, "history import stopped early",
			append(fields, logger.String("stopped_at", rep.StoppedAt.String()), logger.String("reason", rep.Reason))...)
	case rep.Entries == 0:
		log.Info(ctx, "nothing to import", fields...)
	default:
		log.Info(ctx, "history import finished", fields...)
	}
}
