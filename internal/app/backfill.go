package service

import (
	"context"
	"fmt"

	"github.com/okian/meterbridge/internal/adapters/journal"
	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/internal/domain/reconcile"
	"github.com/okian/meterbridge/pkg/logger"
	"github.com/okian/meterbridge/pkg/metrics"
)

// backfillChunkDays is how many days go into one import command.
const backfillChunkDays = 31

// BackfillReport summarizes a backfill run.
type BackfillReport struct {
	From      model.Day         `json:"from"`
	To        model.Day         `json:"to"`
	Anchor    model.ImportState `json:"anchor"`
	Next      model.ImportState `json:"next"`
	Days      int               `json:"days"`
	Entries   int               `json:"entries"`
	Batches   int               `json:"batches"`
	StoppedAt model.Day         `json:"stopped_at"`
	Reason    string            `json:"reason,omitempty"`
}

// Backfill imports an explicit day range through the same pipeline as a
// cycle, in month-sized batches. Days already in the store are skipped, the
// range is capped at the cutoff, and it stops at the first day that is not
// complete. It shares the single-flight guard with RunCycle and leaves the
// retry state alone.
func (s *Service) Backfill(ctx context.Context, from, to model.Day) (BackfillReport, error) {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return BackfillReport{}, fmt.Errorf("%w: %s..%s", ErrInvalidRange, from, to)
	}
	if !s.running.TryLock() {
		return BackfillReport{}, ErrCycleInProgress
	}
	defer s.running.Unlock()

	t := model.NewTrigger(model.TriggerBackfill, s.clock.Now())
	log := s.logger.With(
		logger.String("cycle_id", t.ID.String()),
		logger.String("trigger", string(t.Reason)),
		logger.String("statistic_id", s.meta.StatisticID))

	started := s.clock.Now()
	rep, err := s.backfill(ctx, log, from, to)
	finished := s.clock.Now()

	outcome := model.OutcomeImported
	switch {
	case err != nil:
		outcome = model.OutcomeFailed
	case rep.Entries == 0 && rep.Reason == "":
		outcome = model.OutcomeAlreadyImported
	case rep.Entries == 0:
		outcome = model.OutcomeIncomplete
	}
	metrics.RecordCycle(string(outcome), finished.Sub(started))

	if s.journal != nil {
		c := journal.Cycle{
			ID:         t.ID.String(),
			Trigger:    string(t.Reason),
			StartedAt:  started,
			FinishedAt: finished,
			Outcome:    string(outcome),
			Entries:    rep.Entries,
			SeedSum:    rep.Anchor.RunningSum,
			FinalSum:   rep.Next.RunningSum,
		}
		if rep.Days > 0 {
			c.FirstDay = rep.From
			c.LastDay = rep.Next.LastImportedDate
		}
		if err != nil {
			c.Error = err.Error()
		}
		if jerr := s.journal.Record(ctx, c); jerr != nil {
			metrics.RecordJournalFailure()
			log.Warn(ctx, "failed to journal backfill", logger.Error(jerr))
		}
	}
	return rep, err
}

func (s *Service) backfill(ctx context.Context, log logger.Logger, from, to model.Day) (BackfillReport, error) {
	session, err := s.sink.Open(ctx)
	if err != nil {
		return BackfillReport{}, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	defer func() { _ = session.Close() }()

	anchor, err := s.engine.Anchor(ctx, session)
	if err != nil {
		return BackfillReport{}, err
	}

	if !anchor.LastImportedDate.IsZero() && !from.After(anchor.LastImportedDate) {
		log.Info(ctx, "skipping days already in the store",
			logger.String("requested_from", from.String()),
			logger.String("last_imported_date", anchor.LastImportedDate.String()))
		from = anchor.LastImportedDate.AddDays(1)
	}
	if cutoff := s.filter.Cutoff(); to.After(cutoff) {
		log.Info(ctx, "capping backfill at the cutoff", logger.String("cutoff", cutoff.String()))
		to = cutoff
	}

	rep := BackfillReport{From: from, To: to, Anchor: anchor, Next: anchor}
	if from.After(to) {
		log.Info(ctx, "nothing to backfill")
		return rep, nil
	}

	cur := anchor
	for start := from; !start.After(to); start = start.AddDays(backfillChunkDays) {
		end := start.AddDays(backfillChunkDays - 1)
		if end.After(to) {
			end = to
		}

		readings, err := s.source.Fetch(ctx, start, end)
		if err != nil {
			return rep, err
		}
		run, verdicts := s.filter.Leading(readings, start, end)
		logVerdicts(ctx, log, verdicts)

		var res reconcile.Result
		if len(run) > 0 {
			if res, err = s.engine.Extend(cur, run); err != nil {
				return rep, err
			}
		}
		if len(res.Entries) > 0 {
			if err := session.Import(ctx, s.meta, res.Entries); err != nil {
				return rep, err
			}
			cur = res.Next
			rep.Next = cur
			rep.Days += len(res.Days)
			rep.Entries += len(res.Entries)
			rep.Batches++
			metrics.RecordImport(len(res.Entries), len(res.Days), cur.RunningSum, cur.LastImportedDate.Start(s.loc))
			log.Info(ctx, "backfilled batch",
				logger.String("first_day", res.Days[0].String()),
				logger.String("last_day", res.Days[len(res.Days)-1].String()),
				logger.Int("entries", len(res.Entries)),
				logger.Float64("running_sum", cur.RunningSum))
		}

		for _, v := range verdicts {
			if !v.Eligible() {
				rep.StoppedAt = v.Day
				rep.Reason = v.Reason
				log.Warn(ctx, "backfill stopped at an incomplete day",
					logger.String("day", v.Day.String()),
					logger.String("reason", v.Reason))
				s.saveMirror(ctx, log, cur)
				return rep, nil
			}
		}
	}

	s.saveMirror(ctx, log, cur)
	return rep, nil
}
