// Package service runs the ingestion pipeline: it reads the anchor from the
// statistics store, fetches finalized readings from the portal, extends the
// cumulative sum and imports the batch, one cycle at a time.
package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/okian/meterbridge/internal/adapters/journal"
	"github.com/okian/meterbridge/internal/adapters/mq/queue"
	"github.com/okian/meterbridge/internal/adapters/mq/worker"
	"github.com/okian/meterbridge/internal/domain/completeness"
	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/internal/domain/reconcile"
	"github.com/okian/meterbridge/internal/domain/retry"
	"github.com/okian/meterbridge/internal/scheduler"
	"github.com/okian/meterbridge/pkg/logger"
	"github.com/okian/meterbridge/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultCatchupDays  = 7
	defaultCycleTimeout = 5 * time.Minute
	defaultLookback     = 90 * 24 * time.Hour
	defaultProbeWindow  = 10 * 365 * 24 * time.Hour
	defaultCutoffDays   = 2
	shutdownGrace       = 10 * time.Second
)

// Service orchestrates cycles and owns the trigger queue, the worker and the scheduler.
type Service struct {
	mu      sync.RWMutex
	running sync.Mutex

	// Collaborators
	source    Source
	sink      Sink
	retry     *retry.Controller
	mirror    Mirror
	journal   Journal
	publisher Publisher
	engine    *reconcile.Engine
	filter    *completeness.Filter
	meta      model.StatisticMetadata

	// Configuration
	loc           *time.Location
	clock         model.Clock
	catchupDays   int
	cycleTimeout  time.Duration
	lookback      time.Duration
	probeWindow   time.Duration
	expectedHours int
	cutoffDays    int
	runHour       int
	runMinute     int
	runOnStart    bool

	// Runtime
	queue     *queue.InMemoryQueue
	worker    *worker.Worker
	scheduler *scheduler.Scheduler
	cancel    context.CancelFunc
	started   bool

	// State
	last   *journal.Cycle
	anchor model.ImportState
	counts map[model.Outcome]int

	logger logger.Logger
}

// New constructs a Service. Source, sink, retry controller and statistic
// id are required.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		loc:          time.UTC,
		clock:        model.SystemClock{},
		catchupDays:  defaultCatchupDays,
		cycleTimeout: defaultCycleTimeout,
		lookback:     defaultLookback,
		probeWindow:  defaultProbeWindow,
		cutoffDays:   defaultCutoffDays,
		runHour:      8,
		runMinute:    15,
		counts:       make(map[model.Outcome]int),
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case s.source == nil:
		return nil, fmt.Errorf("%w: reading source", ErrMissingDependency)
	case s.sink == nil:
		return nil, fmt.Errorf("%w: statistics sink", ErrMissingDependency)
	case s.retry == nil:
		return nil, fmt.Errorf("%w: retry controller", ErrMissingDependency)
	case s.meta.StatisticID == "":
		return nil, fmt.Errorf("%w: statistic id", ErrMissingDependency)
	}

	s.engine = reconcile.New(s.meta.StatisticID,
		reconcile.WithLocation(s.loc),
		reconcile.WithLookback(s.lookback),
		reconcile.WithProbeWindow(s.probeWindow),
		reconcile.WithClock(s.clock),
	)
	s.filter = completeness.New(
		completeness.WithLocation(s.loc),
		completeness.WithClock(s.clock),
		completeness.WithExpectedHours(s.expectedHours),
		completeness.WithCutoffDays(s.cutoffDays),
	)
	return s, nil
}

// Start restores the retry deadline and launches the worker and scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if err := s.retry.Load(ctx); err != nil {
		return err
	}
	if s.mirror != nil {
		if st, err := s.mirror.LoadImport(ctx); err != nil {
			s.logger.Warn(ctx, "import state mirror unreadable", logger.Error(err))
		} else if st != nil {
			s.anchor = *st
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.queue = queue.NewInMemoryQueue()
	s.scheduler = scheduler.New(s.queue,
		scheduler.WithDailyRun(s.runHour, s.runMinute, s.loc),
		scheduler.WithRunOnStart(s.runOnStart),
		scheduler.WithRetry(s.retry),
		scheduler.WithClock(s.clock),
		scheduler.WithLogger(s.logger.Named("scheduler")),
	)
	sched := s.scheduler
	s.worker = worker.New(s.queue, s,
		worker.WithName("cycle-worker"),
		worker.WithLogger(s.logger),
		worker.WithAfterCycle(func(ctx context.Context, _ model.Trigger, _ model.Outcome, _ error) {
			sched.ArmRetry(ctx)
		}),
	)
	go s.worker.Run(runCtx)
	s.scheduler.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "ingestion service started",
		logger.String("statistic_id", s.meta.StatisticID),
		logger.String("location", s.loc.String()),
		logger.Int("catchup_days", s.catchupDays),
		logger.Duration("cycle_timeout", s.cycleTimeout))
	return nil
}

// Stop halts the scheduler, lets the running cycle finish and stops the worker.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	sched, q, w, cancel := s.scheduler, s.queue, s.worker, s.cancel
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping ingestion service...")

	sched.Stop()
	_ = q.Close()

	shutdownCtx, done := context.WithTimeout(ctx, s.cycleTimeout+shutdownGrace)
	defer done()
	if err := w.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "worker did not stop in time", logger.Error(err))
	}
	cancel()

	s.logger.Info(ctx, "ingestion service stopped")
}

// Trigger asks for a cycle. It returns queue.ErrCoalesced when one is
// already waiting.
func (s *Service) Trigger(ctx context.Context, reason model.TriggerReason) (model.Trigger, error) {
	s.mu.RLock()
	q, started := s.queue, s.started
	s.mu.RUnlock()
	if !started {
		return model.Trigger{}, ErrNotStarted
	}

	t := model.NewTrigger(reason, s.clock.Now())
	if err := q.Enqueue(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// report is the result of one cycle before it is journaled.
type report struct {
	outcome model.Outcome
	err     error
	from    model.Day
	to      model.Day
	result  reconcile.Result
}

func (r *report) fail(err error) report {
	r.outcome = model.OutcomeFailed
	r.err = err
	return *r
}

// RunCycle runs one cycle. Cycles never overlap: a call while another is
// running returns ErrCycleInProgress without side effects. The cycle is
// bounded by the cycle timeout and is not cut short by cancellation of ctx.
func (s *Service) RunCycle(ctx context.Context, t model.Trigger) (model.Outcome, error) {
	if !s.running.TryLock() {
		return "", ErrCycleInProgress
	}
	defer s.running.Unlock()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cycleTimeout)
	defer cancel()

	log := s.logger.With(
		logger.String("cycle_id", t.ID.String()),
		logger.String("trigger", string(t.Reason)),
		logger.String("statistic_id", s.meta.StatisticID))
	log.Info(cctx, "cycle started")

	started := s.clock.Now()
	rep := s.runSafely(cctx, log)
	finished := s.clock.Now()

	s.settleRetry(cctx, log, rep)
	s.finish(cctx, log, t, started, finished, rep)
	return rep.outcome, rep.err
}

func (s *Service) runSafely(ctx context.Context, log logger.Logger) (rep report) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(ctx, "cycle panicked", logger.Any("panic", r))
			rep.outcome = model.OutcomeFailed
			rep.err = fmt.Errorf("%w: %v", ErrCyclePanic, r)
		}
	}()
	return s.cycle(ctx, log)
}

func (s *Service) cycle(ctx context.Context, log logger.Logger) report {
	var rep report

	session, err := s.sink.Open(ctx)
	if err != nil {
		return rep.fail(fmt.Errorf("%w: %w", ErrSinkUnavailable, err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug(ctx, "closing sink session", logger.Error(err))
		}
	}()

	anchor, err := s.engine.Anchor(ctx, session)
	if err != nil {
		return rep.fail(err)
	}
	s.checkMirror(ctx, log, anchor)
	rep.result = reconcile.Result{Anchor: anchor, Next: anchor, SeedSum: anchor.RunningSum}

	cutoff := s.filter.Cutoff()
	rep.from, rep.to = s.windowStart(anchor, cutoff), cutoff
	if rep.from.After(rep.to) {
		log.Info(ctx, "series already up to date",
			logger.String("last_imported_date", anchor.LastImportedDate.String()),
			logger.String("cutoff", cutoff.String()))
		rep.outcome = model.OutcomeAlreadyImported
		rep.result.NoOp = true
		s.saveMirror(ctx, log, anchor)
		return rep
	}

	readings, err := s.source.Fetch(ctx, rep.from, rep.to)
	if err != nil {
		return rep.fail(err)
	}
	if len(readings) == 0 {
		log.Info(ctx, "portal returned no readings",
			logger.String("from", rep.from.String()),
			logger.String("to", rep.to.String()))
		rep.outcome = model.OutcomeNoData
		return rep
	}

	run, verdicts := s.filter.Leading(readings, rep.from, rep.to)
	logVerdicts(ctx, log, verdicts)
	if len(run) == 0 {
		log.Info(ctx, "no complete day to import yet",
			logger.String("from", rep.from.String()),
			logger.String("to", rep.to.String()))
		rep.outcome = model.OutcomeIncomplete
		return rep
	}

	res, err := s.engine.Extend(anchor, run)
	if err != nil {
		return rep.fail(err)
	}
	rep.result = res
	if res.NoOp {
		rep.outcome = model.OutcomeAlreadyImported
		s.saveMirror(ctx, log, anchor)
		return rep
	}

	if err := session.Import(ctx, s.meta, res.Entries); err != nil {
		return rep.fail(err)
	}
	s.saveMirror(ctx, log, res.Next)
	metrics.RecordImport(len(res.Entries), len(res.Days), res.Next.RunningSum, res.Next.LastImportedDate.Start(s.loc))

	log.Info(ctx, "imported statistics",
		logger.String("first_day", res.Days[0].String()),
		logger.String("last_day", res.Days[len(res.Days)-1].String()),
		logger.Int("entries", len(res.Entries)),
		logger.Float64("seed_sum", res.SeedSum),
		logger.Float64("running_sum", res.Next.RunningSum))
	rep.outcome = model.OutcomeImported
	s.publish(ctx, log, res, run)
	return rep
}

// publish announces the last imported day. The import is already committed,
// so a failure is only logged.
func (s *Service) publish(ctx context.Context, log logger.Logger, res reconcile.Result, run []model.Reading) {
	if s.publisher == nil || len(res.Days) == 0 {
		return
	}
	last := res.Days[len(res.Days)-1]
	day := make([]model.Reading, 0, last.Hours(s.loc))
	for _, r := range run {
		if r.Day(s.loc) == last {
			day = append(day, r)
		}
	}
	if err := s.publisher.PublishDay(ctx, last, day); err != nil {
		log.Warn(ctx, "failed to publish imported day",
			logger.String("day", last.String()),
			logger.Error(err))
	}
}

// windowStart is the first day to fetch: the day after the anchor, or for an
// empty series the start of the catch-up window ending at the cutoff.
func (s *Service) windowStart(anchor model.ImportState, cutoff model.Day) model.Day {
	if !anchor.LastImportedDate.IsZero() {
		return anchor.LastImportedDate.AddDays(1)
	}
	return cutoff.AddDays(-(s.catchupDays - 1))
}

func (s *Service) settleRetry(ctx context.Context, log logger.Logger, rep report) {
	if rep.outcome.Progressed() {
		if err := s.retry.Succeed(ctx); err != nil {
			log.Error(ctx, "failed to clear retry state", logger.Error(err))
		}
		return
	}
	at, err := s.retry.Fail(ctx, string(rep.outcome))
	if err != nil {
		log.Error(ctx, "failed to persist retry state", logger.Error(err))
	}
	log.Info(ctx, "retry pending", logger.Time("retry_at", at), logger.String("outcome", string(rep.outcome)))
}

func (s *Service) finish(ctx context.Context, log logger.Logger, t model.Trigger, started, finished time.Time, rep report) {
	metrics.RecordCycle(string(rep.outcome), finished.Sub(started))

	c := journal.Cycle{
		ID:         t.ID.String(),
		Trigger:    string(t.Reason),
		StartedAt:  started,
		FinishedAt: finished,
		Outcome:    string(rep.outcome),
		SeedSum:    rep.result.SeedSum,
		FinalSum:   rep.result.Next.RunningSum,
		Entries:    len(rep.result.Entries),
	}
	if n := len(rep.result.Days); n > 0 {
		c.FirstDay, c.LastDay = rep.result.Days[0], rep.result.Days[n-1]
	}
	if rep.err != nil {
		c.Error = rep.err.Error()
	}

	if s.journal != nil {
		if err := s.journal.Record(ctx, c); err != nil {
			metrics.RecordJournalFailure()
			log.Warn(ctx, "failed to journal cycle", logger.Error(err))
		}
	}

	s.mu.Lock()
	s.last = &c
	s.counts[rep.outcome]++
	if !rep.result.Next.LastImportedDate.IsZero() {
		s.anchor = rep.result.Next
		metrics.UpdateAnchor(s.anchor.RunningSum, s.anchor.LastImportedDate.Start(s.loc))
	}
	s.mu.Unlock()

	log.Info(ctx, "cycle finished",
		logger.String("outcome", string(rep.outcome)),
		logger.Duration("duration", finished.Sub(started)))
}

// checkMirror compares the local mirror with the store's anchor. The store
// always wins; a disagreement is only reported.
func (s *Service) checkMirror(ctx context.Context, log logger.Logger, anchor model.ImportState) {
	if s.mirror == nil {
		return
	}
	local, err := s.mirror.LoadImport(ctx)
	if err != nil {
		log.Warn(ctx, "import state mirror unreadable", logger.Error(err))
		return
	}
	if local == nil {
		return
	}
	if local.LastImportedDate != anchor.LastImportedDate || math.Abs(local.RunningSum-anchor.RunningSum) > 1e-6 {
		log.Warn(ctx, "local import state disagrees with the statistics store, using the store",
			logger.String("local_date", local.LastImportedDate.String()),
			logger.Float64("local_sum", local.RunningSum),
			logger.String("store_date", anchor.LastImportedDate.String()),
			logger.Float64("store_sum", anchor.RunningSum))
	}
}

func (s *Service) saveMirror(ctx context.Context, log logger.Logger, st model.ImportState) {
	if s.mirror == nil || st.LastImportedDate.IsZero() {
		return
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.clock.Now()
	}
	if err := s.mirror.SaveImport(ctx, st); err != nil {
		log.Warn(ctx, "failed to update import state mirror", logger.Error(err))
	}
}

func logVerdicts(ctx context.Context, log logger.Logger, verdicts []completeness.Verdict) {
	for _, v := range verdicts {
		if v.Eligible() {
			continue
		}
		log.Info(ctx, "day not importable",
			logger.String("day", v.Day.String()),
			logger.String("reason", v.Reason),
			logger.Int("hours", v.Hours),
			logger.Int("expected", v.Expected))
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(s.counts))
	for o, n := range s.counts {
		counts[string(o)] = n
	}
	stats := map[string]any{
		"started":      s.started,
		"statistic_id": s.meta.StatisticID,
		"location":     s.loc.String(),
		"cutoff":       s.filter.Cutoff().String(),
		"retry_state":  s.retry.State().String(),
		"cycles":       counts,
		"anchor":       s.anchor,
	}
	if at, ok := s.retry.Pending(); ok {
		stats["retry_at"] = at
	}
	if s.last != nil {
		stats["last_cycle"] = *s.last
	}
	ctx := context.Background()
	if s.started {
		stats["queue_length"] = s.queue.Len(ctx)
		stats["next_run"] = s.scheduler.NextRun(s.clock.Now())
	}
	if s.journal != nil {
		if journaled, err := s.journal.Counts(ctx); err == nil {
			stats["journaled_cycles"] = journaled
		}
	}
	return stats
}

// History returns recent journaled cycles, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]journal.Cycle, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.Recent(ctx, limit)
}
