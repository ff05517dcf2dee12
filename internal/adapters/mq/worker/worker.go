// Package worker runs ingestion cycles one at a time off the trigger queue.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/logger"
)

// Runner executes one cycle.
type Runner interface {
	RunCycle(ctx context.Context, t model.Trigger) (model.Outcome, error)
}

// Queue defines how the worker receives triggers.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Trigger
}

// AfterCycleFunc observes every finished cycle.
type AfterCycleFunc func(ctx context.Context, t model.Trigger, outcome model.Outcome, err error)

// Worker is the single consumer of the trigger queue. Cycles never overlap
// because there is exactly one loop.
type Worker struct {
	queue      Queue
	runner     Runner
	name       string
	afterCycle AfterCycleFunc

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// New creates a worker.
func New(queue Queue, runner Runner, opts ...Option) *Worker {
	w := &Worker{
		queue:      queue,
		runner:     runner,
		name:       "worker",
		afterCycle: func(context.Context, model.Trigger, model.Outcome, error) {},
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run consumes triggers until ctx is done, Shutdown is called or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	triggers := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-triggers:
			if !ok {
				return
			}
			outcome, err := w.process(ctx, t)
			if err != nil {
				w.logger.Error(ctx, "cycle failed",
					logger.String("trigger_id", t.ID.String()),
					logger.String("reason", string(t.Reason)),
					logger.String("outcome", string(outcome)),
					logger.Error(err))
			}
			w.afterCycle(ctx, t, outcome, err)
		}
	}
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Shutdown stops the loop after the running cycle finishes.
func (w *Worker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs one cycle; a panic becomes a failed outcome so the loop survives.
func (w *Worker) process(ctx context.Context, t model.Trigger) (outcome model.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, "cycle panicked",
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			outcome = model.OutcomeFailed
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return w.runner.RunCycle(ctx, t)
}
