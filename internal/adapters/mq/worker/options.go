package worker

import (
	"github.com/okian/meterbridge/pkg/logger"
)

// Option applies a configuration option to the Worker.
type Option func(*Worker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithAfterCycle registers a hook called after every cycle, panics included.
func WithAfterCycle(fn AfterCycleFunc) Option {
	return func(w *Worker) {
		if fn != nil {
			w.afterCycle = fn
		}
	}
}
