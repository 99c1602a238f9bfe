package worker

import (
	"github.com/okian/installmatch/internal/domain/dedupe"
	"github.com/okian/installmatch/pkg/backoff"
	"github.com/okian/installmatch/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDeduper skips events whose ID was already delivered. Share one deduper
// across a pool.
func WithDeduper(d dedupe.Deduper) Option {
	return func(w *InMemoryWorker) {
		w.deduper = d
	}
}

// WithRetry retries a failed sink delivery up to retries times, waiting per
// strategy between attempts.
func WithRetry(retries int, s backoff.Strategy) Option {
	return func(w *InMemoryWorker) {
		if retries >= 0 {
			w.maxRetries = retries
		}
		if s != nil {
			w.backoff = s
		}
	}
}
