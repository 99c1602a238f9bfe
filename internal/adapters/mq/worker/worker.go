// Package worker delivers queued domain events to sinks: audit logs,
// notification gateways, streams. Delivery is at most once per event ID when
// a deduper is configured.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/installmatch/internal/domain/dedupe"
	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/pkg/backoff"
	"github.com/okian/installmatch/pkg/logger"
	"github.com/okian/installmatch/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultMaxRetries   = 2
	poolShutdownTimeout = 30 * time.Second
)

// Event abstracts what workers read off the queue.
type Event = model.Event

// Sink receives delivered events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue() <-chan Event
}

// InMemoryWorker drains a queue into sinks.
type InMemoryWorker struct {
	queue      Queue
	sinks      []Sink
	name       string
	deduper    dedupe.Deduper
	backoff    backoff.Strategy
	maxRetries int
	done       chan struct{}
	logger     logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, sinks []Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		sinks:      sinks,
		name:       "worker",
		backoff:    backoff.Default(),
		maxRetries: defaultMaxRetries,
		done:       make(chan struct{}),
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run delivers events until the queue is closed and drained or ctx is done.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			if err := w.process(ctx, e); err != nil {
				w.logger.Error(ctx, "event delivery failed",
					logger.String("event_id", e.ID),
					logger.String("type", string(e.Type)),
					logger.Error(err),
				)
			}
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// process hands e to every sink. When any sink still fails after retries the
// ID is forgotten so a republished copy is delivered again.
func (w *InMemoryWorker) process(ctx context.Context, e Event) error { //nolint:gocritic // hugeParam: Event is passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if w.deduper != nil && w.deduper.SeenAndRecord(ctx, e.ID) {
		metrics.RecordEventDuplicate()
		w.logger.Debug(ctx, "duplicate event skipped", logger.String("event_id", e.ID))
		return nil
	}

	var errs []error
	for _, s := range w.sinks {
		if err := w.deliver(ctx, s, e); err != nil {
			metrics.RecordEventDeliveryError(s.Name())
			metrics.RecordWorkerError()
			metrics.RecordErrorByComponent("worker", "sink")
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		if w.deduper != nil {
			w.deduper.Unrecord(ctx, e.ID)
		}
		return errors.Join(errs...)
	}
	metrics.RecordEventDelivered()
	return nil
}

func (w *InMemoryWorker) deliver(ctx context.Context, s Sink, e Event) error { //nolint:gocritic // hugeParam
	var err error
	for attempt := 1; attempt <= w.maxRetries+1; attempt++ {
		if err = s.Deliver(ctx, e); err == nil {
			return nil
		}
		if attempt > w.maxRetries {
			break
		}
		metrics.RecordWorkerRetry()
		w.logger.Debug(ctx, "retrying sink delivery",
			logger.String("sink", s.Name()),
			logger.String("event_id", e.ID),
			logger.Int("attempt", attempt),
		)
		if werr := backoff.Wait(ctx, w.backoff, attempt); werr != nil {
			return werr
		}
	}
	return err
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates workerCount workers; zero or less means one per CPU. opts
// apply to every worker.
func NewPool(workerCount int, q Queue, sinks []Sink, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Nop(),
	}
	scratch := &InMemoryWorker{logger: p.logger}
	for _, opt := range opts {
		opt(scratch)
	}
	p.logger = scratch.logger.Named("worker-pool")

	for i := range p.workers {
		wopts := append(append([]Option{}, opts...), WithName("worker-"+strconv.Itoa(i)))
		p.workers[i] = NewInMemoryWorker(q, sinks, wopts...)
	}
	metrics.UpdateWorkerActiveCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}
