// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	eventqueue "github.com/okian/installmatch/internal/adapters/mq/queue"
	workerpool "github.com/okian/installmatch/internal/adapters/mq/worker"
	repository "github.com/okian/installmatch/internal/adapters/repository"
	"github.com/okian/installmatch/internal/domain/dedupe"
	"github.com/okian/installmatch/internal/domain/dispatch"
	"github.com/okian/installmatch/internal/domain/errkind"
	"github.com/okian/installmatch/internal/domain/geo"
	"github.com/okian/installmatch/internal/domain/matching"
	"github.com/okian/installmatch/internal/domain/model"
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
	"github.com/okian/installmatch/pkg/backoff"
	"github.com/okian/installmatch/pkg/logger"
	"github.com/okian/installmatch/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// batchConcurrency bounds concurrent matches in MatchBatch.
const batchConcurrency = 8

// Service wires the store, the domain engines and the event delivery path.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	pricing    *pricing.Engine
	tiers      *tier.Engine
	matcher    *matching.Engine
	machine    *dispatch.Machine
	deduper    dedupe.Deduper
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	sinks      []workerpool.Sink

	// Configuration
	workerCount     int
	queueSize       int
	dedupeWindow    int
	deliveryRetries int
	matchDefaults   matching.Options
	pricingConfig   pricing.Config
	tierProfile     tier.Profile
	maxAttempts     int
	backoff         backoff.Strategy
	metricsInterval time.Duration

	// State
	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}

	logger logger.Logger
}

// New constructs a Service. Engines are validated here, so a malformed
// pricing schedule or tier profile fails fast with a configuration error.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		workerCount:     runtime.NumCPU(),
		queueSize:       eventqueue.DefaultCapacity,
		dedupeWindow:    dedupe.DefaultWindow,
		deliveryRetries: 2,
		matchDefaults:   matching.DefaultOptions(),
		pricingConfig:   pricing.DefaultConfig(),
		tierProfile:     tier.DefaultProfile(),
		maxAttempts:     dispatch.DefaultMaxAttempts,
		backoff:         backoff.Default(),
		metricsInterval: 10 * time.Second,
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if err := s.matchDefaults.Validate(); err != nil {
		return nil, fmt.Errorf("match defaults: %w", err)
	}

	var err error
	if s.tiers, err = tier.NewEngine(s.tierProfile); err != nil {
		return nil, err
	}
	s.pricing, err = pricing.NewEngine(
		pricing.WithConfig(s.pricingConfig),
		pricing.WithTierProfile(s.tierProfile),
	)
	if err != nil {
		return nil, err
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithWindow(s.dedupeWindow))
	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))

	s.machine, err = dispatch.NewMachine(s.store,
		dispatch.WithPricing(s.pricing),
		dispatch.WithTierEngine(s.tiers),
		dispatch.WithPublisher(dispatch.PublisherFunc(s.publish)),
		dispatch.WithMaxAttempts(s.maxAttempts),
		dispatch.WithBackoff(s.backoff),
		dispatch.WithLogger(s.logger.Named("dispatch")),
	)
	if err != nil {
		return nil, err
	}

	s.matcher, err = matching.NewEngine(
		matching.WithPricing(s.pricing),
		matching.WithTierProfile(s.tierProfile),
		matching.WithAssigner(s.machine),
	)
	if err != nil {
		return nil, err
	}

	if len(s.sinks) == 0 {
		s.sinks = []workerpool.Sink{workerpool.NewLogSink(s.logger)}
	}
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.sinks,
		workerpool.WithDeduper(s.deduper),
		workerpool.WithRetry(s.deliveryRetries, backoff.Default()),
		workerpool.WithLogger(s.logger),
	)
	metrics.UpdateQueueCapacity(s.eventQueue.Cap())
	return s, nil
}

// Start launches the delivery workers and the metrics updater.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting dispatch service...")

	// Delivery must outlive the request that started the service.
	s.workerPool.Start(context.WithoutCancel(ctx))
	go s.metricsLoop(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "dispatch service started",
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", s.eventQueue.Cap()),
		logger.Int("dedupeWindow", s.dedupeWindow),
	)
	return nil
}

// Stop drains queued events into the sinks and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping dispatch service...")

	var firstErr error
	if started {
		close(s.stopCh)
		<-s.done
		if err := s.workerPool.Shutdown(ctx); err != nil {
			firstErr = err
		}
	} else {
		_ = s.eventQueue.Close()
	}

	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close store: %w", err)
	}

	s.logger.Info(ctx, "dispatch service stopped")
	return firstErr
}

// publish enqueues a domain event without blocking. A full or closed queue
// drops the event.
func (s *Service) publish(ctx context.Context, e model.Event) {
	if err := s.eventQueue.Enqueue(ctx, e); err != nil {
		metrics.RecordEventDropped()
		s.logger.Warn(ctx, "event dropped",
			logger.String("event_id", e.ID),
			logger.String("type", string(e.Type)),
			logger.String("job_id", e.JobID),
			logger.Error(err),
		)
		return
	}
	metrics.RecordEventPublished(string(e.Type))
}

// CreateJob stores a new open job.
func (s *Service) CreateJob(ctx context.Context, job model.Job) (model.Job, error) {
	return s.store.CreateJob(ctx, job)
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id string) (model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs returns jobs passing f.
func (s *Service) ListJobs(ctx context.Context, f repository.JobFilter) ([]model.Job, error) {
	return s.store.ListJobs(ctx, f)
}

// PutContractor creates or updates a contractor. The tier is derived from
// the metrics. Workload counters belong to dispatch transitions: a new
// contractor starts from zero and an update keeps the stored values.
func (s *Service) PutContractor(ctx context.Context, c model.Contractor) (model.Contractor, error) {
	c = c.Clone()
	c.ActiveJobs = 0
	c.Metrics.CompletedJobs = 0
	c.JobTypeCounts = nil
	if c.Version > 0 {
		cur, err := s.store.GetContractor(ctx, c.ID)
		if err != nil {
			return model.Contractor{}, err
		}
		if cur.Version != c.Version {
			return model.Contractor{}, fmt.Errorf("%w: contractor %s is at version %d, not %d",
				errkind.ErrVersionConflict, c.ID, cur.Version, c.Version)
		}
		c.ActiveJobs = cur.ActiveJobs
		c.Metrics.CompletedJobs = cur.Metrics.CompletedJobs
		c.JobTypeCounts = cur.JobTypeCounts
	}
	c.Tier = s.tiers.Determine(c.Metrics)
	return s.store.PutContractor(ctx, c)
}

// GetContractor returns a contractor by id.
func (s *Service) GetContractor(ctx context.Context, id string) (model.Contractor, error) {
	return s.store.GetContractor(ctx, id)
}

// ListContractors returns contractors passing f.
func (s *Service) ListContractors(ctx context.Context, f repository.ContractorFilter) ([]model.Contractor, error) {
	return s.store.ListContractors(ctx, f)
}

// ListAssignments returns the assignment history of a job.
func (s *Service) ListAssignments(ctx context.Context, jobID string) ([]model.Assignment, error) {
	return s.store.ListAssignments(ctx, jobID)
}

// MatchDefaults returns the options a match request starts from.
func (s *Service) MatchDefaults() matching.Options { return s.matchDefaults }

// Match ranks the active contractors for an open job. Candidates are priced
// at the store's clock.
func (s *Service) Match(ctx context.Context, jobID string, opts matching.Options) (matching.Result, error) {
	start := time.Now()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return matching.Result{}, err
	}
	if job.Status != model.JobOpen {
		return matching.Result{}, fmt.Errorf("%w: %s is %s", ErrJobNotOpen, jobID, job.Status)
	}
	contractors, err := s.store.ListContractors(ctx, repository.ContractorFilter{ActiveOnly: true})
	if err != nil {
		return matching.Result{}, err
	}
	if opts.Now, err = s.store.Now(ctx); err != nil {
		return matching.Result{}, err
	}

	res, err := s.matcher.Match(ctx, contractors, job, opts)
	if err != nil {
		metrics.RecordErrorByComponent("matching", "match")
		return matching.Result{}, err
	}

	metrics.RecordMatch(string(res.Priority), string(res.Outcome), len(res.Candidates), float64(time.Since(start).Microseconds())/1000)
	for _, r := range res.Rejections {
		metrics.RecordMatchRejection(string(r.Reason))
	}
	if res.Assignment != nil {
		metrics.RecordAutoAssignment(res.Assignment.Outcome)
	}
	return res, nil
}

// MatchBatch matches several jobs concurrently. Results keep the order of
// jobIDs; the first error cancels the rest.
func (s *Service) MatchBatch(ctx context.Context, jobIDs []string, opts matching.Options) ([]matching.Result, error) {
	results := make([]matching.Result, len(jobIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, id := range jobIDs {
		g.Go(func() error {
			res, err := s.Match(gctx, id, opts)
			if err != nil {
				return fmt.Errorf("match %s: %w", id, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// transition runs one state machine operation and records its outcome.
func (s *Service) transition(op string, fn func() (dispatch.Result, error)) (dispatch.Result, error) {
	start := time.Now()
	res, err := fn()
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		metrics.RecordErrorByComponent("dispatch", op)
		return res, err
	}
	metrics.RecordTransition(op, string(res.Outcome), res.Attempts, latency)
	return res, nil
}

// Accept assigns an open job to a contractor and snapshots its price.
func (s *Service) Accept(ctx context.Context, jobID, contractorID string) (dispatch.Result, error) {
	res, err := s.transition("accept", func() (dispatch.Result, error) {
		return s.machine.Accept(ctx, jobID, contractorID)
	})
	if err == nil && res.OK() && res.Job.Pricing != nil {
		p := res.Job.Pricing
		metrics.RecordSettlement(p.TotalFee, p.PlatformFee, p.Payout, p.Tax)
	}
	return res, err
}

// Decline records a pass on an open job, or releases an assigned one.
func (s *Service) Decline(ctx context.Context, jobID, contractorID, reason string) (dispatch.Result, error) {
	return s.transition("decline", func() (dispatch.Result, error) {
		return s.machine.Decline(ctx, jobID, contractorID, reason)
	})
}

// StartJob moves an assigned job to in progress.
func (s *Service) StartJob(ctx context.Context, jobID, contractorID string) (dispatch.Result, error) {
	return s.transition("start", func() (dispatch.Result, error) {
		return s.machine.Start(ctx, jobID, contractorID)
	})
}

// Complete finishes a job in progress.
func (s *Service) Complete(ctx context.Context, jobID, contractorID string) (dispatch.Result, error) {
	return s.transition("complete", func() (dispatch.Result, error) {
		return s.machine.Complete(ctx, jobID, contractorID)
	})
}

// Cancel cancels an open job.
func (s *Service) Cancel(ctx context.Context, jobID, actor string) (dispatch.Result, error) {
	return s.transition("cancel", func() (dispatch.Result, error) {
		return s.machine.Cancel(ctx, jobID, actor)
	})
}

// stamp sets now from the store's clock. A zero or future CreatedAt prices as
// if the job was created now.
func (s *Service) stamp(ctx context.Context, createdAt, now *time.Time) error {
	t, err := s.store.Now(ctx)
	if err != nil {
		return err
	}
	*now = t
	if createdAt.IsZero() || createdAt.After(t) {
		*createdAt = t
	}
	return nil
}

// Price settles a base fee for tier t.
func (s *Service) Price(ctx context.Context, in pricing.Input, t tier.ID) (pricing.Breakdown, error) {
	if err := s.stamp(ctx, &in.CreatedAt, &in.Now); err != nil {
		return pricing.Breakdown{}, err
	}
	return s.pricing.Price(in, t)
}

// Quote estimates an installation and settles it for tier t.
func (s *Service) Quote(ctx context.Context, q pricing.QuoteInput, t tier.ID) (pricing.Quote, error) {
	if err := s.stamp(ctx, &q.CreatedAt, &q.Now); err != nil {
		return pricing.Quote{}, err
	}
	quote, err := s.pricing.Quote(q, t)
	if err != nil {
		return pricing.Quote{}, err
	}
	metrics.RecordQuote()
	return quote, nil
}

// Route sequences a contractor's stops from start.
func (s *Service) Route(_ context.Context, start geo.Location, stops []geo.Stop, mode geo.Mode) (geo.Route, error) {
	if mode == "" {
		mode = s.matchDefaults.Mode
	}
	return geo.SequenceRoute(start, stops, mode)
}

// AnalyzeTier reports the tier for m and the gaps to the next one.
func (s *Service) AnalyzeTier(m tier.Metrics) tier.Analysis {
	return s.tiers.Analyze(m)
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Started      bool                    `json:"started"`
	Workers      int                     `json:"workers"`
	QueueLength  int                     `json:"queue_length"`
	QueueSize    int                     `json:"queue_size"`
	DedupeSize   int64                   `json:"dedupe_size"`
	Jobs         map[model.JobStatus]int `json:"jobs"`
	Contractors  int                     `json:"contractors"`
	Assignments  int                     `json:"assignments"`
	DedupeWindow int                     `json:"dedupe_window"`
}

// GetStats returns service statistics and refreshes the matching gauges.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	st, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	repository.PublishStats(st)

	queueLen := s.eventQueue.Len()
	metrics.UpdateQueueSize(queueLen)
	if c := s.eventQueue.Cap(); c > 0 {
		metrics.UpdateQueueUtilization(float64(queueLen) / float64(c))
	}

	return Stats{
		Started:      started,
		Workers:      s.workerPool.Size(),
		QueueLength:  queueLen,
		QueueSize:    s.eventQueue.Cap(),
		DedupeSize:   s.deduper.Size(),
		Jobs:         st.Jobs,
		Contractors:  st.Contractors,
		Assignments:  st.Assignments,
		DedupeWindow: s.dedupeWindow,
	}, nil
}

func (s *Service) metricsLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.GetStats(ctx); err != nil {
				s.logger.Warn(ctx, "failed to refresh metrics", logger.Error(err))
			}
		}
	}
}
