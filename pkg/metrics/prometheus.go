// Package metrics provides Prometheus metrics for the installmatch service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Dispatch - lifecycle transitions
	transitions        *prometheus.CounterVec
	transitionConflict *prometheus.CounterVec
	transitionLatency  *prometheus.HistogramVec

	// Matching
	matches          *prometheus.CounterVec
	matchCandidates  prometheus.Histogram
	matchRejections  *prometheus.CounterVec
	matchLatency     prometheus.Histogram
	autoAssignments  *prometheus.CounterVec
	quotes           prometheus.Counter
	settlementVolume *prometheus.CounterVec

	// Events
	eventsPublished    *prometheus.CounterVec
	eventsDelivered    prometheus.Counter
	eventsDuplicate    prometheus.Counter
	eventsDropped      prometheus.Counter
	eventDeliveryError *prometheus.CounterVec

	// Repository
	repositoryRecords  *prometheus.GaugeVec
	repositoryJobs     *prometheus.GaugeVec
	repositoryLatency  *prometheus.HistogramVec
	repositoryConflict prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	queueLatency       prometheus.Histogram

	// Worker
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter
	workerRetryCount        prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "installmatch",
		subsystem:        "dispatch",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// RefreshInterval is how often gauges fed by polling should be refreshed.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

func (m *Manager) name(n string) string { return m.metricPrefix + n }

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
		Buckets:     buckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)

	m.transitions = auto.NewCounterVec(
		m.counterOpts("transitions_total", "Lifecycle transitions by operation and outcome"),
		[]string{"op", "outcome"},
	)
	m.transitionConflict = auto.NewCounterVec(
		m.counterOpts("transition_conflicts_total", "Compare-and-swap races lost and retried"),
		[]string{"op"},
	)
	m.transitionLatency = auto.NewHistogramVec(
		m.histogramOpts("transition_latency_milliseconds", "Transition latency including retries", m.histogramBuckets),
		[]string{"op"},
	)

	m.matches = auto.NewCounterVec(
		m.counterOpts("matches_total", "Match requests by priority profile and outcome"),
		[]string{"priority", "outcome"},
	)
	m.matchCandidates = auto.NewHistogram(
		m.histogramOpts("match_candidates", "Eligible candidates returned per match", []float64{0, 1, 2, 5, 10, 20, 50, 100}),
	)
	m.matchRejections = auto.NewCounterVec(
		m.counterOpts("match_rejections_total", "Contractors filtered out by eligibility reason"),
		[]string{"reason"},
	)
	m.matchLatency = auto.NewHistogram(
		m.histogramOpts("match_latency_milliseconds", "Match latency in milliseconds", m.histogramBuckets),
	)
	m.autoAssignments = auto.NewCounterVec(
		m.counterOpts("auto_assignments_total", "Automatic hand-offs of the top candidate by outcome"),
		[]string{"outcome"},
	)
	m.quotes = auto.NewCounter(m.counterOpts("quotes_total", "Quotes computed"))
	m.settlementVolume = auto.NewCounterVec(
		m.counterOpts("settlement_amount_total", "Settlement amounts snapshotted at acceptance"),
		[]string{"component"},
	)

	m.eventsPublished = auto.NewCounterVec(
		m.counterOpts("events_published_total", "Domain events published by type"),
		[]string{"type"},
	)
	m.eventsDelivered = auto.NewCounter(m.counterOpts("events_delivered_total", "Domain events delivered to sinks"))
	m.eventsDuplicate = auto.NewCounter(m.counterOpts("events_duplicate_total", "Duplicate events skipped by the deduper"))
	m.eventsDropped = auto.NewCounter(m.counterOpts("events_dropped_total", "Events dropped because the queue was full or closed"))
	m.eventDeliveryError = auto.NewCounterVec(
		m.counterOpts("event_delivery_errors_total", "Sink delivery failures"),
		[]string{"sink"},
	)

	m.repositoryRecords = auto.NewGaugeVec(
		m.gaugeOpts("repository_records", "Stored records by kind"),
		[]string{"kind"},
	)
	m.repositoryJobs = auto.NewGaugeVec(
		m.gaugeOpts("repository_jobs", "Stored jobs by status"),
		[]string{"status"},
	)
	m.repositoryLatency = auto.NewHistogramVec(
		m.histogramOpts("repository_latency_milliseconds", "Repository operation latency", m.histogramBuckets),
		[]string{"op"},
	)
	m.repositoryConflict = auto.NewCounter(m.counterOpts("repository_version_conflicts_total", "Writes rejected by a version check"))

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "HTTP requests by route endpoint, method and status class"),
		[]string{"endpoint", "method", "status_class"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_class"},
	)

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Events waiting for delivery"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Event queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Event queue fill ratio"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Events enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Events dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Failed enqueue attempts"))
	m.queueLatency = auto.NewHistogram(
		m.histogramOpts("queue_latency_milliseconds", "Enqueue latency in milliseconds", m.histogramBuckets),
	)

	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Running delivery workers"))
	m.workerProcessingLatency = auto.NewHistogram(
		m.histogramOpts("worker_processing_latency_milliseconds", "Per-event delivery latency", m.histogramBuckets),
	)
	m.workerErrorRate = auto.NewCounter(m.counterOpts("worker_errors_total", "Delivery errors seen by workers"))
	m.workerRetryCount = auto.NewCounter(m.counterOpts("worker_retries_total", "Delivery retries"))

	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)
	m.errorRateByEndpoint = auto.NewCounterVec(
		m.counterOpts("errors_by_endpoint_total", "HTTP errors by endpoint"),
		[]string{"endpoint", "method", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(
		m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}),
	)
}

// Dispatch.

// RecordTransition counts a lifecycle transition. Lost races are attempts-1.
func RecordTransition(op, outcome string, attempts int, latencyMs float64) {
	globalManager.transitions.WithLabelValues(op, outcome).Inc()
	if attempts > 1 {
		globalManager.transitionConflict.WithLabelValues(op).Add(float64(attempts - 1))
	}
	globalManager.transitionLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordSettlement adds the money components of an accepted price.
func RecordSettlement(total, platformFee, payout, tax int64) {
	globalManager.settlementVolume.WithLabelValues("total").Add(float64(total))
	globalManager.settlementVolume.WithLabelValues("platform_fee").Add(float64(platformFee))
	globalManager.settlementVolume.WithLabelValues("payout").Add(float64(payout))
	globalManager.settlementVolume.WithLabelValues("tax").Add(float64(tax))
}

// Matching.

// RecordMatch counts a match and its candidate list size.
func RecordMatch(priority, outcome string, candidates int, latencyMs float64) {
	globalManager.matches.WithLabelValues(priority, outcome).Inc()
	globalManager.matchCandidates.Observe(float64(candidates))
	globalManager.matchLatency.Observe(latencyMs)
}

// RecordMatchRejection counts one contractor filtered out for reason.
func RecordMatchRejection(reason string) {
	globalManager.matchRejections.WithLabelValues(reason).Inc()
}

// RecordAutoAssignment counts an automatic hand-off by outcome.
func RecordAutoAssignment(outcome string) {
	globalManager.autoAssignments.WithLabelValues(outcome).Inc()
}

// RecordQuote counts a computed quote.
func RecordQuote() {
	globalManager.quotes.Inc()
}

// Events.

// RecordEventPublished counts a published domain event.
func RecordEventPublished(eventType string) {
	globalManager.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDelivered counts an event handed to every sink.
func RecordEventDelivered() {
	globalManager.eventsDelivered.Inc()
}

// RecordEventDuplicate counts an event skipped as already delivered.
func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

// RecordEventDropped counts an event that never reached the queue.
func RecordEventDropped() {
	globalManager.eventsDropped.Inc()
}

// RecordEventDeliveryError counts a failed delivery to sink.
func RecordEventDeliveryError(sink string) {
	globalManager.eventDeliveryError.WithLabelValues(sink).Inc()
}

// Repository.

// UpdateRepositoryRecords sets the number of stored records of kind.
func UpdateRepositoryRecords(kind string, count int) {
	globalManager.repositoryRecords.WithLabelValues(kind).Set(float64(count))
}

// UpdateRepositoryJobs sets the number of stored jobs in status.
func UpdateRepositoryJobs(status string, count int) {
	globalManager.repositoryJobs.WithLabelValues(status).Set(float64(count))
}

// RecordRepositoryLatency records the latency of a repository operation.
func RecordRepositoryLatency(op string, latencyMs float64) {
	globalManager.repositoryLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordRepositoryConflict counts a write rejected by a version check.
func RecordRepositoryConflict() {
	globalManager.repositoryConflict.Inc()
}

// HTTP.

// RecordHTTPRequest counts a request; statusClass is "2xx", "4xx" and so on.
func RecordHTTPRequest(endpoint, method, statusClass string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusClass).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusClass string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusClass).Observe(duration)
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue fill ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue counts an enqueued event.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue counts a dequeued event.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError counts a failed enqueue.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueLatency records enqueue latency in milliseconds.
func RecordQueueLatency(latencyMs float64) {
	globalManager.queueLatency.Observe(latencyMs)
}

// Worker.

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records per-event delivery latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a worker delivery error.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordWorkerRetry counts a delivery retry.
func RecordWorkerRetry() {
	globalManager.workerRetryCount.Inc()
}

// Errors.

// RecordErrorByComponent counts an error raised by component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint counts an HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets heap bytes allocated.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// Configure rebuilds the global manager with opts on a fresh registry.
// Call it once at startup, before any handler captures GetRegistry.
func Configure(opts ...Option) {
	reg := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(reg))...)
	customRegistry = reg
}

// RefreshInterval returns the global manager's gauge refresh interval.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
