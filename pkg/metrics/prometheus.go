// Package metrics provides Prometheus metrics for the HackOps judging service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every judging metric.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Judging
	scoresSubmitted       prometheus.Counter
	scoresRejected        *prometheus.CounterVec
	assignmentsCreated    prometheus.Counter
	underCovered          prometheus.Gauge
	conflictsDetected     prometheus.Counter
	reassignments         *prometheus.CounterVec
	roundLocks            prometheus.Counter
	normalizationLatency  prometheus.Histogram
	normalizationRetries  prometheus.Counter
	analyticsExports      prometheus.Counter
	analyticsExportErrors prometheus.Counter

	// Store
	repositoryRecords *prometheus.GaugeVec

	// Events
	outboxRelayed     prometheus.Counter
	eventsDelivered   *prometheus.CounterVec
	eventsDuplicate   prometheus.Counter
	eventDeliveryFail prometheus.Counter

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "hackops",
		subsystem:        "judging",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	m.scoresSubmitted = m.counter("scores_submitted_total", "Scores accepted by the ledger")
	m.scoresRejected = m.counterVec("scores_rejected_total", "Score writes rejected, by error kind", "kind")
	m.assignmentsCreated = m.counter("assignments_created_total", "Judge assignments created")
	m.underCovered = m.gauge("under_covered_submissions", "Submissions below coverage_min after the last generation or normalization")
	m.conflictsDetected = m.counter("conflicts_detected_total", "Conflict flags recorded")
	m.reassignments = m.counterVec("reassignments_total", "Assignments removed from a round, by reason", "reason")
	m.roundLocks = m.counter("round_locks_total", "Rounds locked")
	m.normalizationLatency = m.histogram("normalization_latency_milliseconds", "Normalization latency in milliseconds")
	m.normalizationRetries = m.counter("normalization_retries_total", "Normalization passes retried after a round version change")
	m.analyticsExports = m.counter("analytics_exports_total", "Analytics exports written")
	m.analyticsExportErrors = m.counter("analytics_export_errors_total", "Analytics exports that failed")

	m.repositoryRecords = m.gaugeVec("repository_records", "Stored records by kind", "kind")

	m.outboxRelayed = m.counter("outbox_relayed_total", "Outbox events handed to the delivery queue")
	m.eventsDelivered = m.counterVec("events_delivered_total", "Domain events delivered, by type", "type")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Redelivered domain events suppressed")
	m.eventDeliveryFail = m.counter("event_delivery_failures_total", "Domain event deliveries that failed")

	m.queueSize = m.gauge("queue_size", "Current size of the event queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the event queue")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Events enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Events dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Events rejected by a full or closed queue")

	m.workerCount = m.gauge("worker_count", "Configured delivery workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently delivering an event")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Event delivery latency in milliseconds")
	m.workerErrors = m.counter("worker_errors_total", "Worker delivery errors")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "http_request_duration_milliseconds",
		Help: "HTTP request duration in milliseconds", ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and kind", "component", "kind")
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func on() bool { return globalManager != nil && globalManager.enabled }

// RecordScoreSubmitted counts an accepted score write.
func RecordScoreSubmitted() {
	if on() {
		globalManager.scoresSubmitted.Inc()
	}
}

// RecordScoreRejected counts a refused score write by error kind.
func RecordScoreRejected(kind string) {
	if on() {
		globalManager.scoresRejected.WithLabelValues(kind).Inc()
	}
}

// RecordAssignmentsCreated adds n created assignments.
func RecordAssignmentsCreated(n int) {
	if on() && n > 0 {
		globalManager.assignmentsCreated.Add(float64(n))
	}
}

// UpdateUnderCovered sets the number of under-covered submissions.
func UpdateUnderCovered(n int) {
	if on() {
		globalManager.underCovered.Set(float64(n))
	}
}

// RecordConflictsDetected adds n recorded conflict flags.
func RecordConflictsDetected(n int) {
	if on() && n > 0 {
		globalManager.conflictsDetected.Add(float64(n))
	}
}

// RecordReassignment counts one removed assignment.
func RecordReassignment(reason string) {
	if on() {
		globalManager.reassignments.WithLabelValues(reason).Inc()
	}
}

// RecordRoundLocked counts a round lock.
func RecordRoundLocked() {
	if on() {
		globalManager.roundLocks.Inc()
	}
}

// RecordNormalizationLatency records a normalization pass in milliseconds.
func RecordNormalizationLatency(ms float64) {
	if on() {
		globalManager.normalizationLatency.Observe(ms)
	}
}

// RecordNormalizationRetry counts a retried normalization pass.
func RecordNormalizationRetry() {
	if on() {
		globalManager.normalizationRetries.Inc()
	}
}

// RecordAnalyticsExport counts an export attempt.
func RecordAnalyticsExport(err error) {
	if !on() {
		return
	}
	if err != nil {
		globalManager.analyticsExportErrors.Inc()
		return
	}
	globalManager.analyticsExports.Inc()
}

// UpdateRepositoryRecords sets the stored record count for kind.
func UpdateRepositoryRecords(kind string, n int) {
	if on() {
		globalManager.repositoryRecords.WithLabelValues(kind).Set(float64(n))
	}
}

// RecordOutboxRelayed adds n relayed outbox events.
func RecordOutboxRelayed(n int) {
	if on() && n > 0 {
		globalManager.outboxRelayed.Add(float64(n))
	}
}

// RecordEventDelivered counts a delivered domain event.
func RecordEventDelivered(eventType string) {
	if on() {
		globalManager.eventsDelivered.WithLabelValues(eventType).Inc()
	}
}

// RecordEventDuplicate counts a suppressed redelivery.
func RecordEventDuplicate() {
	if on() {
		globalManager.eventsDuplicate.Inc()
	}
}

// RecordEventDeliveryFailed counts a failed delivery.
func RecordEventDeliveryFailed() {
	if on() {
		globalManager.eventDeliveryFail.Inc()
	}
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	if on() {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	if on() {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if on() {
		globalManager.queueEnqueueRate.Inc()
	}
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if on() {
		globalManager.queueDequeueRate.Inc()
	}
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	if on() {
		globalManager.queueEnqueueErrors.Inc()
	}
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	if on() {
		globalManager.workerCount.Set(float64(count))
	}
}

// UpdateWorkerActiveCount adjusts the busy worker gauge by delta.
func UpdateWorkerActiveCount(delta int) {
	if on() {
		globalManager.workerActiveCount.Add(float64(delta))
	}
}

// RecordWorkerProcessingLatency records delivery latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if on() {
		globalManager.workerErrors.Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordErrorByComponent records an error with component and kind labels.
func RecordErrorByComponent(component, kind string) {
	if on() {
		globalManager.errorsByComponent.WithLabelValues(component, kind).Inc()
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
