// Package metrics provides Prometheus metrics for the meterbridge ingestion service.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Cycle metrics
	cyclesTotal       *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	importedEntries   prometheus.Counter
	importedDays      prometheus.Counter
	runningSum        prometheus.Gauge
	lastImportedDay   prometheus.Gauge
	lastCycleUnix     prometheus.Gauge
	triggersTotal     *prometheus.CounterVec
	triggersCoalesced *prometheus.CounterVec
	queueSize         prometheus.Gauge

	// Retry metrics
	retryPending  prometheus.Gauge
	retryDeadline prometheus.Gauge

	// External collaborators
	sinkRequests    *prometheus.CounterVec
	sinkLatency     *prometheus.HistogramVec
	portalRequests  *prometheus.CounterVec
	portalLatency   prometheus.Histogram
	portalReadings  prometheus.Counter
	journalFailures prometheus.Counter
	publishes       *prometheus.CounterVec

	// HTTP status surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
	customRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "meterbridge",
		subsystem:        "ingest",
		histogramBuckets: []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	auto := promauto.With(m.registry)

	m.cyclesTotal = auto.NewCounterVec(m.counterOpts("cycles_total", "Ingestion cycles by outcome"), []string{"outcome"})
	m.cycleDuration = auto.NewHistogram(m.histogramOpts("cycle_duration_milliseconds", "Wall time of one fetch/filter/reconcile/import cycle"))
	m.importedEntries = auto.NewCounter(m.counterOpts("imported_entries_total", "Hourly statistic entries accepted by the sink"))
	m.importedDays = auto.NewCounter(m.counterOpts("imported_days_total", "Full days accepted by the sink"))
	m.runningSum = auto.NewGauge(m.gaugeOpts("running_sum_kwh", "Cumulative sum at the end of the last imported day"))
	m.lastImportedDay = auto.NewGauge(m.gaugeOpts("last_imported_day_timestamp_seconds", "Midnight UTC of the last imported day"))
	m.lastCycleUnix = auto.NewGauge(m.gaugeOpts("last_cycle_timestamp_seconds", "Completion time of the last cycle"))
	m.triggersTotal = auto.NewCounterVec(m.counterOpts("triggers_total", "Triggers accepted into the queue by reason"), []string{"reason"})
	m.triggersCoalesced = auto.NewCounterVec(m.counterOpts("triggers_coalesced_total", "Triggers dropped because one was already queued"), []string{"reason"})
	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Triggers waiting for the worker"))

	m.retryPending = auto.NewGauge(m.gaugeOpts("retry_pending", "1 when a retry deadline is scheduled"))
	m.retryDeadline = auto.NewGauge(m.gaugeOpts("retry_deadline_timestamp_seconds", "Pending retry deadline, 0 when idle"))

	m.sinkRequests = auto.NewCounterVec(m.counterOpts("sink_requests_total", "Statistics sink requests by operation and status"), []string{"operation", "status"})
	m.sinkLatency = auto.NewHistogramVec(m.histogramOpts("sink_latency_milliseconds", "Statistics sink round-trip latency"), []string{"operation"})
	m.portalRequests = auto.NewCounterVec(m.counterOpts("portal_requests_total", "Metering portal requests by operation and status"), []string{"operation", "status"})
	m.portalLatency = auto.NewHistogram(m.histogramOpts("portal_latency_milliseconds", "Metering portal request latency"))
	m.portalReadings = auto.NewCounter(m.counterOpts("portal_readings_total", "Raw readings received from the portal"))
	m.journalFailures = auto.NewCounter(m.counterOpts("journal_failures_total", "Cycle journal writes that failed"))
	m.publishes = auto.NewCounterVec(m.counterOpts("mqtt_publishes_total", "Day summaries published to the MQTT broker by status"), []string{"status"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "Status API requests"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "Status API request duration",
		ConstLabels: m.constLabels,
		Buckets:     []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500},
	}, []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Running goroutines"))
}

// RecordCycle counts a finished cycle and its duration.
func RecordCycle(outcome string, d time.Duration) {
	globalManager.cyclesTotal.WithLabelValues(outcome).Inc()
	globalManager.cycleDuration.Observe(float64(d.Milliseconds()))
	globalManager.lastCycleUnix.Set(float64(time.Now().Unix()))
}

// RecordImport records an accepted batch.
func RecordImport(entries, days int, runningSum float64, lastDayStart time.Time) {
	globalManager.importedEntries.Add(float64(entries))
	globalManager.importedDays.Add(float64(days))
	UpdateAnchor(runningSum, lastDayStart)
}

// UpdateAnchor publishes the sink's current running sum and last imported day.
func UpdateAnchor(runningSum float64, lastDayStart time.Time) {
	globalManager.runningSum.Set(runningSum)
	if !lastDayStart.IsZero() {
		globalManager.lastImportedDay.Set(float64(lastDayStart.Unix()))
	}
}

// RecordTrigger counts a trigger; coalesced triggers are counted separately.
func RecordTrigger(reason string, coalesced bool) {
	if coalesced {
		globalManager.triggersCoalesced.WithLabelValues(reason).Inc()
		return
	}
	globalManager.triggersTotal.WithLabelValues(reason).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateRetry publishes the retry controller state.
func UpdateRetry(pending bool, deadline time.Time) {
	if !pending {
		globalManager.retryPending.Set(0)
		globalManager.retryDeadline.Set(0)
		return
	}
	globalManager.retryPending.Set(1)
	globalManager.retryDeadline.Set(float64(deadline.Unix()))
}

// RecordSinkRequest records one sink round trip.
func RecordSinkRequest(operation string, err error, d time.Duration) {
	globalManager.sinkRequests.WithLabelValues(operation, statusOf(err)).Inc()
	globalManager.sinkLatency.WithLabelValues(operation).Observe(float64(d.Milliseconds()))
}

// RecordPortalRequest records one portal round trip.
func RecordPortalRequest(operation string, err error, d time.Duration) {
	globalManager.portalRequests.WithLabelValues(operation, statusOf(err)).Inc()
	globalManager.portalLatency.Observe(float64(d.Milliseconds()))
}

// RecordPortalReadings counts raw readings received.
func RecordPortalReadings(n int) {
	globalManager.portalReadings.Add(float64(n))
}

// RecordJournalFailure counts a failed journal write.
func RecordJournalFailure() {
	globalManager.journalFailures.Inc()
}

// RecordPublish records one MQTT day summary publication.
func RecordPublish(err error) {
	globalManager.publishes.WithLabelValues(statusOf(err)).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Register adds an extra collector to the custom registry.
func Register(c prometheus.Collector) error {
	if err := customRegistry.Register(c); err != nil {
		return fmt.Errorf("%w: %w", ErrRegister, err)
	}
	return nil
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
