package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "staking_stats"

// PrometheusMetrics contains all Prometheus metrics for the stats refresher
type PrometheusMetrics struct {
	// Run metrics
	RunsTotal           *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	ArtifactWritesTotal prometheus.Counter
	CommitsTotal        *prometheus.CounterVec
	LastRunTimestamp    *prometheus.GaugeVec
	RunsInProgress      prometheus.Gauge

	// Snapshot values
	APRPercentage        prometheus.Gauge
	TotalStaked          prometheus.Gauge
	ActiveValidatorCount prometheus.Gauge

	// Chain REST metrics
	ChainRequestsTotal   *prometheus.CounterVec
	ChainRequestDuration *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of refresh runs",
			},
			[]string{"trigger", "outcome"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of refresh runs",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"trigger"},
		),

		ArtifactWritesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_writes_total",
				Help:      "Total number of times the snapshot file was rewritten",
			},
		),

		CommitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_total",
				Help:      "Total number of snapshot commits",
			},
			[]string{"status"},
		),

		LastRunTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last run per outcome",
			},
			[]string{"outcome"},
		),

		RunsInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_in_progress",
				Help:      "1 while a refresh run is executing",
			},
		),

		APRPercentage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "apr_percentage",
				Help:      "Last calculated staking APR in percent",
			},
		),

		TotalStaked: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "total_staked_tokens",
				Help:      "Last observed bonded tokens in display units",
			},
		),

		ActiveValidatorCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_validators",
				Help:      "Last observed number of bonded validators",
			},
		),

		ChainRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_requests_total",
				Help:      "Total number of chain REST requests",
			},
			[]string{"endpoint", "status"},
		),

		ChainRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chain_request_duration_seconds",
				Help:      "Duration of chain REST requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "database_operations_total",
				Help:      "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "database_operation_duration_seconds",
				Help:      "Duration of database operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications sent",
			},
			[]string{"channel", "type"},
		),

		NotificationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_failures_total",
				Help:      "Total number of failed notifications",
			},
			[]string{"channel", "type"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "application_uptime_seconds",
				Help:      "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "component_health",
				Help:      "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines",
				Help:      "Number of running goroutines",
			},
		),
	}
}

// RecordRun records the outcome of a refresh run
func (m *PrometheusMetrics) RecordRun(trigger, outcome string, duration time.Duration, finishedAt time.Time) {
	m.RunsTotal.WithLabelValues(trigger, outcome).Inc()
	m.RunDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	m.LastRunTimestamp.WithLabelValues(outcome).Set(float64(finishedAt.Unix()))
}

// SetRunInProgress flips the in-progress gauge
func (m *PrometheusMetrics) SetRunInProgress(running bool) {
	if running {
		m.RunsInProgress.Set(1)
		return
	}
	m.RunsInProgress.Set(0)
}

// RecordArtifactWrite records a snapshot file rewrite
func (m *PrometheusMetrics) RecordArtifactWrite() {
	m.ArtifactWritesTotal.Inc()
}

// RecordCommit records a commit attempt; status is committed, skipped or error
func (m *PrometheusMetrics) RecordCommit(status string) {
	m.CommitsTotal.WithLabelValues(status).Inc()
}

// UpdateSnapshot publishes the snapshot values
func (m *PrometheusMetrics) UpdateSnapshot(apr, totalStaked float64, validators int64) {
	m.APRPercentage.Set(apr)
	m.TotalStaked.Set(totalStaked)
	m.ActiveValidatorCount.Set(float64(validators))
}

// RecordChainRequest records a chain REST request
func (m *PrometheusMetrics) RecordChainRequest(endpoint, status string, duration time.Duration) {
	m.ChainRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.ChainRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordNotificationSent records a sent notification
func (m *PrometheusMetrics) RecordNotificationSent(channel, notificationType string) {
	m.NotificationsSentTotal.WithLabelValues(channel, notificationType).Inc()
}

// RecordNotificationFailure records a failed notification
func (m *PrometheusMetrics) RecordNotificationFailure(channel, notificationType string) {
	m.NotificationFailuresTotal.WithLabelValues(channel, notificationType).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
