package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the outreach service
type Metrics struct {
	// Campaign lifecycle
	CampaignTransitionsTotal *prometheus.CounterVec
	CampaignsActive          prometheus.Gauge

	// Outbound email counters
	EmailsQueuedTotal     prometheus.Counter
	EmailsDispatchedTotal *prometheus.CounterVec
	EmailsPurgedTotal     prometheus.Counter

	// Engagement
	EngagementEventsTotal *prometheus.CounterVec

	// Queue gauges
	QueueQueued   prometheus.Gauge
	QueueInFlight prometheus.Gauge
	QueueDeferred prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_campaign_transitions_total",
				Help: "Campaign state machine events by outcome",
			},
			[]string{"event", "result"},
		),
		CampaignsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_campaigns_active",
				Help: "Number of campaigns currently active",
			},
		),

		EmailsQueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_emails_queued_total",
				Help: "Total number of personalized emails queued by campaign starts",
			},
		),
		EmailsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_emails_dispatched_total",
				Help: "Dispatch attempts by result (sent, deferred, failed)",
			},
			[]string{"result"},
		),
		EmailsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_emails_purged_total",
				Help: "Queued emails dropped because their campaign was deleted",
			},
		),

		EngagementEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_engagement_events_total",
				Help: "Recorded engagement events by kind and outcome",
			},
			[]string{"kind", "result"},
		),

		QueueQueued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_queue_queued",
				Help: "Number of emails waiting for dispatch",
			},
		),
		QueueInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_queue_in_flight",
				Help: "Number of emails claimed by a dispatch worker",
			},
		),
		QueueDeferred: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_queue_deferred",
				Help: "Number of emails awaiting retry",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outreach_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_storage_used_bytes",
				Help: "BoltDB data size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.CampaignTransitionsTotal,
		m.CampaignsActive,
		m.EmailsQueuedTotal,
		m.EmailsDispatchedTotal,
		m.EmailsPurgedTotal,
		m.EngagementEventsTotal,
		m.QueueQueued,
		m.QueueInFlight,
		m.QueueDeferred,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncCampaignTransition counts a state machine event.
// result is "ok" or the error class ("invalid", "not_found", "conflict", "error").
func IncCampaignTransition(event, result string) {
	m := Global()
	if m != nil {
		m.CampaignTransitionsTotal.WithLabelValues(event, result).Inc()
	}
}

// AddEmailsQueued adds n to the queued email counter
func AddEmailsQueued(n int) {
	m := Global()
	if m != nil && n > 0 {
		m.EmailsQueuedTotal.Add(float64(n))
	}
}

// IncEmailsDispatched counts a dispatch attempt
func IncEmailsDispatched(result string) {
	m := Global()
	if m != nil {
		m.EmailsDispatchedTotal.WithLabelValues(result).Inc()
	}
}

// AddEmailsPurged adds n to the purged email counter
func AddEmailsPurged(n int) {
	m := Global()
	if m != nil && n > 0 {
		m.EmailsPurgedTotal.Add(float64(n))
	}
}

// IncEngagementEvent counts a recorded engagement event
func IncEngagementEvent(kind, result string) {
	m := Global()
	if m != nil {
		m.EngagementEventsTotal.WithLabelValues(kind, result).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
