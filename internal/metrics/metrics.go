package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for mailcast
type Metrics struct {
	// Campaign runs
	CampaignRunsStarted  *prometheus.CounterVec
	CampaignRunsFinished *prometheus.CounterVec
	CampaignsActive      prometheus.Gauge
	Campaigns            *prometheus.GaugeVec

	// Deliveries
	DeliveriesTotal         *prometheus.CounterVec
	DeliveriesSkippedTotal  prometheus.Counter
	ProviderDurationSeconds *prometheus.HistogramVec

	// Scheduler
	SchedulerPollsTotal    *prometheus.CounterVec
	SchedulerPromotedTotal prometheus.Counter

	// Notifications
	NotificationsTotal *prometheus.CounterVec

	// API
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	// System
	UptimeSeconds    prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry  *prometheus.Registry
	startTime time.Time
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignRunsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcast_campaign_runs_started_total",
				Help: "Total number of campaign runs started",
			},
			[]string{"trigger"},
		),
		CampaignRunsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcast_campaign_runs_finished_total",
				Help: "Total number of campaign runs finished, by outcome",
			},
			[]string{"outcome"},
		),
		CampaignsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailcast_campaigns_active",
				Help: "Number of campaign workers currently running in this process",
			},
		),
		Campaigns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailcast_campaigns",
				Help: "Number of stored campaigns by status",
			},
			[]string{"status"},
		),

		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcast_deliveries_total",
				Help: "Total number of delivery attempts by provider and result",
			},
			[]string{"provider", "status"},
		),
		DeliveriesSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailcast_deliveries_skipped_total",
				Help: "Total number of recipients skipped because they already had a terminal record",
			},
		),
		ProviderDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailcast_provider_send_duration_seconds",
				Help:    "Provider send duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),

		SchedulerPollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcast_scheduler_polls_total",
				Help: "Total number of scheduler polls by result",
			},
			[]string{"result"},
		),
		SchedulerPromotedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailcast_scheduler_promoted_total",
				Help: "Total number of scheduled campaigns handed to the dispatcher",
			},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcast_notifications_total",
				Help: "Total number of completion notifications by sink and result",
			},
			[]string{"sink", "result"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailcast_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailcast_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailcast_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailcast_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry:  reg,
		startTime: time.Now(),
	}

	reg.MustRegister(
		m.CampaignRunsStarted,
		m.CampaignRunsFinished,
		m.CampaignsActive,
		m.Campaigns,
		m.DeliveriesTotal,
		m.DeliveriesSkippedTotal,
		m.ProviderDurationSeconds,
		m.SchedulerPollsTotal,
		m.SchedulerPromotedTotal,
		m.NotificationsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.UptimeSeconds,
		m.StorageUsedBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
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

// IncRunStarted records a campaign run launch. trigger is "manual", "scheduled" or "recovered".
func IncRunStarted(trigger string) {
	if m := Global(); m != nil {
		m.CampaignRunsStarted.WithLabelValues(trigger).Inc()
		m.CampaignsActive.Inc()
	}
}

// IncRunFinished records the end of a campaign run
func IncRunFinished(outcome string) {
	if m := Global(); m != nil {
		m.CampaignRunsFinished.WithLabelValues(outcome).Inc()
		m.CampaignsActive.Dec()
	}
}

// ObserveDelivery records one provider attempt
func ObserveDelivery(provider string, success bool, d time.Duration) {
	m := Global()
	if m == nil {
		return
	}
	status := "sent"
	if !success {
		status = "failed"
	}
	m.DeliveriesTotal.WithLabelValues(provider, status).Inc()
	m.ProviderDurationSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

// IncDeliverySkipped records a recipient skipped by the ledger
func IncDeliverySkipped() {
	if m := Global(); m != nil {
		m.DeliveriesSkippedTotal.Inc()
	}
}

// IncSchedulerPoll records a scheduler poll and how many campaigns it promoted
func IncSchedulerPoll(err error, promoted int) {
	m := Global()
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SchedulerPollsTotal.WithLabelValues(result).Inc()
	m.SchedulerPromotedTotal.Add(float64(promoted))
}

// IncNotification records a notification attempt for a sink
func IncNotification(sink string, err error) {
	m := Global()
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.NotificationsTotal.WithLabelValues(sink, result).Inc()
}
