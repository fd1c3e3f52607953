package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the engine's Prometheus instrumentation, named
// chatrelay_<subsystem>_<metric> per this corpus's metrics-naming
// convention.
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	SendDuration     *prometheus.HistogramVec
	FloodWaits       *prometheus.CounterVec
	JobsByStatus     *prometheus.GaugeVec
	SubscribersGauge prometheus.Gauge
}

// NewMetrics registers and returns the engine's metric set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_messages_sent_total",
			Help: "Messages successfully forwarded, labeled by job and account.",
		}, []string{"job_id", "account_id"}),

		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_messages_dropped_total",
			Help: "Messages dropped by the Message Filter, labeled by job.",
		}, []string{"job_id"}),

		SendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatrelay_send_duration_seconds",
			Help:    "Time spent in a single Transport send call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_id", "kind"}),

		FloodWaits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_flood_waits_total",
			Help: "Flood-wait responses observed, labeled by account.",
		}, []string{"account_id"}),

		JobsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatrelay_jobs_by_status",
			Help: "Current number of jobs in each status.",
		}, []string{"status"}),

		SubscribersGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_bus_subscribers",
			Help: "Current number of connected Observer Bus subscribers.",
		}),
	}
}
