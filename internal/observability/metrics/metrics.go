package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Module provides the application metrics set.
var Module = fx.Module("observability.metrics",
	fx.Provide(New),
)

// Metrics exposes application-level instruments.
type Metrics struct {
	SwitchEvents      prometheus.Counter
	SwitchReconnects  prometheus.Counter
	SwitchOffline     prometheus.Counter
	ActiveCalls       prometheus.Gauge
	CDRsProcessed     *prometheus.CounterVec
	UsageJobsEnqueued prometheus.Counter
	UsageJobsDropped  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		SwitchEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxbill_switch_events_total",
			Help: "Events consumed from the switch event socket.",
		}),
		SwitchReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxbill_switch_reconnects_total",
			Help: "Reconnect attempts against the switch event socket.",
		}),
		SwitchOffline: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxbill_switch_offline_total",
			Help: "Times the connector gave up and went offline.",
		}),
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voxbill_active_calls",
			Help: "Calls currently tracked by the registry.",
		}),
		CDRsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voxbill_cdrs_processed_total",
			Help: "CDRs handled by the rating pipeline, by outcome.",
		}, []string{"status"}),
		UsageJobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxbill_usage_jobs_enqueued_total",
			Help: "Usage increment jobs handed to the worker.",
		}),
		UsageJobsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxbill_usage_jobs_dropped_total",
			Help: "Usage increment jobs dropped because the queue was full.",
		}),
	}
}
