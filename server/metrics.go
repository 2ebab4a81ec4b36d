package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the server-wide prometheus collectors. They live on
// their own registry so tests can build servers freely.
type Metrics struct {
	Registry *prometheus.Registry

	matches        prometheus.Gauge
	players        prometheus.Gauge
	inbound        *prometheus.CounterVec
	broadcasts     prometheus.Counter
	droppedInbound prometheus.Counter
	protocolErrors prometheus.Counter
	denied         prometheus.Counter
	rateLimited    prometheus.Counter
	cheatsRejected prometheus.Counter
	storageErrors  prometheus.Counter
	tickDuration   prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		matches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "matchserver_matches",
			Help: "Live matches.",
		}),
		players: factory.NewGauge(prometheus.GaugeOpts{
			Name: "matchserver_players",
			Help: "Connected players across all matches.",
		}),
		inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchserver_inbound_messages_total",
			Help: "Inbound messages routed, by opcode class.",
		}, []string{"class"}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchserver_broadcasts_total",
			Help: "Broadcast fan-outs produced.",
		}),
		droppedInbound: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchserver_dropped_inbound_total",
			Help: "Inbound messages dropped because the inbox was full.",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchserver_protocol_errors_total",
			Help: "Malformed messages dropped.",
		}),
		denied: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchserver_denied_total",
			Help: "Messages dropped for missing authorization.",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchserver_rate_limited_total",
			Help: "Messages dropped by per-user rate limits.",
		}),
		cheatsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchserver_cheats_rejected_total",
			Help: "Vessel updates rejected by validation.",
		}),
		storageErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchserver_storage_errors_total",
			Help: "Storage adapter failures.",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchserver_tick_duration_seconds",
			Help:    "Match tick wall time.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
}
