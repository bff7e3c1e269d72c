package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds the Prometheus series the pipeline reports.
type Collectors struct {
	EventsTotal         *prometheus.CounterVec
	UnrecognizedTotal   prometheus.Counter
	DroppedTotal        *prometheus.CounterVec
	ScoresTotal         *prometheus.CounterVec
	PatternsTotal       *prometheus.CounterVec
	BruteForceAlerts    prometheus.Counter
	AlertsTotal         *prometheus.CounterVec
	ActionsTotal        *prometheus.CounterVec
	StateResetsTotal    prometheus.Counter
	TrackedEntities     prometheus.Gauge
	BlacklistedEntities prometheus.Gauge
	ActiveTrackers      prometheus.Gauge
	QueueDepth          prometheus.Gauge
}

// NewCollectors registers every series on reg. A nil reg uses a private
// registry so tests can build several pipelines side by side.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Collectors{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netwarden",
			Name:      "events_total",
			Help:      "Classified events by kind.",
		}, []string{"kind"}),
		UnrecognizedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "netwarden",
			Name:      "unrecognized_inputs_total",
			Help:      "Raw inputs the classifier could not map to an event.",
		}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netwarden",
			Name:      "dropped_inputs_total",
			Help:      "Raw inputs dropped before classification.",
		}, []string{"reason"}),
		ScoresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netwarden",
			Name:      "scores_total",
			Help:      "Ensemble scoring results by method and verdict.",
		}, []string{"method", "threat"}),
		PatternsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netwarden",
			Name:      "window_patterns_total",
			Help:      "Behavioral patterns detected by the window aggregator.",
		}, []string{"pattern"}),
		BruteForceAlerts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "netwarden",
			Name:      "bruteforce_alerts_total",
			Help:      "Authentication brute-force alerts raised.",
		}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netwarden",
			Name:      "alerts_total",
			Help:      "Alerts raised by type and severity.",
		}, []string{"alert_type", "severity"}),
		ActionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netwarden",
			Name:      "actions_total",
			Help:      "Response action status transitions.",
		}, []string{"type", "status"}),
		StateResetsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "netwarden",
			Name:      "state_resets_total",
			Help:      "Per-entity records or trackers reset after failing validation.",
		}),
		TrackedEntities: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "netwarden",
			Name:      "tracked_entities",
			Help:      "Entities with a threat record.",
		}),
		BlacklistedEntities: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "netwarden",
			Name:      "blacklisted_entities",
			Help:      "Entities currently blacklisted.",
		}),
		ActiveTrackers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "netwarden",
			Name:      "bruteforce_trackers",
			Help:      "Brute-force trackers held in memory.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "netwarden",
			Name:      "dispatch_queue_depth",
			Help:      "Actions waiting for a dispatch worker.",
		}),
	}
}
