package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rover"

// Collector holds the Prometheus series exported by the controllers,
// the telemetry dispatcher and the dashboard.
type Collector struct {
	Ticks          *prometheus.CounterVec
	ModeTicks      *prometheus.CounterVec
	Collisions     *prometheus.CounterVec
	Escapes        *prometheus.CounterVec
	Distance       *prometheus.GaugeVec
	Energy         *prometheus.GaugeVec
	GoalDistance   *prometheus.GaugeVec
	Coverage       *prometheus.GaugeVec
	LateralError   *prometheus.HistogramVec
	Sessions       *prometheus.CounterVec
	TelemetrySent  *prometheus.CounterVec
	TelemetryDrops *prometheus.CounterVec
	IngestEvents   *prometheus.CounterVec
}

// NewCollector registers every series on reg. Pass a fresh
// prometheus.NewRegistry() in tests to keep them isolated.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "ticks_total",
			Help:      "Control loop ticks by system",
		}, []string{"system"}),
		ModeTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "mode_ticks_total",
			Help:      "Control loop ticks by system and behavior mode",
		}, []string{"system", "mode"}),
		Collisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "collisions_total",
			Help:      "Debounced collisions by system",
		}, []string{"system"}),
		Escapes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "escapes_total",
			Help:      "Escape maneuvers started, by system and trigger",
		}, []string{"system", "trigger"}),
		Distance: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "distance_meters",
			Help:      "Distance traveled in the current session",
		}, []string{"system"}),
		Energy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "energy",
			Help:      "Energy estimate of the current session",
		}, []string{"system"}),
		GoalDistance: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "goal_distance_meters",
			Help:      "Remaining distance to the goal",
		}, []string{"system"}),
		Coverage: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "coverage_percent",
			Help:      "Visited share of known free cells",
		}, []string{"system"}),
		LateralError: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "lateral_error_meters",
			Help:      "Left/right range imbalance per flush",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1.0, 1.5},
		}, []string{"system"}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "completed_total",
			Help:      "Finished sessions by system and outcome",
		}, []string{"system", "outcome"}),
		TelemetrySent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "sent_total",
			Help:      "Telemetry events delivered, by publisher",
		}, []string{"publisher"}),
		TelemetryDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "dropped_total",
			Help:      "Telemetry events dropped, by reason",
		}, []string{"reason"}),
		IngestEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "events_total",
			Help:      "Events received by the dashboard, by source and type",
		}, []string{"source", "type"}),
	}
}
