package detect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the detector's Prometheus instruments. One instance is shared
// by the orchestrator, the persistence gateway, the event bus and the
// simulation engine.
type Metrics struct {
	ObservationsTotal *prometheus.CounterVec
	WindowsSealed     *prometheus.CounterVec
	DetectionsTotal   *prometheus.CounterVec
	AnomaliesTotal    *prometheus.CounterVec
	DetectionLatency  prometheus.Histogram

	PersistenceDropped *prometheus.CounterVec
	BusDroppedFrames   prometheus.Counter
	BusSubscribers     prometheus.Gauge
	SimEmissions       prometheus.Counter
}

// NewMetrics registers all instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ObservationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apisentinel",
			Name:      "observations_total",
			Help:      "Observations seen by the ingress filter.",
		}, []string{"mode", "classification"}),
		WindowsSealed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apisentinel",
			Name:      "windows_sealed_total",
			Help:      "Tumbling windows sealed and handed to scoring.",
		}, []string{"mode"}),
		DetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apisentinel",
			Name:      "detections_total",
			Help:      "Detections produced, by priority band.",
		}, []string{"mode", "priority"}),
		AnomaliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apisentinel",
			Name:      "anomalies_total",
			Help:      "Detections whose anomaly verdict was positive.",
		}, []string{"mode"}),
		DetectionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apisentinel",
			Name:      "detection_latency_seconds",
			Help:      "Wall time from window seal to finished detection.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		PersistenceDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apisentinel",
			Name:      "persistence_dropped_total",
			Help:      "Writes dropped by the persistence gateway, by reason.",
		}, []string{"reason"}),
		BusDroppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "apisentinel",
			Name:      "bus_dropped_frames_total",
			Help:      "Frames dropped from slow subscriber queues.",
		}),
		BusSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "apisentinel",
			Name:      "bus_subscribers",
			Help:      "Currently connected event bus subscribers.",
		}),
		SimEmissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "apisentinel",
			Name:      "sim_emissions_total",
			Help:      "Synthetic observations emitted by the simulation engine.",
		}),
	}
}
