package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful forensics runs.
	OutcomeSuccess = "success"
	// OutcomeError labels failed forensics runs.
	OutcomeError = "error"
)

var (
	forensicsRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deploywatch",
			Name:      "forensics_runs_total",
			Help:      "Total number of forensics analyses handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	forensicsRunSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "deploywatch",
			Name:      "forensics_run_seconds",
			Help:      "Forensics analysis latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)

	activeDeployments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deploywatch",
			Name:      "active_deployments",
			Help:      "Number of deployments currently in a non-terminal state.",
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deploywatch",
			Name:      "anomalies_total",
			Help:      "Total anomalies detected, partitioned by type.",
		},
		[]string{"type"},
	)

	incidentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deploywatch",
			Name:      "incidents_total",
			Help:      "Total incidents triggered by failed deployments.",
		},
	)
)

// Register attaches deploywatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		forensicsRunsTotal,
		forensicsRunSeconds,
		activeDeployments,
		anomaliesTotal,
		incidentsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveForensicsRun records a run duration and outcome label.
func ObserveForensicsRun(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	forensicsRunsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	forensicsRunSeconds.Observe(duration.Seconds())
}

// AddActiveDeployments adjusts the active-deployment gauge.
func AddActiveDeployments(delta int) {
	activeDeployments.Add(float64(delta))
}

// CountAnomaly increments the per-type anomaly counter.
func CountAnomaly(anomalyType string) {
	anomaliesTotal.WithLabelValues(anomalyType).Inc()
}

// CountIncident increments the incident counter.
func CountIncident() {
	incidentsTotal.Inc()
}
