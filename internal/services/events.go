package services

import (
	"github.com/deploywatch/deploywatch/internal/metrics"
	"github.com/deploywatch/deploywatch/internal/models"
	"github.com/deploywatch/deploywatch/internal/tracker"
)

// EventFanout forwards tracker events to downstream sinks while keeping the
// Prometheus gauges and counters current. Implements tracker.Sink; every
// downstream sink must itself be non-blocking.
type EventFanout struct {
	sinks []tracker.Sink
}

// NewEventFanout constructs a fanout over zero or more sinks.
func NewEventFanout(sinks ...tracker.Sink) *EventFanout {
	filtered := make([]tracker.Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return &EventFanout{sinks: filtered}
}

// DeploymentStarted forwards the event and bumps the active gauge.
func (f *EventFanout) DeploymentStarted(dep models.Deployment) {
	metrics.AddActiveDeployments(1)
	for _, sink := range f.sinks {
		sink.DeploymentStarted(dep)
	}
}

// DeploymentUpdated forwards the event, adjusting the gauge when the
// deployment reached a terminal state.
func (f *EventFanout) DeploymentUpdated(dep models.Deployment) {
	if dep.Status.Terminal() {
		metrics.AddActiveDeployments(-1)
	}
	for _, sink := range f.sinks {
		sink.DeploymentUpdated(dep)
	}
}

// AnomalyDetected forwards the event and counts the anomaly by type.
func (f *EventFanout) AnomalyDetected(dep models.Deployment, anomaly models.Anomaly) {
	metrics.CountAnomaly(anomaly.Type)
	for _, sink := range f.sinks {
		sink.AnomalyDetected(dep, anomaly)
	}
}

// IncidentTriggered forwards the event and counts the incident.
func (f *EventFanout) IncidentTriggered(incident models.Incident) {
	metrics.CountIncident()
	for _, sink := range f.sinks {
		sink.IncidentTriggered(incident)
	}
}
