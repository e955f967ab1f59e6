package detect

import (
	"fmt"
	"time"

	"github.com/deploywatch/deploywatch/internal/models"
)

// Detection thresholds for the live metrics snapshot.
const (
	ErrorRateThreshold    = 5.0
	ResponseTimeThreshold = 1000.0
	CPUThreshold          = 80.0
	MemoryThreshold       = 90.0
)

// thresholdRule is one metric check. Rules are evaluated independently and
// emitted in table order.
type thresholdRule struct {
	name      string
	severity  models.Severity
	threshold float64
	value     func(models.MetricsSnapshot) float64
	message   func(value float64) string
}

var metricRules = []thresholdRule{
	{
		name:      "error_rate_spike",
		severity:  models.SeverityHigh,
		threshold: ErrorRateThreshold,
		value:     func(s models.MetricsSnapshot) float64 { return s.ErrorRate },
		message:   func(v float64) string { return fmt.Sprintf("error rate %.2f%% exceeds %.0f%%", v, ErrorRateThreshold) },
	},
	{
		name:      "response_time_degradation",
		severity:  models.SeverityMedium,
		threshold: ResponseTimeThreshold,
		value:     func(s models.MetricsSnapshot) float64 { return s.ResponseTimeMs },
		message:   func(v float64) string { return fmt.Sprintf("response time %.0fms exceeds %.0fms", v, ResponseTimeThreshold) },
	},
	{
		name:      "cpu_spike",
		severity:  models.SeverityMedium,
		threshold: CPUThreshold,
		value:     func(s models.MetricsSnapshot) float64 { return s.CPUPercent },
		message:   func(v float64) string { return fmt.Sprintf("cpu usage %.1f%% exceeds %.0f%%", v, CPUThreshold) },
	},
	{
		name:      "memory_spike",
		severity:  models.SeverityHigh,
		threshold: MemoryThreshold,
		value:     func(s models.MetricsSnapshot) float64 { return s.MemoryPercent },
		message:   func(v float64) string { return fmt.Sprintf("memory usage %.1f%% exceeds %.0f%%", v, MemoryThreshold) },
	},
}

// Detector evaluates a metrics snapshot against fixed thresholds. Stateless;
// the caller owns anomaly history.
type Detector struct {
	rules []thresholdRule
}

// NewDetector constructs a Detector with the default rule table.
func NewDetector() *Detector {
	return &Detector{rules: metricRules}
}

// Detect returns the anomalies present in the snapshot, in rule order,
// followed by a critical anomaly when any correlated alert is critical.
func (d *Detector) Detect(snapshot models.MetricsSnapshot, correlated []models.Alert) []models.Anomaly {
	at := snapshot.CollectedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	anomalies := make([]models.Anomaly, 0, len(d.rules)+1)
	for _, rule := range d.rules {
		value := rule.value(snapshot)
		if value <= rule.threshold {
			continue
		}
		anomalies = append(anomalies, models.Anomaly{
			Type:       rule.name,
			Severity:   rule.severity,
			Value:      value,
			Threshold:  rule.threshold,
			Message:    rule.message(value),
			DetectedAt: at,
		})
	}

	if count := criticalAlertCount(correlated); count > 0 {
		anomalies = append(anomalies, models.Anomaly{
			Type:       "critical_alerts",
			Severity:   models.SeverityCritical,
			Value:      float64(count),
			Threshold:  0,
			Message:    fmt.Sprintf("%d critical alert(s) correlated with this deployment", count),
			DetectedAt: at,
		})
	}

	return anomalies
}

func criticalAlertCount(alerts []models.Alert) int {
	count := 0
	for _, alert := range alerts {
		if alert.Severity == models.SeverityCritical {
			count++
		}
	}
	return count
}
