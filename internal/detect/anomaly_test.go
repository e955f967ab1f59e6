package detect

import (
	"testing"
	"time"

	"github.com/deploywatch/deploywatch/internal/models"
)

var collectedAt = time.Date(2025, time.March, 11, 10, 5, 0, 0, time.UTC)

func TestDetectSingleMetric(t *testing.T) {
	d := NewDetector()
	snapshot := models.MetricsSnapshot{
		ErrorRate:      6.0,
		ResponseTimeMs: 200,
		CPUPercent:     40,
		MemoryPercent:  55,
		CollectedAt:    collectedAt,
	}

	got := d.Detect(snapshot, nil)
	if len(got) != 1 {
		t.Fatalf("anomalies = %d, want exactly 1", len(got))
	}
	a := got[0]
	if a.Type != "error_rate_spike" {
		t.Fatalf("type = %s, want error_rate_spike", a.Type)
	}
	if a.Severity != models.SeverityHigh {
		t.Fatalf("severity = %s, want high", a.Severity)
	}
	if a.Value != 6.0 || a.Threshold != ErrorRateThreshold {
		t.Fatalf("value/threshold = %f/%f, want 6/5", a.Value, a.Threshold)
	}
	if !a.DetectedAt.Equal(collectedAt) {
		t.Fatalf("detectedAt = %s, want snapshot collection time", a.DetectedAt)
	}
}

func TestDetectTable(t *testing.T) {
	d := NewDetector()
	cases := []struct {
		name         string
		snapshot     models.MetricsSnapshot
		wantType     string
		wantSeverity models.Severity
	}{
		{
			name:         "response time",
			snapshot:     models.MetricsSnapshot{ResponseTimeMs: 1500, CollectedAt: collectedAt},
			wantType:     "response_time_degradation",
			wantSeverity: models.SeverityMedium,
		},
		{
			name:         "cpu",
			snapshot:     models.MetricsSnapshot{CPUPercent: 95, CollectedAt: collectedAt},
			wantType:     "cpu_spike",
			wantSeverity: models.SeverityMedium,
		},
		{
			name:         "memory",
			snapshot:     models.MetricsSnapshot{MemoryPercent: 92, CollectedAt: collectedAt},
			wantType:     "memory_spike",
			wantSeverity: models.SeverityHigh,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := d.Detect(tc.snapshot, nil)
			if len(got) != 1 {
				t.Fatalf("anomalies = %d, want 1", len(got))
			}
			if got[0].Type != tc.wantType || got[0].Severity != tc.wantSeverity {
				t.Fatalf("got %s/%s, want %s/%s", got[0].Type, got[0].Severity, tc.wantType, tc.wantSeverity)
			}
		})
	}
}

func TestDetectBoundaryValuesAreHealthy(t *testing.T) {
	d := NewDetector()
	// Thresholds are strict: values at the threshold do not fire.
	snapshot := models.MetricsSnapshot{
		ErrorRate:      ErrorRateThreshold,
		ResponseTimeMs: ResponseTimeThreshold,
		CPUPercent:     CPUThreshold,
		MemoryPercent:  MemoryThreshold,
		CollectedAt:    collectedAt,
	}
	if got := d.Detect(snapshot, nil); len(got) != 0 {
		t.Fatalf("anomalies = %v, want none at exact thresholds", got)
	}
}

func TestDetectRuleOrder(t *testing.T) {
	d := NewDetector()
	snapshot := models.MetricsSnapshot{
		ErrorRate:      10,
		ResponseTimeMs: 2000,
		CPUPercent:     90,
		MemoryPercent:  95,
		CollectedAt:    collectedAt,
	}

	got := d.Detect(snapshot, nil)
	wantOrder := []string{"error_rate_spike", "response_time_degradation", "cpu_spike", "memory_spike"}
	if len(got) != len(wantOrder) {
		t.Fatalf("anomalies = %d, want %d", len(got), len(wantOrder))
	}
	for i, want := range wantOrder {
		if got[i].Type != want {
			t.Fatalf("anomaly[%d] = %s, want %s", i, got[i].Type, want)
		}
	}
}

func TestDetectCriticalAlerts(t *testing.T) {
	d := NewDetector()
	alerts := []models.Alert{
		{ID: "a1", Severity: models.SeverityCritical},
		{ID: "a2", Severity: models.SeverityHigh},
		{ID: "a3", Severity: models.SeverityCritical},
	}

	got := d.Detect(models.MetricsSnapshot{ErrorRate: 7, CollectedAt: collectedAt}, alerts)
	if len(got) != 2 {
		t.Fatalf("anomalies = %d, want metric anomaly plus critical_alerts", len(got))
	}
	last := got[len(got)-1]
	if last.Type != "critical_alerts" || last.Severity != models.SeverityCritical {
		t.Fatalf("last anomaly = %s/%s, want critical_alerts/critical", last.Type, last.Severity)
	}
	if last.Value != 2 {
		t.Fatalf("critical count = %f, want 2", last.Value)
	}
}

func TestDetectHealthySnapshot(t *testing.T) {
	d := NewDetector()
	snapshot := models.MetricsSnapshot{
		ErrorRate:      0.4,
		ResponseTimeMs: 120,
		CPUPercent:     35,
		MemoryPercent:  60,
		CollectedAt:    collectedAt,
	}
	if got := d.Detect(snapshot, nil); len(got) != 0 {
		t.Fatalf("anomalies = %v, want none", got)
	}
}

func TestDetectZeroCollectionTimeDefaultsToNow(t *testing.T) {
	d := NewDetector()
	before := time.Now().UTC()
	got := d.Detect(models.MetricsSnapshot{ErrorRate: 9}, nil)
	if len(got) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(got))
	}
	if got[0].DetectedAt.Before(before) {
		t.Fatalf("detectedAt = %s, want a current timestamp", got[0].DetectedAt)
	}
}
