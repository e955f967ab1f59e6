package models

import "time"

// DeploymentStatus enumerates lifecycle states.
type DeploymentStatus string

const (
	StatusInProgress DeploymentStatus = "in_progress"
	StatusCompleted  DeploymentStatus = "completed"
	StatusDegraded   DeploymentStatus = "degraded"
	StatusFailed     DeploymentStatus = "failed"
)

// Terminal reports whether a deployment in this state stops being tracked.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// MetricsSnapshot is the live signal polled for a deployment's services.
type MetricsSnapshot struct {
	ErrorRate      float64   `json:"error_rate"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	CollectedAt    time.Time `json:"collected_at"`
}

// Alert is a monitoring alert as returned by the monitoring collaborator.
// Proximity and ServiceMatch are optional precomputed scores in [0,1].
type Alert struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Severity     Severity  `json:"severity"`
	Services     []string  `json:"services"`
	Timestamp    time.Time `json:"timestamp"`
	Proximity    float64   `json:"proximity,omitempty"`
	ServiceMatch float64   `json:"service_match,omitempty"`
}

// Anomaly records one metric deviation observed during a poll. Appended to a
// deployment's history, never removed.
type Anomaly struct {
	Type       string    `json:"type"`
	Severity   Severity  `json:"severity"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	Message    string    `json:"message"`
	DetectedAt time.Time `json:"detected_at"`
}

// Correlation associates a deployment with the monitoring alerts observed in
// its window. One per deployment per poll, replacing the prior value. Alerts
// is always non-nil, empty when nothing matched.
type Correlation struct {
	DeploymentID string    `json:"deployment_id"`
	Alerts       []Alert   `json:"alerts"`
	Confidence   float64   `json:"confidence"`
	ComputedAt   time.Time `json:"computed_at"`
}

// Deployment is a tracked unit of code reaching an environment. Mutated only
// by its own polling cycle; removed from the active set once terminal.
type Deployment struct {
	ID          string           `json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	Commit      Commit           `json:"commit"`
	Diff        DiffStat         `json:"diff"`
	Services    []string         `json:"services"`
	Status      DeploymentStatus `json:"status"`
	Metrics     MetricsSnapshot  `json:"metrics"`
	Risk        RiskAssessment   `json:"risk"`
	Anomalies   []Anomaly        `json:"anomalies"`
	Correlation *Correlation     `json:"correlation,omitempty"`
}
