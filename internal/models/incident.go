package models

import "time"

// Priority orders recommendations for responders.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Recommendation is one suggested responder action.
type Recommendation struct {
	Priority Priority `json:"priority"`
	Category string   `json:"category"`
	Message  string   `json:"message"`
}

// Incident bundles the context captured when a deployment's anomalies reach
// critical severity. Created once, immutable. DeploymentID is empty for
// incidents raised from historical analysis only.
type Incident struct {
	ID              string           `json:"id"`
	CreatedAt       time.Time        `json:"created_at"`
	DeploymentID    string           `json:"deployment_id,omitempty"`
	Severity        Severity         `json:"severity"`
	RiskFactors     []string         `json:"risk_factors"`
	Anomalies       []Anomaly        `json:"anomalies"`
	Recommendations []Recommendation `json:"recommendations"`
}

// ImpactAnalysis aggregates a set of suspicious commits.
type ImpactAnalysis struct {
	SuspiciousCommits int            `json:"suspicious_commits"`
	HighRiskCommits   int            `json:"high_risk_commits"`
	DistinctAuthors   int            `json:"distinct_authors"`
	AffectedFiles     []string       `json:"affected_files"`
	FactorFrequency   map[string]int `json:"factor_frequency"`
}

// ForensicsReport is the output of one historical analysis run.
type ForensicsReport struct {
	IncidentTime      time.Time        `json:"incident_time"`
	LookbackPeriod    time.Duration    `json:"lookback_period"`
	SuspiciousCommits []ScoredCommit   `json:"suspicious_commits"`
	Impact            ImpactAnalysis   `json:"impact"`
	Recommendations   []Recommendation `json:"recommendations"`
}
