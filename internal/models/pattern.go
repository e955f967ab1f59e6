package models

import "time"

// RiskPattern is a recurring risk-factor/anomaly signature mined from
// archived incidents.
type RiskPattern struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Factors      []string  `json:"factors"`
	AnomalyTypes []string  `json:"anomaly_types"`
	Occurrences  int       `json:"occurrences"`
	Prevalence   float64   `json:"prevalence"`
	LastSeen     time.Time `json:"last_seen"`
}
