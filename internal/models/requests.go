package models

import "time"

// ForensicsRequest parameterises one historical analysis run.
type ForensicsRequest struct {
	IncidentTime  time.Time
	LookbackHours int
	AffectedFiles []string
}

// Lookback returns the request window as a duration, defaulting to 24h.
func (r ForensicsRequest) Lookback() time.Duration {
	hours := r.LookbackHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// TimeRange bounds a signal window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Window returns the commit window covered by the request.
func (r ForensicsRequest) Window() TimeRange {
	return TimeRange{Start: r.IncidentTime.Add(-r.Lookback()), End: r.IncidentTime}
}
