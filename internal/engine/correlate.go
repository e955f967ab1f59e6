package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deploywatch/deploywatch/internal/models"
	"github.com/deploywatch/deploywatch/internal/utils"
)

// AlertSource is the monitoring collaborator behaviour the correlator needs.
type AlertSource interface {
	AlertsInWindow(ctx context.Context, start, end time.Time, services []string) ([]models.Alert, error)
}

// Correlator associates a deployment with monitoring alerts raised inside its
// correlation window.
type Correlator struct {
	logger *slog.Logger
	alerts AlertSource
	window time.Duration
}

// DefaultCorrelationWindow bounds alert matching after a deployment lands.
const DefaultCorrelationWindow = 5 * time.Minute

// NewCorrelator constructs a Correlator. A zero window falls back to the default.
func NewCorrelator(logger *slog.Logger, alerts AlertSource, window time.Duration) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = DefaultCorrelationWindow
	}
	return &Correlator{logger: logger, alerts: alerts, window: window}
}

// Correlate queries alerts in [deployment creation, creation + window] whose
// service tags intersect the deployment's services. The result replaces the
// deployment's prior correlation; zero matches yield confidence 0 with an
// empty, non-nil alert list.
func (c *Correlator) Correlate(ctx context.Context, dep models.Deployment) (models.Correlation, error) {
	result := models.Correlation{
		DeploymentID: dep.ID,
		Alerts:       []models.Alert{},
		ComputedAt:   time.Now().UTC(),
	}
	if c.alerts == nil {
		return result, fmt.Errorf("alert source not configured")
	}

	start := dep.CreatedAt
	end := start.Add(c.window)
	candidates, err := c.alerts.AlertsInWindow(ctx, start, end, dep.Services)
	if err != nil {
		return result, fmt.Errorf("fetch alerts: %w", err)
	}

	matched := make([]models.Alert, 0, len(candidates))
	for _, alert := range candidates {
		if !servicesOverlap(alert.Services, dep.Services) {
			continue
		}
		matched = append(matched, alert)
	}
	if len(matched) == 0 {
		return result, nil
	}

	proximitySum := 0.0
	matchSum := 0.0
	critical := false
	for _, alert := range matched {
		proximitySum += proximityScore(alert, start, c.window)
		matchSum += serviceMatchScore(alert, dep.Services)
		if alert.Severity == models.SeverityCritical {
			critical = true
		}
	}

	n := float64(len(matched))
	confidence := proximitySum/n*0.5 + matchSum/n*0.3
	if critical {
		confidence += 0.2
	}

	result.Alerts = matched
	result.Confidence = utils.Clamp(confidence, 0, 1)
	return result, nil
}

// proximityScore prefers the collaborator's precomputed score when present,
// otherwise derives one from the alert's distance to the deployment time.
func proximityScore(alert models.Alert, start time.Time, window time.Duration) float64 {
	if alert.Proximity > 0 {
		return utils.Clamp(alert.Proximity, 0, 1)
	}
	if alert.Timestamp.IsZero() || window <= 0 {
		return 0
	}
	offset := alert.Timestamp.Sub(start)
	if offset < 0 {
		offset = 0
	}
	return utils.Clamp(1-offset.Seconds()/window.Seconds(), 0, 1)
}

func serviceMatchScore(alert models.Alert, services []string) float64 {
	if alert.ServiceMatch > 0 {
		return utils.Clamp(alert.ServiceMatch, 0, 1)
	}
	if len(alert.Services) == 0 {
		return 0
	}
	overlap := 0
	for _, tag := range alert.Services {
		for _, svc := range services {
			if strings.EqualFold(tag, svc) {
				overlap++
				break
			}
		}
	}
	return float64(overlap) / float64(len(alert.Services))
}

func servicesOverlap(tags, services []string) bool {
	for _, tag := range tags {
		for _, svc := range services {
			if strings.EqualFold(tag, svc) {
				return true
			}
		}
	}
	return false
}
