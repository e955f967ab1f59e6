package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deploywatch/deploywatch/internal/engine"
	"github.com/deploywatch/deploywatch/internal/metrics"
	"github.com/deploywatch/deploywatch/internal/models"
	"github.com/deploywatch/deploywatch/internal/utils"
)

// ForensicsService fronts the forensics engine for the transport layer,
// recording run metrics and latency percentiles.
type ForensicsService struct {
	logger    *slog.Logger
	engine    *engine.ForensicsEngine
	latencies *utils.LatencyTracker
}

// NewForensicsService constructs the service facade.
func NewForensicsService(logger *slog.Logger, forensics *engine.ForensicsEngine) *ForensicsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ForensicsService{
		logger:    logger,
		engine:    forensics,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze runs one historical analysis. A zero incident time defaults to now.
func (s *ForensicsService) Analyze(ctx context.Context, req models.ForensicsRequest) (models.ForensicsReport, error) {
	if s.engine == nil {
		return models.ForensicsReport{}, fmt.Errorf("forensics engine not configured")
	}
	if req.IncidentTime.IsZero() {
		req.IncidentTime = time.Now().UTC()
	}

	s.logger.Debug("forensics analysis requested",
		slog.Time("incident_time", req.IncidentTime),
		slog.Int("lookback_hours", req.LookbackHours))

	start := time.Now()
	report, err := s.engine.Analyze(ctx, req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveForensicsRun(duration, metrics.OutcomeError)
		s.logger.Error("forensics analysis failed", slog.Any("error", err))
		return models.ForensicsReport{}, err
	}

	s.latencies.Observe(duration)
	metrics.ObserveForensicsRun(duration, metrics.OutcomeSuccess)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("forensics latency",
			slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	s.logger.Info("forensics analysis complete",
		slog.Int("suspicious", report.Impact.SuspiciousCommits),
		slog.Int("high_risk", report.Impact.HighRiskCommits))
	return report, nil
}

// LatencyP95 returns the current p95 analysis latency.
func (s *ForensicsService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}
