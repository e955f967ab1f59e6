package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/deploywatch/deploywatch/internal/models"
)

// Suspiciousness cutoffs for the historical analysis.
const (
	suspiciousThreshold = 0.3
	highRiskThreshold   = 0.7
)

// SourceControl is the source-control collaborator behaviour the forensics
// engine needs.
type SourceControl interface {
	ListCommits(ctx context.Context, start, end time.Time) ([]models.Commit, error)
	DiffStat(ctx context.Context, hash string) (models.DiffStat, error)
}

// ForensicsEngine scores the commits preceding an incident and aggregates
// their impact.
type ForensicsEngine struct {
	logger      *slog.Logger
	scm         SourceControl
	scorer      *RiskScorer
	recommender *Recommender
}

// NewForensicsEngine constructs a ForensicsEngine.
func NewForensicsEngine(logger *slog.Logger, scm SourceControl, scorer *RiskScorer, recommender *Recommender) *ForensicsEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if scorer == nil {
		scorer = NewRiskScorer()
	}
	return &ForensicsEngine{logger: logger, scm: scm, scorer: scorer, recommender: recommender}
}

// Analyze runs one historical pass: fetch the lookback window, score every
// commit, keep the suspicious ones, and derive impact plus recommendations.
func (e *ForensicsEngine) Analyze(ctx context.Context, req models.ForensicsRequest) (models.ForensicsReport, error) {
	if e.scm == nil {
		return models.ForensicsReport{}, fmt.Errorf("source-control client not configured")
	}

	window := req.Window()
	commits, err := e.scm.ListCommits(ctx, window.Start, window.End)
	if err != nil {
		return models.ForensicsReport{}, fmt.Errorf("list commits: %w", err)
	}

	suspicious := make([]models.ScoredCommit, 0, len(commits))
	for _, commit := range commits {
		scored := e.scoreOne(ctx, commit, req.AffectedFiles)
		if scored.Assessment.Score > suspiciousThreshold {
			suspicious = append(suspicious, scored)
		}
	}

	// Stable sort keeps the original chronological order for equal scores.
	sort.SliceStable(suspicious, func(i, j int) bool {
		return suspicious[i].Assessment.Score > suspicious[j].Assessment.Score
	})

	impact := buildImpact(suspicious)

	var top *models.ScoredCommit
	if len(suspicious) > 0 {
		top = &suspicious[0]
	}

	var recommendations []models.Recommendation
	if e.recommender != nil {
		recommendations = e.recommender.ForImpact(top, impact)
	}

	return models.ForensicsReport{
		IncidentTime:      req.IncidentTime,
		LookbackPeriod:    req.Lookback(),
		SuspiciousCommits: suspicious,
		Impact:            impact,
		Recommendations:   recommendations,
	}, nil
}

// scoreOne never fails: a commit whose diff cannot be retrieved, or whose
// metadata is unusable, gets a neutral assessment and the batch continues.
func (e *ForensicsEngine) scoreOne(ctx context.Context, commit models.Commit, affectedFiles []string) models.ScoredCommit {
	scored := models.ScoredCommit{Commit: commit}
	if commit.Timestamp.IsZero() {
		e.logger.Warn("commit missing timestamp, scoring neutral", slog.String("hash", commit.Hash))
		scored.Assessment = NeutralAssessment()
		return scored
	}

	diff, err := e.scm.DiffStat(ctx, commit.Hash)
	if err != nil {
		e.logger.Warn("diff retrieval failed, scoring neutral", slog.String("hash", commit.Hash), slog.Any("error", err))
		scored.Assessment = NeutralAssessment()
		return scored
	}

	scored.Diff = diff
	scored.Assessment = e.scorer.Score(commit, diff, affectedFiles)
	return scored
}

func buildImpact(suspicious []models.ScoredCommit) models.ImpactAnalysis {
	impact := models.ImpactAnalysis{
		SuspiciousCommits: len(suspicious),
		FactorFrequency:   make(map[string]int),
	}

	authors := make(map[string]struct{})
	files := make(map[string]struct{})
	for _, scored := range suspicious {
		if scored.Assessment.Score > highRiskThreshold {
			impact.HighRiskCommits++
		}
		if scored.Commit.Author != "" {
			authors[scored.Commit.Author] = struct{}{}
		}
		for _, file := range scored.Diff.Files {
			files[file] = struct{}{}
		}
		for _, factor := range scored.Assessment.Factors {
			impact.FactorFrequency[factor]++
		}
	}

	impact.DistinctAuthors = len(authors)
	impact.AffectedFiles = make([]string, 0, len(files))
	for file := range files {
		impact.AffectedFiles = append(impact.AffectedFiles, file)
	}
	sort.Strings(impact.AffectedFiles)
	return impact
}
