package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/deploywatch/deploywatch/internal/models"
)

type fakeSourceControl struct {
	commits  []models.Commit
	diffs    map[string]models.DiffStat
	listErr  error
	diffErrs map[string]error
}

func (f *fakeSourceControl) ListCommits(_ context.Context, _, _ time.Time) ([]models.Commit, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.commits, nil
}

func (f *fakeSourceControl) DiffStat(_ context.Context, hash string) (models.DiffStat, error) {
	if err, ok := f.diffErrs[hash]; ok {
		return models.DiffStat{}, err
	}
	diff, ok := f.diffs[hash]
	if !ok {
		return models.DiffStat{}, fmt.Errorf("unknown hash %s", hash)
	}
	return diff, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestAnalyzeFiltersAndSorts(t *testing.T) {
	incident := time.Date(2025, time.March, 11, 14, 0, 0, 0, time.UTC)
	scm := &fakeSourceControl{
		commits: []models.Commit{
			// Scores 0.8: off-hours + config path + urgent message + medium change.
			{Hash: "high1", Message: "urgent config rollout", Author: "alice", Timestamp: incident.Add(-12 * time.Hour)},
			// Scores 0.2: off-hours only.
			{Hash: "low1", Message: "Adjust worker pool sizing defaults", Author: "bob", Timestamp: incident.Add(5 * time.Hour)},
			// Scores 0: business hours, small diff.
			{Hash: "clean1", Message: "Document the retry policy knobs", Author: "carol", Timestamp: incident.Add(-2 * time.Hour)},
		},
		diffs: map[string]models.DiffStat{
			"high1":  {Files: []string{"config/app.yml"}, Insertions: 150, Deletions: 20},
			"low1":   {Files: []string{"internal/pool/size.go"}, Insertions: 12},
			"clean1": {Files: []string{"docs/retry.md"}, Insertions: 30},
		},
	}

	recommender, err := NewRecommender(testLogger(), "")
	if err != nil {
		t.Fatalf("NewRecommender: %v", err)
	}
	eng := NewForensicsEngine(testLogger(), scm, NewRiskScorer(), recommender)

	report, err := eng.Analyze(context.Background(), models.ForensicsRequest{IncidentTime: incident})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(report.SuspiciousCommits) != 1 {
		t.Fatalf("suspicious commits = %d, want 1", len(report.SuspiciousCommits))
	}
	if got := report.SuspiciousCommits[0].Commit.Hash; got != "high1" {
		t.Fatalf("top commit = %s, want high1", got)
	}
	if report.Impact.SuspiciousCommits != 1 {
		t.Fatalf("impact suspicious count = %d, want 1", report.Impact.SuspiciousCommits)
	}
	if report.Impact.HighRiskCommits != 1 {
		t.Fatalf("high risk commits = %d, want 1", report.Impact.HighRiskCommits)
	}
	if report.Impact.DistinctAuthors != 1 {
		t.Fatalf("distinct authors = %d, want 1", report.Impact.DistinctAuthors)
	}
	if diff := cmp.Diff([]string{"config/app.yml"}, report.Impact.AffectedFiles); diff != "" {
		t.Fatalf("affected files mismatch (-want +got):\n%s", diff)
	}
	if len(report.Recommendations) == 0 {
		t.Fatal("expected recommendations for a suspicious window")
	}
	if report.Recommendations[0].Category != "review" {
		t.Fatalf("first recommendation category = %q, want review of the top commit", report.Recommendations[0].Category)
	}
}

func TestAnalyzeStableOrderForEqualScores(t *testing.T) {
	incident := time.Date(2025, time.March, 11, 14, 0, 0, 0, time.UTC)
	// Both commits hit exactly the same rules: weekend plus auth path, 0.5 each.
	mk := func(hash string, offset time.Duration) models.Commit {
		return models.Commit{
			Hash:      hash,
			Message:   "Tighten the session token parser",
			Author:    "dana",
			Timestamp: time.Date(2025, time.March, 9, 11, 0, 0, 0, time.UTC).Add(offset),
		}
	}
	scm := &fakeSourceControl{
		commits: []models.Commit{mk("older", 0), mk("newer", time.Hour)},
		diffs: map[string]models.DiffStat{
			"older": {Files: []string{"internal/auth/session.go"}, Insertions: 10},
			"newer": {Files: []string{"internal/auth/session.go"}, Insertions: 10},
		},
	}
	eng := NewForensicsEngine(testLogger(), scm, NewRiskScorer(), nil)

	report, err := eng.Analyze(context.Background(), models.ForensicsRequest{IncidentTime: incident})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.SuspiciousCommits) != 2 {
		t.Fatalf("suspicious commits = %d, want 2", len(report.SuspiciousCommits))
	}
	if report.SuspiciousCommits[0].Commit.Hash != "older" || report.SuspiciousCommits[1].Commit.Hash != "newer" {
		t.Fatalf("equal scores must keep chronological order, got %s then %s",
			report.SuspiciousCommits[0].Commit.Hash, report.SuspiciousCommits[1].Commit.Hash)
	}
}

func TestAnalyzeDiffFailureScoresNeutral(t *testing.T) {
	incident := time.Date(2025, time.March, 11, 14, 0, 0, 0, time.UTC)
	scm := &fakeSourceControl{
		commits: []models.Commit{
			{Hash: "broken", Message: "urgent hotfix everywhere", Author: "erin", Timestamp: incident.Add(-time.Hour)},
			{Hash: "scored", Message: "urgent config change", Author: "frank", Timestamp: time.Date(2025, time.March, 9, 2, 0, 0, 0, time.UTC)},
		},
		diffs: map[string]models.DiffStat{
			"scored": {Files: []string{"config/flags.yml"}, Insertions: 200},
		},
		diffErrs: map[string]error{"broken": errors.New("diff endpoint 500")},
	}
	eng := NewForensicsEngine(testLogger(), scm, NewRiskScorer(), nil)

	report, err := eng.Analyze(context.Background(), models.ForensicsRequest{IncidentTime: incident})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// The broken commit scores neutral and drops below the threshold; the batch
	// still completes with the scorable commit.
	if len(report.SuspiciousCommits) != 1 {
		t.Fatalf("suspicious commits = %d, want 1", len(report.SuspiciousCommits))
	}
	if report.SuspiciousCommits[0].Commit.Hash != "scored" {
		t.Fatalf("surviving commit = %s, want scored", report.SuspiciousCommits[0].Commit.Hash)
	}
}

func TestAnalyzeZeroTimestampScoresNeutral(t *testing.T) {
	scm := &fakeSourceControl{
		commits: []models.Commit{{Hash: "no-ts", Message: "urgent production fix"}},
		diffs:   map[string]models.DiffStat{"no-ts": {Files: []string{"config/app.yml"}, Insertions: 600}},
	}
	eng := NewForensicsEngine(testLogger(), scm, NewRiskScorer(), nil)

	report, err := eng.Analyze(context.Background(), models.ForensicsRequest{IncidentTime: time.Now().UTC()})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.SuspiciousCommits) != 0 {
		t.Fatalf("a commit without a timestamp must score neutral, got %d suspicious", len(report.SuspiciousCommits))
	}
}

func TestAnalyzeListError(t *testing.T) {
	scm := &fakeSourceControl{listErr: errors.New("scm unavailable")}
	eng := NewForensicsEngine(testLogger(), scm, NewRiskScorer(), nil)

	_, err := eng.Analyze(context.Background(), models.ForensicsRequest{IncidentTime: time.Now().UTC()})
	if err == nil {
		t.Fatal("expected error when commit listing fails")
	}
}

func TestAnalyzeLookbackWindow(t *testing.T) {
	incident := time.Date(2025, time.March, 11, 14, 0, 0, 0, time.UTC)
	req := models.ForensicsRequest{IncidentTime: incident, LookbackHours: 6}
	window := req.Window()
	if got := window.End.Sub(window.Start); got != 6*time.Hour {
		t.Fatalf("window span = %s, want 6h", got)
	}
	if !window.End.Equal(incident) {
		t.Fatalf("window end = %s, want incident time", window.End)
	}

	req = models.ForensicsRequest{IncidentTime: incident}
	if got := req.Lookback(); got != 24*time.Hour {
		t.Fatalf("default lookback = %s, want 24h", got)
	}
}
