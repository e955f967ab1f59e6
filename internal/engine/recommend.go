package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deploywatch/deploywatch/internal/models"
)

// Recommender maps risk and anomaly facts onto prioritized responder actions.
// The built-in mapping is deterministic; an optional YAML rule pack lets
// operators append custom recommendations.
type Recommender struct {
	logger *slog.Logger
	custom []CustomRule
}

// CustomRule is one operator-supplied recommendation rule.
type CustomRule struct {
	ID              string               `yaml:"id"`
	Match           CustomRuleMatch      `yaml:"match"`
	Recommendations []CustomRecommendation `yaml:"recommendations"`
}

// CustomRuleMatch defines optional attributes for rule matching.
type CustomRuleMatch struct {
	FactorsAny      []string `yaml:"factors_any"`
	AnomalyTypesAny []string `yaml:"anomaly_types_any"`
}

// CustomRecommendation is the action emitted when a custom rule matches.
type CustomRecommendation struct {
	Priority string `yaml:"priority"`
	Category string `yaml:"category"`
	Message  string `yaml:"message"`
}

type rulePackFile struct {
	Rules []CustomRule `yaml:"rules"`
}

// NewRecommender constructs a Recommender, loading a rule pack when path is
// non-empty. A missing rule-pack file is not an error.
func NewRecommender(logger *slog.Logger, rulePackPath string) (*Recommender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recommender{logger: logger}
	if rulePackPath == "" {
		return r, nil
	}

	data, err := os.ReadFile(rulePackPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	var pack rulePackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	r.custom = pack.Rules
	return r, nil
}

// ForDeployment produces the live-path recommendations for a deployment and
// its anomaly list. A failed deployment always yields the rollback action
// first, followed by anomaly-specific actions in anomaly order.
func (r *Recommender) ForDeployment(dep models.Deployment, anomalies []models.Anomaly) []models.Recommendation {
	recs := make([]models.Recommendation, 0, len(anomalies)+1)

	if dep.Status == models.StatusFailed {
		recs = append(recs, models.Recommendation{
			Priority: models.PriorityHigh,
			Category: "rollback",
			Message:  fmt.Sprintf("Roll back deployment %s (commit %s) to the previous release", dep.ID, shortHash(dep.Commit.Hash)),
		})
	}

	for _, anomaly := range anomalies {
		if rec, ok := anomalyRecommendation(anomaly); ok {
			recs = appendRec(recs, rec)
		}
	}

	recs = r.applyCustomRules(recs, dep.Risk.Factors, anomalyTypes(anomalies))
	return recs
}

// ForImpact produces the historical-path recommendations from an impact
// analysis, seeded by the top suspicious commit. A clean window yields exactly
// one low-priority suggestion to widen the lookback.
func (r *Recommender) ForImpact(top *models.ScoredCommit, impact models.ImpactAnalysis) []models.Recommendation {
	if impact.SuspiciousCommits == 0 || top == nil {
		return []models.Recommendation{{
			Priority: models.PriorityLow,
			Category: "analysis",
			Message:  "No suspicious commits found in the window; widen the lookback period and re-run the analysis",
		}}
	}

	recs := make([]models.Recommendation, 0, 4)
	if top.Assessment.Score > highRiskThreshold {
		recs = append(recs, models.Recommendation{
			Priority: models.PriorityHigh,
			Category: "review",
			Message:  fmt.Sprintf("Review commit %s by %s first (risk %.2f): %s", shortHash(top.Commit.Hash), top.Commit.Author, top.Assessment.Score, strings.Join(top.Assessment.Factors, ", ")),
		})
	}

	for _, mapping := range factorRecommendations {
		if impact.FactorFrequency[mapping.factor] > 0 {
			recs = appendRec(recs, mapping.rec)
		}
	}

	if impact.DistinctAuthors > 3 {
		recs = appendRec(recs, models.Recommendation{
			Priority: models.PriorityMedium,
			Category: "coordination",
			Message:  fmt.Sprintf("%d authors touched the window; coordinate the investigation across owning teams", impact.DistinctAuthors),
		})
	}

	recs = r.applyCustomRules(recs, allFactors(impact), nil)
	return recs
}

// factorRecommendations maps high-frequency risk factors onto actions.
var factorRecommendations = []struct {
	factor string
	rec    models.Recommendation
}{
	{"Configuration change", models.Recommendation{Priority: models.PriorityHigh, Category: "configuration", Message: "Audit configuration and secrets changes in the suspicious set; diff against the last known-good state"}},
	{"Database change", models.Recommendation{Priority: models.PriorityHigh, Category: "database", Message: "Verify recent migrations applied cleanly and check for schema drift"}},
	{"Auth/security change", models.Recommendation{Priority: models.PriorityHigh, Category: "security", Message: "Re-test authentication and authorization paths touched by recent changes"}},
	{"Off-hours deployment", models.Recommendation{Priority: models.PriorityMedium, Category: "process", Message: "Off-hours changes are in the suspicious set; confirm they passed the regular review process"}},
	{"Dependency change", models.Recommendation{Priority: models.PriorityMedium, Category: "dependencies", Message: "Dependency manifests changed; compare resolved versions against the previous build"}},
}

func anomalyRecommendation(anomaly models.Anomaly) (models.Recommendation, bool) {
	switch anomaly.Type {
	case "error_rate_spike":
		return models.Recommendation{Priority: models.PriorityHigh, Category: "investigate", Message: "Error rate spiked after the deployment; investigate application logs for new failure signatures"}, true
	case "memory_spike":
		return models.Recommendation{Priority: models.PriorityHigh, Category: "memory", Message: "Memory usage is abnormal; investigate for a leak introduced by the change"}, true
	case "response_time_degradation":
		return models.Recommendation{Priority: models.PriorityMedium, Category: "performance", Message: "Response times degraded; scale out or optimize the hot path"}, true
	case "cpu_spike":
		return models.Recommendation{Priority: models.PriorityMedium, Category: "performance", Message: "CPU usage spiked; profile the deployment for regressions in compute-heavy paths"}, true
	}
	return models.Recommendation{}, false
}

func (r *Recommender) applyCustomRules(recs []models.Recommendation, factors, anomalyKinds []string) []models.Recommendation {
	for _, rule := range r.custom {
		if len(rule.Match.FactorsAny) > 0 && !anyOverlap(rule.Match.FactorsAny, factors) {
			continue
		}
		if len(rule.Match.AnomalyTypesAny) > 0 && !anyOverlap(rule.Match.AnomalyTypesAny, anomalyKinds) {
			continue
		}
		for _, custom := range rule.Recommendations {
			recs = appendRec(recs, models.Recommendation{
				Priority: parsePriority(custom.Priority),
				Category: custom.Category,
				Message:  custom.Message,
			})
		}
	}
	return recs
}

// appendRec keeps the recommendation list free of duplicate messages while
// preserving insertion order.
func appendRec(recs []models.Recommendation, rec models.Recommendation) []models.Recommendation {
	for _, existing := range recs {
		if existing.Message == rec.Message {
			return recs
		}
	}
	return append(recs, rec)
}

func parsePriority(raw string) models.Priority {
	switch strings.ToLower(raw) {
	case "high":
		return models.PriorityHigh
	case "low":
		return models.PriorityLow
	default:
		return models.PriorityMedium
	}
}

func anyOverlap(wanted, have []string) bool {
	for _, w := range wanted {
		for _, h := range have {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}

func anomalyTypes(anomalies []models.Anomaly) []string {
	kinds := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		kinds = append(kinds, a.Type)
	}
	return kinds
}

func allFactors(impact models.ImpactAnalysis) []string {
	factors := make([]string, 0, len(impact.FactorFrequency))
	for factor := range impact.FactorFrequency {
		factors = append(factors, factor)
	}
	return factors
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
