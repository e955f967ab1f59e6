package engine

import (
	"regexp"
	"strings"
	"time"

	"github.com/deploywatch/deploywatch/internal/models"
)

// Heuristic weights. Triggered deltas are summed and clamped to [0,1].
const (
	weightOffHours      = 0.2
	weightLargeChange   = 0.3
	weightMediumChange  = 0.1
	weightManyFiles     = 0.2
	weightSeveralFiles  = 0.1
	weightHighRiskPath  = 0.3
	weightAffectedFiles = 0.4
	weightUrgentMessage = 0.2
	weightVagueMessage  = 0.1
)

// pathRule classifies a changed path into a high-risk category. The category
// bonus is applied once per commit; the first matching rule wins.
type pathRule struct {
	pattern *regexp.Regexp
	label   string
}

// messageRule scores the commit message itself.
type messageRule struct {
	pattern *regexp.Regexp
	weight  float64
	label   string
}

var highRiskPaths = []pathRule{
	{regexp.MustCompile(`(?i)(config|secret|credential)`), "Configuration change"},
	{regexp.MustCompile(`(?i)(migration|database|schema)`), "Database change"},
	{regexp.MustCompile(`(?i)(auth|security|permission)`), "Auth/security change"},
	{regexp.MustCompile(`(?i)(deploy|production|release)`), "Deployment config change"},
	{regexp.MustCompile(`(?i)(package\.json|go\.mod|requirements\.txt|gemfile|pom\.xml|cargo\.toml)`), "Dependency change"},
}

var messageRules = []messageRule{
	{regexp.MustCompile(`(?i)\b(urgent|hotfix|emergency|critical|asap)\b`), weightUrgentMessage, "Urgent/fix commit"},
	{regexp.MustCompile(`(?i)^\s*(fix|update)\b.{0,10}$`), weightVagueMessage, "Vague commit message"},
}

// RiskScorer derives a suspiciousness assessment from commit metadata and
// diff stats. Pure: output depends only on input.
type RiskScorer struct {
	paths    []pathRule
	messages []messageRule
}

// NewRiskScorer constructs a scorer with the default rule tables.
func NewRiskScorer() *RiskScorer {
	return &RiskScorer{paths: highRiskPaths, messages: messageRules}
}

// NeutralAssessment is the fallback when diff or metadata retrieval fails.
func NeutralAssessment() models.RiskAssessment {
	return models.RiskAssessment{Score: 0, Factors: []string{}}
}

// Score evaluates one commit. affectedFiles is an optional caller-supplied
// hint of files implicated in the incident under investigation.
func (s *RiskScorer) Score(commit models.Commit, diff models.DiffStat, affectedFiles []string) models.RiskAssessment {
	score := 0.0
	factors := make([]string, 0, 4)

	if offHours(commit.Timestamp) {
		score += weightOffHours
		factors = append(factors, "Off-hours deployment")
	}

	switch lines := diff.TotalLines(); {
	case lines > 500:
		score += weightLargeChange
		factors = append(factors, "Large code changes")
	case lines > 100:
		score += weightMediumChange
		factors = append(factors, "Large code changes")
	}

	switch files := len(diff.Files); {
	case files > 10:
		score += weightManyFiles
		factors = append(factors, "Many files modified")
	case files > 5:
		score += weightSeveralFiles
		factors = append(factors, "Many files modified")
	}

	if label, ok := s.highRiskCategory(diff.Files); ok {
		score += weightHighRiskPath
		factors = append(factors, label)
	}

	if intersects(diff.Files, affectedFiles) {
		score += weightAffectedFiles
		factors = append(factors, "Modified affected files")
	}

	for _, rule := range s.messages {
		if rule.pattern.MatchString(commit.Message) {
			score += rule.weight
			factors = append(factors, rule.label)
		}
	}

	if score > 1 {
		score = 1
	}
	return models.RiskAssessment{Score: score, Factors: factors}
}

// ScoreDeployment is the variant used at deployment creation: same weighting
// logic, no affected-files hint.
func (s *RiskScorer) ScoreDeployment(commit models.Commit, diff models.DiffStat) models.RiskAssessment {
	return s.Score(commit, diff, nil)
}

// highRiskCategory returns the label of the first category matched by any
// changed file. The bonus applies once regardless of how many categories match.
func (s *RiskScorer) highRiskCategory(files []string) (string, bool) {
	for _, rule := range s.paths {
		for _, file := range files {
			if rule.pattern.MatchString(file) {
				return rule.label, true
			}
		}
	}
	return "", false
}

func offHours(ts time.Time) bool {
	if ts.IsZero() {
		return false
	}
	switch ts.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	hour := ts.Hour()
	return hour < 9 || hour >= 17
}

func intersects(files, hints []string) bool {
	if len(files) == 0 || len(hints) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(hints))
	for _, hint := range hints {
		set[strings.TrimSpace(hint)] = struct{}{}
	}
	for _, file := range files {
		if _, ok := set[file]; ok {
			return true
		}
	}
	return false
}
