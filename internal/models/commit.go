package models

import "time"

// Commit is the metadata for one source-control revision. Immutable once
// retrieved from the source-control collaborator.
type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// DiffStat summarises the change surface of a commit.
type DiffStat struct {
	Files      []string `json:"files"`
	Insertions int      `json:"insertions"`
	Deletions  int      `json:"deletions"`
}

// TotalLines returns the combined insertion and deletion count.
func (d DiffStat) TotalLines() int {
	return d.Insertions + d.Deletions
}

// RiskAssessment is a derived value: a bounded suspiciousness score plus the
// factor labels that contributed to it. Never mutated after creation.
type RiskAssessment struct {
	Score   float64  `json:"score"`
	Factors []string `json:"factors"`
}

// ScoredCommit pairs a commit with its diff and computed assessment.
type ScoredCommit struct {
	Commit     Commit         `json:"commit"`
	Diff       DiffStat       `json:"diff"`
	Assessment RiskAssessment `json:"assessment"`
}
