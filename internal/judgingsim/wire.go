package judgingsim

import "time"

// Wire shapes of the judging API, limited to the fields the simulation reads.

type rubricDoc struct {
	ID       string      `json:"id"`
	Criteria []criterion `json:"criteria"`
}

type constraints struct {
	CoverageMin int `json:"coverage_min"`
	CoverageMax int `json:"coverage_max"`
	LoadMax     int `json:"load_max"`
}

type coverageGap struct {
	SubmissionID string `json:"submission_id"`
	Have         int    `json:"have"`
	Want         int    `json:"want"`
}

type assignment struct {
	ID           string `json:"id"`
	JudgeID      string `json:"judge_id"`
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

type assignResult struct {
	Created      []assignment   `json:"created"`
	UnderCovered []coverageGap  `json:"under_covered"`
	Loads        map[string]int `json:"loads"`
}

type scoreInput struct {
	JudgeID         string             `json:"judge_id"`
	SubmissionID    string             `json:"submission_id"`
	RubricID        string             `json:"rubric_id"`
	Values          map[string]float64 `json:"values"`
	ExpectedVersion int64              `json:"expected_version"`
}

type score struct {
	ID           string  `json:"id"`
	JudgeID      string  `json:"judge_id"`
	SubmissionID string  `json:"submission_id"`
	Total        float64 `json:"total"`
	Version      int64   `json:"version"`
}

// RankedEntry is one submission of the normalized ranking.
type RankedEntry struct {
	SubmissionID         string   `json:"submission_id"`
	Rank                 int      `json:"rank,omitempty"`
	Aggregate            *float64 `json:"aggregate,omitempty"`
	RawMean              float64  `json:"raw_mean"`
	Coverage             int      `json:"coverage"`
	InsufficientCoverage bool     `json:"insufficient_coverage"`
}

type normalizeResult struct {
	Version      int64         `json:"version"`
	Method       string        `json:"method"`
	Entries      []RankedEntry `json:"entries"`
	UnderCovered []coverageGap `json:"under_covered"`
	ComputedAt   time.Time     `json:"computed_at"`
}

type roundState struct {
	Locked  bool  `json:"locked"`
	Version int64 `json:"version"`
}
