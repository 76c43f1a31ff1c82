package analytics

import "time"

// Feed is the read-only snapshot of one round handed to analytics.
type Feed struct {
	EventID     string         `json:"event_id"`
	Round       int            `json:"round"`
	Version     int64          `json:"version"`
	Method      string         `json:"method"`
	GeneratedAt time.Time      `json:"generated_at"`
	Scores      []ScoreRow     `json:"scores"`
	Aggregates  []AggregateRow `json:"aggregates"`
	Judges      []JudgeRow     `json:"judges"`
}

// ScoreRow is one counted score with its normalized value.
type ScoreRow struct {
	ScoreID      string  `json:"score_id"`
	JudgeID      string  `json:"judge_id"`
	SubmissionID string  `json:"submission_id"`
	Total        float64 `json:"total"`
	Normalized   float64 `json:"normalized"`
	Unnormalized bool    `json:"unnormalized"`
}

// AggregateRow is one ranked or under-covered submission.
type AggregateRow struct {
	SubmissionID         string   `json:"submission_id"`
	Rank                 int      `json:"rank,omitempty"`
	Aggregate            *float64 `json:"aggregate,omitempty"`
	RawMean              float64  `json:"raw_mean"`
	Coverage             int      `json:"coverage"`
	InsufficientCoverage bool     `json:"insufficient_coverage"`
}

// JudgeRow carries the reliability metrics of one judge.
type JudgeRow struct {
	JudgeID   string   `json:"judge_id"`
	Scored    int      `json:"scored"`
	Agreement *float64 `json:"agreement,omitempty"`
	Bias      *float64 `json:"bias,omitempty"`
	Outlier   bool     `json:"outlier"`
}
