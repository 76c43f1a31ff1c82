package judgingsim

import (
	"encoding/json"
	"time"
)

// Config holds configuration for a simulated judging round.
type Config struct {
	BaseURL     string        // Base URL of the service
	EventID     string        // Event the simulation writes under
	Round       int           // Round to judge
	Judges      int           // Number of judges to register
	Submissions int           // Number of submissions to register
	CoverageMin int           // Judges wanted per submission
	CoverageMax int           // Upper bound of judges per submission
	LoadMax     int           // Submissions per judge
	Corrections float64       // Share of scores re-submitted with a stale version
	Workers     int           // Number of concurrent judges scoring
	Timeout     time.Duration // HTTP request timeout
	Seed        uint64        // Seed for reproducible score values
	OutputFile  string        // Report file; empty skips it
	Verbose     bool
}

// Stats holds simulation statistics.
type Stats struct {
	AssignmentsCreated int
	UnderCovered       int
	ScoresSubmitted    int
	ScoresFailed       int
	StaleWrites        int
	Retries            int
	RankedEntries      int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}

// Report is what a run saves to OutputFile.
type Report struct {
	Config      Config          `json:"config"`
	Stats       Stats           `json:"stats"`
	Ranking     []RankedEntry   `json:"ranking"`
	Reliability json.RawMessage `json:"reliability"`
}
