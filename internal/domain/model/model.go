// Package model contains the judging domain entities passed between layers.
//
// Relations between entities are expressed by identifier only. Nothing in
// this package performs I/O.
package model

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// NormalizationBase is the value rubric weights must sum to.
const NormalizationBase = 100.0

// WeightTolerance bounds floating point drift when summing weights.
const WeightTolerance = 1e-9

// Role is the coarse permission level of a caller.
type Role string

const (
	RoleJudge     Role = "judge"
	RoleOrganizer Role = "organizer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleJudge || r == RoleOrganizer }

// Principal identifies the caller of an engine operation. Authentication
// happens upstream; the engine only checks the role.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsOrganizer reports whether p may run organizer operations.
func (p Principal) IsOrganizer() bool { return p.Role == RoleOrganizer }

// RoundKey addresses one judging round of one event.
type RoundKey struct {
	EventID string `json:"event_id"`
	Round   int    `json:"round"`
}

func (k RoundKey) String() string { return fmt.Sprintf("%s/%d", k.EventID, k.Round) }

// Criterion is one weighted scoring dimension of a rubric.
type Criterion struct {
	Key               string  `json:"key" yaml:"key"`
	Label             string  `json:"label" yaml:"label"`
	Weight            float64 `json:"weight" yaml:"weight"`
	MaxScore          float64 `json:"max_score" yaml:"max_score"`
	LowScoreThreshold float64 `json:"low_score_threshold" yaml:"low_score_threshold"`
	Guidance          string  `json:"guidance,omitempty" yaml:"guidance"`
}

// Rubric is the versioned set of criteria a score is computed against.
type Rubric struct {
	ID        string      `json:"id"`
	EventID   string      `json:"event_id"`
	TrackID   string      `json:"track_id,omitempty"`
	Criteria  []Criterion `json:"criteria"`
	Locked    bool        `json:"locked"`
	LockedAt  *time.Time  `json:"locked_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Criterion looks up a criterion by key.
func (r Rubric) Criterion(key string) (Criterion, bool) {
	for _, c := range r.Criteria {
		if c.Key == key {
			return c, true
		}
	}
	return Criterion{}, false
}

// TotalWeight sums the criterion weights.
func (r Rubric) TotalWeight() float64 {
	var sum float64
	for _, c := range r.Criteria {
		sum += c.Weight
	}
	return sum
}

// AssignmentStatus is the lifecycle state of an assignment.
type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "assigned"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentReassigned AssignmentStatus = "reassigned"
	AssignmentVoided     AssignmentStatus = "voided"
)

// Counting reports whether the assignment counts toward coverage and load.
func (s AssignmentStatus) Counting() bool {
	switch s {
	case AssignmentAssigned, AssignmentInProgress, AssignmentCompleted:
		return true
	default:
		return false
	}
}

// Holds reports whether the row still occupies its pair. Only a voided row
// frees the pair for a new assignment; a manual override keeps the removed
// judge off the submission for the rest of the round.
func (s AssignmentStatus) Holds() bool { return s != AssignmentVoided }

// Assignment binds one judge to one submission for one round.
type Assignment struct {
	ID           string           `json:"id"`
	EventID      string           `json:"event_id"`
	Round        int              `json:"round"`
	JudgeID      string           `json:"judge_id"`
	SubmissionID string           `json:"submission_id"`
	Status       AssignmentStatus `json:"status"`
	ReplacesID   string           `json:"replaces_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Key returns the round the assignment belongs to.
func (a Assignment) Key() RoundKey { return RoundKey{EventID: a.EventID, Round: a.Round} }

// Score is one judge's evaluation of one submission in one round.
type Score struct {
	ID              string             `json:"id"`
	EventID         string             `json:"event_id"`
	Round           int                `json:"round"`
	SubmissionID    string             `json:"submission_id"`
	JudgeID         string             `json:"judge_id"`
	RubricID        string             `json:"rubric_id"`
	AssignmentID    string             `json:"assignment_id"`
	Values          map[string]float64 `json:"values"`
	Comments        string             `json:"comments,omitempty"`
	Total           float64            `json:"total"`
	NormalizedScore *float64           `json:"normalized_score,omitempty"`
	Unnormalized    bool               `json:"unnormalized"`
	Voided          bool               `json:"voided"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	Version         int64              `json:"version"`
}

// Key returns the round the score belongs to.
func (s Score) Key() RoundKey { return RoundKey{EventID: s.EventID, Round: s.Round} }

// ScoreWrite is an optimistic score upsert. ExpectedVersion is zero for the
// first write of a judge/submission pair.
type ScoreWrite struct {
	Score           Score
	ExpectedVersion int64
	At              time.Time
}

// ConflictReason names why a judge may not evaluate a submission.
type ConflictReason string

const (
	ConflictAffiliation ConflictReason = "affiliation"
	ConflictDeclared    ConflictReason = "declared"
	ConflictMentor      ConflictReason = "mentor"
	ConflictManual      ConflictReason = "manual"
)

// Valid reports whether r is a known reason.
func (r ConflictReason) Valid() bool {
	switch r {
	case ConflictAffiliation, ConflictDeclared, ConflictMentor, ConflictManual:
		return true
	default:
		return false
	}
}

// ConflictFlag records a conflict of interest between a judge and a submission.
type ConflictFlag struct {
	ID             string         `json:"id"`
	EventID        string         `json:"event_id"`
	JudgeID        string         `json:"judge_id"`
	SubmissionID   string         `json:"submission_id"`
	TeamID         string         `json:"team_id,omitempty"`
	Reason         ConflictReason `json:"reason"`
	Resolved       bool           `json:"resolved"`
	ResolutionNote string         `json:"resolution_note,omitempty"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// Constraints bound how assignments are generated for a round.
type Constraints struct {
	CoverageMin int `json:"coverage_min"`
	CoverageMax int `json:"coverage_max"`
	LoadMax     int `json:"load_max"`
}

// IsZero reports whether no constraints were recorded.
func (c Constraints) IsZero() bool { return c == Constraints{} }

// Validate checks the constraints are usable for generation.
func (c Constraints) Validate() error {
	verr := &ValidationError{}
	if c.CoverageMin <= 0 {
		verr.Add("coverage_min", "must be positive")
	}
	if c.CoverageMax <= 0 {
		verr.Add("coverage_max", "must be positive")
	}
	if c.CoverageMax > 0 && c.CoverageMin > c.CoverageMax {
		verr.Add("coverage_max", "must be greater than or equal to coverage_min")
	}
	if c.LoadMax <= 0 {
		verr.Add("load_max", "must be positive")
	}
	return verr.OrNil()
}

// RoundState is the mutable per-round bookkeeping. Version is the
// round-version token: every change that can alter normalization output
// increments it.
type RoundState struct {
	EventID     string          `json:"event_id"`
	Round       int             `json:"round"`
	Locked      bool            `json:"locked"`
	LockedAt    *time.Time      `json:"locked_at,omitempty"`
	Version     int64           `json:"version"`
	Constraints Constraints     `json:"constraints"`
	Finalized   map[string]bool `json:"finalized,omitempty"`
	Reopened    map[string]bool `json:"reopened,omitempty"`
}

// NewRoundState returns an empty state for key.
func NewRoundState(key RoundKey) RoundState {
	return RoundState{EventID: key.EventID, Round: key.Round}
}

// Key returns the round address.
func (r RoundState) Key() RoundKey { return RoundKey{EventID: r.EventID, Round: r.Round} }

// CheckWritable returns a StateError when scores for submissionID may not
// change. A reopened submission is writable even after the round locked.
func (r RoundState) CheckWritable(submissionID string) error {
	if r.Reopened[submissionID] {
		return nil
	}
	if r.Locked {
		return NewStateError("submit score", "round %s is locked", r.Key())
	}
	if r.Finalized[submissionID] {
		return NewStateError("submit score", "submission %s is finalized", submissionID)
	}
	return nil
}

// Clone returns a deep copy safe to mutate.
func (r RoundState) Clone() RoundState {
	out := r
	out.Finalized = cloneSet(r.Finalized)
	out.Reopened = cloneSet(r.Reopened)
	if r.LockedAt != nil {
		t := *r.LockedAt
		out.LockedAt = &t
	}
	return out
}

func cloneSet(in map[string]bool) map[string]bool {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		if v {
			out[k] = true
		}
	}
	return out
}

// SortedKeys returns the true members of a set in ascending order.
func SortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k, v := range set {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// AuditAction names an audited state change.
type AuditAction string

const (
	AuditConflictDetected     AuditAction = "conflict_detected"
	AuditConflictDeclared     AuditAction = "conflict_declared"
	AuditConflictResolved     AuditAction = "conflict_resolved"
	AuditAssignmentVoided     AuditAction = "assignment_voided"
	AuditAssignmentReassigned AuditAction = "assignment_reassigned"
	AuditReplacementMissing   AuditAction = "replacement_missing"
	AuditRoundLocked          AuditAction = "round_locked"
	AuditSubmissionFinalized  AuditAction = "submission_finalized"
	AuditSubmissionUnlocked   AuditAction = "submission_unlocked"
)

// AuditEntry is an append-only who/what/when/why record.
type AuditEntry struct {
	ID           string      `json:"id"`
	EventID      string      `json:"event_id"`
	Round        int         `json:"round"`
	Actor        string      `json:"actor"`
	Action       AuditAction `json:"action"`
	JudgeID      string      `json:"judge_id,omitempty"`
	SubmissionID string      `json:"submission_id,omitempty"`
	AssignmentID string      `json:"assignment_id,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	Detail       string      `json:"detail,omitempty"`
	At           time.Time   `json:"at"`
}

// Judge is the identity collaborator's view of a judge.
type Judge struct {
	ID           string   `json:"id"`
	EventID      string   `json:"event_id"`
	Name         string   `json:"name,omitempty"`
	Affiliations []string `json:"affiliations,omitempty"`
	MentorOf     []string `json:"mentor_of,omitempty"`
}

// Team is the team collaborator's view of a team.
type Team struct {
	ID           string   `json:"id"`
	EventID      string   `json:"event_id"`
	Name         string   `json:"name,omitempty"`
	Affiliations []string `json:"affiliations,omitempty"`
	Sponsors     []string `json:"sponsors,omitempty"`
}

// SubmissionStatus mirrors the submission collaborator's lifecycle.
type SubmissionStatus string

const (
	SubmissionDraft     SubmissionStatus = "draft"
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionWithdrawn SubmissionStatus = "withdrawn"
)

// Submission is the submission collaborator's view of an entry.
type Submission struct {
	ID          string           `json:"id"`
	EventID     string           `json:"event_id"`
	TeamID      string           `json:"team_id"`
	TrackID     string           `json:"track_id,omitempty"`
	Status      SubmissionStatus `json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// Judgeable reports whether the submission enters judging.
func (s Submission) Judgeable() bool {
	return s.Status == "" || s.Status == SubmissionSubmitted
}

// JudgingWindow is the period in which an event accepts judging activity.
// A zero window is always open.
type JudgingWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Open reports whether t falls inside the window.
func (w JudgingWindow) Open(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// NearlyEqual compares floats within WeightTolerance.
func NearlyEqual(a, b float64) bool { return math.Abs(a-b) <= WeightTolerance }
