// Package repository defines the judging store interface and its in-memory
// implementation.
//
// Every method is all-or-nothing: either the whole change (including its
// audit entries and outbox events) commits, or nothing does.
package repository

import (
	"context"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

// AssignmentFilter narrows ListAssignments. Zero fields match everything;
// Round 0 matches every round.
type AssignmentFilter struct {
	EventID      string
	Round        int
	JudgeID      string
	SubmissionID string
	CountingOnly bool
}

// ScoreFilter narrows ListScores.
type ScoreFilter struct {
	EventID       string
	Round         int
	JudgeID       string
	SubmissionID  string
	IncludeVoided bool
}

// ConflictFilter narrows ListConflicts.
type ConflictFilter struct {
	EventID        string
	JudgeID        string
	SubmissionID   string
	UnresolvedOnly bool
}

// AuditFilter narrows ListAudit.
type AuditFilter struct {
	EventID string
	Round   int
	Limit   int
}

// Reassignment removes one assignment from its round and optionally
// installs a replacement. Scores bound to the removed assignment are voided,
// never deleted.
type Reassignment struct {
	AssignmentID string
	// Status is the terminal status of the removed assignment: voided for a
	// conflict, reassigned for a manual override.
	Status      model.AssignmentStatus
	Replacement *model.Assignment
	Audit       []model.AuditEntry
	Events      []model.DomainEvent
	At          time.Time
}

// ConflictWrite records a new flag together with the reassignments it forces.
type ConflictWrite struct {
	Flag          model.ConflictFlag
	Audit         []model.AuditEntry
	Reassignments []Reassignment
}

// AssignmentBatch is one generation pass: the constraints it ran under and
// the rows it created. Assignments may be empty.
type AssignmentBatch struct {
	Constraints model.Constraints
	Assignments []model.Assignment
	Events      []model.DomainEvent
}

// NormalizedValue is the write-back of one score's normalization.
type NormalizedValue struct {
	ScoreID      string
	Normalized   float64
	Unnormalized bool
}

// Store is the persistence boundary of the engine.
type Store interface {
	CreateRubric(ctx context.Context, r model.Rubric) error
	GetRubric(ctx context.Context, id string) (model.Rubric, error)
	// UpdateRubric fails with a state error when the stored rubric is locked.
	UpdateRubric(ctx context.Context, r model.Rubric) error
	LockRubric(ctx context.Context, id string, at time.Time) (model.Rubric, error)
	ListRubrics(ctx context.Context, eventID string) ([]model.Rubric, error)

	// Collaborator projections.
	UpsertJudge(ctx context.Context, j model.Judge) error
	UpsertTeam(ctx context.Context, t model.Team) error
	// UpsertSubmission bumps the version of every round of the submission's
	// event, since rankings read the directory.
	UpsertSubmission(ctx context.Context, s model.Submission) error
	ListJudges(ctx context.Context, eventID string) ([]model.Judge, error)
	ListTeams(ctx context.Context, eventID string) ([]model.Team, error)
	ListSubmissions(ctx context.Context, eventID string) ([]model.Submission, error)
	GetSubmission(ctx context.Context, id string) (model.Submission, error)
	SetJudgingWindow(ctx context.Context, eventID string, w model.JudgingWindow) error
	JudgingWindow(ctx context.Context, eventID string) (model.JudgingWindow, error)

	// GetRound returns an empty state for rounds never touched.
	GetRound(ctx context.Context, key model.RoundKey) (model.RoundState, error)
	// LockRound fails with a state error when the round is already locked.
	LockRound(ctx context.Context, key model.RoundKey, at time.Time, audit model.AuditEntry, events []model.DomainEvent) (model.RoundState, error)
	FinalizeSubmission(ctx context.Context, key model.RoundKey, submissionID string, audit model.AuditEntry) (model.RoundState, error)
	// UnlockSubmission reopens a submission for correction and bumps the
	// round version, invalidating normalization output.
	UnlockSubmission(ctx context.Context, key model.RoundKey, submissionID string, audit model.AuditEntry) (model.RoundState, error)

	// CreateAssignments inserts a batch, records its constraints on the round
	// and bumps the round version. It fails without writing anything when the
	// round is locked, or when a pair already has a non-voided assignment or
	// an unresolved conflict.
	CreateAssignments(ctx context.Context, key model.RoundKey, b AssignmentBatch) (model.RoundState, error)
	GetAssignment(ctx context.Context, id string) (model.Assignment, error)
	// FindAssignment returns the counting assignment of a pair.
	FindAssignment(ctx context.Context, key model.RoundKey, judgeID, submissionID string) (model.Assignment, bool, error)
	ListAssignments(ctx context.Context, f AssignmentFilter) ([]model.Assignment, error)
	// CompleteAssignment moves assigned or in_progress to completed.
	CompleteAssignment(ctx context.Context, id string, at time.Time) (model.Assignment, error)
	// Reassign fails with a state error when the round is locked.
	Reassign(ctx context.Context, key model.RoundKey, r Reassignment) (model.RoundState, error)

	// RecordConflict stores a flag and applies its reassignments atomically.
	// A pair with an unresolved flag cannot be flagged twice.
	RecordConflict(ctx context.Context, w ConflictWrite) (model.ConflictFlag, error)
	GetConflict(ctx context.Context, id string) (model.ConflictFlag, error)
	UnresolvedConflict(ctx context.Context, eventID, judgeID, submissionID string) (model.ConflictFlag, bool, error)
	ListConflicts(ctx context.Context, f ConflictFilter) ([]model.ConflictFlag, error)
	ResolveConflict(ctx context.Context, id, note string, at time.Time, audit model.AuditEntry) (model.ConflictFlag, error)

	SaveScore(ctx context.Context, w model.ScoreWrite) (model.Score, error)
	GetScore(ctx context.Context, id string) (model.Score, error)
	ListScores(ctx context.Context, f ScoreFilter) ([]model.Score, error)
	// ApplyNormalization writes normalized values when the round version
	// still equals version. It does not bump the version.
	ApplyNormalization(ctx context.Context, key model.RoundKey, version int64, values []NormalizedValue) error

	AppendAudit(ctx context.Context, entries ...model.AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]model.AuditEntry, error)

	AppendOutbox(ctx context.Context, events ...model.DomainEvent) error
	ListPendingOutbox(ctx context.Context, limit int) ([]model.DomainEvent, error)
	MarkOutboxPublished(ctx context.Context, ids []string, at time.Time) error

	Close() error
}
