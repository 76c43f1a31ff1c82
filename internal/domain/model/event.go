package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event emitted to the notification collaborator.
type EventType string

const (
	EventAssignmentCreated         EventType = "assignment_created"
	EventScoringIncompleteReminder EventType = "scoring_incomplete_reminder"
	EventRoundLocked               EventType = "round_locked"
	EventConflictReassigned        EventType = "conflict_reassigned"
)

// DomainEvent is delivered at least once. ID is stable across redeliveries
// so consumers can deduplicate.
type DomainEvent struct {
	ID           string            `json:"id"`
	Type         EventType         `json:"type"`
	EventID      string            `json:"event_id"`
	Round        int               `json:"round"`
	JudgeID      string            `json:"judge_id,omitempty"`
	SubmissionID string            `json:"submission_id,omitempty"`
	AssignmentID string            `json:"assignment_id,omitempty"`
	Payload      map[string]string `json:"payload,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Clock is injected into every stateful component.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock starts a clock at t.
func NewManualClock(t time.Time) *ManualClock { return &ManualClock{now: t.UTC()} }

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// IDFunc generates entity identifiers.
type IDFunc func() string

// NewID is the default identifier generator.
func NewID() string { return uuid.NewString() }
