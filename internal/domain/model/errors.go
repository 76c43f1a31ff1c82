package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds. Every typed error below matches exactly one of these via
// errors.Is, so callers can branch on the kind without type switches.
var (
	ErrValidation  = errors.New("validation failed")
	ErrState       = errors.New("invalid state")
	ErrConflict    = errors.New("conflict of interest")
	ErrCoverage    = errors.New("insufficient coverage")
	ErrConcurrency = errors.New("concurrent modification")
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field-level input problems.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

// Add records a problem with field.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns e when at least one field was recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError builds a single-field ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	e := &ValidationError{}
	e.Add(field, format, args...)
	return e
}

// StateError reports an operation that is illegal in the current lifecycle state.
type StateError struct {
	Op     string `json:"op"`
	Reason string `json:"reason"`
}

// NewStateError formats a StateError for op.
func NewStateError(op, format string, args ...any) *StateError {
	return &StateError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func (e *StateError) Error() string { return e.Op + ": " + e.Reason }

func (e *StateError) Is(target error) bool { return target == ErrState }

// ConflictError reports an attempt to act on a conflicted judge/submission pair.
type ConflictError struct {
	JudgeID      string         `json:"judge_id"`
	SubmissionID string         `json:"submission_id"`
	FlagID       string         `json:"flag_id,omitempty"`
	Reason       ConflictReason `json:"reason,omitempty"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("judge %s has an unresolved %s conflict with submission %s", e.JudgeID, e.Reason, e.SubmissionID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// CoverageGap is one under-covered submission.
type CoverageGap struct {
	SubmissionID string `json:"submission_id"`
	Have         int    `json:"have"`
	Want         int    `json:"want"`
}

// CoverageError lists submissions that did not reach coverage_min. It is a
// report more than a failure: operations return partial results alongside it.
type CoverageError struct {
	Gaps []CoverageGap `json:"gaps"`
}

func (e *CoverageError) Error() string {
	ids := make([]string, 0, len(e.Gaps))
	for _, g := range e.Gaps {
		ids = append(ids, fmt.Sprintf("%s(%d/%d)", g.SubmissionID, g.Have, g.Want))
	}
	return "insufficient coverage: " + strings.Join(ids, ", ")
}

func (e *CoverageError) Is(target error) bool { return target == ErrCoverage }

// SubmissionIDs returns the under-covered submission ids in report order.
func (e *CoverageError) SubmissionIDs() []string {
	out := make([]string, 0, len(e.Gaps))
	for _, g := range e.Gaps {
		out = append(out, g.SubmissionID)
	}
	return out
}

// ConcurrencyError reports a stale version. Retrying after a re-read is safe.
type ConcurrencyError struct {
	Resource string `json:"resource"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s changed concurrently: expected version %d, found %d", e.Resource, e.Expected, e.Actual)
}

func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// NewNotFound builds a NotFoundError.
func NewNotFound(kind, id string) *NotFoundError { return &NotFoundError{Kind: kind, ID: id} }

func (e *NotFoundError) Error() string { return e.Kind + " " + e.ID + " not found" }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ForbiddenError reports a principal acting outside its role.
type ForbiddenError struct {
	PrincipalID string `json:"principal_id"`
	Op          string `json:"op"`
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("principal %q may not %s", e.PrincipalID, e.Op)
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// Kind returns the sentinel kind of err, or nil when err is not a domain error.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrState, ErrConflict, ErrCoverage, ErrConcurrency, ErrNotFound, ErrForbidden} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName is a short label for metrics and API error codes.
func KindName(err error) string {
	switch Kind(err) {
	case ErrValidation:
		return "validation"
	case ErrState:
		return "state"
	case ErrConflict:
		return "conflict"
	case ErrCoverage:
		return "coverage"
	case ErrConcurrency:
		return "concurrency"
	case ErrNotFound:
		return "not_found"
	case ErrForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}
