// Package ledger validates and records rubric-weighted scores.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

// Store is what the ledger reads and writes. SaveScore must atomically
// re-check the assignment, the conflict flags, round writability and the
// expected version, then lock the rubric, move the assignment to in_progress
// and bump the round version.
type Store interface {
	GetRubric(ctx context.Context, id string) (model.Rubric, error)
	GetRound(ctx context.Context, key model.RoundKey) (model.RoundState, error)
	FindAssignment(ctx context.Context, key model.RoundKey, judgeID, submissionID string) (model.Assignment, bool, error)
	UnresolvedConflict(ctx context.Context, eventID, judgeID, submissionID string) (model.ConflictFlag, bool, error)
	SaveScore(ctx context.Context, w model.ScoreWrite) (model.Score, error)
}

// Input is one score submission.
type Input struct {
	EventID         string             `json:"event_id"`
	Round           int                `json:"round"`
	JudgeID         string             `json:"judge_id"`
	SubmissionID    string             `json:"submission_id"`
	RubricID        string             `json:"rubric_id"`
	Values          map[string]float64 `json:"values"`
	Comments        string             `json:"comments"`
	ExpectedVersion int64              `json:"expected_version"`
}

// Key returns the round the input targets.
func (in Input) Key() model.RoundKey { return model.RoundKey{EventID: in.EventID, Round: in.Round} }

// Ledger records scores.
type Ledger struct {
	store Store
	clock model.Clock
	newID model.IDFunc
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock.
func WithClock(c model.Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithIDFunc overrides identifier generation.
func WithIDFunc(f model.IDFunc) Option {
	return func(l *Ledger) {
		if f != nil {
			l.newID = f
		}
	}
}

// New builds a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, clock: model.SystemClock{}, newID: model.NewID}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit validates in and stores it. Checks run in a fixed order:
// assignment and conflict, round state, value ranges, comments, version.
func (l *Ledger) Submit(ctx context.Context, in Input) (model.Score, error) {
	if err := validateIdentity(in); err != nil {
		return model.Score{}, err
	}
	key := in.Key()

	if flag, ok, err := l.store.UnresolvedConflict(ctx, in.EventID, in.JudgeID, in.SubmissionID); err != nil {
		return model.Score{}, fmt.Errorf("load conflicts: %w", err)
	} else if ok {
		return model.Score{}, &model.ConflictError{JudgeID: in.JudgeID, SubmissionID: in.SubmissionID, FlagID: flag.ID, Reason: flag.Reason}
	}
	asg, ok, err := l.store.FindAssignment(ctx, key, in.JudgeID, in.SubmissionID)
	if err != nil {
		return model.Score{}, fmt.Errorf("load assignment: %w", err)
	}
	if !ok {
		return model.Score{}, model.NewStateError("submit score", "judge %s has no active assignment for submission %s in round %s", in.JudgeID, in.SubmissionID, key)
	}

	round, err := l.store.GetRound(ctx, key)
	if err != nil {
		return model.Score{}, fmt.Errorf("load round: %w", err)
	}
	if err := round.CheckWritable(in.SubmissionID); err != nil {
		return model.Score{}, err
	}

	rb, err := l.store.GetRubric(ctx, in.RubricID)
	if err != nil {
		return model.Score{}, err
	}
	if rb.EventID != in.EventID {
		return model.Score{}, model.NewValidationError("rubric_id", "rubric %s belongs to event %s", rb.ID, rb.EventID)
	}
	if err := ValidateValues(rb, in.Values); err != nil {
		return model.Score{}, err
	}
	if err := RequireComments(rb, in.Values, in.Comments); err != nil {
		return model.Score{}, err
	}

	now := l.clock.Now()
	score := model.Score{
		ID:           l.newID(),
		EventID:      in.EventID,
		Round:        in.Round,
		SubmissionID: in.SubmissionID,
		JudgeID:      in.JudgeID,
		RubricID:     rb.ID,
		AssignmentID: asg.ID,
		Values:       copyValues(in.Values),
		Comments:     strings.TrimSpace(in.Comments),
		Total:        ComputeTotal(rb, in.Values),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return l.store.SaveScore(ctx, model.ScoreWrite{Score: score, ExpectedVersion: in.ExpectedVersion, At: now})
}

func validateIdentity(in Input) error {
	verr := &model.ValidationError{}
	if strings.TrimSpace(in.EventID) == "" {
		verr.Add("event_id", "is required")
	}
	if in.Round < 1 {
		verr.Add("round", "must be at least 1")
	}
	if strings.TrimSpace(in.JudgeID) == "" {
		verr.Add("judge_id", "is required")
	}
	if strings.TrimSpace(in.SubmissionID) == "" {
		verr.Add("submission_id", "is required")
	}
	if strings.TrimSpace(in.RubricID) == "" {
		verr.Add("rubric_id", "is required")
	}
	if in.ExpectedVersion < 0 {
		verr.Add("expected_version", "must not be negative")
	}
	return verr.OrNil()
}

// ValidateValues requires one finite value in [0, max_score] per criterion
// and rejects keys the rubric does not define.
func ValidateValues(rb model.Rubric, values map[string]float64) error {
	verr := &model.ValidationError{}
	for _, c := range rb.Criteria {
		v, ok := values[c.Key]
		switch {
		case !ok:
			verr.Add("values."+c.Key, "is required")
		case math.IsNaN(v) || math.IsInf(v, 0):
			verr.Add("values."+c.Key, "must be a finite number")
		case v < 0 || v > c.MaxScore:
			verr.Add("values."+c.Key, "%g is outside [0, %g]", v, c.MaxScore)
		}
	}
	unknown := make([]string, 0)
	for k := range values {
		if _, ok := rb.Criterion(k); !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		verr.Add("values."+k, "is not a criterion of rubric %s", rb.ID)
	}
	return verr.OrNil()
}

// RequireComments enforces a non-empty comment when any value is below its
// criterion's low-score threshold.
func RequireComments(rb model.Rubric, values map[string]float64, comments string) error {
	if strings.TrimSpace(comments) != "" {
		return nil
	}
	for _, c := range rb.Criteria {
		if v, ok := values[c.Key]; ok && v < c.LowScoreThreshold {
			return model.NewValidationError("comments", "required because %s scored %g, below %g", c.Key, v, c.LowScoreThreshold)
		}
	}
	return nil
}

// ComputeTotal is the weighted sum Σ (value/max_score)·weight. It is clamped
// to [0, model.NormalizationBase], since weights only sum to the base within
// model.WeightTolerance.
func ComputeTotal(rb model.Rubric, values map[string]float64) float64 {
	var total float64
	for _, c := range rb.Criteria {
		total += values[c.Key] / c.MaxScore * c.Weight
	}
	return math.Min(math.Max(total, 0), model.NormalizationBase)
}

func copyValues(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
