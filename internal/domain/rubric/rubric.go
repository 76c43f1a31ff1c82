// Package rubric validates and stores the criteria scores are computed against.
//
// A rubric is mutable until the first score that references it is written;
// from then on it is locked and every update fails with a state error.
package rubric

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

// Store persists rubrics. Implementations must reject UpdateRubric on a
// locked rubric atomically with the update.
type Store interface {
	CreateRubric(ctx context.Context, r model.Rubric) error
	GetRubric(ctx context.Context, id string) (model.Rubric, error)
	UpdateRubric(ctx context.Context, r model.Rubric) error
	LockRubric(ctx context.Context, id string, at time.Time) (model.Rubric, error)
	ListRubrics(ctx context.Context, eventID string) ([]model.Rubric, error)
}

// Registry is the entry point for rubric lifecycle operations.
type Registry struct {
	store Store
	clock model.Clock
	newID model.IDFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the wall clock.
func WithClock(c model.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithIDFunc overrides identifier generation.
func WithIDFunc(f model.IDFunc) Option {
	return func(r *Registry) {
		if f != nil {
			r.newID = f
		}
	}
}

// NewRegistry builds a Registry over store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{store: store, clock: model.SystemClock{}, newID: model.NewID}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create validates criteria and stores a new unlocked rubric.
func (r *Registry) Create(ctx context.Context, eventID, trackID string, criteria []model.Criterion) (model.Rubric, error) {
	return r.create(ctx, r.newID(), eventID, trackID, criteria)
}

func (r *Registry) create(ctx context.Context, id, eventID, trackID string, criteria []model.Criterion) (model.Rubric, error) {
	verr := &model.ValidationError{}
	if strings.TrimSpace(eventID) == "" {
		verr.Add("event_id", "is required")
	}
	normalized := Normalize(criteria)
	validateInto(verr, normalized)
	if err := verr.OrNil(); err != nil {
		return model.Rubric{}, err
	}

	now := r.clock.Now()
	rb := model.Rubric{
		ID:        id,
		EventID:   strings.TrimSpace(eventID),
		TrackID:   strings.TrimSpace(trackID),
		Criteria:  normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateRubric(ctx, rb); err != nil {
		return model.Rubric{}, fmt.Errorf("create rubric: %w", err)
	}
	return rb, nil
}

// Update replaces the criteria of an unlocked rubric.
func (r *Registry) Update(ctx context.Context, id string, criteria []model.Criterion) (model.Rubric, error) {
	current, err := r.store.GetRubric(ctx, id)
	if err != nil {
		return model.Rubric{}, err
	}
	if current.Locked {
		return model.Rubric{}, model.NewStateError("update rubric", "rubric %s is locked", id)
	}
	normalized := Normalize(criteria)
	if err := Validate(normalized); err != nil {
		return model.Rubric{}, err
	}
	current.Criteria = normalized
	current.UpdatedAt = r.clock.Now()
	if err := r.store.UpdateRubric(ctx, current); err != nil {
		return model.Rubric{}, fmt.Errorf("update rubric: %w", err)
	}
	return current, nil
}

// Lock makes a rubric immutable. Locking twice is a no-op.
func (r *Registry) Lock(ctx context.Context, id string) (model.Rubric, error) {
	return r.store.LockRubric(ctx, id, r.clock.Now())
}

// Get returns one rubric.
func (r *Registry) Get(ctx context.Context, id string) (model.Rubric, error) {
	return r.store.GetRubric(ctx, id)
}

// List returns the rubrics of an event.
func (r *Registry) List(ctx context.Context, eventID string) ([]model.Rubric, error) {
	return r.store.ListRubrics(ctx, eventID)
}

// Seed creates every definition whose id is not stored yet. Existing
// rubrics are left untouched so restarts are idempotent.
func (r *Registry) Seed(ctx context.Context, defs []Definition) ([]model.Rubric, error) {
	created := make([]model.Rubric, 0, len(defs))
	for _, def := range defs {
		if def.ID != "" {
			if _, err := r.store.GetRubric(ctx, def.ID); err == nil {
				continue
			}
		}
		id := def.ID
		if id == "" {
			id = r.newID()
		}
		rb, err := r.create(ctx, id, def.EventID, def.TrackID, def.Criteria)
		if err != nil {
			return created, fmt.Errorf("seed rubric %q: %w", def.ID, err)
		}
		created = append(created, rb)
	}
	return created, nil
}

// Normalize trims keys and labels and defaults empty labels to the key.
func Normalize(criteria []model.Criterion) []model.Criterion {
	out := make([]model.Criterion, len(criteria))
	for i, c := range criteria {
		c.Key = strings.TrimSpace(c.Key)
		c.Label = strings.TrimSpace(c.Label)
		if c.Label == "" {
			c.Label = c.Key
		}
		c.Guidance = strings.TrimSpace(c.Guidance)
		out[i] = c
	}
	return out
}

// Validate checks a criteria set. Weights must sum to model.NormalizationBase.
func Validate(criteria []model.Criterion) error {
	verr := &model.ValidationError{}
	validateInto(verr, criteria)
	return verr.OrNil()
}

func validateInto(verr *model.ValidationError, criteria []model.Criterion) {
	if len(criteria) == 0 {
		verr.Add("criteria", "at least one criterion is required")
		return
	}
	seen := make(map[string]struct{}, len(criteria))
	var sum float64
	for i, c := range criteria {
		field := fmt.Sprintf("criteria[%d]", i)
		if c.Key == "" {
			verr.Add(field+".key", "is required")
		} else if _, dup := seen[c.Key]; dup {
			verr.Add(field+".key", "duplicate key %q", c.Key)
		}
		seen[c.Key] = struct{}{}
		if !(c.Weight > 0) || math.IsInf(c.Weight, 0) {
			verr.Add(field+".weight", "must be positive")
		}
		if !(c.MaxScore > 0) || math.IsInf(c.MaxScore, 0) {
			verr.Add(field+".max_score", "must be positive")
		}
		if c.LowScoreThreshold < 0 || (c.MaxScore > 0 && c.LowScoreThreshold > c.MaxScore) {
			verr.Add(field+".low_score_threshold", "must be within [0, max_score]")
		}
		sum += c.Weight
	}
	if !model.NearlyEqual(sum, model.NormalizationBase) {
		verr.Add("criteria", "weights sum to %g, want %g", sum, model.NormalizationBase)
	}
}
