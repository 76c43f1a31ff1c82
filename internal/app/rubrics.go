package service

import (
	"context"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/rubric"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/Khushwant-Singh1/HackOps/pkg/tracing"
)

// CreateRubric registers a validated rubric for an event or track.
func (s *Service) CreateRubric(ctx context.Context, p model.Principal, eventID, trackID string, criteria []model.Criterion) (rb model.Rubric, err error) {
	ctx, span := tracing.Start(ctx, "service.CreateRubric")
	defer func() { tracing.End(span, err); s.observe(ctx, "create rubric", err, logger.String("event", eventID)) }()

	if err = requireOrganizer(p, "create rubric"); err != nil {
		return model.Rubric{}, err
	}
	rb, err = s.rubrics.Create(ctx, eventID, trackID, criteria)
	if err != nil {
		return model.Rubric{}, err
	}
	s.logger.Info(ctx, "rubric created",
		logger.String("rubric", rb.ID),
		logger.String("event", rb.EventID),
		logger.Int("criteria", len(rb.Criteria)))
	return rb, nil
}

// UpdateRubric replaces the criteria of a rubric nobody has scored against.
func (s *Service) UpdateRubric(ctx context.Context, p model.Principal, id string, criteria []model.Criterion) (rb model.Rubric, err error) {
	ctx, span := tracing.Start(ctx, "service.UpdateRubric")
	defer func() { tracing.End(span, err); s.observe(ctx, "update rubric", err, logger.String("rubric", id)) }()

	if err = requireOrganizer(p, "update rubric"); err != nil {
		return model.Rubric{}, err
	}
	return s.rubrics.Update(ctx, id, criteria)
}

// LockRubric freezes a rubric ahead of the first score.
func (s *Service) LockRubric(ctx context.Context, p model.Principal, id string) (rb model.Rubric, err error) {
	ctx, span := tracing.Start(ctx, "service.LockRubric")
	defer func() { tracing.End(span, err); s.observe(ctx, "lock rubric", err, logger.String("rubric", id)) }()

	if err = requireOrganizer(p, "lock rubric"); err != nil {
		return model.Rubric{}, err
	}
	return s.rubrics.Lock(ctx, id)
}

func (s *Service) GetRubric(ctx context.Context, p model.Principal, id string) (model.Rubric, error) {
	if err := checkPrincipal(p, "read rubric"); err != nil {
		return model.Rubric{}, err
	}
	return s.rubrics.Get(ctx, id)
}

func (s *Service) ListRubrics(ctx context.Context, p model.Principal, eventID string) ([]model.Rubric, error) {
	if err := checkPrincipal(p, "list rubrics"); err != nil {
		return nil, err
	}
	return s.rubrics.List(ctx, eventID)
}

// SeedRubrics creates file-defined rubrics at start-up. Definitions whose
// id already exists are skipped.
func (s *Service) SeedRubrics(ctx context.Context, defs []rubric.Definition) ([]model.Rubric, error) {
	created, err := s.rubrics.Seed(ctx, defs)
	if err != nil {
		return created, err
	}
	s.logger.Info(ctx, "rubrics seeded", logger.Int("created", len(created)), logger.Int("defined", len(defs)))
	return created, nil
}
