package service

import (
	"context"
	"strings"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
)

// The directory holds the read models pushed by the team, submission,
// identity and event collaborators.

func requireIDs(fields ...string) error {
	verr := &model.ValidationError{}
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			verr.Add(fields[i], "is required")
		}
	}
	return verr.OrNil()
}

func (s *Service) UpsertJudge(ctx context.Context, p model.Principal, j model.Judge) error {
	if err := requireOrganizer(p, "upsert judge"); err != nil {
		return err
	}
	if err := requireIDs("id", j.ID, "event_id", j.EventID); err != nil {
		return err
	}
	if err := s.store.UpsertJudge(ctx, j); err != nil {
		s.observe(ctx, "upsert judge", err, logger.String("judge", j.ID))
		return err
	}
	return nil
}

func (s *Service) UpsertTeam(ctx context.Context, p model.Principal, t model.Team) error {
	if err := requireOrganizer(p, "upsert team"); err != nil {
		return err
	}
	if err := requireIDs("id", t.ID, "event_id", t.EventID); err != nil {
		return err
	}
	if err := s.store.UpsertTeam(ctx, t); err != nil {
		s.observe(ctx, "upsert team", err, logger.String("team", t.ID))
		return err
	}
	return nil
}

func (s *Service) UpsertSubmission(ctx context.Context, p model.Principal, sub model.Submission) error {
	if err := requireOrganizer(p, "upsert submission"); err != nil {
		return err
	}
	if err := requireIDs("id", sub.ID, "event_id", sub.EventID, "team_id", sub.TeamID); err != nil {
		return err
	}
	switch sub.Status {
	case "", model.SubmissionDraft, model.SubmissionSubmitted, model.SubmissionWithdrawn:
	default:
		return model.NewValidationError("status", "unknown submission status %q", sub.Status)
	}
	if sub.SubmittedAt.IsZero() && sub.Status != model.SubmissionDraft {
		sub.SubmittedAt = s.clock.Now()
	}
	if err := s.store.UpsertSubmission(ctx, sub); err != nil {
		s.observe(ctx, "upsert submission", err, logger.String("submission", sub.ID))
		return err
	}
	return nil
}

// SetJudgingWindow records the period in which assignment and scoring are
// accepted. A zero window is always open.
func (s *Service) SetJudgingWindow(ctx context.Context, p model.Principal, eventID string, w model.JudgingWindow) error {
	if err := requireOrganizer(p, "set judging window"); err != nil {
		return err
	}
	if err := requireIDs("event_id", eventID); err != nil {
		return err
	}
	if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		return model.NewValidationError("end", "must not be before start")
	}
	return s.store.SetJudgingWindow(ctx, eventID, w)
}

func (s *Service) JudgingWindow(ctx context.Context, p model.Principal, eventID string) (model.JudgingWindow, error) {
	if err := checkPrincipal(p, "read judging window"); err != nil {
		return model.JudgingWindow{}, err
	}
	return s.store.JudgingWindow(ctx, eventID)
}

func (s *Service) ListJudges(ctx context.Context, p model.Principal, eventID string) ([]model.Judge, error) {
	if err := requireOrganizer(p, "list judges"); err != nil {
		return nil, err
	}
	return s.store.ListJudges(ctx, eventID)
}

func (s *Service) ListTeams(ctx context.Context, p model.Principal, eventID string) ([]model.Team, error) {
	if err := requireOrganizer(p, "list teams"); err != nil {
		return nil, err
	}
	return s.store.ListTeams(ctx, eventID)
}

func (s *Service) ListSubmissions(ctx context.Context, p model.Principal, eventID string) ([]model.Submission, error) {
	if err := checkPrincipal(p, "list submissions"); err != nil {
		return nil, err
	}
	return s.store.ListSubmissions(ctx, eventID)
}

// judgeable returns the submissions of an event that enter judging.
func (s *Service) judgeable(ctx context.Context, eventID string) ([]model.Submission, error) {
	all, err := s.store.ListSubmissions(ctx, eventID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sub := range all {
		if sub.Judgeable() {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *Service) judgeIDs(ctx context.Context, eventID string) ([]string, error) {
	judges, err := s.store.ListJudges(ctx, eventID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(judges))
	for _, j := range judges {
		ids = append(ids, j.ID)
	}
	return ids, nil
}
