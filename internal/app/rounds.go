package service

import (
	"context"
	"strings"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/Khushwant-Singh1/HackOps/pkg/metrics"
	"github.com/Khushwant-Singh1/HackOps/pkg/tracing"
)

// LockRound closes a round to score writes. Writes already holding the
// round gate commit first; later ones fail with a StateError.
func (s *Service) LockRound(ctx context.Context, p model.Principal, eventID string, round int) (state model.RoundState, err error) {
	ctx, span := tracing.Start(ctx, "service.LockRound")
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "lock round", err, logger.String("event", eventID), logger.Int("round", round))
	}()

	if err = requireOrganizer(p, "lock round"); err != nil {
		return model.RoundState{}, err
	}
	key, err := roundKey(eventID, round)
	if err != nil {
		return model.RoundState{}, err
	}

	unlock := s.gates.exclusive(key)
	defer unlock()

	now := s.clock.Now()
	audit := model.AuditEntry{
		ID:      s.newID(),
		EventID: eventID,
		Round:   round,
		Actor:   p.ID,
		Action:  model.AuditRoundLocked,
		At:      now,
	}
	events := []model.DomainEvent{{
		ID:         s.newID(),
		Type:       model.EventRoundLocked,
		EventID:    eventID,
		Round:      round,
		OccurredAt: now,
	}}
	state, err = s.store.LockRound(ctx, key, now, audit, events)
	if err != nil {
		return model.RoundState{}, err
	}
	metrics.RecordRoundLocked()
	s.logger.Info(ctx, "round locked", logger.String("round", key.String()), logger.String("actor", p.ID))
	return state, nil
}

// FinalizeSubmission closes one submission to further score writes.
func (s *Service) FinalizeSubmission(ctx context.Context, p model.Principal, eventID string, round int, submissionID string) (state model.RoundState, err error) {
	ctx, span := tracing.Start(ctx, "service.FinalizeSubmission")
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "finalize submission", err, logger.String("submission", submissionID))
	}()

	if err = requireOrganizer(p, "finalize submission"); err != nil {
		return model.RoundState{}, err
	}
	key, err := roundKey(eventID, round)
	if err != nil {
		return model.RoundState{}, err
	}
	if err = requireIDs("submission_id", submissionID); err != nil {
		return model.RoundState{}, err
	}

	unlock := s.gates.exclusive(key)
	defer unlock()

	return s.store.FinalizeSubmission(ctx, key, submissionID, model.AuditEntry{
		ID:           s.newID(),
		EventID:      eventID,
		Round:        round,
		Actor:        p.ID,
		Action:       model.AuditSubmissionFinalized,
		SubmissionID: submissionID,
		At:           s.clock.Now(),
	})
}

// UnlockSubmission reopens a submission for correction after a lock or
// finalization. It bumps the round version, so cached normalization output
// for the round is no longer served.
func (s *Service) UnlockSubmission(ctx context.Context, p model.Principal, eventID string, round int, submissionID, reason string) (state model.RoundState, err error) {
	ctx, span := tracing.Start(ctx, "service.UnlockSubmission")
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "unlock submission", err, logger.String("submission", submissionID))
	}()

	if err = requireOrganizer(p, "unlock submission"); err != nil {
		return model.RoundState{}, err
	}
	key, err := roundKey(eventID, round)
	if err != nil {
		return model.RoundState{}, err
	}
	reason = strings.TrimSpace(reason)
	if err = requireIDs("submission_id", submissionID, "reason", reason); err != nil {
		return model.RoundState{}, err
	}

	unlock := s.gates.exclusive(key)
	defer unlock()

	state, err = s.store.UnlockSubmission(ctx, key, submissionID, model.AuditEntry{
		ID:           s.newID(),
		EventID:      eventID,
		Round:        round,
		Actor:        p.ID,
		Action:       model.AuditSubmissionUnlocked,
		SubmissionID: submissionID,
		Reason:       reason,
		At:           s.clock.Now(),
	})
	if err != nil {
		return model.RoundState{}, err
	}
	s.dropCached(key)
	s.logger.Info(ctx, "submission reopened",
		logger.String("round", key.String()),
		logger.String("submission", submissionID),
		logger.String("reason", reason))
	return state, nil
}

func (s *Service) GetRound(ctx context.Context, p model.Principal, eventID string, round int) (model.RoundState, error) {
	if err := checkPrincipal(p, "read round"); err != nil {
		return model.RoundState{}, err
	}
	key, err := roundKey(eventID, round)
	if err != nil {
		return model.RoundState{}, err
	}
	return s.store.GetRound(ctx, key)
}

// ListAudit returns audit entries oldest first. Limit keeps the newest ones.
func (s *Service) ListAudit(ctx context.Context, p model.Principal, f repository.AuditFilter) ([]model.AuditEntry, error) {
	if err := requireOrganizer(p, "read audit log"); err != nil {
		return nil, err
	}
	if f.Limit < 0 {
		return nil, model.NewValidationError("limit", "must not be negative")
	}
	return s.store.ListAudit(ctx, f)
}
