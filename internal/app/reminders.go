package service

import (
	"context"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/Khushwant-Singh1/HackOps/pkg/tracing"
)

// SendReminders emits a scoring_incomplete_reminder for every open
// assignment without a score. An empty eventID covers every event and
// round 0 every round. Locked rounds are skipped.
func (s *Service) SendReminders(ctx context.Context, p model.Principal, eventID string, round int) (sent int, err error) {
	ctx, span := tracing.Start(ctx, "service.SendReminders")
	defer func() { tracing.End(span, err); s.observe(ctx, "send reminders", err, logger.String("event", eventID)) }()

	if err = requireOrganizer(p, "send reminders"); err != nil {
		return 0, err
	}
	if round < 0 {
		return 0, model.NewValidationError("round", "must not be negative")
	}
	open, err := s.store.ListAssignments(ctx, repository.AssignmentFilter{EventID: eventID, Round: round, CountingOnly: true})
	if err != nil {
		return 0, err
	}
	scores, err := s.store.ListScores(ctx, repository.ScoreFilter{EventID: eventID, Round: round})
	if err != nil {
		return 0, err
	}
	scored := make(map[string]bool, len(scores))
	for _, sc := range scores {
		scored[sc.AssignmentID] = true
	}

	now := s.clock.Now()
	locked := make(map[model.RoundKey]bool)
	var events []model.DomainEvent
	for _, a := range open {
		if a.Status == model.AssignmentCompleted || scored[a.ID] {
			continue
		}
		key := a.Key()
		isLocked, seen := locked[key]
		if !seen {
			state, err := s.store.GetRound(ctx, key)
			if err != nil {
				return 0, err
			}
			isLocked = state.Locked
			locked[key] = isLocked
		}
		if isLocked {
			continue
		}
		events = append(events, model.DomainEvent{
			ID:           s.newID(),
			Type:         model.EventScoringIncompleteReminder,
			EventID:      a.EventID,
			Round:        a.Round,
			JudgeID:      a.JudgeID,
			SubmissionID: a.SubmissionID,
			AssignmentID: a.ID,
			Payload:      map[string]string{"status": string(a.Status)},
			OccurredAt:   now,
		})
	}
	if len(events) == 0 {
		return 0, nil
	}
	if err = s.store.AppendOutbox(ctx, events...); err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "scoring reminders queued", logger.String("event", eventID), logger.Int("reminders", len(events)))
	return len(events), nil
}
