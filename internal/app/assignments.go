package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/lock"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/assignment"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/Khushwant-Singh1/HackOps/pkg/metrics"
	"github.com/Khushwant-Singh1/HackOps/pkg/tracing"
)

// AssignResult is the outcome of one generation pass. UnderCovered lists
// submissions that could not reach coverage_min; the created rows are kept.
type AssignResult struct {
	Created      []model.Assignment  `json:"created"`
	UnderCovered []model.CoverageGap `json:"under_covered"`
	Loads        map[string]int      `json:"loads"`
	Round        model.RoundState    `json:"round"`
}

func (s *Service) assignmentCreated(a model.Assignment, at time.Time) model.DomainEvent {
	ev := model.DomainEvent{
		ID:           s.newID(),
		Type:         model.EventAssignmentCreated,
		EventID:      a.EventID,
		Round:        a.Round,
		JudgeID:      a.JudgeID,
		SubmissionID: a.SubmissionID,
		AssignmentID: a.ID,
		OccurredAt:   at,
	}
	if a.ReplacesID != "" {
		ev.Payload = map[string]string{"replaces_id": a.ReplacesID}
	}
	return ev
}

// Assign generates assignments for a round. Only one generation per round
// runs at a time; a concurrent call fails with a StateError.
func (s *Service) Assign(ctx context.Context, p model.Principal, eventID string, round int, c model.Constraints) (res AssignResult, err error) {
	ctx, span := tracing.Start(ctx, "service.Assign")
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "assign", err, logger.String("event", eventID), logger.Int("round", round))
	}()

	if err = requireOrganizer(p, "assign"); err != nil {
		return AssignResult{}, err
	}
	key, err := roundKey(eventID, round)
	if err != nil {
		return AssignResult{}, err
	}
	if err = c.Validate(); err != nil {
		return AssignResult{}, err
	}
	if err = s.checkWindow(ctx, eventID, "assign"); err != nil {
		return AssignResult{}, err
	}

	release, err := s.locker.TryLock(ctx, "assign:"+key.String(), s.lockTTL)
	if errors.Is(err, lock.ErrHeld) {
		return AssignResult{}, model.NewStateError("assign", "assignment generation for round %s is already in flight", key)
	}
	if err != nil {
		return AssignResult{}, fmt.Errorf("acquire generation lock: %w", err)
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn(ctx, "release generation lock", logger.String("round", key.String()), logger.Error(rerr))
		}
	}()

	snap, err := s.snapshot(ctx, key)
	if err != nil {
		return AssignResult{}, err
	}
	if snap.state.Locked {
		return AssignResult{}, model.NewStateError("assign", "round %s is locked", key)
	}
	subs, err := s.judgeable(ctx, eventID)
	if err != nil {
		return AssignResult{}, fmt.Errorf("load submissions: %w", err)
	}
	subIDs := make([]string, 0, len(subs))
	for _, sub := range subs {
		subIDs = append(subIDs, sub.ID)
	}

	plan := assignment.Build(assignment.Input{
		Judges:      snap.judges,
		Submissions: subIDs,
		Existing:    snap.existing,
		Conflicts:   snap.conflicts,
		Constraints: c,
	})

	now := s.clock.Now()
	batch := make([]model.Assignment, 0, len(plan.Pairs))
	events := make([]model.DomainEvent, 0, len(plan.Pairs))
	for _, pair := range plan.Pairs {
		a := model.Assignment{
			ID:           s.newID(),
			EventID:      eventID,
			Round:        round,
			JudgeID:      pair.JudgeID,
			SubmissionID: pair.SubmissionID,
			Status:       model.AssignmentAssigned,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		batch = append(batch, a)
		events = append(events, s.assignmentCreated(a, now))
	}
	state, err := s.store.CreateAssignments(ctx, key, repository.AssignmentBatch{Constraints: c, Assignments: batch, Events: events})
	if err != nil {
		return AssignResult{}, err
	}

	metrics.RecordAssignmentsCreated(len(batch))
	metrics.UpdateUnderCovered(len(plan.UnderCovered))
	if len(plan.UnderCovered) > 0 {
		s.logger.Warn(ctx, "submissions below coverage_min",
			logger.String("round", key.String()),
			logger.Any("submissions", (&model.CoverageError{Gaps: plan.UnderCovered}).SubmissionIDs()))
	}
	s.logger.Info(ctx, "assignments generated",
		logger.String("round", key.String()),
		logger.Int("created", len(batch)),
		logger.Int("underCovered", len(plan.UnderCovered)))

	gaps := plan.UnderCovered
	if gaps == nil {
		gaps = []model.CoverageGap{}
	}
	return AssignResult{Created: batch, UnderCovered: gaps, Loads: plan.Loads, Round: state}, nil
}

// ReassignInput is a manual override. An empty JudgeID lets the planner
// pick the replacement.
type ReassignInput struct {
	AssignmentID string `json:"assignment_id"`
	JudgeID      string `json:"judge_id"`
	Reason       string `json:"reason"`
}

// Reassign moves an assignment to another judge. The old row becomes
// reassigned and its scores stop counting.
func (s *Service) Reassign(ctx context.Context, p model.Principal, in ReassignInput) (rep model.Assignment, err error) {
	ctx, span := tracing.Start(ctx, "service.Reassign")
	defer func() { tracing.End(span, err); s.observe(ctx, "reassign", err, logger.String("assignment", in.AssignmentID)) }()

	if err = requireOrganizer(p, "reassign"); err != nil {
		return model.Assignment{}, err
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if err = requireIDs("assignment_id", in.AssignmentID, "reason", in.Reason); err != nil {
		return model.Assignment{}, err
	}
	old, err := s.store.GetAssignment(ctx, in.AssignmentID)
	if err != nil {
		return model.Assignment{}, err
	}
	if !old.Status.Counting() {
		return model.Assignment{}, model.NewStateError("reassign", "assignment %s is already %s", old.ID, old.Status)
	}
	if err = s.checkWindow(ctx, old.EventID, "reassign"); err != nil {
		return model.Assignment{}, err
	}
	snap, err := s.snapshot(ctx, old.Key())
	if err != nil {
		return model.Assignment{}, err
	}
	if snap.state.Locked {
		return model.Assignment{}, model.NewStateError("reassign", "round %s is locked", old.Key())
	}

	judge := in.JudgeID
	if judge == "" {
		var ok bool
		if judge, ok = snap.replacementFor(old, model.AssignmentReassigned); !ok {
			return model.Assignment{}, model.NewStateError("reassign", "no eligible judge for submission %s", old.SubmissionID)
		}
	} else if err = snap.checkEligible(judge, old.SubmissionID); err != nil {
		return model.Assignment{}, err
	}

	now := s.clock.Now()
	rep = model.Assignment{
		ID:           s.newID(),
		EventID:      old.EventID,
		Round:        old.Round,
		JudgeID:      judge,
		SubmissionID: old.SubmissionID,
		Status:       model.AssignmentAssigned,
		ReplacesID:   old.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = s.store.Reassign(ctx, old.Key(), repository.Reassignment{
		AssignmentID: old.ID,
		Status:       model.AssignmentReassigned,
		Replacement:  &rep,
		At:           now,
		Audit: []model.AuditEntry{{
			ID:           s.newID(),
			EventID:      old.EventID,
			Round:        old.Round,
			Actor:        p.ID,
			Action:       model.AuditAssignmentReassigned,
			JudgeID:      judge,
			SubmissionID: old.SubmissionID,
			AssignmentID: rep.ID,
			Reason:       in.Reason,
			Detail:       "replaces " + old.ID + " held by " + old.JudgeID,
			At:           now,
		}},
		Events: []model.DomainEvent{s.assignmentCreated(rep, now)},
	})
	if err != nil {
		return model.Assignment{}, err
	}
	metrics.RecordReassignment("manual")
	s.logger.Info(ctx, "assignment reassigned",
		logger.String("assignment", old.ID),
		logger.String("from", old.JudgeID),
		logger.String("to", judge),
		logger.String("submission", old.SubmissionID),
		logger.String("reason", in.Reason))
	return rep, nil
}

// checkEligible applies the planner's rules to an explicitly chosen judge.
func (snap roundSnapshot) checkEligible(judgeID, submissionID string) error {
	known := false
	for _, j := range snap.judges {
		if j == judgeID {
			known = true
			break
		}
	}
	if !known {
		return model.NewNotFound("judge", judgeID)
	}
	if f, ok := snap.conflicts.Unresolved(judgeID, submissionID); ok {
		return &model.ConflictError{JudgeID: judgeID, SubmissionID: submissionID, FlagID: f.ID, Reason: f.Reason}
	}
	for _, a := range snap.existing {
		if a.JudgeID == judgeID && a.SubmissionID == submissionID && a.Status.Holds() {
			return model.NewStateError("reassign", "judge %s was already assigned to submission %s", judgeID, submissionID)
		}
	}
	if limit := snap.constraints.LoadMax; limit > 0 && assignment.Loads(snap.existing)[judgeID] >= limit {
		return model.NewStateError("reassign", "judge %s is at load_max %d", judgeID, limit)
	}
	return nil
}

// CompleteAssignment marks a scored assignment as completed.
func (s *Service) CompleteAssignment(ctx context.Context, p model.Principal, eventID string, round int, judgeID, submissionID string) (a model.Assignment, err error) {
	ctx, span := tracing.Start(ctx, "service.CompleteAssignment")
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "complete assignment", err, logger.String("judge", judgeID), logger.String("submission", submissionID))
	}()

	if err = requireSelf(p, judgeID, "complete assignment"); err != nil {
		return model.Assignment{}, err
	}
	key, err := roundKey(eventID, round)
	if err != nil {
		return model.Assignment{}, err
	}
	found, ok, err := s.store.FindAssignment(ctx, key, judgeID, submissionID)
	if err != nil {
		return model.Assignment{}, err
	}
	if !ok {
		return model.Assignment{}, model.NewNotFound("assignment", judgeID+"/"+submissionID)
	}
	return s.store.CompleteAssignment(ctx, found.ID, s.clock.Now())
}

// ListAssignments returns assignments matching the filter. Judges only see
// their own.
func (s *Service) ListAssignments(ctx context.Context, p model.Principal, f repository.AssignmentFilter) ([]model.Assignment, error) {
	if err := checkPrincipal(p, "list assignments"); err != nil {
		return nil, err
	}
	f.JudgeID = scopeJudge(p, f.JudgeID)
	return s.store.ListAssignments(ctx, f)
}
