package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/assignment"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/conflict"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/Khushwant-Singh1/HackOps/pkg/metrics"
	"github.com/Khushwant-Singh1/HackOps/pkg/tracing"
)

// DeclareInput is a manual conflict flag.
type DeclareInput struct {
	EventID      string               `json:"event_id"`
	JudgeID      string               `json:"judge_id"`
	SubmissionID string               `json:"submission_id"`
	Reason       model.ConflictReason `json:"reason"`
	Note         string               `json:"note"`
}

// roundSnapshot is what planning reads for one round.
type roundSnapshot struct {
	state       model.RoundState
	judges      []string
	existing    []model.Assignment
	conflicts   *conflict.Index
	constraints model.Constraints
}

func (s *Service) constraintsFor(r model.RoundState) model.Constraints {
	if r.Constraints.IsZero() {
		return model.Constraints{CoverageMin: s.defaultCoverageMin}
	}
	return r.Constraints
}

func (s *Service) snapshot(ctx context.Context, key model.RoundKey) (roundSnapshot, error) {
	state, err := s.store.GetRound(ctx, key)
	if err != nil {
		return roundSnapshot{}, fmt.Errorf("load round: %w", err)
	}
	judges, err := s.judgeIDs(ctx, key.EventID)
	if err != nil {
		return roundSnapshot{}, fmt.Errorf("load judges: %w", err)
	}
	existing, err := s.store.ListAssignments(ctx, repository.AssignmentFilter{EventID: key.EventID, Round: key.Round})
	if err != nil {
		return roundSnapshot{}, fmt.Errorf("load assignments: %w", err)
	}
	flags, err := s.store.ListConflicts(ctx, repository.ConflictFilter{EventID: key.EventID, UnresolvedOnly: true})
	if err != nil {
		return roundSnapshot{}, fmt.Errorf("load conflicts: %w", err)
	}
	return roundSnapshot{
		state:       state,
		judges:      judges,
		existing:    existing,
		conflicts:   conflict.NewIndex(flags),
		constraints: s.constraintsFor(state),
	}, nil
}

// replacementFor picks a judge to take over a removed assignment. A
// reassigned row keeps its judge off the submission; a voided one is kept
// off by the conflict flag.
func (snap roundSnapshot) replacementFor(removed model.Assignment, status model.AssignmentStatus) (string, bool) {
	existing := make([]model.Assignment, len(snap.existing))
	copy(existing, snap.existing)
	for i := range existing {
		if existing[i].ID == removed.ID {
			existing[i].Status = status
		}
	}
	return assignment.PickReplacement(assignment.Input{
		Judges:      snap.judges,
		Existing:    existing,
		Conflicts:   snap.conflicts,
		Constraints: snap.constraints,
	}, removed.SubmissionID)
}

// DetectConflicts runs the automatic rules over the directory and records
// every new candidate, reassigning conflicted pairs as it goes.
func (s *Service) DetectConflicts(ctx context.Context, p model.Principal, eventID string) (flags []model.ConflictFlag, err error) {
	ctx, span := tracing.Start(ctx, "service.DetectConflicts")
	defer func() { tracing.End(span, err); s.observe(ctx, "detect conflicts", err, logger.String("event", eventID)) }()

	if err = requireOrganizer(p, "detect conflicts"); err != nil {
		return nil, err
	}
	if err = requireIDs("event_id", eventID); err != nil {
		return nil, err
	}
	judges, err := s.store.ListJudges(ctx, eventID)
	if err != nil {
		return nil, err
	}
	teams, err := s.store.ListTeams(ctx, eventID)
	if err != nil {
		return nil, err
	}
	subs, err := s.judgeable(ctx, eventID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListConflicts(ctx, repository.ConflictFilter{EventID: eventID})
	if err != nil {
		return nil, err
	}

	candidates := s.detector.Detect(conflict.Input{Judges: judges, Teams: teams, Submissions: subs, Existing: existing})
	flags = make([]model.ConflictFlag, 0, len(candidates))
	for _, c := range candidates {
		f, err := s.flag(ctx, p.ID, model.ConflictFlag{
			EventID:      eventID,
			JudgeID:      c.JudgeID,
			SubmissionID: c.SubmissionID,
			TeamID:       c.TeamID,
			Reason:       c.Reason,
		}, model.AuditConflictDetected, c.Detail)
		if err != nil {
			return flags, err
		}
		flags = append(flags, f)
	}
	metrics.RecordConflictsDetected(len(flags))
	s.logger.Info(ctx, "conflict detection finished",
		logger.String("event", eventID),
		logger.Int("candidates", len(candidates)),
		logger.Int("flagged", len(flags)))
	return flags, nil
}

// DeclareConflict records a manual flag. Judges may declare their own
// conflicts; organizers may flag any pair.
func (s *Service) DeclareConflict(ctx context.Context, p model.Principal, in DeclareInput) (f model.ConflictFlag, err error) {
	ctx, span := tracing.Start(ctx, "service.DeclareConflict")
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "declare conflict", err, logger.String("judge", in.JudgeID), logger.String("submission", in.SubmissionID))
	}()

	if err = requireSelf(p, in.JudgeID, "declare conflict"); err != nil {
		return model.ConflictFlag{}, err
	}
	if err = requireIDs("event_id", in.EventID, "judge_id", in.JudgeID, "submission_id", in.SubmissionID); err != nil {
		return model.ConflictFlag{}, err
	}
	if in.Reason == "" {
		in.Reason = model.ConflictDeclared
		if p.IsOrganizer() && p.ID != in.JudgeID {
			in.Reason = model.ConflictManual
		}
	}
	if !in.Reason.Valid() {
		return model.ConflictFlag{}, model.NewValidationError("reason", "unknown conflict reason %q", in.Reason)
	}
	sub, err := s.store.GetSubmission(ctx, in.SubmissionID)
	if err != nil {
		return model.ConflictFlag{}, err
	}
	if sub.EventID != in.EventID {
		return model.ConflictFlag{}, model.NewValidationError("submission_id", "submission %s belongs to event %s", sub.ID, sub.EventID)
	}
	return s.flag(ctx, p.ID, model.ConflictFlag{
		EventID:      in.EventID,
		JudgeID:      in.JudgeID,
		SubmissionID: in.SubmissionID,
		TeamID:       sub.TeamID,
		Reason:       in.Reason,
	}, model.AuditConflictDeclared, strings.TrimSpace(in.Note))
}

// flag stores f and voids every counting assignment of the pair in the
// same store operation, installing a replacement judge where one exists.
func (s *Service) flag(ctx context.Context, actor string, f model.ConflictFlag, action model.AuditAction, detail string) (model.ConflictFlag, error) {
	now := s.clock.Now()
	f.ID, f.CreatedBy, f.CreatedAt = s.newID(), actor, now

	active, err := s.store.ListAssignments(ctx, repository.AssignmentFilter{
		EventID:      f.EventID,
		JudgeID:      f.JudgeID,
		SubmissionID: f.SubmissionID,
		CountingOnly: true,
	})
	if err != nil {
		return model.ConflictFlag{}, fmt.Errorf("load assignments: %w", err)
	}

	w := repository.ConflictWrite{
		Flag: f,
		Audit: []model.AuditEntry{{
			ID:           s.newID(),
			EventID:      f.EventID,
			Actor:        actor,
			Action:       action,
			JudgeID:      f.JudgeID,
			SubmissionID: f.SubmissionID,
			Reason:       string(f.Reason),
			Detail:       detail,
			At:           now,
		}},
	}
	for _, a := range active {
		r, err := s.reassignForConflict(ctx, actor, f, a, now)
		if err != nil {
			return model.ConflictFlag{}, err
		}
		w.Reassignments = append(w.Reassignments, r)
	}

	saved, err := s.store.RecordConflict(ctx, w)
	if err != nil {
		return model.ConflictFlag{}, err
	}
	for _, r := range w.Reassignments {
		metrics.RecordReassignment("conflict")
		fields := []logger.Field{
			logger.String("judge", f.JudgeID),
			logger.String("submission", f.SubmissionID),
			logger.String("reason", string(f.Reason)),
			logger.String("assignment", r.AssignmentID),
			logger.Any("at", now),
		}
		if r.Replacement != nil {
			s.logger.Info(ctx, "conflicted assignment reassigned", append(fields, logger.String("replacement", r.Replacement.JudgeID))...)
		} else {
			s.logger.Warn(ctx, "conflicted assignment voided without replacement", fields...)
		}
	}
	s.logger.Info(ctx, "conflict flagged",
		logger.String("flag", saved.ID),
		logger.String("judge", saved.JudgeID),
		logger.String("submission", saved.SubmissionID),
		logger.String("reason", string(saved.Reason)))
	return saved, nil
}

// reassignForConflict builds the reassignment that voids a for flag f.
func (s *Service) reassignForConflict(ctx context.Context, actor string, f model.ConflictFlag, a model.Assignment, now time.Time) (repository.Reassignment, error) {
	snap, err := s.snapshot(ctx, a.Key())
	if err != nil {
		return repository.Reassignment{}, err
	}
	snap.conflicts.Add(f)

	r := repository.Reassignment{
		AssignmentID: a.ID,
		Status:       model.AssignmentVoided,
		At:           now,
		Audit: []model.AuditEntry{{
			ID:           s.newID(),
			EventID:      a.EventID,
			Round:        a.Round,
			Actor:        actor,
			Action:       model.AuditAssignmentVoided,
			JudgeID:      a.JudgeID,
			SubmissionID: a.SubmissionID,
			AssignmentID: a.ID,
			Reason:       string(f.Reason),
			At:           now,
		}},
	}
	event := model.DomainEvent{
		ID:           s.newID(),
		Type:         model.EventConflictReassigned,
		EventID:      a.EventID,
		Round:        a.Round,
		JudgeID:      a.JudgeID,
		SubmissionID: a.SubmissionID,
		AssignmentID: a.ID,
		Payload:      map[string]string{"reason": string(f.Reason), "flag_id": f.ID},
		OccurredAt:   now,
	}

	judge, ok := snap.replacementFor(a, model.AssignmentVoided)
	if !ok {
		r.Audit = append(r.Audit, model.AuditEntry{
			ID:           s.newID(),
			EventID:      a.EventID,
			Round:        a.Round,
			Actor:        actor,
			Action:       model.AuditReplacementMissing,
			SubmissionID: a.SubmissionID,
			AssignmentID: a.ID,
			Reason:       string(f.Reason),
			Detail:       "no eligible judge; submission is under-covered",
			At:           now,
		})
		event.Payload["replacement_judge_id"] = ""
		r.Events = []model.DomainEvent{event}
		return r, nil
	}

	rep := model.Assignment{
		ID:           s.newID(),
		EventID:      a.EventID,
		Round:        a.Round,
		JudgeID:      judge,
		SubmissionID: a.SubmissionID,
		Status:       model.AssignmentAssigned,
		ReplacesID:   a.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.Replacement = &rep
	r.Audit = append(r.Audit, model.AuditEntry{
		ID:           s.newID(),
		EventID:      a.EventID,
		Round:        a.Round,
		Actor:        actor,
		Action:       model.AuditAssignmentReassigned,
		JudgeID:      judge,
		SubmissionID: a.SubmissionID,
		AssignmentID: rep.ID,
		Reason:       string(f.Reason),
		Detail:       "replaces " + a.ID,
		At:           now,
	})
	event.Payload["replacement_judge_id"] = judge
	event.Payload["replacement_assignment_id"] = rep.ID
	r.Events = []model.DomainEvent{event, s.assignmentCreated(rep, now)}
	return r, nil
}

// ResolveConflict clears a flag. Voided assignments stay voided.
func (s *Service) ResolveConflict(ctx context.Context, p model.Principal, id, note string) (f model.ConflictFlag, err error) {
	ctx, span := tracing.Start(ctx, "service.ResolveConflict")
	defer func() { tracing.End(span, err); s.observe(ctx, "resolve conflict", err, logger.String("flag", id)) }()

	if err = requireOrganizer(p, "resolve conflict"); err != nil {
		return model.ConflictFlag{}, err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return model.ConflictFlag{}, model.NewValidationError("note", "is required")
	}
	current, err := s.store.GetConflict(ctx, id)
	if err != nil {
		return model.ConflictFlag{}, err
	}
	now := s.clock.Now()
	f, err = s.store.ResolveConflict(ctx, id, note, now, model.AuditEntry{
		ID:           s.newID(),
		EventID:      current.EventID,
		Actor:        p.ID,
		Action:       model.AuditConflictResolved,
		JudgeID:      current.JudgeID,
		SubmissionID: current.SubmissionID,
		Reason:       string(current.Reason),
		Detail:       note,
		At:           now,
	})
	if err != nil {
		return model.ConflictFlag{}, err
	}
	s.logger.Info(ctx, "conflict resolved", logger.String("flag", id), logger.String("actor", p.ID))
	return f, nil
}

// ListConflicts returns flags matching the filter. Judges only see their own.
func (s *Service) ListConflicts(ctx context.Context, p model.Principal, f repository.ConflictFilter) ([]model.ConflictFlag, error) {
	if err := checkPrincipal(p, "list conflicts"); err != nil {
		return nil, err
	}
	f.JudgeID = scopeJudge(p, f.JudgeID)
	return s.store.ListConflicts(ctx, f)
}
