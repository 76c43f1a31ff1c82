package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/metrics"
)

// MemoryStore is the default Store. One RWMutex guards all state, which makes
// every method trivially atomic; reads take the shared lock.
type MemoryStore struct {
	mu sync.RWMutex

	rubrics     map[string]model.Rubric
	judges      map[string]model.Judge
	teams       map[string]model.Team
	submissions map[string]model.Submission
	windows     map[string]model.JudgingWindow

	rounds      map[model.RoundKey]*model.RoundState
	assignments map[string]*model.Assignment
	byPair      map[pairKey][]string // assignment ids, oldest first
	scores      map[string]*model.Score
	scoreByPair map[pairKey]string
	conflicts   map[string]*model.ConflictFlag

	audit  []model.AuditEntry
	outbox []outboxRow

	outboxRetention int
}

type pairKey struct {
	key          model.RoundKey
	judgeID      string
	submissionID string
}

type outboxRow struct {
	event       model.DomainEvent
	publishedAt *time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		rubrics:         make(map[string]model.Rubric),
		judges:          make(map[string]model.Judge),
		teams:           make(map[string]model.Team),
		submissions:     make(map[string]model.Submission),
		windows:         make(map[string]model.JudgingWindow),
		rounds:          make(map[model.RoundKey]*model.RoundState),
		assignments:     make(map[string]*model.Assignment),
		byPair:          make(map[pairKey][]string),
		scores:          make(map[string]*model.Score),
		scoreByPair:     make(map[pairKey]string),
		conflicts:       make(map[string]*model.ConflictFlag),
		outboxRetention: defaultOutboxRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close is a no-op kept for interface parity with the SQL store.
func (s *MemoryStore) Close() error { return nil }

// --- rubrics ---

func (s *MemoryStore) CreateRubric(_ context.Context, r model.Rubric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rubrics[r.ID]; exists {
		return model.NewStateError("create rubric", "rubric %s already exists", r.ID)
	}
	s.rubrics[r.ID] = cloneRubric(r)
	metrics.UpdateRepositoryRecords("rubrics", len(s.rubrics))
	return nil
}

func (s *MemoryStore) GetRubric(_ context.Context, id string) (model.Rubric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rubrics[id]
	if !ok {
		return model.Rubric{}, model.NewNotFound("rubric", id)
	}
	return cloneRubric(r), nil
}

func (s *MemoryStore) UpdateRubric(_ context.Context, r model.Rubric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rubrics[r.ID]
	if !ok {
		return model.NewNotFound("rubric", r.ID)
	}
	if current.Locked {
		return model.NewStateError("update rubric", "rubric %s is locked", r.ID)
	}
	r.Locked, r.LockedAt, r.CreatedAt = false, nil, current.CreatedAt
	s.rubrics[r.ID] = cloneRubric(r)
	return nil
}

func (s *MemoryStore) LockRubric(_ context.Context, id string, at time.Time) (model.Rubric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lockRubricLocked(id, at); err != nil {
		return model.Rubric{}, err
	}
	return cloneRubric(s.rubrics[id]), nil
}

func (s *MemoryStore) lockRubricLocked(id string, at time.Time) error {
	r, ok := s.rubrics[id]
	if !ok {
		return model.NewNotFound("rubric", id)
	}
	if r.Locked {
		return nil
	}
	t := at
	r.Locked, r.LockedAt, r.UpdatedAt = true, &t, at
	s.rubrics[id] = r
	return nil
}

func (s *MemoryStore) ListRubrics(_ context.Context, eventID string) ([]model.Rubric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Rubric, 0)
	for _, r := range s.rubrics {
		if eventID == "" || r.EventID == eventID {
			out = append(out, cloneRubric(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- collaborator projections ---

func (s *MemoryStore) UpsertJudge(_ context.Context, j model.Judge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.Affiliations = append([]string(nil), j.Affiliations...)
	j.MentorOf = append([]string(nil), j.MentorOf...)
	s.judges[j.ID] = j
	return nil
}

func (s *MemoryStore) UpsertTeam(_ context.Context, t model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Affiliations = append([]string(nil), t.Affiliations...)
	t.Sponsors = append([]string(nil), t.Sponsors...)
	s.teams[t.ID] = t
	return nil
}

func (s *MemoryStore) UpsertSubmission(_ context.Context, sub model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.ID] = sub
	for key, r := range s.rounds {
		if key.EventID == sub.EventID {
			r.Version++
		}
	}
	return nil
}

func (s *MemoryStore) ListJudges(_ context.Context, eventID string) ([]model.Judge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Judge, 0)
	for _, j := range s.judges {
		if j.EventID == eventID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *MemoryStore) ListTeams(_ context.Context, eventID string) ([]model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Team, 0)
	for _, t := range s.teams {
		if t.EventID == eventID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *MemoryStore) ListSubmissions(_ context.Context, eventID string) ([]model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Submission, 0)
	for _, sub := range s.submissions {
		if sub.EventID == eventID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *MemoryStore) GetSubmission(_ context.Context, id string) (model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return model.Submission{}, model.NewNotFound("submission", id)
	}
	return sub, nil
}

func (s *MemoryStore) SetJudgingWindow(_ context.Context, eventID string, w model.JudgingWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[eventID] = w
	return nil
}

func (s *MemoryStore) JudgingWindow(_ context.Context, eventID string) (model.JudgingWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windows[eventID], nil
}

// --- rounds ---

func (s *MemoryStore) round(key model.RoundKey) *model.RoundState {
	r, ok := s.rounds[key]
	if !ok {
		st := model.NewRoundState(key)
		r = &st
		s.rounds[key] = r
	}
	return r
}

func (s *MemoryStore) GetRound(_ context.Context, key model.RoundKey) (model.RoundState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rounds[key]; ok {
		return r.Clone(), nil
	}
	return model.NewRoundState(key), nil
}

func (s *MemoryStore) LockRound(_ context.Context, key model.RoundKey, at time.Time, audit model.AuditEntry, events []model.DomainEvent) (model.RoundState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(key)
	if r.Locked {
		return model.RoundState{}, model.NewStateError("lock round", "round %s is already locked", key)
	}
	t := at
	r.Locked, r.LockedAt, r.Reopened = true, &t, nil
	r.Version++
	s.appendAuditLocked(audit)
	s.appendOutboxLocked(events...)
	return r.Clone(), nil
}

func (s *MemoryStore) FinalizeSubmission(_ context.Context, key model.RoundKey, submissionID string, audit model.AuditEntry) (model.RoundState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(key)
	if r.Finalized[submissionID] {
		return model.RoundState{}, model.NewStateError("finalize submission", "submission %s is already finalized", submissionID)
	}
	if r.Finalized == nil {
		r.Finalized = make(map[string]bool)
	}
	r.Finalized[submissionID] = true
	delete(r.Reopened, submissionID)
	s.appendAuditLocked(audit)
	return r.Clone(), nil
}

func (s *MemoryStore) UnlockSubmission(_ context.Context, key model.RoundKey, submissionID string, audit model.AuditEntry) (model.RoundState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(key)
	if !r.Locked && !r.Finalized[submissionID] {
		return model.RoundState{}, model.NewStateError("unlock submission", "submission %s is neither locked nor finalized", submissionID)
	}
	if r.Reopened[submissionID] {
		return model.RoundState{}, model.NewStateError("unlock submission", "submission %s is already reopened", submissionID)
	}
	if r.Reopened == nil {
		r.Reopened = make(map[string]bool)
	}
	r.Reopened[submissionID] = true
	delete(r.Finalized, submissionID)
	r.Version++
	s.appendAuditLocked(audit)
	return r.Clone(), nil
}

// --- assignments ---

func (s *MemoryStore) unresolvedLocked(eventID, judgeID, submissionID string) (model.ConflictFlag, bool) {
	for _, f := range s.conflicts {
		if !f.Resolved && f.EventID == eventID && f.JudgeID == judgeID && f.SubmissionID == submissionID {
			return *f, true
		}
	}
	return model.ConflictFlag{}, false
}

func (s *MemoryStore) checkNewAssignmentLocked(a model.Assignment, pending map[pairKey]bool) error {
	pk := pairKey{a.Key(), a.JudgeID, a.SubmissionID}
	if s.heldLocked(pk) || pending[pk] {
		return model.NewStateError("create assignment", "judge %s was already assigned to submission %s in round %s", a.JudgeID, a.SubmissionID, a.Key())
	}
	if f, ok := s.unresolvedLocked(a.EventID, a.JudgeID, a.SubmissionID); ok {
		return &model.ConflictError{JudgeID: a.JudgeID, SubmissionID: a.SubmissionID, FlagID: f.ID, Reason: f.Reason}
	}
	return nil
}

func (s *MemoryStore) heldLocked(pk pairKey) bool {
	for _, id := range s.byPair[pk] {
		if s.assignments[id].Status.Holds() {
			return true
		}
	}
	return false
}

func (s *MemoryStore) insertAssignmentLocked(a model.Assignment) {
	cp := a
	s.assignments[a.ID] = &cp
	pk := pairKey{a.Key(), a.JudgeID, a.SubmissionID}
	s.byPair[pk] = append(s.byPair[pk], a.ID)
}

func (s *MemoryStore) CreateAssignments(_ context.Context, key model.RoundKey, b AssignmentBatch) (model.RoundState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rounds[key]; ok && r.Locked {
		return model.RoundState{}, model.NewStateError("create assignments", "round %s is locked", key)
	}
	pending := make(map[pairKey]bool, len(b.Assignments))
	for _, a := range b.Assignments {
		if a.Key() != key {
			return model.RoundState{}, model.NewValidationError("round", "assignment %s does not belong to round %s", a.ID, key)
		}
		if err := s.checkNewAssignmentLocked(a, pending); err != nil {
			return model.RoundState{}, err
		}
		pending[pairKey{key, a.JudgeID, a.SubmissionID}] = true
	}
	for _, a := range b.Assignments {
		s.insertAssignmentLocked(a)
	}
	s.appendOutboxLocked(b.Events...)
	r := s.round(key)
	r.Constraints = b.Constraints
	r.Version++
	metrics.UpdateRepositoryRecords("assignments", len(s.assignments))
	return r.Clone(), nil
}

func (s *MemoryStore) GetAssignment(_ context.Context, id string) (model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return model.Assignment{}, model.NewNotFound("assignment", id)
	}
	return *a, nil
}

func (s *MemoryStore) countingLocked(key model.RoundKey, judgeID, submissionID string) (*model.Assignment, bool) {
	for _, id := range s.byPair[pairKey{key, judgeID, submissionID}] {
		if a := s.assignments[id]; a.Status.Counting() {
			return a, true
		}
	}
	return nil, false
}

func (s *MemoryStore) FindAssignment(_ context.Context, key model.RoundKey, judgeID, submissionID string) (model.Assignment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.countingLocked(key, judgeID, submissionID)
	if !ok {
		return model.Assignment{}, false, nil
	}
	return *a, true, nil
}

func (s *MemoryStore) ListAssignments(_ context.Context, f AssignmentFilter) ([]model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Assignment, 0)
	for _, a := range s.assignments {
		switch {
		case f.EventID != "" && a.EventID != f.EventID,
			f.Round != 0 && a.Round != f.Round,
			f.JudgeID != "" && a.JudgeID != f.JudgeID,
			f.SubmissionID != "" && a.SubmissionID != f.SubmissionID,
			f.CountingOnly && !a.Status.Counting():
			continue
		}
		out = append(out, *a)
	}
	SortAssignments(out)
	return out, nil
}

func (s *MemoryStore) CompleteAssignment(_ context.Context, id string, at time.Time) (model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return model.Assignment{}, model.NewNotFound("assignment", id)
	}
	switch a.Status {
	case model.AssignmentAssigned, model.AssignmentInProgress:
	case model.AssignmentCompleted:
		return *a, nil
	default:
		return model.Assignment{}, model.NewStateError("complete assignment", "assignment %s is %s", id, a.Status)
	}
	if sc, scored := s.scores[s.scoreByPair[pairKey{a.Key(), a.JudgeID, a.SubmissionID}]]; !scored || sc.AssignmentID != a.ID {
		return model.Assignment{}, model.NewStateError("complete assignment", "assignment %s has no score", id)
	}
	a.Status, a.UpdatedAt = model.AssignmentCompleted, at
	return *a, nil
}

func (s *MemoryStore) checkReassignLocked(key model.RoundKey, r Reassignment, extraConflict *model.ConflictFlag) error {
	a, ok := s.assignments[r.AssignmentID]
	if !ok {
		return model.NewNotFound("assignment", r.AssignmentID)
	}
	if a.Key() != key {
		return model.NewValidationError("assignment_id", "assignment %s does not belong to round %s", a.ID, key)
	}
	if !a.Status.Counting() {
		return model.NewStateError("reassign", "assignment %s is already %s", a.ID, a.Status)
	}
	if r.Status != model.AssignmentVoided && r.Status != model.AssignmentReassigned {
		return model.NewValidationError("status", "must be voided or reassigned")
	}
	if r.Replacement == nil {
		return nil
	}
	rep := *r.Replacement
	if rep.SubmissionID != a.SubmissionID || rep.Key() != key {
		return model.NewValidationError("replacement", "must target submission %s in round %s", a.SubmissionID, key)
	}
	if extraConflict != nil && extraConflict.JudgeID == rep.JudgeID && extraConflict.SubmissionID == rep.SubmissionID {
		return &model.ConflictError{JudgeID: rep.JudgeID, SubmissionID: rep.SubmissionID, Reason: extraConflict.Reason}
	}
	return s.checkNewAssignmentLocked(rep, nil)
}

func (s *MemoryStore) applyReassignLocked(key model.RoundKey, r Reassignment) {
	a := s.assignments[r.AssignmentID]
	a.Status, a.UpdatedAt = r.Status, r.At
	for _, sc := range s.scores {
		if sc.AssignmentID == a.ID && !sc.Voided {
			sc.Voided, sc.UpdatedAt = true, r.At
			sc.NormalizedScore = nil
		}
	}
	if r.Replacement != nil {
		s.insertAssignmentLocked(*r.Replacement)
	}
	s.round(key).Version++
	s.appendAuditLocked(r.Audit...)
	s.appendOutboxLocked(r.Events...)
}

func (s *MemoryStore) Reassign(_ context.Context, key model.RoundKey, r Reassignment) (model.RoundState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if round, ok := s.rounds[key]; ok && round.Locked {
		return model.RoundState{}, model.NewStateError("reassign", "round %s is locked", key)
	}
	if err := s.checkReassignLocked(key, r, nil); err != nil {
		return model.RoundState{}, err
	}
	s.applyReassignLocked(key, r)
	return s.round(key).Clone(), nil
}

// --- conflicts ---

func (s *MemoryStore) RecordConflict(_ context.Context, w ConflictWrite) (model.ConflictFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := w.Flag
	if existing, ok := s.unresolvedLocked(f.EventID, f.JudgeID, f.SubmissionID); ok {
		return model.ConflictFlag{}, model.NewStateError("record conflict", "pair already flagged by %s", existing.ID)
	}

	covered := make(map[string]bool, len(w.Reassignments))
	for _, r := range w.Reassignments {
		a, ok := s.assignments[r.AssignmentID]
		if !ok {
			return model.ConflictFlag{}, model.NewNotFound("assignment", r.AssignmentID)
		}
		if a.JudgeID != f.JudgeID || a.SubmissionID != f.SubmissionID {
			return model.ConflictFlag{}, model.NewValidationError("reassignments", "assignment %s is not for the flagged pair", a.ID)
		}
		if err := s.checkReassignLocked(a.Key(), r, &f); err != nil {
			return model.ConflictFlag{}, err
		}
		covered[a.ID] = true
	}
	for _, a := range s.assignments {
		if a.EventID == f.EventID && a.JudgeID == f.JudgeID && a.SubmissionID == f.SubmissionID && a.Status.Counting() && !covered[a.ID] {
			return model.ConflictFlag{}, model.NewStateError("record conflict", "active assignment %s must be reassigned with the flag", a.ID)
		}
	}

	for _, r := range w.Reassignments {
		s.applyReassignLocked(s.assignments[r.AssignmentID].Key(), r)
	}
	cp := f
	s.conflicts[f.ID] = &cp
	s.appendAuditLocked(w.Audit...)
	metrics.UpdateRepositoryRecords("conflicts", len(s.conflicts))
	return cp, nil
}

func (s *MemoryStore) GetConflict(_ context.Context, id string) (model.ConflictFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.conflicts[id]
	if !ok {
		return model.ConflictFlag{}, model.NewNotFound("conflict", id)
	}
	return *f, nil
}

func (s *MemoryStore) UnresolvedConflict(_ context.Context, eventID, judgeID, submissionID string) (model.ConflictFlag, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.unresolvedLocked(eventID, judgeID, submissionID)
	return f, ok, nil
}

func (s *MemoryStore) ListConflicts(_ context.Context, f ConflictFilter) ([]model.ConflictFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConflictFlag, 0)
	for _, c := range s.conflicts {
		switch {
		case f.EventID != "" && c.EventID != f.EventID,
			f.JudgeID != "" && c.JudgeID != f.JudgeID,
			f.SubmissionID != "" && c.SubmissionID != f.SubmissionID,
			f.UnresolvedOnly && c.Resolved:
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ResolveConflict(_ context.Context, id, note string, at time.Time, audit model.AuditEntry) (model.ConflictFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.conflicts[id]
	if !ok {
		return model.ConflictFlag{}, model.NewNotFound("conflict", id)
	}
	if f.Resolved {
		return model.ConflictFlag{}, model.NewStateError("resolve conflict", "conflict %s is already resolved", id)
	}
	t := at
	f.Resolved, f.ResolutionNote, f.ResolvedAt = true, note, &t
	s.appendAuditLocked(audit)
	return *f, nil
}

// --- scores ---

func (s *MemoryStore) SaveScore(_ context.Context, w model.ScoreWrite) (model.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := w.Score
	key := in.Key()

	if f, ok := s.unresolvedLocked(in.EventID, in.JudgeID, in.SubmissionID); ok {
		return model.Score{}, &model.ConflictError{JudgeID: in.JudgeID, SubmissionID: in.SubmissionID, FlagID: f.ID, Reason: f.Reason}
	}
	asg, ok := s.countingLocked(key, in.JudgeID, in.SubmissionID)
	if !ok {
		return model.Score{}, model.NewStateError("submit score", "judge %s has no active assignment for submission %s", in.JudgeID, in.SubmissionID)
	}
	round := s.round(key)
	if err := round.CheckWritable(in.SubmissionID); err != nil {
		return model.Score{}, err
	}
	if _, ok := s.rubrics[in.RubricID]; !ok {
		return model.Score{}, model.NewNotFound("rubric", in.RubricID)
	}

	pk := pairKey{key, in.JudgeID, in.SubmissionID}
	var current int64
	existing, exists := s.scores[s.scoreByPair[pk]]
	// A score voided with an earlier assignment of the pair stays as it is.
	exists = exists && existing.AssignmentID == asg.ID
	if exists {
		current = existing.Version
	}
	if w.ExpectedVersion != current {
		return model.Score{}, &model.ConcurrencyError{Resource: "score " + in.JudgeID + "/" + in.SubmissionID, Expected: w.ExpectedVersion, Actual: current}
	}

	saved := cloneScore(in)
	saved.AssignmentID = asg.ID
	saved.Version = current + 1
	saved.NormalizedScore, saved.Unnormalized, saved.Voided = nil, false, false
	saved.UpdatedAt = w.At
	if exists {
		saved.ID, saved.CreatedAt = existing.ID, existing.CreatedAt
	}
	s.scores[saved.ID] = &saved
	s.scoreByPair[pk] = saved.ID

	if err := s.lockRubricLocked(in.RubricID, w.At); err != nil {
		return model.Score{}, err
	}
	if asg.Status == model.AssignmentAssigned {
		asg.Status, asg.UpdatedAt = model.AssignmentInProgress, w.At
	}
	round.Version++
	metrics.UpdateRepositoryRecords("scores", len(s.scores))
	return cloneScore(saved), nil
}

func (s *MemoryStore) GetScore(_ context.Context, id string) (model.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[id]
	if !ok {
		return model.Score{}, model.NewNotFound("score", id)
	}
	return cloneScore(*sc), nil
}

func (s *MemoryStore) ListScores(_ context.Context, f ScoreFilter) ([]model.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Score, 0)
	for _, sc := range s.scores {
		switch {
		case f.EventID != "" && sc.EventID != f.EventID,
			f.Round != 0 && sc.Round != f.Round,
			f.JudgeID != "" && sc.JudgeID != f.JudgeID,
			f.SubmissionID != "" && sc.SubmissionID != f.SubmissionID,
			!f.IncludeVoided && sc.Voided:
			continue
		}
		out = append(out, cloneScore(*sc))
	}
	SortScores(out)
	return out, nil
}

func (s *MemoryStore) ApplyNormalization(_ context.Context, key model.RoundKey, version int64, values []NormalizedValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.round(key).Version
	if current != version {
		return &model.ConcurrencyError{Resource: "round " + key.String(), Expected: version, Actual: current}
	}
	for _, v := range values {
		if _, ok := s.scores[v.ScoreID]; !ok {
			return model.NewNotFound("score", v.ScoreID)
		}
	}
	for _, v := range values {
		sc := s.scores[v.ScoreID]
		n := v.Normalized
		sc.NormalizedScore, sc.Unnormalized = &n, v.Unnormalized
	}
	return nil
}

// --- audit and outbox ---

func (s *MemoryStore) appendAuditLocked(entries ...model.AuditEntry) {
	for _, e := range entries {
		if e.Action == "" {
			continue
		}
		s.audit = append(s.audit, e)
	}
}

func (s *MemoryStore) AppendAudit(_ context.Context, entries ...model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAuditLocked(entries...)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, f AuditFilter) ([]model.AuditEntry, error) {
	if f.Limit < 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AuditEntry, 0)
	for _, e := range s.audit {
		if (f.EventID == "" || e.EventID == f.EventID) && (f.Round == 0 || e.Round == f.Round) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (s *MemoryStore) appendOutboxLocked(events ...model.DomainEvent) {
	for _, e := range events {
		s.outbox = append(s.outbox, outboxRow{event: e})
	}
}

func (s *MemoryStore) AppendOutbox(_ context.Context, events ...model.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendOutboxLocked(events...)
	return nil
}

func (s *MemoryStore) ListPendingOutbox(_ context.Context, limit int) ([]model.DomainEvent, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DomainEvent, 0, limit)
	for _, row := range s.outbox {
		if row.publishedAt != nil {
			continue
		}
		out = append(out, row.event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkOutboxPublished(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	published := 0
	for i := range s.outbox {
		if want[s.outbox[i].event.ID] && s.outbox[i].publishedAt == nil {
			t := at
			s.outbox[i].publishedAt = &t
		}
		if s.outbox[i].publishedAt != nil {
			published++
		}
	}
	s.pruneOutboxLocked(published)
	return nil
}

// pruneOutboxLocked drops the oldest published rows beyond the retention.
func (s *MemoryStore) pruneOutboxLocked(published int) {
	excess := published - s.outboxRetention
	if excess <= 0 {
		return
	}
	kept := s.outbox[:0]
	for _, row := range s.outbox {
		if excess > 0 && row.publishedAt != nil {
			excess--
			continue
		}
		kept = append(kept, row)
	}
	s.outbox = kept
}

// --- helpers ---

// SortAssignments orders assignments by round, submission, judge, creation.
func SortAssignments(out []model.Assignment) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.EventID != b.EventID:
			return a.EventID < b.EventID
		case a.Round != b.Round:
			return a.Round < b.Round
		case a.SubmissionID != b.SubmissionID:
			return a.SubmissionID < b.SubmissionID
		case a.JudgeID != b.JudgeID:
			return a.JudgeID < b.JudgeID
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
}

// SortScores orders scores by round, submission, judge.
func SortScores(out []model.Score) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.EventID != b.EventID:
			return a.EventID < b.EventID
		case a.Round != b.Round:
			return a.Round < b.Round
		case a.SubmissionID != b.SubmissionID:
			return a.SubmissionID < b.SubmissionID
		default:
			return a.JudgeID < b.JudgeID
		}
	})
}

func cloneRubric(r model.Rubric) model.Rubric {
	r.Criteria = append([]model.Criterion(nil), r.Criteria...)
	if r.LockedAt != nil {
		t := *r.LockedAt
		r.LockedAt = &t
	}
	return r
}

func cloneScore(sc model.Score) model.Score {
	values := make(map[string]float64, len(sc.Values))
	for k, v := range sc.Values {
		values[k] = v
	}
	sc.Values = values
	if sc.NormalizedScore != nil {
		n := *sc.NormalizedScore
		sc.NormalizedScore = &n
	}
	return sc
}
