// Package postgres is the gorm-backed Store for multi-instance deployments.
// Every write runs in one transaction and takes the round row FOR UPDATE, so
// score writes and round locks serialize in the database. Writes that insert
// assignments, record conflicts or change the directory also take an
// event-level advisory lock first, so a flag and an assignment for the same
// pair never commit side by side.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
)

var countingStatuses = []string{
	string(model.AssignmentAssigned),
	string(model.AssignmentInProgress),
	string(model.AssignmentCompleted),
}

// Store implements repository.Store on PostgreSQL.
type Store struct {
	db     *gorm.DB
	logger logger.Logger
}

var _ repository.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for unexpected database failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := New(db, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open connection.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates or updates every judging table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("migrate judging schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// fail passes domain errors through and logs everything else.
func (s *Store) fail(ctx context.Context, op string, err error) error {
	if err == nil || model.Kind(err) != nil || errors.Is(err, repository.ErrInvalidLimit) {
		return err
	}
	s.logger.Error(ctx, "judging repository operation failed", logger.String("op", op), logger.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	return s.fail(ctx, op, s.db.WithContext(ctx).Transaction(fn))
}

// --- rubrics ---

func (s *Store) CreateRubric(ctx context.Context, r model.Rubric) error {
	row, err := rubricModelFromEntity(r)
	if err != nil {
		return s.fail(ctx, "create rubric", err)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return model.NewStateError("create rubric", "rubric %s already exists", r.ID)
		}
		return s.fail(ctx, "create rubric", err)
	}
	return nil
}

func (s *Store) GetRubric(ctx context.Context, id string) (model.Rubric, error) {
	var row rubricModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Rubric{}, model.NewNotFound("rubric", id)
		}
		return model.Rubric{}, s.fail(ctx, "get rubric", err)
	}
	r, err := row.toEntity()
	return r, s.fail(ctx, "decode rubric", err)
}

func (s *Store) UpdateRubric(ctx context.Context, r model.Rubric) error {
	return s.inTx(ctx, "update rubric", func(tx *gorm.DB) error {
		var current rubricModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", r.ID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.NewNotFound("rubric", r.ID)
			}
			return err
		}
		if current.Locked {
			return model.NewStateError("update rubric", "rubric %s is locked", r.ID)
		}
		row, err := rubricModelFromEntity(r)
		if err != nil {
			return err
		}
		return tx.Model(&rubricModel{}).Where("id = ?", r.ID).Updates(map[string]any{
			"event_id":   row.EventID,
			"track_id":   row.TrackID,
			"criteria":   row.Criteria,
			"updated_at": row.UpdatedAt,
		}).Error
	})
}

func (s *Store) LockRubric(ctx context.Context, id string, at time.Time) (model.Rubric, error) {
	err := s.inTx(ctx, "lock rubric", func(tx *gorm.DB) error {
		return lockRubric(tx, id, at)
	})
	if err != nil {
		return model.Rubric{}, err
	}
	return s.GetRubric(ctx, id)
}

func lockRubric(tx *gorm.DB, id string, at time.Time) error {
	var n int64
	if err := tx.Model(&rubricModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return model.NewNotFound("rubric", id)
	}
	return tx.Model(&rubricModel{}).Where("id = ? AND locked = ?", id, false).Updates(map[string]any{
		"locked":     true,
		"locked_at":  at.UTC(),
		"updated_at": at.UTC(),
	}).Error
}

func (s *Store) ListRubrics(ctx context.Context, eventID string) ([]model.Rubric, error) {
	q := s.db.WithContext(ctx).Model(&rubricModel{})
	if eventID != "" {
		q = q.Where("event_id = ?", eventID)
	}
	var rows []rubricModel
	if err := q.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, s.fail(ctx, "list rubrics", err)
	}
	out := make([]model.Rubric, 0, len(rows))
	for _, row := range rows {
		r, err := row.toEntity()
		if err != nil {
			return nil, s.fail(ctx, "decode rubric", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// --- collaborator projections ---

func upsert(tx *gorm.DB, row any) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func (s *Store) UpsertJudge(ctx context.Context, j model.Judge) error {
	row := judgeModel{
		ID:           j.ID,
		EventID:      j.EventID,
		Name:         j.Name,
		Affiliations: encodeStrings(j.Affiliations),
		MentorOf:     encodeStrings(j.MentorOf),
	}
	return s.fail(ctx, "upsert judge", upsert(s.db.WithContext(ctx), &row))
}

func (s *Store) UpsertTeam(ctx context.Context, t model.Team) error {
	row := teamModel{
		ID:           t.ID,
		EventID:      t.EventID,
		Name:         t.Name,
		Affiliations: encodeStrings(t.Affiliations),
		Sponsors:     encodeStrings(t.Sponsors),
	}
	return s.fail(ctx, "upsert team", upsert(s.db.WithContext(ctx), &row))
}

func (s *Store) UpsertSubmission(ctx context.Context, sub model.Submission) error {
	row := submissionModel{
		ID:          sub.ID,
		EventID:     sub.EventID,
		TeamID:      sub.TeamID,
		TrackID:     sub.TrackID,
		Status:      string(sub.Status),
		SubmittedAt: sub.SubmittedAt.UTC(),
	}
	return s.inTx(ctx, "upsert submission", func(tx *gorm.DB) error {
		if err := lockEvent(tx, sub.EventID); err != nil {
			return err
		}
		if err := upsert(tx, &row); err != nil {
			return err
		}
		return tx.Model(&roundModel{}).Where("event_id = ?", sub.EventID).
			UpdateColumn("version", gorm.Expr("version + 1")).Error
	})
}

func (s *Store) ListJudges(ctx context.Context, eventID string) ([]model.Judge, error) {
	var rows []judgeModel
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, s.fail(ctx, "list judges", err)
	}
	out := make([]model.Judge, 0, len(rows))
	for _, row := range rows {
		affiliations, err := decodeStrings(row.Affiliations)
		if err != nil {
			return nil, s.fail(ctx, "decode judge", err)
		}
		mentorOf, err := decodeStrings(row.MentorOf)
		if err != nil {
			return nil, s.fail(ctx, "decode judge", err)
		}
		out = append(out, model.Judge{ID: row.ID, EventID: row.EventID, Name: row.Name, Affiliations: affiliations, MentorOf: mentorOf})
	}
	return out, nil
}

func (s *Store) ListTeams(ctx context.Context, eventID string) ([]model.Team, error) {
	var rows []teamModel
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, s.fail(ctx, "list teams", err)
	}
	out := make([]model.Team, 0, len(rows))
	for _, row := range rows {
		affiliations, err := decodeStrings(row.Affiliations)
		if err != nil {
			return nil, s.fail(ctx, "decode team", err)
		}
		sponsors, err := decodeStrings(row.Sponsors)
		if err != nil {
			return nil, s.fail(ctx, "decode team", err)
		}
		out = append(out, model.Team{ID: row.ID, EventID: row.EventID, Name: row.Name, Affiliations: affiliations, Sponsors: sponsors})
	}
	return out, nil
}

func (s *Store) ListSubmissions(ctx context.Context, eventID string) ([]model.Submission, error) {
	var rows []submissionModel
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, s.fail(ctx, "list submissions", err)
	}
	out := make([]model.Submission, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (model.Submission, error) {
	var row submissionModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Submission{}, model.NewNotFound("submission", id)
		}
		return model.Submission{}, s.fail(ctx, "get submission", err)
	}
	return row.toEntity(), nil
}

func (s *Store) SetJudgingWindow(ctx context.Context, eventID string, w model.JudgingWindow) error {
	row := windowModel{EventID: eventID, StartAt: w.Start.UTC(), EndAt: w.End.UTC()}
	return s.fail(ctx, "set judging window", upsert(s.db.WithContext(ctx), &row))
}

func (s *Store) JudgingWindow(ctx context.Context, eventID string) (model.JudgingWindow, error) {
	var row windowModel
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.JudgingWindow{}, nil
		}
		return model.JudgingWindow{}, s.fail(ctx, "get judging window", err)
	}
	w := model.JudgingWindow{Start: row.StartAt.UTC(), End: row.EndAt.UTC()}
	if row.StartAt.IsZero() {
		w.Start = time.Time{}
	}
	if row.EndAt.IsZero() {
		w.End = time.Time{}
	}
	return w, nil
}

// --- rounds ---

// lockEvent serializes conflict flags with assignment inserts of one event.
// It is taken before any round row.
func lockEvent(tx *gorm.DB, eventID string) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "judging-event/"+eventID).Error
}

// lockRound returns the round row held FOR UPDATE, creating it when absent.
func lockRound(tx *gorm.DB, key model.RoundKey) (model.RoundState, error) {
	seed := roundModel{EventID: key.EventID, Round: key.Round, Finalized: []byte("[]"), Reopened: []byte("[]")}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return model.RoundState{}, err
	}
	var row roundModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("event_id = ? AND round = ?", key.EventID, key.Round).
		First(&row).Error; err != nil {
		return model.RoundState{}, err
	}
	return row.toEntity()
}

func saveRound(tx *gorm.DB, r model.RoundState) error {
	row, err := roundModelFromEntity(r)
	if err != nil {
		return err
	}
	return tx.Save(&row).Error
}

func (s *Store) GetRound(ctx context.Context, key model.RoundKey) (model.RoundState, error) {
	var row roundModel
	if err := s.db.WithContext(ctx).Where("event_id = ? AND round = ?", key.EventID, key.Round).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.NewRoundState(key), nil
		}
		return model.RoundState{}, s.fail(ctx, "get round", err)
	}
	r, err := row.toEntity()
	return r, s.fail(ctx, "decode round", err)
}

// roundTx locks key, lets fn mutate the state and saves it.
func (s *Store) roundTx(ctx context.Context, op string, key model.RoundKey, fn func(tx *gorm.DB, r *model.RoundState) error) (model.RoundState, error) {
	return s.lockedRoundTx(ctx, op, key, false, fn)
}

// eventRoundTx is roundTx for writes that insert assignments.
func (s *Store) eventRoundTx(ctx context.Context, op string, key model.RoundKey, fn func(tx *gorm.DB, r *model.RoundState) error) (model.RoundState, error) {
	return s.lockedRoundTx(ctx, op, key, true, fn)
}

func (s *Store) lockedRoundTx(ctx context.Context, op string, key model.RoundKey, event bool, fn func(tx *gorm.DB, r *model.RoundState) error) (model.RoundState, error) {
	var out model.RoundState
	err := s.inTx(ctx, op, func(tx *gorm.DB) error {
		if event {
			if err := lockEvent(tx, key.EventID); err != nil {
				return err
			}
		}
		r, err := lockRound(tx, key)
		if err != nil {
			return err
		}
		if err := fn(tx, &r); err != nil {
			return err
		}
		if err := saveRound(tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return model.RoundState{}, err
	}
	return out, nil
}

func (s *Store) LockRound(ctx context.Context, key model.RoundKey, at time.Time, audit model.AuditEntry, events []model.DomainEvent) (model.RoundState, error) {
	return s.roundTx(ctx, "lock round", key, func(tx *gorm.DB, r *model.RoundState) error {
		if r.Locked {
			return model.NewStateError("lock round", "round %s is already locked", key)
		}
		t := at.UTC()
		r.Locked, r.LockedAt, r.Reopened = true, &t, nil
		r.Version++
		if err := appendAudit(tx, audit); err != nil {
			return err
		}
		return appendOutbox(tx, events...)
	})
}

func (s *Store) FinalizeSubmission(ctx context.Context, key model.RoundKey, submissionID string, audit model.AuditEntry) (model.RoundState, error) {
	return s.roundTx(ctx, "finalize submission", key, func(tx *gorm.DB, r *model.RoundState) error {
		if r.Finalized[submissionID] {
			return model.NewStateError("finalize submission", "submission %s is already finalized", submissionID)
		}
		if r.Finalized == nil {
			r.Finalized = make(map[string]bool)
		}
		r.Finalized[submissionID] = true
		delete(r.Reopened, submissionID)
		return appendAudit(tx, audit)
	})
}

func (s *Store) UnlockSubmission(ctx context.Context, key model.RoundKey, submissionID string, audit model.AuditEntry) (model.RoundState, error) {
	return s.roundTx(ctx, "unlock submission", key, func(tx *gorm.DB, r *model.RoundState) error {
		if !r.Locked && !r.Finalized[submissionID] {
			return model.NewStateError("unlock submission", "submission %s is neither locked nor finalized", submissionID)
		}
		if r.Reopened[submissionID] {
			return model.NewStateError("unlock submission", "submission %s is already reopened", submissionID)
		}
		if r.Reopened == nil {
			r.Reopened = make(map[string]bool)
		}
		r.Reopened[submissionID] = true
		delete(r.Finalized, submissionID)
		r.Version++
		return appendAudit(tx, audit)
	})
}

// --- assignments ---

func unresolved(tx *gorm.DB, eventID, judgeID, submissionID string) (model.ConflictFlag, bool, error) {
	var row conflictModel
	err := tx.Where("event_id = ? AND judge_id = ? AND submission_id = ? AND resolved = ?", eventID, judgeID, submissionID, false).
		Order("created_at ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ConflictFlag{}, false, nil
	}
	if err != nil {
		return model.ConflictFlag{}, false, err
	}
	return row.toEntity(), true, nil
}

func counting(tx *gorm.DB, key model.RoundKey, judgeID, submissionID string) (model.Assignment, bool, error) {
	var row assignmentModel
	err := tx.Where("event_id = ? AND round = ? AND judge_id = ? AND submission_id = ? AND status IN ?",
		key.EventID, key.Round, judgeID, submissionID, countingStatuses).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Assignment{}, false, nil
	}
	if err != nil {
		return model.Assignment{}, false, err
	}
	return row.toEntity(), true, nil
}

func checkNewAssignment(tx *gorm.DB, a model.Assignment) error {
	var n int64
	if err := tx.Model(&assignmentModel{}).
		Where("event_id = ? AND round = ? AND judge_id = ? AND submission_id = ? AND status <> ?",
			a.EventID, a.Round, a.JudgeID, a.SubmissionID, string(model.AssignmentVoided)).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return alreadyAssigned(a)
	}
	f, ok, err := unresolved(tx, a.EventID, a.JudgeID, a.SubmissionID)
	if err != nil {
		return err
	}
	if ok {
		return &model.ConflictError{JudgeID: a.JudgeID, SubmissionID: a.SubmissionID, FlagID: f.ID, Reason: f.Reason}
	}
	return nil
}

func alreadyAssigned(a model.Assignment) error {
	return model.NewStateError("create assignment", "judge %s was already assigned to submission %s in round %s", a.JudgeID, a.SubmissionID, a.Key())
}

func insertAssignment(tx *gorm.DB, a model.Assignment) error {
	row := assignmentModelFromEntity(a)
	if err := tx.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return alreadyAssigned(a)
		}
		return err
	}
	return nil
}

func (s *Store) CreateAssignments(ctx context.Context, key model.RoundKey, b repository.AssignmentBatch) (model.RoundState, error) {
	return s.eventRoundTx(ctx, "create assignments", key, func(tx *gorm.DB, r *model.RoundState) error {
		if r.Locked {
			return model.NewStateError("create assignments", "round %s is locked", key)
		}
		pending := make(map[string]bool, len(b.Assignments))
		for _, a := range b.Assignments {
			if a.Key() != key {
				return model.NewValidationError("round", "assignment %s does not belong to round %s", a.ID, key)
			}
			pair := a.JudgeID + "\x00" + a.SubmissionID
			if pending[pair] {
				return alreadyAssigned(a)
			}
			if err := checkNewAssignment(tx, a); err != nil {
				return err
			}
			pending[pair] = true
		}
		for _, a := range b.Assignments {
			if err := insertAssignment(tx, a); err != nil {
				return err
			}
		}
		r.Constraints = b.Constraints
		r.Version++
		return appendOutbox(tx, b.Events...)
	})
}

func (s *Store) GetAssignment(ctx context.Context, id string) (model.Assignment, error) {
	var row assignmentModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Assignment{}, model.NewNotFound("assignment", id)
		}
		return model.Assignment{}, s.fail(ctx, "get assignment", err)
	}
	return row.toEntity(), nil
}

func (s *Store) FindAssignment(ctx context.Context, key model.RoundKey, judgeID, submissionID string) (model.Assignment, bool, error) {
	a, ok, err := counting(s.db.WithContext(ctx), key, judgeID, submissionID)
	return a, ok, s.fail(ctx, "find assignment", err)
}

func (s *Store) ListAssignments(ctx context.Context, f repository.AssignmentFilter) ([]model.Assignment, error) {
	q := s.db.WithContext(ctx).Model(&assignmentModel{})
	if f.EventID != "" {
		q = q.Where("event_id = ?", f.EventID)
	}
	if f.Round != 0 {
		q = q.Where("round = ?", f.Round)
	}
	if f.JudgeID != "" {
		q = q.Where("judge_id = ?", f.JudgeID)
	}
	if f.SubmissionID != "" {
		q = q.Where("submission_id = ?", f.SubmissionID)
	}
	if f.CountingOnly {
		q = q.Where("status IN ?", countingStatuses)
	}
	var rows []assignmentModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, s.fail(ctx, "list assignments", err)
	}
	out := make([]model.Assignment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	repository.SortAssignments(out)
	return out, nil
}

func (s *Store) CompleteAssignment(ctx context.Context, id string, at time.Time) (model.Assignment, error) {
	var out model.Assignment
	err := s.inTx(ctx, "complete assignment", func(tx *gorm.DB) error {
		var row assignmentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.NewNotFound("assignment", id)
			}
			return err
		}
		a := row.toEntity()
		switch a.Status {
		case model.AssignmentAssigned, model.AssignmentInProgress:
		case model.AssignmentCompleted:
			out = a
			return nil
		default:
			return model.NewStateError("complete assignment", "assignment %s is %s", id, a.Status)
		}
		var n int64
		if err := tx.Model(&scoreModel{}).Where("assignment_id = ?", a.ID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return model.NewStateError("complete assignment", "assignment %s has no score", id)
		}
		a.Status, a.UpdatedAt = model.AssignmentCompleted, at.UTC()
		if err := tx.Model(&assignmentModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":     string(a.Status),
			"updated_at": a.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return model.Assignment{}, err
	}
	return out, nil
}

func checkReassign(tx *gorm.DB, key model.RoundKey, r repository.Reassignment, flag *model.ConflictFlag) (model.Assignment, error) {
	var row assignmentModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", r.AssignmentID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Assignment{}, model.NewNotFound("assignment", r.AssignmentID)
		}
		return model.Assignment{}, err
	}
	a := row.toEntity()
	if a.Key() != key {
		return model.Assignment{}, model.NewValidationError("assignment_id", "assignment %s does not belong to round %s", a.ID, key)
	}
	if !a.Status.Counting() {
		return model.Assignment{}, model.NewStateError("reassign", "assignment %s is already %s", a.ID, a.Status)
	}
	if r.Status != model.AssignmentVoided && r.Status != model.AssignmentReassigned {
		return model.Assignment{}, model.NewValidationError("status", "must be voided or reassigned")
	}
	if r.Replacement == nil {
		return a, nil
	}
	rep := *r.Replacement
	if rep.SubmissionID != a.SubmissionID || rep.Key() != key {
		return model.Assignment{}, model.NewValidationError("replacement", "must target submission %s in round %s", a.SubmissionID, key)
	}
	if flag != nil && flag.JudgeID == rep.JudgeID && flag.SubmissionID == rep.SubmissionID {
		return model.Assignment{}, &model.ConflictError{JudgeID: rep.JudgeID, SubmissionID: rep.SubmissionID, Reason: flag.Reason}
	}
	return a, checkNewAssignment(tx, rep)
}

func applyReassign(tx *gorm.DB, round *model.RoundState, r repository.Reassignment) error {
	at := r.At.UTC()
	if err := tx.Model(&assignmentModel{}).Where("id = ?", r.AssignmentID).Updates(map[string]any{
		"status":     string(r.Status),
		"updated_at": at,
	}).Error; err != nil {
		return err
	}
	if err := tx.Model(&scoreModel{}).Where("assignment_id = ? AND voided = ?", r.AssignmentID, false).Updates(map[string]any{
		"voided":           true,
		"normalized_score": nil,
		"updated_at":       at,
	}).Error; err != nil {
		return err
	}
	if r.Replacement != nil {
		if err := insertAssignment(tx, *r.Replacement); err != nil {
			return err
		}
	}
	round.Version++
	if err := appendAudit(tx, r.Audit...); err != nil {
		return err
	}
	return appendOutbox(tx, r.Events...)
}

func (s *Store) Reassign(ctx context.Context, key model.RoundKey, r repository.Reassignment) (model.RoundState, error) {
	return s.eventRoundTx(ctx, "reassign", key, func(tx *gorm.DB, round *model.RoundState) error {
		if round.Locked {
			return model.NewStateError("reassign", "round %s is locked", key)
		}
		if _, err := checkReassign(tx, key, r, nil); err != nil {
			return err
		}
		return applyReassign(tx, round, r)
	})
}

// --- conflicts ---

func (s *Store) RecordConflict(ctx context.Context, w repository.ConflictWrite) (model.ConflictFlag, error) {
	f := w.Flag
	err := s.inTx(ctx, "record conflict", func(tx *gorm.DB) error {
		if err := lockEvent(tx, f.EventID); err != nil {
			return err
		}
		if existing, ok, err := unresolved(tx, f.EventID, f.JudgeID, f.SubmissionID); err != nil {
			return err
		} else if ok {
			return model.NewStateError("record conflict", "pair already flagged by %s", existing.ID)
		}

		// Lock every touched round in a stable order before checking.
		rounds := map[model.RoundKey]*model.RoundState{}
		keys := make([]model.RoundKey, 0)
		byAssignment := make(map[string]model.RoundKey, len(w.Reassignments))
		for _, r := range w.Reassignments {
			var row assignmentModel
			if err := tx.Where("id = ?", r.AssignmentID).First(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return model.NewNotFound("assignment", r.AssignmentID)
				}
				return err
			}
			if row.JudgeID != f.JudgeID || row.SubmissionID != f.SubmissionID || row.EventID != f.EventID {
				return model.NewValidationError("reassignments", "assignment %s is not for the flagged pair", row.ID)
			}
			key := model.RoundKey{EventID: row.EventID, Round: row.Round}
			byAssignment[r.AssignmentID] = key
			if _, seen := rounds[key]; !seen {
				rounds[key] = nil
				keys = append(keys, key)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Round < keys[j].Round })
		for _, key := range keys {
			st, err := lockRound(tx, key)
			if err != nil {
				return err
			}
			rounds[key] = &st
		}

		covered := make(map[string]bool, len(w.Reassignments))
		for _, r := range w.Reassignments {
			if _, err := checkReassign(tx, byAssignment[r.AssignmentID], r, &f); err != nil {
				return err
			}
			covered[r.AssignmentID] = true
		}
		var active []assignmentModel
		if err := tx.Where("event_id = ? AND judge_id = ? AND submission_id = ? AND status IN ?", f.EventID, f.JudgeID, f.SubmissionID, countingStatuses).
			Find(&active).Error; err != nil {
			return err
		}
		for _, a := range active {
			if !covered[a.ID] {
				return model.NewStateError("record conflict", "active assignment %s must be reassigned with the flag", a.ID)
			}
		}

		for _, r := range w.Reassignments {
			if err := applyReassign(tx, rounds[byAssignment[r.AssignmentID]], r); err != nil {
				return err
			}
		}
		for _, key := range keys {
			if err := saveRound(tx, *rounds[key]); err != nil {
				return err
			}
		}
		row := conflictModelFromEntity(f)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return appendAudit(tx, w.Audit...)
	})
	if err != nil {
		return model.ConflictFlag{}, err
	}
	return f, nil
}

func (s *Store) GetConflict(ctx context.Context, id string) (model.ConflictFlag, error) {
	var row conflictModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.ConflictFlag{}, model.NewNotFound("conflict", id)
		}
		return model.ConflictFlag{}, s.fail(ctx, "get conflict", err)
	}
	return row.toEntity(), nil
}

func (s *Store) UnresolvedConflict(ctx context.Context, eventID, judgeID, submissionID string) (model.ConflictFlag, bool, error) {
	f, ok, err := unresolved(s.db.WithContext(ctx), eventID, judgeID, submissionID)
	return f, ok, s.fail(ctx, "unresolved conflict", err)
}

func (s *Store) ListConflicts(ctx context.Context, f repository.ConflictFilter) ([]model.ConflictFlag, error) {
	q := s.db.WithContext(ctx).Model(&conflictModel{})
	if f.EventID != "" {
		q = q.Where("event_id = ?", f.EventID)
	}
	if f.JudgeID != "" {
		q = q.Where("judge_id = ?", f.JudgeID)
	}
	if f.SubmissionID != "" {
		q = q.Where("submission_id = ?", f.SubmissionID)
	}
	if f.UnresolvedOnly {
		q = q.Where("resolved = ?", false)
	}
	var rows []conflictModel
	if err := q.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, s.fail(ctx, "list conflicts", err)
	}
	out := make([]model.ConflictFlag, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func (s *Store) ResolveConflict(ctx context.Context, id, note string, at time.Time, audit model.AuditEntry) (model.ConflictFlag, error) {
	var out model.ConflictFlag
	err := s.inTx(ctx, "resolve conflict", func(tx *gorm.DB) error {
		var row conflictModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.NewNotFound("conflict", id)
			}
			return err
		}
		if row.Resolved {
			return model.NewStateError("resolve conflict", "conflict %s is already resolved", id)
		}
		t := at.UTC()
		row.Resolved, row.ResolutionNote, row.ResolvedAt = true, note, &t
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = row.toEntity()
		return appendAudit(tx, audit)
	})
	if err != nil {
		return model.ConflictFlag{}, err
	}
	return out, nil
}

// --- scores ---

func (s *Store) SaveScore(ctx context.Context, w model.ScoreWrite) (model.Score, error) {
	in := w.Score
	key := in.Key()
	var out model.Score
	_, err := s.roundTx(ctx, "save score", key, func(tx *gorm.DB, round *model.RoundState) error {
		if f, ok, err := unresolved(tx, in.EventID, in.JudgeID, in.SubmissionID); err != nil {
			return err
		} else if ok {
			return &model.ConflictError{JudgeID: in.JudgeID, SubmissionID: in.SubmissionID, FlagID: f.ID, Reason: f.Reason}
		}
		asg, ok, err := counting(tx, key, in.JudgeID, in.SubmissionID)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewStateError("submit score", "judge %s has no active assignment for submission %s", in.JudgeID, in.SubmissionID)
		}
		if err := round.CheckWritable(in.SubmissionID); err != nil {
			return err
		}

		var existing scoreModel
		exists := true
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("assignment_id = ? AND voided = ?", asg.ID, false).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			exists = false
		} else if err != nil {
			return err
		}
		var current int64
		if exists {
			current = existing.Version
		}
		if w.ExpectedVersion != current {
			return &model.ConcurrencyError{Resource: "score " + in.JudgeID + "/" + in.SubmissionID, Expected: w.ExpectedVersion, Actual: current}
		}

		saved := in
		saved.AssignmentID = asg.ID
		saved.Version = current + 1
		saved.NormalizedScore, saved.Unnormalized, saved.Voided = nil, false, false
		saved.UpdatedAt = w.At.UTC()
		if exists {
			saved.ID, saved.CreatedAt = existing.ID, existing.CreatedAt
		}
		row, err := scoreModelFromEntity(saved)
		if err != nil {
			return err
		}
		if err := lockRubric(tx, in.RubricID, w.At); err != nil {
			return err
		}
		if exists {
			err = tx.Save(&row).Error
		} else {
			err = tx.Create(&row).Error
		}
		if err != nil {
			if isUniqueViolation(err) {
				return &model.ConcurrencyError{Resource: "score " + in.JudgeID + "/" + in.SubmissionID, Expected: w.ExpectedVersion, Actual: current + 1}
			}
			return err
		}
		if asg.Status == model.AssignmentAssigned {
			if err := tx.Model(&assignmentModel{}).Where("id = ?", asg.ID).Updates(map[string]any{
				"status":     string(model.AssignmentInProgress),
				"updated_at": w.At.UTC(),
			}).Error; err != nil {
				return err
			}
		}
		round.Version++
		out, err = row.toEntity()
		return err
	})
	if err != nil {
		return model.Score{}, err
	}
	return out, nil
}

func (s *Store) GetScore(ctx context.Context, id string) (model.Score, error) {
	var row scoreModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Score{}, model.NewNotFound("score", id)
		}
		return model.Score{}, s.fail(ctx, "get score", err)
	}
	sc, err := row.toEntity()
	return sc, s.fail(ctx, "decode score", err)
}

func (s *Store) ListScores(ctx context.Context, f repository.ScoreFilter) ([]model.Score, error) {
	q := s.db.WithContext(ctx).Model(&scoreModel{})
	if f.EventID != "" {
		q = q.Where("event_id = ?", f.EventID)
	}
	if f.Round != 0 {
		q = q.Where("round = ?", f.Round)
	}
	if f.JudgeID != "" {
		q = q.Where("judge_id = ?", f.JudgeID)
	}
	if f.SubmissionID != "" {
		q = q.Where("submission_id = ?", f.SubmissionID)
	}
	if !f.IncludeVoided {
		q = q.Where("voided = ?", false)
	}
	var rows []scoreModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, s.fail(ctx, "list scores", err)
	}
	out := make([]model.Score, 0, len(rows))
	for _, row := range rows {
		sc, err := row.toEntity()
		if err != nil {
			return nil, s.fail(ctx, "decode score", err)
		}
		out = append(out, sc)
	}
	repository.SortScores(out)
	return out, nil
}

func (s *Store) ApplyNormalization(ctx context.Context, key model.RoundKey, version int64, values []repository.NormalizedValue) error {
	return s.inTx(ctx, "apply normalization", func(tx *gorm.DB) error {
		round, err := lockRound(tx, key)
		if err != nil {
			return err
		}
		if round.Version != version {
			return &model.ConcurrencyError{Resource: "round " + key.String(), Expected: version, Actual: round.Version}
		}
		for _, v := range values {
			res := tx.Model(&scoreModel{}).Where("id = ?", v.ScoreID).Updates(map[string]any{
				"normalized_score": v.Normalized,
				"unnormalized":     v.Unnormalized,
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return model.NewNotFound("score", v.ScoreID)
			}
		}
		return nil
	})
}

// --- audit and outbox ---

func appendAudit(tx *gorm.DB, entries ...model.AuditEntry) error {
	rows := make([]auditModel, 0, len(entries))
	for _, e := range entries {
		if e.Action == "" {
			continue
		}
		rows = append(rows, auditModelFromEntity(e))
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func appendOutbox(tx *gorm.DB, events ...model.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]outboxModel, 0, len(events))
	for _, e := range events {
		row, err := outboxModelFromEntity(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (s *Store) AppendAudit(ctx context.Context, entries ...model.AuditEntry) error {
	return s.fail(ctx, "append audit", appendAudit(s.db.WithContext(ctx), entries...))
}

func (s *Store) ListAudit(ctx context.Context, f repository.AuditFilter) ([]model.AuditEntry, error) {
	if f.Limit < 0 {
		return nil, repository.ErrInvalidLimit
	}
	q := s.db.WithContext(ctx).Model(&auditModel{})
	if f.EventID != "" {
		q = q.Where("event_id = ?", f.EventID)
	}
	if f.Round != 0 {
		q = q.Where("round = ?", f.Round)
	}
	var rows []auditModel
	var err error
	if f.Limit > 0 {
		err = q.Order("at DESC, id DESC").Limit(f.Limit).Find(&rows).Error
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	} else {
		err = q.Order("at ASC, id ASC").Find(&rows).Error
	}
	if err != nil {
		return nil, s.fail(ctx, "list audit", err)
	}
	out := make([]model.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func (s *Store) AppendOutbox(ctx context.Context, events ...model.DomainEvent) error {
	return s.fail(ctx, "append outbox", appendOutbox(s.db.WithContext(ctx), events...))
}

func (s *Store) ListPendingOutbox(ctx context.Context, limit int) ([]model.DomainEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := s.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, s.fail(ctx, "list pending outbox", err)
	}
	out := make([]model.DomainEvent, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEntity()
		if err != nil {
			return nil, s.fail(ctx, "decode outbox", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) MarkOutboxPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&outboxModel{}).
		Where("id IN ? AND published_at IS NULL", ids).
		Update("published_at", at.UTC()).Error
	return s.fail(ctx, "mark outbox published", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
