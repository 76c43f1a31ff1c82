package postgres

import (
	"encoding/json"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

type rubricModel struct {
	ID        string     `gorm:"column:id;primaryKey"`
	EventID   string     `gorm:"column:event_id;index"`
	TrackID   string     `gorm:"column:track_id"`
	Criteria  []byte     `gorm:"column:criteria;type:jsonb"`
	Locked    bool       `gorm:"column:locked"`
	LockedAt  *time.Time `gorm:"column:locked_at"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
}

func (rubricModel) TableName() string { return "judging_rubrics" }

func rubricModelFromEntity(r model.Rubric) (rubricModel, error) {
	criteria, err := json.Marshal(r.Criteria)
	if err != nil {
		return rubricModel{}, err
	}
	return rubricModel{
		ID:        r.ID,
		EventID:   r.EventID,
		TrackID:   r.TrackID,
		Criteria:  criteria,
		Locked:    r.Locked,
		LockedAt:  utcPtr(r.LockedAt),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}, nil
}

func (m rubricModel) toEntity() (model.Rubric, error) {
	var criteria []model.Criterion
	if err := json.Unmarshal(m.Criteria, &criteria); err != nil {
		return model.Rubric{}, err
	}
	return model.Rubric{
		ID:        m.ID,
		EventID:   m.EventID,
		TrackID:   m.TrackID,
		Criteria:  criteria,
		Locked:    m.Locked,
		LockedAt:  utcPtr(m.LockedAt),
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}, nil
}

type judgeModel struct {
	ID           string `gorm:"column:id;primaryKey"`
	EventID      string `gorm:"column:event_id;index"`
	Name         string `gorm:"column:name"`
	Affiliations []byte `gorm:"column:affiliations;type:jsonb"`
	MentorOf     []byte `gorm:"column:mentor_of;type:jsonb"`
}

func (judgeModel) TableName() string { return "judging_judges" }

type teamModel struct {
	ID           string `gorm:"column:id;primaryKey"`
	EventID      string `gorm:"column:event_id;index"`
	Name         string `gorm:"column:name"`
	Affiliations []byte `gorm:"column:affiliations;type:jsonb"`
	Sponsors     []byte `gorm:"column:sponsors;type:jsonb"`
}

func (teamModel) TableName() string { return "judging_teams" }

type submissionModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	EventID     string    `gorm:"column:event_id;index"`
	TeamID      string    `gorm:"column:team_id"`
	TrackID     string    `gorm:"column:track_id"`
	Status      string    `gorm:"column:status"`
	SubmittedAt time.Time `gorm:"column:submitted_at"`
}

func (submissionModel) TableName() string { return "judging_submissions" }

func (m submissionModel) toEntity() model.Submission {
	return model.Submission{
		ID:          m.ID,
		EventID:     m.EventID,
		TeamID:      m.TeamID,
		TrackID:     m.TrackID,
		Status:      model.SubmissionStatus(m.Status),
		SubmittedAt: m.SubmittedAt.UTC(),
	}
}

type windowModel struct {
	EventID string    `gorm:"column:event_id;primaryKey"`
	StartAt time.Time `gorm:"column:start_at"`
	EndAt   time.Time `gorm:"column:end_at"`
}

func (windowModel) TableName() string { return "judging_windows" }

type roundModel struct {
	EventID     string     `gorm:"column:event_id;primaryKey"`
	Round       int        `gorm:"column:round;primaryKey;autoIncrement:false"`
	Locked      bool       `gorm:"column:locked"`
	LockedAt    *time.Time `gorm:"column:locked_at"`
	Version     int64      `gorm:"column:version"`
	CoverageMin int        `gorm:"column:coverage_min"`
	CoverageMax int        `gorm:"column:coverage_max"`
	LoadMax     int        `gorm:"column:load_max"`
	Finalized   []byte     `gorm:"column:finalized;type:jsonb"`
	Reopened    []byte     `gorm:"column:reopened;type:jsonb"`
}

func (roundModel) TableName() string { return "judging_rounds" }

func roundModelFromEntity(r model.RoundState) (roundModel, error) {
	finalized, err := json.Marshal(model.SortedKeys(r.Finalized))
	if err != nil {
		return roundModel{}, err
	}
	reopened, err := json.Marshal(model.SortedKeys(r.Reopened))
	if err != nil {
		return roundModel{}, err
	}
	return roundModel{
		EventID:     r.EventID,
		Round:       r.Round,
		Locked:      r.Locked,
		LockedAt:    utcPtr(r.LockedAt),
		Version:     r.Version,
		CoverageMin: r.Constraints.CoverageMin,
		CoverageMax: r.Constraints.CoverageMax,
		LoadMax:     r.Constraints.LoadMax,
		Finalized:   finalized,
		Reopened:    reopened,
	}, nil
}

func (m roundModel) toEntity() (model.RoundState, error) {
	finalized, err := decodeSet(m.Finalized)
	if err != nil {
		return model.RoundState{}, err
	}
	reopened, err := decodeSet(m.Reopened)
	if err != nil {
		return model.RoundState{}, err
	}
	return model.RoundState{
		EventID:  m.EventID,
		Round:    m.Round,
		Locked:   m.Locked,
		LockedAt: utcPtr(m.LockedAt),
		Version:  m.Version,
		Constraints: model.Constraints{
			CoverageMin: m.CoverageMin,
			CoverageMax: m.CoverageMax,
			LoadMax:     m.LoadMax,
		},
		Finalized: finalized,
		Reopened:  reopened,
	}, nil
}

// At most one non-voided row per pair and round. Voided rows free the pair
// once its conflict is resolved.
type assignmentModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	EventID      string    `gorm:"column:event_id;uniqueIndex:ux_assignment_pair,priority:1,where:status <> 'voided';index:idx_assignment_judge,priority:1"`
	Round        int       `gorm:"column:round;uniqueIndex:ux_assignment_pair,priority:2;index:idx_assignment_judge,priority:2"`
	JudgeID      string    `gorm:"column:judge_id;uniqueIndex:ux_assignment_pair,priority:3;index:idx_assignment_judge,priority:3"`
	SubmissionID string    `gorm:"column:submission_id;uniqueIndex:ux_assignment_pair,priority:4;index:idx_assignment_submission"`
	Status       string    `gorm:"column:status"`
	ReplacesID   string    `gorm:"column:replaces_id"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (assignmentModel) TableName() string { return "judging_assignments" }

func assignmentModelFromEntity(a model.Assignment) assignmentModel {
	return assignmentModel{
		ID:           a.ID,
		EventID:      a.EventID,
		Round:        a.Round,
		JudgeID:      a.JudgeID,
		SubmissionID: a.SubmissionID,
		Status:       string(a.Status),
		ReplacesID:   a.ReplacesID,
		CreatedAt:    a.CreatedAt.UTC(),
		UpdatedAt:    a.UpdatedAt.UTC(),
	}
}

func (m assignmentModel) toEntity() model.Assignment {
	return model.Assignment{
		ID:           m.ID,
		EventID:      m.EventID,
		Round:        m.Round,
		JudgeID:      m.JudgeID,
		SubmissionID: m.SubmissionID,
		Status:       model.AssignmentStatus(m.Status),
		ReplacesID:   m.ReplacesID,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

type scoreModel struct {
	ID              string    `gorm:"column:id;primaryKey"`
	EventID         string    `gorm:"column:event_id;uniqueIndex:ux_score_pair,priority:1,where:voided = false;index:idx_score_judge,priority:1"`
	Round           int       `gorm:"column:round;uniqueIndex:ux_score_pair,priority:2;index:idx_score_judge,priority:2"`
	SubmissionID    string    `gorm:"column:submission_id;uniqueIndex:ux_score_pair,priority:3"`
	JudgeID         string    `gorm:"column:judge_id;uniqueIndex:ux_score_pair,priority:4;index:idx_score_judge,priority:3"`
	RubricID        string    `gorm:"column:rubric_id"`
	AssignmentID    string    `gorm:"column:assignment_id;index"`
	Values          []byte    `gorm:"column:criterion_values;type:jsonb"`
	Comments        string    `gorm:"column:comments"`
	Total           float64   `gorm:"column:total"`
	NormalizedScore *float64  `gorm:"column:normalized_score"`
	Unnormalized    bool      `gorm:"column:unnormalized"`
	Voided          bool      `gorm:"column:voided"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
	Version         int64     `gorm:"column:version"`
}

func (scoreModel) TableName() string { return "judging_scores" }

func scoreModelFromEntity(s model.Score) (scoreModel, error) {
	values, err := json.Marshal(s.Values)
	if err != nil {
		return scoreModel{}, err
	}
	return scoreModel{
		ID:              s.ID,
		EventID:         s.EventID,
		Round:           s.Round,
		SubmissionID:    s.SubmissionID,
		JudgeID:         s.JudgeID,
		RubricID:        s.RubricID,
		AssignmentID:    s.AssignmentID,
		Values:          values,
		Comments:        s.Comments,
		Total:           s.Total,
		NormalizedScore: s.NormalizedScore,
		Unnormalized:    s.Unnormalized,
		Voided:          s.Voided,
		CreatedAt:       s.CreatedAt.UTC(),
		UpdatedAt:       s.UpdatedAt.UTC(),
		Version:         s.Version,
	}, nil
}

func (m scoreModel) toEntity() (model.Score, error) {
	values := map[string]float64{}
	if len(m.Values) > 0 {
		if err := json.Unmarshal(m.Values, &values); err != nil {
			return model.Score{}, err
		}
	}
	var normalized *float64
	if m.NormalizedScore != nil {
		n := *m.NormalizedScore
		normalized = &n
	}
	return model.Score{
		ID:              m.ID,
		EventID:         m.EventID,
		Round:           m.Round,
		SubmissionID:    m.SubmissionID,
		JudgeID:         m.JudgeID,
		RubricID:        m.RubricID,
		AssignmentID:    m.AssignmentID,
		Values:          values,
		Comments:        m.Comments,
		Total:           m.Total,
		NormalizedScore: normalized,
		Unnormalized:    m.Unnormalized,
		Voided:          m.Voided,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
		Version:         m.Version,
	}, nil
}

type conflictModel struct {
	ID             string     `gorm:"column:id;primaryKey"`
	EventID        string     `gorm:"column:event_id;index:idx_conflict_pair,priority:1"`
	JudgeID        string     `gorm:"column:judge_id;index:idx_conflict_pair,priority:2"`
	SubmissionID   string     `gorm:"column:submission_id;index:idx_conflict_pair,priority:3"`
	TeamID         string     `gorm:"column:team_id"`
	Reason         string     `gorm:"column:reason"`
	Resolved       bool       `gorm:"column:resolved"`
	ResolutionNote string     `gorm:"column:resolution_note"`
	CreatedBy      string     `gorm:"column:created_by"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	ResolvedAt     *time.Time `gorm:"column:resolved_at"`
}

func (conflictModel) TableName() string { return "judging_conflict_flags" }

func conflictModelFromEntity(f model.ConflictFlag) conflictModel {
	return conflictModel{
		ID:             f.ID,
		EventID:        f.EventID,
		JudgeID:        f.JudgeID,
		SubmissionID:   f.SubmissionID,
		TeamID:         f.TeamID,
		Reason:         string(f.Reason),
		Resolved:       f.Resolved,
		ResolutionNote: f.ResolutionNote,
		CreatedBy:      f.CreatedBy,
		CreatedAt:      f.CreatedAt.UTC(),
		ResolvedAt:     utcPtr(f.ResolvedAt),
	}
}

func (m conflictModel) toEntity() model.ConflictFlag {
	return model.ConflictFlag{
		ID:             m.ID,
		EventID:        m.EventID,
		JudgeID:        m.JudgeID,
		SubmissionID:   m.SubmissionID,
		TeamID:         m.TeamID,
		Reason:         model.ConflictReason(m.Reason),
		Resolved:       m.Resolved,
		ResolutionNote: m.ResolutionNote,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt.UTC(),
		ResolvedAt:     utcPtr(m.ResolvedAt),
	}
}

type auditModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	EventID      string    `gorm:"column:event_id;index:idx_audit_round,priority:1"`
	Round        int       `gorm:"column:round;index:idx_audit_round,priority:2"`
	Actor        string    `gorm:"column:actor"`
	Action       string    `gorm:"column:action"`
	JudgeID      string    `gorm:"column:judge_id"`
	SubmissionID string    `gorm:"column:submission_id"`
	AssignmentID string    `gorm:"column:assignment_id"`
	Reason       string    `gorm:"column:reason"`
	Detail       string    `gorm:"column:detail"`
	At           time.Time `gorm:"column:at;index"`
}

func (auditModel) TableName() string { return "judging_audit_log" }

func auditModelFromEntity(e model.AuditEntry) auditModel {
	return auditModel{
		ID:           e.ID,
		EventID:      e.EventID,
		Round:        e.Round,
		Actor:        e.Actor,
		Action:       string(e.Action),
		JudgeID:      e.JudgeID,
		SubmissionID: e.SubmissionID,
		AssignmentID: e.AssignmentID,
		Reason:       e.Reason,
		Detail:       e.Detail,
		At:           e.At.UTC(),
	}
}

func (m auditModel) toEntity() model.AuditEntry {
	return model.AuditEntry{
		ID:           m.ID,
		EventID:      m.EventID,
		Round:        m.Round,
		Actor:        m.Actor,
		Action:       model.AuditAction(m.Action),
		JudgeID:      m.JudgeID,
		SubmissionID: m.SubmissionID,
		AssignmentID: m.AssignmentID,
		Reason:       m.Reason,
		Detail:       m.Detail,
		At:           m.At.UTC(),
	}
}

type outboxModel struct {
	ID          string     `gorm:"column:id;primaryKey"`
	EventType   string     `gorm:"column:event_type"`
	Payload     []byte     `gorm:"column:payload;type:jsonb"`
	CreatedAt   time.Time  `gorm:"column:created_at;index"`
	PublishedAt *time.Time `gorm:"column:published_at;index"`
}

func (outboxModel) TableName() string { return "judging_outbox" }

func outboxModelFromEntity(e model.DomainEvent) (outboxModel, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return outboxModel{}, err
	}
	return outboxModel{
		ID:        e.ID,
		EventType: string(e.Type),
		Payload:   payload,
		CreatedAt: e.OccurredAt.UTC(),
	}, nil
}

func (m outboxModel) toEntity() (model.DomainEvent, error) {
	var e model.DomainEvent
	if err := json.Unmarshal(m.Payload, &e); err != nil {
		return model.DomainEvent{}, err
	}
	return e, nil
}

func allModels() []any {
	return []any{
		&rubricModel{}, &judgeModel{}, &teamModel{}, &submissionModel{}, &windowModel{},
		&roundModel{}, &assignmentModel{}, &scoreModel{}, &conflictModel{},
		&auditModel{}, &outboxModel{},
	}
}

func encodeStrings(in []string) []byte {
	if in == nil {
		in = []string{}
	}
	out, _ := json.Marshal(in)
	return out
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func decodeSet(raw []byte) (map[string]bool, error) {
	ids, err := decodeStrings(raw)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
