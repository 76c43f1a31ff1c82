package service_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	service "github.com/Khushwant-Singh1/HackOps/internal/app"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/ledger"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
)

func init() {
	if err := logger.Init(logger.Options{Writer: io.Discard}); err != nil {
		panic(err)
	}
}

const eventID = "ev-1"

var organizer = model.Principal{ID: "org-1", Role: model.RoleOrganizer}

func judgeP(id string) model.Principal { return model.Principal{ID: id, Role: model.RoleJudge} }

func sequentialIDs(prefix string) model.IDFunc {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s-%05d", prefix, n.Add(1)) }
}

type fixture struct {
	ctx    context.Context
	svc    *service.Service
	store  *repository.MemoryStore
	clock  *model.ManualClock
	rubric model.Rubric
}

// newFixture seeds a directory with the given judges and submissions, one
// team per submission, and a 60/40 rubric with max scores of 10.
func newFixture(judges, submissions []string, opts ...service.Option) *fixture {
	f := &fixture{
		ctx:   context.Background(),
		store: repository.NewMemoryStore(),
		clock: model.NewManualClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)),
	}
	base := []service.Option{
		service.WithStore(f.store),
		service.WithClock(f.clock),
		service.WithIDFunc(sequentialIDs("id")),
		service.WithLogger(logger.Nop()),
		service.WithWorkerCount(2),
	}
	f.svc = service.New(append(base, opts...)...)

	for _, j := range judges {
		must(f.svc.UpsertJudge(f.ctx, organizer, model.Judge{ID: j, EventID: eventID, Name: j}))
	}
	for i, s := range submissions {
		team := "team-" + s
		must(f.svc.UpsertTeam(f.ctx, organizer, model.Team{ID: team, EventID: eventID}))
		must(f.svc.UpsertSubmission(f.ctx, organizer, model.Submission{
			ID:          s,
			EventID:     eventID,
			TeamID:      team,
			Status:      model.SubmissionSubmitted,
			SubmittedAt: f.clock.Now().Add(time.Duration(i) * time.Minute),
		}))
	}

	rb, err := f.svc.CreateRubric(f.ctx, organizer, eventID, "", []model.Criterion{
		{Key: "impact", Weight: 60, MaxScore: 10},
		{Key: "execution", Weight: 40, MaxScore: 10},
	})
	must(err)
	f.rubric = rb
	return f
}

func (f *fixture) assign(c model.Constraints) service.AssignResult {
	res, err := f.svc.Assign(f.ctx, organizer, eventID, 1, c)
	must(err)
	return res
}

// score submits impact and execution values for a judge.
func (f *fixture) score(judge, submission string, impact, execution float64, version int64) (model.Score, error) {
	return f.svc.SubmitScore(f.ctx, judgeP(judge), ledger.Input{
		EventID:         eventID,
		Round:           1,
		JudgeID:         judge,
		SubmissionID:    submission,
		RubricID:        f.rubric.ID,
		Values:          map[string]float64{"impact": impact, "execution": execution},
		ExpectedVersion: version,
	})
}

func (f *fixture) audit() []model.AuditEntry {
	entries, err := f.svc.ListAudit(f.ctx, organizer, repository.AuditFilter{EventID: eventID})
	must(err)
	return entries
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func actions(entries []model.AuditEntry) []model.AuditAction {
	out := make([]model.AuditAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func entryFor(entries []model.AuditEntry, action model.AuditAction) (model.AuditEntry, bool) {
	for _, e := range entries {
		if e.Action == action {
			return e, true
		}
	}
	return model.AuditEntry{}, false
}

// recordingNotifier collects delivered events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []model.DomainEvent
}

func (n *recordingNotifier) Notify(_ context.Context, e model.DomainEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) count(t model.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == t {
			c++
		}
	}
	return c
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// flakyStore fails the first n normalization writes as if a score had
// landed mid-computation.
type flakyStore struct {
	*repository.MemoryStore
	mu    sync.Mutex
	fails int
	calls int
}

func (s *flakyStore) ApplyNormalization(ctx context.Context, key model.RoundKey, version int64, values []repository.NormalizedValue) error {
	s.mu.Lock()
	s.calls++
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return &model.ConcurrencyError{Resource: "round " + key.String(), Expected: version, Actual: version + 1}
	}
	s.mu.Unlock()
	return s.MemoryStore.ApplyNormalization(ctx, key, version, values)
}

func ledgerInput(f *fixture, judge, submission string) ledger.Input {
	return ledger.Input{
		EventID:      eventID,
		Round:        1,
		JudgeID:      judge,
		SubmissionID: submission,
		RubricID:     f.rubric.ID,
		Values:       map[string]float64{"impact": 5, "execution": 5},
	}
}

func serviceDeclare(judge, submission string) service.DeclareInput {
	return service.DeclareInput{EventID: eventID, JudgeID: judge, SubmissionID: submission, Note: "disclosed at kickoff"}
}

// lateLockStore locks the round right before a batch is written, as a
// concurrent LockRound landing after planning would.
type lateLockStore struct {
	*repository.MemoryStore
}

func (s lateLockStore) CreateAssignments(ctx context.Context, key model.RoundKey, b repository.AssignmentBatch) (model.RoundState, error) {
	audit := model.AuditEntry{ID: "late-lock", EventID: key.EventID, Round: key.Round, Action: model.AuditRoundLocked}
	if _, err := s.LockRound(ctx, key, time.Now(), audit, nil); err != nil {
		return model.RoundState{}, err
	}
	return s.MemoryStore.CreateAssignments(ctx, key, b)
}
