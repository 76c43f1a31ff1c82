package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	testKey = model.RoundKey{EventID: "ev", Round: 1}
	testAt  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func seedRubric(ctx context.Context, s *MemoryStore) {
	So(s.CreateRubric(ctx, model.Rubric{
		ID:      "rb",
		EventID: "ev",
		Criteria: []model.Criterion{
			{Key: "impact", Weight: 100, MaxScore: 10},
		},
		CreatedAt: testAt,
	}), ShouldBeNil)
}

func asg(id, judge, sub string) model.Assignment {
	return model.Assignment{ID: id, EventID: "ev", Round: 1, JudgeID: judge, SubmissionID: sub, Status: model.AssignmentAssigned, CreatedAt: testAt}
}

func batch(events []model.DomainEvent, as ...model.Assignment) AssignmentBatch {
	return AssignmentBatch{
		Constraints: model.Constraints{CoverageMin: 1, CoverageMax: 2, LoadMax: 5},
		Assignments: as,
		Events:      events,
	}
}

func scoreWrite(id, judge, sub string, v float64, expected int64) model.ScoreWrite {
	return model.ScoreWrite{
		Score: model.Score{
			ID: id, EventID: "ev", Round: 1, JudgeID: judge, SubmissionID: sub, RubricID: "rb",
			Values: map[string]float64{"impact": v}, Total: v * 10, CreatedAt: testAt,
		},
		ExpectedVersion: expected,
		At:              testAt,
	}
}

func TestMemoryStoreScores(t *testing.T) {
	Convey("Given a store with one assignment", t, func() {
		ctx := context.Background()
		s := NewMemoryStore()
		seedRubric(ctx, s)
		_, err := s.CreateAssignments(ctx, testKey, batch([]model.DomainEvent{{ID: "e1", Type: model.EventAssignmentCreated}}, asg("a1", "j1", "s1")))
		So(err, ShouldBeNil)

		Convey("When the first score is saved", func() {
			saved, err := s.SaveScore(ctx, scoreWrite("sc1", "j1", "s1", 7, 0))

			Convey("Then the version starts at one and side effects apply", func() {
				So(err, ShouldBeNil)
				So(saved.Version, ShouldEqual, 1)
				So(saved.AssignmentID, ShouldEqual, "a1")

				rb, _ := s.GetRubric(ctx, "rb")
				So(rb.Locked, ShouldBeTrue)
				a, _ := s.GetAssignment(ctx, "a1")
				So(a.Status, ShouldEqual, model.AssignmentInProgress)
				round, _ := s.GetRound(ctx, testKey)
				So(round.Version, ShouldEqual, 2)
			})

			Convey("Then a stale write is rejected", func() {
				_, err := s.SaveScore(ctx, scoreWrite("sc2", "j1", "s1", 8, 0))
				var cerr *model.ConcurrencyError
				So(errors.As(err, &cerr), ShouldBeTrue)
				So(cerr.Actual, ShouldEqual, 1)
			})

			Convey("Then an update keeps the score identity", func() {
				updated, err := s.SaveScore(ctx, scoreWrite("sc2", "j1", "s1", 8, 1))
				So(err, ShouldBeNil)
				So(updated.ID, ShouldEqual, "sc1")
				So(updated.Version, ShouldEqual, 2)
				list, _ := s.ListScores(ctx, ScoreFilter{EventID: "ev"})
				So(len(list), ShouldEqual, 1)
				So(list[0].Total, ShouldEqual, 80)
			})
		})

		Convey("When a judge without an assignment scores", func() {
			_, err := s.SaveScore(ctx, scoreWrite("sc9", "j2", "s1", 5, 0))
			So(errors.Is(err, model.ErrState), ShouldBeTrue)
		})

		Convey("When the round is locked", func() {
			_, err := s.LockRound(ctx, testKey, testAt, model.AuditEntry{Action: model.AuditRoundLocked, EventID: "ev", Round: 1}, nil)
			So(err, ShouldBeNil)

			Convey("Then writes fail until the submission is unlocked", func() {
				_, err := s.SaveScore(ctx, scoreWrite("sc1", "j1", "s1", 5, 0))
				So(errors.Is(err, model.ErrState), ShouldBeTrue)

				round, err := s.UnlockSubmission(ctx, testKey, "s1", model.AuditEntry{Action: model.AuditSubmissionUnlocked})
				So(err, ShouldBeNil)
				So(round.Reopened["s1"], ShouldBeTrue)

				_, err = s.SaveScore(ctx, scoreWrite("sc1", "j1", "s1", 5, 0))
				So(err, ShouldBeNil)
			})

			Convey("Then locking twice is a state error", func() {
				_, err := s.LockRound(ctx, testKey, testAt, model.AuditEntry{}, nil)
				So(errors.Is(err, model.ErrState), ShouldBeTrue)
			})
		})

		Convey("When normalization is applied against a stale version", func() {
			saved, err := s.SaveScore(ctx, scoreWrite("sc1", "j1", "s1", 7, 0))
			So(err, ShouldBeNil)
			err = s.ApplyNormalization(ctx, testKey, 0, []NormalizedValue{{ScoreID: saved.ID, Normalized: 1}})

			Convey("Then it fails and nothing is written", func() {
				So(errors.Is(err, model.ErrConcurrency), ShouldBeTrue)
				got, _ := s.GetScore(ctx, saved.ID)
				So(got.NormalizedScore, ShouldBeNil)
			})

			Convey("Then the current version succeeds without bumping", func() {
				So(s.ApplyNormalization(ctx, testKey, 2, []NormalizedValue{{ScoreID: saved.ID, Normalized: 0.5}}), ShouldBeNil)
				got, _ := s.GetScore(ctx, saved.ID)
				So(*got.NormalizedScore, ShouldEqual, 0.5)
				round, _ := s.GetRound(ctx, testKey)
				So(round.Version, ShouldEqual, 2)
			})
		})
	})
}

func TestMemoryStoreAssignments(t *testing.T) {
	Convey("Given a store with one assignment", t, func() {
		ctx := context.Background()
		s := NewMemoryStore()
		_, err := s.CreateAssignments(ctx, testKey, batch(nil, asg("a1", "j1", "s1")))
		So(err, ShouldBeNil)

		Convey("Duplicate pairs are rejected without partial writes", func() {
			_, err := s.CreateAssignments(ctx, testKey, batch(nil, asg("a2", "j2", "s1"), asg("a3", "j1", "s1")))
			So(errors.Is(err, model.ErrState), ShouldBeTrue)
			list, _ := s.ListAssignments(ctx, AssignmentFilter{EventID: "ev"})
			So(len(list), ShouldEqual, 1)
		})

		Convey("The batch records its constraints and bumps the version", func() {
			round, _ := s.GetRound(ctx, testKey)
			So(round.Version, ShouldEqual, 1)
			So(round.Constraints.CoverageMin, ShouldEqual, 1)

			next := batch(nil)
			next.Constraints.CoverageMin = 2
			round, err := s.CreateAssignments(ctx, testKey, next)
			So(err, ShouldBeNil)
			So(round.Version, ShouldEqual, 2)
			So(round.Constraints.CoverageMin, ShouldEqual, 2)
		})

		Convey("A locked round refuses new assignments and reassignments", func() {
			_, err := s.LockRound(ctx, testKey, testAt, model.AuditEntry{Action: model.AuditRoundLocked, EventID: "ev", Round: 1}, nil)
			So(err, ShouldBeNil)

			_, err = s.CreateAssignments(ctx, testKey, batch(nil, asg("a2", "j2", "s1")))
			So(errors.Is(err, model.ErrState), ShouldBeTrue)
			rep := asg("a2", "j2", "s1")
			_, err = s.Reassign(ctx, testKey, Reassignment{AssignmentID: "a1", Status: model.AssignmentReassigned, Replacement: &rep, At: testAt})
			So(errors.Is(err, model.ErrState), ShouldBeTrue)

			list, _ := s.ListAssignments(ctx, AssignmentFilter{EventID: "ev"})
			So(len(list), ShouldEqual, 1)
			So(list[0].Status, ShouldEqual, model.AssignmentAssigned)
		})

		Convey("Upserting a submission bumps the rounds of its event", func() {
			So(s.UpsertSubmission(ctx, model.Submission{ID: "s1", EventID: "ev", Status: model.SubmissionWithdrawn}), ShouldBeNil)
			round, _ := s.GetRound(ctx, testKey)
			So(round.Version, ShouldEqual, 2)
		})

		Convey("Completing without a score is a state error", func() {
			_, err := s.CompleteAssignment(ctx, "a1", testAt)
			So(errors.Is(err, model.ErrState), ShouldBeTrue)
		})

		Convey("A manual reassignment installs the replacement and bumps the version", func() {
			rep := asg("a2", "j2", "s1")
			rep.ReplacesID = "a1"
			round, err := s.Reassign(ctx, testKey, Reassignment{
				AssignmentID: "a1",
				Status:       model.AssignmentReassigned,
				Replacement:  &rep,
				Audit:        []model.AuditEntry{{Action: model.AuditAssignmentReassigned, EventID: "ev", Round: 1}},
				At:           testAt,
			})
			So(err, ShouldBeNil)
			So(round.Version, ShouldEqual, 2)

			counting, _ := s.ListAssignments(ctx, AssignmentFilter{EventID: "ev", CountingOnly: true})
			So(len(counting), ShouldEqual, 1)
			So(counting[0].JudgeID, ShouldEqual, "j2")

			Convey("And the replaced judge cannot be placed again", func() {
				_, err := s.CreateAssignments(ctx, testKey, batch(nil, asg("a3", "j1", "s1")))
				So(errors.Is(err, model.ErrState), ShouldBeTrue)
			})

			Convey("And the removed assignment cannot be reassigned twice", func() {
				_, err := s.Reassign(ctx, testKey, Reassignment{AssignmentID: "a1", Status: model.AssignmentVoided, At: testAt})
				So(errors.Is(err, model.ErrState), ShouldBeTrue)
			})
		})
	})
}

func TestMemoryStoreConflicts(t *testing.T) {
	Convey("Given a scored assignment", t, func() {
		ctx := context.Background()
		s := NewMemoryStore()
		seedRubric(ctx, s)
		_, err := s.CreateAssignments(ctx, testKey, batch(nil, asg("a1", "j1", "s1")))
		So(err, ShouldBeNil)
		_, err = s.SaveScore(ctx, scoreWrite("sc1", "j1", "s1", 7, 0))
		So(err, ShouldBeNil)

		flag := model.ConflictFlag{ID: "f1", EventID: "ev", JudgeID: "j1", SubmissionID: "s1", Reason: model.ConflictDeclared, CreatedAt: testAt}

		Convey("A flag that leaves the assignment active is refused", func() {
			_, err := s.RecordConflict(ctx, ConflictWrite{Flag: flag})
			So(errors.Is(err, model.ErrState), ShouldBeTrue)
		})

		Convey("A flag with its reassignment voids the score", func() {
			rep := asg("a2", "j2", "s1")
			_, err := s.RecordConflict(ctx, ConflictWrite{
				Flag:  flag,
				Audit: []model.AuditEntry{{Action: model.AuditConflictDeclared, EventID: "ev"}},
				Reassignments: []Reassignment{{
					AssignmentID: "a1",
					Status:       model.AssignmentVoided,
					Replacement:  &rep,
					Events:       []model.DomainEvent{{ID: "e1", Type: model.EventConflictReassigned}},
					At:           testAt,
				}},
			})
			So(err, ShouldBeNil)

			live, _ := s.ListScores(ctx, ScoreFilter{EventID: "ev"})
			So(live, ShouldBeEmpty)
			all, _ := s.ListScores(ctx, ScoreFilter{EventID: "ev", IncludeVoided: true})
			So(len(all), ShouldEqual, 1)
			So(all[0].Voided, ShouldBeTrue)

			_, err = s.SaveScore(ctx, scoreWrite("sc2", "j1", "s1", 9, 1))
			So(errors.Is(err, model.ErrConflict), ShouldBeTrue)

			pending, _ := s.ListPendingOutbox(ctx, 10)
			So(len(pending), ShouldEqual, 1)

			Convey("And a second flag for the pair is refused", func() {
				flag.ID = "f2"
				_, err := s.RecordConflict(ctx, ConflictWrite{Flag: flag})
				So(errors.Is(err, model.ErrState), ShouldBeTrue)
			})

			Convey("And resolving it twice is a state error", func() {
				_, err := s.ResolveConflict(ctx, "f1", "cleared", testAt, model.AuditEntry{Action: model.AuditConflictResolved})
				So(err, ShouldBeNil)
				_, err = s.ResolveConflict(ctx, "f1", "again", testAt, model.AuditEntry{})
				So(errors.Is(err, model.ErrState), ShouldBeTrue)
			})

			Convey("And once resolved the pair can be assigned and scored afresh", func() {
				_, err := s.ResolveConflict(ctx, "f1", "cleared", testAt, model.AuditEntry{Action: model.AuditConflictResolved})
				So(err, ShouldBeNil)
				_, err = s.CreateAssignments(ctx, testKey, batch(nil, asg("a3", "j1", "s1")))
				So(err, ShouldBeNil)

				_, err = s.CompleteAssignment(ctx, "a3", testAt)
				So(errors.Is(err, model.ErrState), ShouldBeTrue)

				fresh, err := s.SaveScore(ctx, scoreWrite("sc3", "j1", "s1", 4, 0))
				So(err, ShouldBeNil)
				So(fresh.ID, ShouldEqual, "sc3")
				So(fresh.Version, ShouldEqual, 1)
				So(fresh.AssignmentID, ShouldEqual, "a3")

				old, _ := s.GetScore(ctx, "sc1")
				So(old.Voided, ShouldBeTrue)
				So(old.Total, ShouldEqual, 70)
				live, _ := s.ListScores(ctx, ScoreFilter{EventID: "ev", JudgeID: "j1"})
				So(len(live), ShouldEqual, 1)
				So(live[0].ID, ShouldEqual, "sc3")
			})
		})
	})
}

func TestMemoryStoreOutbox(t *testing.T) {
	Convey("Given a store with a small retention", t, func() {
		ctx := context.Background()
		s := NewMemoryStore(WithOutboxRetention(1))
		So(s.AppendOutbox(ctx,
			model.DomainEvent{ID: "e1"},
			model.DomainEvent{ID: "e2"},
			model.DomainEvent{ID: "e3"},
		), ShouldBeNil)

		Convey("Pending rows come back oldest first within the limit", func() {
			rows, err := s.ListPendingOutbox(ctx, 2)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 2)
			So(rows[0].ID, ShouldEqual, "e1")
		})

		Convey("Published rows leave the pending set and are pruned", func() {
			So(s.MarkOutboxPublished(ctx, []string{"e1", "e2"}, testAt), ShouldBeNil)
			rows, _ := s.ListPendingOutbox(ctx, 10)
			So(len(rows), ShouldEqual, 1)
			So(rows[0].ID, ShouldEqual, "e3")
			So(len(s.outbox), ShouldEqual, 2)
		})
	})
}

func TestMemoryStoreAudit(t *testing.T) {
	Convey("Audit listing honours round filters and limits", t, func() {
		ctx := context.Background()
		s := NewMemoryStore()
		So(s.AppendAudit(ctx,
			model.AuditEntry{ID: "1", EventID: "ev", Round: 1, Action: model.AuditRoundLocked},
			model.AuditEntry{ID: "2", EventID: "ev", Round: 2, Action: model.AuditRoundLocked},
			model.AuditEntry{ID: "3", EventID: "ev", Round: 1, Action: model.AuditSubmissionFinalized},
		), ShouldBeNil)

		got, err := s.ListAudit(ctx, AuditFilter{EventID: "ev", Round: 1, Limit: 1})
		So(err, ShouldBeNil)
		So(len(got), ShouldEqual, 1)
		So(got[0].ID, ShouldEqual, "3")

		_, err = s.ListAudit(ctx, AuditFilter{Limit: -1})
		So(err, ShouldEqual, ErrInvalidLimit)
	})
}
