package service_test

import (
	"errors"
	"testing"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/normalize"
	. "github.com/smartystreets/goconvey/convey"
)

func valueFor(values []normalize.Value, judge, submission string) normalize.Value {
	for _, v := range values {
		if v.JudgeID == judge && v.SubmissionID == submission {
			return v
		}
	}
	return normalize.Value{}
}

func TestWeightedTotal(t *testing.T) {
	Convey("Given a 60/40 rubric with max scores of 10", t, func() {
		f := newFixture([]string{"j1"}, []string{"s1"})
		f.assign(model.Constraints{CoverageMin: 1, CoverageMax: 1, LoadMax: 1})

		Convey("When a judge submits 8 and 5", func() {
			sc, err := f.score("j1", "s1", 8, 5, 0)

			Convey("Then the total is 68", func() {
				So(err, ShouldBeNil)
				So(sc.Total, ShouldAlmostEqual, 68, 1e-9)
				So(sc.Version, ShouldEqual, 1)
			})

			Convey("Then the rubric is locked against edits", func() {
				rb, err := f.svc.GetRubric(f.ctx, organizer, f.rubric.ID)
				So(err, ShouldBeNil)
				So(rb.Locked, ShouldBeTrue)

				_, err = f.svc.UpdateRubric(f.ctx, organizer, f.rubric.ID, rb.Criteria)
				So(errors.Is(err, model.ErrState), ShouldBeTrue)
			})

			Convey("Then the assignment is in progress and can be completed", func() {
				as, err := f.svc.ListAssignments(f.ctx, judgeP("j1"), repository.AssignmentFilter{EventID: eventID})
				So(err, ShouldBeNil)
				So(as, ShouldHaveLength, 1)
				So(as[0].Status, ShouldEqual, model.AssignmentInProgress)

				done, err := f.svc.CompleteAssignment(f.ctx, judgeP("j1"), eventID, 1, "j1", "s1")
				So(err, ShouldBeNil)
				So(done.Status, ShouldEqual, model.AssignmentCompleted)
			})
		})

		Convey("When a score is below the low threshold without a comment", func() {
			rb, err := f.svc.CreateRubric(f.ctx, organizer, eventID, "", []model.Criterion{
				{Key: "impact", Weight: 60, MaxScore: 10, LowScoreThreshold: 3},
				{Key: "execution", Weight: 40, MaxScore: 10},
			})
			So(err, ShouldBeNil)
			f.rubric = rb
			_, err = f.score("j1", "s1", 2, 5, 0)

			Convey("Then it is rejected with field detail", func() {
				var verr *model.ValidationError
				So(errors.As(err, &verr), ShouldBeTrue)
				So(verr.Error(), ShouldContainSubstring, "comments")
			})
		})

		Convey("When the version is stale", func() {
			_, err := f.score("j1", "s1", 8, 5, 0)
			So(err, ShouldBeNil)
			_, err = f.score("j1", "s1", 9, 5, 0)

			Convey("Then a concurrency error is returned and the next version succeeds", func() {
				So(errors.Is(err, model.ErrConcurrency), ShouldBeTrue)
				sc, err := f.score("j1", "s1", 9, 5, 1)
				So(err, ShouldBeNil)
				So(sc.Version, ShouldEqual, 2)
				So(sc.Total, ShouldAlmostEqual, 74, 1e-9)
			})
		})

		Convey("When a judge scores for someone else", func() {
			_, err := f.svc.SubmitScore(f.ctx, judgeP("j2"), ledgerInput(f, "j1", "s1"))

			Convey("Then it is forbidden", func() {
				So(errors.Is(err, model.ErrForbidden), ShouldBeTrue)
			})
		})
	})
}

func TestNormalizationScenarios(t *testing.T) {
	Convey("Given one judge scoring three submissions", t, func() {
		f := newFixture([]string{"j1"}, []string{"s1", "s2", "s3"})
		f.assign(model.Constraints{CoverageMin: 1, CoverageMax: 1, LoadMax: 3})

		Convey("When the totals are 60, 70 and 80", func() {
			for i, sub := range []string{"s1", "s2", "s3"} {
				v := float64(6 + i)
				_, err := f.score("j1", sub, v, v, 0)
				So(err, ShouldBeNil)
			}
			res, err := f.svc.Normalize(f.ctx, organizer, eventID, 1, "")
			So(err, ShouldBeNil)

			Convey("Then the top score normalizes to about 1.2247", func() {
				So(res.Method, ShouldEqual, normalize.MethodZScore)
				top := valueFor(res.Values, "j1", "s3")
				So(top.Normalized, ShouldAlmostEqual, 1.2247, 1e-4)
				So(top.Unnormalized, ShouldBeFalse)
				So(res.Entries[0].SubmissionID, ShouldEqual, "s3")
				So(res.Entries[0].Rank, ShouldEqual, 1)
				So(*res.Entries[0].Aggregate, ShouldAlmostEqual, 1.2247, 1e-4)
				So(res.CoverageErr(), ShouldBeNil)
			})

			Convey("Then the normalized value is written back to the score", func() {
				scores, err := f.svc.ListScores(f.ctx, organizer, repository.ScoreFilter{EventID: eventID, Round: 1, SubmissionID: "s3"})
				So(err, ShouldBeNil)
				So(scores, ShouldHaveLength, 1)
				So(scores[0].NormalizedScore, ShouldNotBeNil)
				So(*scores[0].NormalizedScore, ShouldAlmostEqual, 1.2247, 1e-4)
			})

			Convey("Then re-running on the unchanged round is idempotent", func() {
				again, err := f.svc.Normalize(f.ctx, organizer, eventID, 1, "")
				So(err, ShouldBeNil)
				So(again.Version, ShouldEqual, res.Version)
				So(again.Entries, ShouldResemble, res.Entries)
				So(f.svc.GetStats()["cachedNormalizations"], ShouldEqual, 1)
			})

			Convey("Then the raw method previews without a version bump", func() {
				raw, err := f.svc.Normalize(f.ctx, organizer, eventID, 1, "raw")
				So(err, ShouldBeNil)
				So(raw.Method, ShouldEqual, normalize.MethodRaw)
				So(valueFor(raw.Values, "j1", "s3").Normalized, ShouldAlmostEqual, 80, 1e-9)
				So(raw.Version, ShouldEqual, res.Version)
			})

			Convey("Then an unknown method is a validation error", func() {
				_, err := f.svc.Normalize(f.ctx, organizer, eventID, 1, "median")
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When every total is identical", func() {
			for _, sub := range []string{"s1", "s2", "s3"} {
				_, err := f.score("j1", sub, 7, 7, 0)
				So(err, ShouldBeNil)
			}
			res, err := f.svc.Normalize(f.ctx, organizer, eventID, 1, "")
			So(err, ShouldBeNil)

			Convey("Then every score falls back to its raw total", func() {
				for _, v := range res.Values {
					So(v.Unnormalized, ShouldBeTrue)
					So(v.Normalized, ShouldAlmostEqual, 70, 1e-9)
				}
			})
		})

		Convey("When one submission has no score", func() {
			_, err := f.score("j1", "s1", 6, 6, 0)
			So(err, ShouldBeNil)
			_, err = f.score("j1", "s2", 8, 8, 0)
			So(err, ShouldBeNil)
			res, err := f.svc.Normalize(f.ctx, organizer, eventID, 1, "")
			So(err, ShouldBeNil)

			Convey("Then it is reported as under-covered with no aggregate", func() {
				So(errors.Is(res.CoverageErr(), model.ErrCoverage), ShouldBeTrue)
				So(res.UnderCovered, ShouldHaveLength, 1)
				So(res.UnderCovered[0].SubmissionID, ShouldEqual, "s3")
				last := res.Entries[len(res.Entries)-1]
				So(last.SubmissionID, ShouldEqual, "s3")
				So(last.InsufficientCoverage, ShouldBeTrue)
				So(last.Aggregate, ShouldBeNil)
			})
		})
	})
}

func TestConflictReassignment(t *testing.T) {
	Convey("Given three judges assigned to two submissions", t, func() {
		f := newFixture([]string{"j1", "j2", "j3"}, []string{"s1", "s2"})
		res := f.assign(model.Constraints{CoverageMin: 1, CoverageMax: 2, LoadMax: 2})
		So(res.Created, ShouldHaveLength, 2)
		So(res.Created[0].JudgeID, ShouldEqual, "j1")
		So(res.Created[0].SubmissionID, ShouldEqual, "s1")

		_, err := f.score("j1", "s1", 8, 5, 0)
		So(err, ShouldBeNil)

		Convey("When a conflict between j1 and s1 is declared", func() {
			flag, err := f.svc.DeclareConflict(f.ctx, organizer, serviceDeclare("j1", "s1"))
			So(err, ShouldBeNil)

			Convey("Then j1's assignment is voided", func() {
				as, err := f.svc.ListAssignments(f.ctx, organizer, repository.AssignmentFilter{EventID: eventID, JudgeID: "j1"})
				So(err, ShouldBeNil)
				So(as, ShouldHaveLength, 1)
				So(as[0].Status, ShouldEqual, model.AssignmentVoided)
			})

			Convey("Then the prior score is retained but voided", func() {
				all, err := f.svc.ListScores(f.ctx, organizer, repository.ScoreFilter{EventID: eventID, IncludeVoided: true})
				So(err, ShouldBeNil)
				So(all, ShouldHaveLength, 1)
				So(all[0].Voided, ShouldBeTrue)

				counted, err := f.svc.ListScores(f.ctx, organizer, repository.ScoreFilter{EventID: eventID})
				So(err, ShouldBeNil)
				So(counted, ShouldBeEmpty)
			})

			Convey("Then an eligible judge replaces j1", func() {
				as, err := f.svc.ListAssignments(f.ctx, organizer, repository.AssignmentFilter{EventID: eventID, SubmissionID: "s1", CountingOnly: true})
				So(err, ShouldBeNil)
				So(as, ShouldHaveLength, 1)
				So(as[0].JudgeID, ShouldEqual, "j3")
				So(as[0].ReplacesID, ShouldEqual, res.Created[0].ID)
			})

			Convey("Then the audit trail records reason and time", func() {
				entries := f.audit()
				So(actions(entries), ShouldContain, model.AuditConflictDeclared)
				voided, ok := entryFor(entries, model.AuditAssignmentVoided)
				So(ok, ShouldBeTrue)
				So(voided.JudgeID, ShouldEqual, "j1")
				So(voided.Reason, ShouldEqual, string(model.ConflictManual))
				So(voided.At.Equal(f.clock.Now()), ShouldBeTrue)
				re, ok := entryFor(entries, model.AuditAssignmentReassigned)
				So(ok, ShouldBeTrue)
				So(re.JudgeID, ShouldEqual, "j3")
			})

			Convey("Then j1 can no longer score s1", func() {
				_, err := f.score("j1", "s1", 8, 5, 1)
				var cerr *model.ConflictError
				So(errors.As(err, &cerr), ShouldBeTrue)
				So(cerr.FlagID, ShouldEqual, flag.ID)
			})

			Convey("Then the voided score is excluded from aggregation", func() {
				out, err := f.svc.Normalize(f.ctx, organizer, eventID, 1, "")
				So(err, ShouldBeNil)
				So(out.Values, ShouldBeEmpty)
				So(out.UnderCovered, ShouldHaveLength, 2)
			})

			Convey("Then a second flag for the pair is refused", func() {
				_, err := f.svc.DeclareConflict(f.ctx, organizer, serviceDeclare("j1", "s1"))
				So(errors.Is(err, model.ErrState), ShouldBeTrue)
			})

			Convey("Then resolving requires a note and is audited", func() {
				_, err := f.svc.ResolveConflict(f.ctx, organizer, flag.ID, " ")
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)

				resolved, err := f.svc.ResolveConflict(f.ctx, organizer, flag.ID, "not related after all")
				So(err, ShouldBeNil)
				So(resolved.Resolved, ShouldBeTrue)
				So(actions(f.audit()), ShouldContain, model.AuditConflictResolved)
			})
		})

		Convey("When no judge is left to replace j1", func() {
			_, err := f.svc.DeclareConflict(f.ctx, organizer, serviceDeclare("j3", "s1"))
			So(err, ShouldBeNil)
			_, err = f.svc.DeclareConflict(f.ctx, organizer, serviceDeclare("j2", "s1"))
			So(err, ShouldBeNil)
			_, err = f.svc.DeclareConflict(f.ctx, organizer, serviceDeclare("j1", "s1"))
			So(err, ShouldBeNil)

			Convey("Then the under-coverage is recorded instead of dropped", func() {
				missing, ok := entryFor(f.audit(), model.AuditReplacementMissing)
				So(ok, ShouldBeTrue)
				So(missing.SubmissionID, ShouldEqual, "s1")
			})
		})

		Convey("When a judge declares a conflict for another judge", func() {
			_, err := f.svc.DeclareConflict(f.ctx, judgeP("j2"), serviceDeclare("j1", "s1"))

			Convey("Then it is forbidden", func() {
				So(errors.Is(err, model.ErrForbidden), ShouldBeTrue)
			})
		})
	})

	Convey("Given a judge sharing an affiliation with a team", t, func() {
		f := newFixture([]string{"j1", "j2"}, []string{"s1"})
		So(f.svc.UpsertJudge(f.ctx, organizer, model.Judge{ID: "j1", EventID: eventID, Affiliations: []string{"Acme Labs"}}), ShouldBeNil)
		So(f.svc.UpsertTeam(f.ctx, organizer, model.Team{ID: "team-s1", EventID: eventID, Affiliations: []string{" acme labs"}}), ShouldBeNil)

		Convey("When detection runs twice", func() {
			first, err := f.svc.DetectConflicts(f.ctx, organizer, eventID)
			So(err, ShouldBeNil)
			second, err := f.svc.DetectConflicts(f.ctx, organizer, eventID)
			So(err, ShouldBeNil)

			Convey("Then the pair is flagged once", func() {
				So(first, ShouldHaveLength, 1)
				So(first[0].JudgeID, ShouldEqual, "j1")
				So(first[0].Reason, ShouldEqual, model.ConflictAffiliation)
				So(second, ShouldBeEmpty)
			})

			Convey("Then assignment skips the conflicted judge", func() {
				res := f.assign(model.Constraints{CoverageMin: 1, CoverageMax: 1, LoadMax: 1})
				So(res.Created, ShouldHaveLength, 1)
				So(res.Created[0].JudgeID, ShouldEqual, "j2")
			})
		})
	})
}
