package model_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	model "github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestConstraintsValidate(t *testing.T) {
	convey.Convey("Given assignment constraints", t, func() {
		convey.Convey("When they are consistent", func() {
			err := model.Constraints{CoverageMin: 2, CoverageMax: 3, LoadMax: 5}.Validate()

			convey.Convey("Then validation passes", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("When coverage_min exceeds coverage_max", func() {
			err := model.Constraints{CoverageMin: 4, CoverageMax: 3, LoadMax: 5}.Validate()

			convey.Convey("Then a field-level validation error is returned", func() {
				convey.So(errors.Is(err, model.ErrValidation), convey.ShouldBeTrue)
				var verr *model.ValidationError
				convey.So(errors.As(err, &verr), convey.ShouldBeTrue)
				convey.So(verr.Fields[0].Field, convey.ShouldEqual, "coverage_max")
			})
		})

		convey.Convey("When every value is zero", func() {
			err := model.Constraints{}.Validate()

			convey.Convey("Then all three fields are reported", func() {
				var verr *model.ValidationError
				convey.So(errors.As(err, &verr), convey.ShouldBeTrue)
				convey.So(len(verr.Fields), convey.ShouldEqual, 3)
			})
		})
	})
}

func TestRoundStateWritable(t *testing.T) {
	convey.Convey("Given a round state", t, func() {
		state := model.NewRoundState(model.RoundKey{EventID: "ev", Round: 1})

		convey.Convey("An open round accepts writes", func() {
			convey.So(state.CheckWritable("s1"), convey.ShouldBeNil)
		})

		convey.Convey("A locked round rejects writes with a state error", func() {
			state.Locked = true
			convey.So(errors.Is(state.CheckWritable("s1"), model.ErrState), convey.ShouldBeTrue)

			convey.Convey("Unless the submission was reopened", func() {
				state.Reopened = map[string]bool{"s1": true}
				convey.So(state.CheckWritable("s1"), convey.ShouldBeNil)
				convey.So(state.CheckWritable("s2"), convey.ShouldNotBeNil)
			})
		})

		convey.Convey("A finalized submission is frozen", func() {
			state.Finalized = map[string]bool{"s1": true}
			convey.So(errors.Is(state.CheckWritable("s1"), model.ErrState), convey.ShouldBeTrue)
			convey.So(state.CheckWritable("s2"), convey.ShouldBeNil)
		})

		convey.Convey("Clone does not share sets", func() {
			state.Finalized = map[string]bool{"s1": true}
			clone := state.Clone()
			clone.Finalized["s2"] = true
			convey.So(state.Finalized["s2"], convey.ShouldBeFalse)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	convey.Convey("Given the error taxonomy", t, func() {
		cases := []struct {
			err  error
			kind error
			name string
		}{
			{model.NewValidationError("weight", "must be positive"), model.ErrValidation, "validation"},
			{model.NewStateError("lock", "already locked"), model.ErrState, "state"},
			{&model.ConflictError{JudgeID: "j", SubmissionID: "s"}, model.ErrConflict, "conflict"},
			{&model.CoverageError{Gaps: []model.CoverageGap{{SubmissionID: "s", Have: 1, Want: 2}}}, model.ErrCoverage, "coverage"},
			{&model.ConcurrencyError{Resource: "score", Expected: 1, Actual: 2}, model.ErrConcurrency, "concurrency"},
			{model.NewNotFound("rubric", "r1"), model.ErrNotFound, "not_found"},
		}

		for _, tc := range cases {
			wrapped := fmt.Errorf("op: %w", tc.err)
			convey.So(errors.Is(wrapped, tc.kind), convey.ShouldBeTrue)
			convey.So(model.KindName(wrapped), convey.ShouldEqual, tc.name)
		}
		convey.So(model.KindName(errors.New("boom")), convey.ShouldEqual, "internal")
	})
}

func TestJudgingWindow(t *testing.T) {
	convey.Convey("Given a judging window", t, func() {
		start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		w := model.JudgingWindow{Start: start, End: start.Add(48 * time.Hour)}

		convey.So(w.Open(start.Add(-time.Minute)), convey.ShouldBeFalse)
		convey.So(w.Open(start.Add(time.Hour)), convey.ShouldBeTrue)
		convey.So(w.Open(start.Add(49*time.Hour)), convey.ShouldBeFalse)
		convey.So(model.JudgingWindow{}.Open(start), convey.ShouldBeTrue)
	})
}

func TestManualClock(t *testing.T) {
	convey.Convey("Given a manual clock", t, func() {
		start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		c := model.NewManualClock(start)
		c.Advance(time.Minute)
		convey.So(c.Now(), convey.ShouldEqual, start.Add(time.Minute))
	})
}

func TestAssignmentStatusHolds(t *testing.T) {
	convey.Convey("Only a voided row frees its pair", t, func() {
		for _, st := range []model.AssignmentStatus{
			model.AssignmentAssigned, model.AssignmentInProgress, model.AssignmentCompleted, model.AssignmentReassigned,
		} {
			convey.So(st.Holds(), convey.ShouldBeTrue)
		}
		convey.So(model.AssignmentVoided.Holds(), convey.ShouldBeFalse)
		convey.So(model.AssignmentReassigned.Counting(), convey.ShouldBeFalse)
	})
}
