package assignment_test

import (
	"testing"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/assignment"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/conflict"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func coverageOf(pairs []assignment.Pair) map[string]int {
	out := map[string]int{}
	for _, p := range pairs {
		out[p.SubmissionID]++
	}
	return out
}

func toAssignments(pairs []assignment.Pair) []model.Assignment {
	out := make([]model.Assignment, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, model.Assignment{JudgeID: p.JudgeID, SubmissionID: p.SubmissionID, Status: model.AssignmentAssigned})
	}
	return out
}

func TestBuild(t *testing.T) {
	Convey("Given three judges, four submissions and one conflict", t, func() {
		in := assignment.Input{
			Judges:      []string{"j3", "j1", "j2"},
			Submissions: []string{"s4", "s2", "s1", "s3"},
			Conflicts:   conflict.NewIndex([]model.ConflictFlag{{JudgeID: "j1", SubmissionID: "s1"}}),
			Constraints: model.Constraints{CoverageMin: 2, CoverageMax: 2, LoadMax: 3},
		}

		Convey("When a plan is built", func() {
			plan := assignment.Build(in)

			Convey("Then every submission reaches coverage and the conflict is respected", func() {
				So(len(plan.Pairs), ShouldEqual, 8)
				So(plan.UnderCovered, ShouldBeEmpty)
				for sub, n := range coverageOf(plan.Pairs) {
					So(n, ShouldEqual, 2)
					So(sub, ShouldNotBeEmpty)
				}
				for _, p := range plan.Pairs {
					So(p.JudgeID == "j1" && p.SubmissionID == "s1", ShouldBeFalse)
				}
			})

			Convey("Then loads stay within load_max and differ by at most one", func() {
				minLoad, maxLoad := 99, 0
				for _, n := range plan.Loads {
					So(n, ShouldBeLessThanOrEqualTo, 3)
					minLoad = min(minLoad, n)
					maxLoad = max(maxLoad, n)
				}
				So(maxLoad-minLoad, ShouldBeLessThanOrEqualTo, 1)
			})

			Convey("Then the plan is deterministic", func() {
				again := assignment.Build(in)
				So(again.Pairs, ShouldResemble, plan.Pairs)
			})

			Convey("And re-running over the stored result plans nothing new", func() {
				in.Existing = toAssignments(plan.Pairs)
				rerun := assignment.Build(in)
				So(rerun.Pairs, ShouldBeEmpty)
				So(rerun.UnderCovered, ShouldBeEmpty)
			})
		})
	})

	Convey("Given too few eligible judges", t, func() {
		in := assignment.Input{
			Judges:      []string{"j1", "j2"},
			Submissions: []string{"s1", "s2"},
			Conflicts:   conflict.NewIndex([]model.ConflictFlag{{JudgeID: "j2", SubmissionID: "s2"}}),
			Constraints: model.Constraints{CoverageMin: 2, CoverageMax: 3, LoadMax: 5},
		}

		Convey("When a plan is built", func() {
			plan := assignment.Build(in)

			Convey("Then the partial result is kept and the gap is reported", func() {
				So(len(plan.Pairs), ShouldEqual, 3)
				So(len(plan.UnderCovered), ShouldEqual, 1)
				So(plan.UnderCovered[0], ShouldResemble, model.CoverageGap{SubmissionID: "s2", Have: 1, Want: 2})
			})
		})
	})

	Convey("Given conflicts that force a skewed greedy allocation", t, func() {
		in := assignment.Input{
			Judges:      []string{"j1", "j2", "j3"},
			Submissions: []string{"s1", "s2", "s3", "s4"},
			Conflicts: conflict.NewIndex([]model.ConflictFlag{
				{JudgeID: "j2", SubmissionID: "s2"}, {JudgeID: "j2", SubmissionID: "s3"}, {JudgeID: "j2", SubmissionID: "s4"},
				{JudgeID: "j3", SubmissionID: "s2"}, {JudgeID: "j3", SubmissionID: "s3"}, {JudgeID: "j3", SubmissionID: "s4"},
			}),
			Constraints: model.Constraints{CoverageMin: 1, CoverageMax: 1, LoadMax: 10},
		}

		Convey("When a plan is built", func() {
			plan := assignment.Build(in)

			Convey("Then the balancing pass moves the only movable pair", func() {
				So(plan.Loads["j1"], ShouldEqual, 3)
				So(plan.Pairs[0], ShouldResemble, assignment.Pair{JudgeID: "j3", SubmissionID: "s1"})
			})
		})
	})

	Convey("Given a judge already at load_max from earlier rounds of generation", t, func() {
		in := assignment.Input{
			Judges:      []string{"j1", "j2"},
			Submissions: []string{"s1", "s2", "s3"},
			Existing: []model.Assignment{
				{JudgeID: "j1", SubmissionID: "s1", Status: model.AssignmentCompleted},
				{JudgeID: "j1", SubmissionID: "s2", Status: model.AssignmentInProgress},
			},
			Constraints: model.Constraints{CoverageMin: 1, CoverageMax: 2, LoadMax: 2},
		}

		plan := assignment.Build(in)
		So(plan.Pairs, ShouldResemble, []assignment.Pair{{JudgeID: "j2", SubmissionID: "s3"}})
		So(plan.Loads["j1"], ShouldEqual, 2)
	})
}

func TestPickReplacement(t *testing.T) {
	Convey("Given a round where j1 was voided from s1 by a conflict", t, func() {
		flag := model.ConflictFlag{JudgeID: "j1", SubmissionID: "s1"}
		in := assignment.Input{
			Judges:      []string{"j1", "j2", "j3"},
			Submissions: []string{"s1", "s2"},
			Existing: []model.Assignment{
				{JudgeID: "j1", SubmissionID: "s1", Status: model.AssignmentVoided},
				{JudgeID: "j2", SubmissionID: "s1", Status: model.AssignmentAssigned},
				{JudgeID: "j2", SubmissionID: "s2", Status: model.AssignmentAssigned},
				{JudgeID: "j3", SubmissionID: "s2", Status: model.AssignmentAssigned},
			},
			Conflicts:   conflict.NewIndex([]model.ConflictFlag{flag}),
			Constraints: model.Constraints{CoverageMin: 2, CoverageMax: 2, LoadMax: 2},
		}

		Convey("The replacement is the least loaded eligible judge", func() {
			j, ok := assignment.PickReplacement(in, "s1")
			So(ok, ShouldBeTrue)
			So(j, ShouldEqual, "j3")
		})

		Convey("Nobody is picked once coverage_max is reached", func() {
			in.Existing = append(in.Existing, model.Assignment{JudgeID: "j3", SubmissionID: "s1", Status: model.AssignmentAssigned})
			_, ok := assignment.PickReplacement(in, "s1")
			So(ok, ShouldBeFalse)
		})

		Convey("Nobody is picked when every candidate is conflicted", func() {
			in.Conflicts = conflict.NewIndex([]model.ConflictFlag{flag, {JudgeID: "j3", SubmissionID: "s1"}})
			_, ok := assignment.PickReplacement(in, "s1")
			So(ok, ShouldBeFalse)
		})

		Convey("Once the conflict is resolved j1 is eligible again", func() {
			in.Conflicts = conflict.NewIndex(nil)
			j, ok := assignment.PickReplacement(in, "s1")
			So(ok, ShouldBeTrue)
			So(j, ShouldEqual, "j1")
		})
	})
}

func TestBuildAfterRemoval(t *testing.T) {
	Convey("Given s1 lost j1 to a resolved conflict and j2 to a manual reassignment", t, func() {
		in := assignment.Input{
			Judges:      []string{"j1", "j2", "j3"},
			Submissions: []string{"s1"},
			Existing: []model.Assignment{
				{JudgeID: "j1", SubmissionID: "s1", Status: model.AssignmentVoided},
				{JudgeID: "j2", SubmissionID: "s1", Status: model.AssignmentReassigned},
				{JudgeID: "j3", SubmissionID: "s1", Status: model.AssignmentAssigned},
			},
			Constraints: model.Constraints{CoverageMin: 2, CoverageMax: 2, LoadMax: 5},
		}

		plan := assignment.Build(in)

		Convey("The voided pair is planned again and the overridden one is not", func() {
			So(plan.Pairs, ShouldResemble, []assignment.Pair{{JudgeID: "j1", SubmissionID: "s1"}})
			So(plan.UnderCovered, ShouldBeEmpty)
		})
	})
}

func TestLoads(t *testing.T) {
	Convey("Loads ignore voided and reassigned rows", t, func() {
		got := assignment.Loads([]model.Assignment{
			{JudgeID: "j1", Status: model.AssignmentAssigned},
			{JudgeID: "j1", Status: model.AssignmentVoided},
			{JudgeID: "j2", Status: model.AssignmentReassigned},
			{JudgeID: "j2", Status: model.AssignmentCompleted},
		})
		So(got, ShouldResemble, map[string]int{"j1": 1, "j2": 1})
	})
}
