package normalize

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func score(id, judge, sub string, total float64) model.Score {
	return model.Score{ID: id, EventID: "ev", Round: 1, JudgeID: judge, SubmissionID: sub, Total: total}
}

func TestZScore(t *testing.T) {
	Convey("Given a judge with totals 60, 70 and 80", t, func() {
		out, flat := ZScore{}.Compute([]float64{60, 70, 80})

		Convey("Then the top total normalizes to about 1.2247", func() {
			So(flat, ShouldBeFalse)
			So(out[2], ShouldAlmostEqual, 1.2247, 1e-4)
			So(out[1], ShouldAlmostEqual, 0, 1e-12)
			So(out[0], ShouldAlmostEqual, -1.2247, 1e-4)
		})
	})

	Convey("Given a judge who gives identical totals", t, func() {
		out, flat := ZScore{}.Compute([]float64{72.5, 72.5, 72.5})

		Convey("Then raw totals pass through and the set is flagged", func() {
			So(flat, ShouldBeTrue)
			So(out, ShouldResemble, []float64{72.5, 72.5, 72.5})
		})
	})

	Convey("A single total cannot be standardized", t, func() {
		_, flat := ZScore{}.Compute([]float64{90})
		So(flat, ShouldBeTrue)
	})
}

func TestForMethod(t *testing.T) {
	Convey("Strategies are a closed set", t, func() {
		n, err := ForMethod("")
		So(err, ShouldBeNil)
		So(n.Method(), ShouldEqual, MethodZScore)

		n, err = ForMethod("RAW")
		So(err, ShouldBeNil)
		So(n.Method(), ShouldEqual, MethodRaw)

		_, err = ForMethod("median")
		So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
	})
}

func TestCompute(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	subs := []model.Submission{
		{ID: "s1", EventID: "ev", Status: model.SubmissionSubmitted, SubmittedAt: base.Add(2 * time.Hour)},
		{ID: "s2", EventID: "ev", Status: model.SubmissionSubmitted, SubmittedAt: base.Add(time.Hour)},
		{ID: "s3", EventID: "ev", Status: model.SubmissionSubmitted, SubmittedAt: base},
		{ID: "s4", EventID: "ev", Status: model.SubmissionWithdrawn},
	}

	Convey("Given two judges scoring three submissions", t, func() {
		scores := []model.Score{
			score("a", "j1", "s1", 60), score("b", "j1", "s2", 70), score("c", "j1", "s3", 80),
			score("d", "j2", "s1", 50), score("e", "j2", "s2", 90),
		}
		in := Input{Scores: scores, Submissions: subs, CoverageMin: 2}
		out := Compute(in)

		Convey("Then only covered submissions are ranked", func() {
			So(out.Method, ShouldEqual, MethodZScore)
			So(len(out.Entries), ShouldEqual, 3)
			So(out.Entries[0].SubmissionID, ShouldEqual, "s2")
			So(out.Entries[0].Rank, ShouldEqual, 1)
			So(out.Entries[1].SubmissionID, ShouldEqual, "s1")
			So(out.Entries[1].Rank, ShouldEqual, 2)
		})

		Convey("Then the under-covered submission has no aggregate", func() {
			last := out.Entries[2]
			So(last.SubmissionID, ShouldEqual, "s3")
			So(last.InsufficientCoverage, ShouldBeTrue)
			So(last.Aggregate, ShouldBeNil)
			So(last.Rank, ShouldEqual, 0)
			So(out.Coverage, ShouldNotBeNil)
			So(out.Coverage.Gaps, ShouldResemble, []model.CoverageGap{{SubmissionID: "s3", Have: 1, Want: 2}})
		})

		Convey("Then recomputing the same snapshot is identical", func() {
			So(Compute(in), ShouldResemble, out)
		})
	})

	Convey("Given ties on aggregate", t, func() {
		scores := []model.Score{
			score("a", "j1", "s1", 70), score("b", "j1", "s2", 70), score("c", "j1", "s3", 70),
		}
		out := Compute(Input{Scores: scores, Submissions: subs, CoverageMin: 1})

		Convey("Then the earliest submission wins and the judge is flagged", func() {
			So(out.Entries[0].SubmissionID, ShouldEqual, "s3")
			So(out.Entries[1].SubmissionID, ShouldEqual, "s2")
			So(out.Entries[2].SubmissionID, ShouldEqual, "s1")
			for _, v := range out.Values {
				So(v.Unnormalized, ShouldBeTrue)
				So(v.Normalized, ShouldEqual, 70)
			}
		})
	})

	Convey("Voided scores are ignored", t, func() {
		voided := score("x", "j1", "s1", 10)
		voided.Voided = true
		out := Compute(Input{
			Scores:      []model.Score{voided, score("a", "j2", "s1", 60)},
			Submissions: subs[:1],
			Normalizer:  Raw{},
		})
		So(len(out.Values), ShouldEqual, 1)
		So(*out.Entries[0].Aggregate, ShouldEqual, 60)
		So(out.Coverage, ShouldBeNil)
	})
}

func TestMeanStd(t *testing.T) {
	Convey("Population standard deviation", t, func() {
		mean, std := MeanStd([]float64{60, 70, 80})
		So(mean, ShouldEqual, 70)
		So(std, ShouldAlmostEqual, math.Sqrt(200.0/3), 1e-12)

		mean, std = MeanStd(nil)
		So(mean, ShouldEqual, 0)
		So(std, ShouldEqual, 0)
	})
}
