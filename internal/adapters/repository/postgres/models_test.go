package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

func TestRoundModelMapping(t *testing.T) {
	Convey("Given a locked round with finalized and reopened submissions", t, func() {
		at := time.Date(2026, 4, 18, 18, 0, 0, 0, time.FixedZone("CEST", 2*3600))
		state := model.RoundState{
			EventID:     "spring-hack",
			Round:       2,
			Locked:      true,
			LockedAt:    &at,
			Version:     9,
			Constraints: model.Constraints{CoverageMin: 2, CoverageMax: 3, LoadMax: 5},
			Finalized:   map[string]bool{"sub-b": true, "sub-a": true, "sub-x": false},
			Reopened:    map[string]bool{"sub-c": true},
		}

		row, err := roundModelFromEntity(state)
		So(err, ShouldBeNil)

		Convey("Then sets are stored as sorted id lists", func() {
			So(string(row.Finalized), ShouldEqual, `["sub-a","sub-b"]`)
			So(string(row.Reopened), ShouldEqual, `["sub-c"]`)
		})

		Convey("Then reading it back restores the state in UTC", func() {
			back, err := row.toEntity()
			So(err, ShouldBeNil)
			So(back.Finalized, ShouldResemble, map[string]bool{"sub-a": true, "sub-b": true})
			So(back.Reopened, ShouldResemble, map[string]bool{"sub-c": true})
			So(back.Constraints, ShouldResemble, state.Constraints)
			So(back.LockedAt.Location(), ShouldEqual, time.UTC)
			So(back.LockedAt.Equal(at), ShouldBeTrue)
		})
	})

	Convey("Given a freshly seeded round row", t, func() {
		row := roundModel{EventID: "spring-hack", Round: 1, Finalized: []byte("[]"), Reopened: []byte("[]")}

		Convey("Then the sets decode to nil", func() {
			st, err := row.toEntity()
			So(err, ShouldBeNil)
			So(st.Finalized, ShouldBeNil)
			So(st.Reopened, ShouldBeNil)
		})
	})
}

func TestScoreModelMapping(t *testing.T) {
	Convey("Given a normalized score", t, func() {
		n := 0.75
		sc := model.Score{
			ID: "sc-1", EventID: "spring-hack", Round: 1, SubmissionID: "sub-1", JudgeID: "judge-a",
			RubricID: "rub-1", AssignmentID: "asg-1",
			Values:          map[string]float64{"impact": 8, "execution": 6.5},
			Total:           72.5,
			NormalizedScore: &n,
			Version:         3,
		}

		row, err := scoreModelFromEntity(sc)
		So(err, ShouldBeNil)
		back, err := row.toEntity()
		So(err, ShouldBeNil)

		Convey("Then values and the normalized score survive", func() {
			So(back.Values, ShouldResemble, sc.Values)
			So(*back.NormalizedScore, ShouldEqual, 0.75)
			So(back.Version, ShouldEqual, 3)
		})

		Convey("Then the normalized pointer is not shared with the row", func() {
			*row.NormalizedScore = 1
			So(*back.NormalizedScore, ShouldEqual, 0.75)
		})
	})
}

func TestOutboxModelMapping(t *testing.T) {
	Convey("Given a domain event", t, func() {
		e := model.DomainEvent{
			ID: "evt-1", Type: model.EventConflictReassigned, EventID: "spring-hack", Round: 1,
			JudgeID: "judge-b", SubmissionID: "sub-1",
			Payload:    map[string]string{"replaced": "judge-a"},
			OccurredAt: time.Date(2026, 4, 18, 12, 0, 0, 0, time.UTC),
		}

		row, err := outboxModelFromEntity(e)
		So(err, ShouldBeNil)

		Convey("Then the row carries the type and the full payload", func() {
			So(row.EventType, ShouldEqual, "conflict_reassigned")
			back, err := row.toEntity()
			So(err, ShouldBeNil)
			So(back.Payload, ShouldResemble, e.Payload)
			So(back.OccurredAt.Equal(e.OccurredAt), ShouldBeTrue)
		})
	})
}

func TestIsUniqueViolation(t *testing.T) {
	Convey("Given database errors", t, func() {
		Convey("Then only SQLSTATE 23505 counts, even when wrapped", func() {
			So(isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})), ShouldBeTrue)
			So(isUniqueViolation(&pgconn.PgError{Code: "23503"}), ShouldBeFalse)
			So(isUniqueViolation(errors.New("duplicate key")), ShouldBeFalse)
		})
	})
}
