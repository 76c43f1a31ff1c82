package judgingsim

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/http/api"
	service "github.com/Khushwant-Singh1/HackOps/internal/app"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(logger.Options{Writer: io.Discard}); err != nil {
		panic(err)
	}
}

func startService(t *testing.T) *httptest.Server {
	ctx := context.Background()
	svc := service.New(service.WithLogger(logger.Nop()), service.WithWorkerCount(2))
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(ctx, mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		svc.Stop(ctx)
	})
	return srv
}

func TestRun(t *testing.T) {
	convey.Convey("Given a running judging service", t, func() {
		srv := startService(t)
		cfg := DefaultConfig()
		cfg.BaseURL = srv.URL
		cfg.EventID = "sim-test"
		cfg.Judges = 6
		cfg.Submissions = 10
		cfg.CoverageMin = 3
		cfg.CoverageMax = 3
		cfg.LoadMax = 6
		cfg.Corrections = 1
		cfg.Workers = 4
		cfg.Timeout = 5 * time.Second
		cfg.OutputFile = filepath.Join(t.TempDir(), "report.json")

		convey.Convey("When a full round is simulated", func() {
			stats, err := Run(context.Background(), &cfg)

			convey.Convey("Then every guarantee holds", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(stats.AssignmentsCreated, convey.ShouldEqual, 30)
				convey.So(stats.UnderCovered, convey.ShouldEqual, 0)
				convey.So(stats.ScoresSubmitted, convey.ShouldEqual, 30)
				convey.So(stats.StaleWrites, convey.ShouldEqual, 30)
				convey.So(stats.RankedEntries, convey.ShouldEqual, 10)
			})

			convey.Convey("Then the report is written", func() {
				convey.So(err, convey.ShouldBeNil)
				data, rerr := os.ReadFile(cfg.OutputFile)
				convey.So(rerr, convey.ShouldBeNil)
				var rep Report
				convey.So(json.Unmarshal(data, &rep), convey.ShouldBeNil)
				convey.So(rep.Ranking, convey.ShouldHaveLength, 10)
				convey.So(rep.Ranking[0].Rank, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the round cannot be fully covered", func() {
			cfg.EventID = "sim-thin"
			cfg.Judges = 2
			cfg.LoadMax = 10
			cfg.Corrections = 0
			stats, err := Run(context.Background(), &cfg)

			convey.Convey("Then the gaps are reported rather than failing", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(stats.UnderCovered, convey.ShouldEqual, 10)
				convey.So(stats.RankedEntries, convey.ShouldEqual, 10)
			})
		})
	})
}

func TestRunUnreachable(t *testing.T) {
	convey.Convey("Given no service at the base URL", t, func() {
		cfg := DefaultConfig()
		cfg.BaseURL = "http://127.0.0.1:1"
		cfg.Timeout = time.Second

		_, err := Run(context.Background(), &cfg)
		convey.So(err, convey.ShouldNotBeNil)
		convey.So(err.Error(), convey.ShouldContainSubstring, "health check")
	})
}

func TestVerifyAssignments(t *testing.T) {
	convey.Convey("Given assignment results", t, func() {
		c := constraints{CoverageMin: 2, CoverageMax: 2, LoadMax: 1}

		convey.Convey("A judge over load_max is caught", func() {
			res := assignResult{Created: []assignment{
				{JudgeID: "j1", SubmissionID: "s1"},
				{JudgeID: "j1", SubmissionID: "s2"},
			}, UnderCovered: []coverageGap{{SubmissionID: "s1"}, {SubmissionID: "s2"}}}
			convey.So(errors.Is(verifyAssignments(res, c), ErrVerification), convey.ShouldBeTrue)
		})

		convey.Convey("An unreported gap is caught", func() {
			res := assignResult{Created: []assignment{{JudgeID: "j1", SubmissionID: "s1"}}}
			convey.So(errors.Is(verifyAssignments(res, c), ErrVerification), convey.ShouldBeTrue)
		})

		convey.Convey("A reported gap passes", func() {
			res := assignResult{
				Created:      []assignment{{JudgeID: "j1", SubmissionID: "s1"}},
				UnderCovered: []coverageGap{{SubmissionID: "s1", Have: 1, Want: 2}},
			}
			convey.So(verifyAssignments(res, c), convey.ShouldBeNil)
		})
	})
}

func TestVerifyRanking(t *testing.T) {
	convey.Convey("Given a normalized ranking", t, func() {
		hi, lo := 1.2, -0.4

		convey.Convey("Dense descending ranks pass", func() {
			res := normalizeResult{Version: 3, Entries: []RankedEntry{
				{SubmissionID: "s1", Rank: 1, Aggregate: &hi},
				{SubmissionID: "s2", Rank: 2, Aggregate: &lo},
				{SubmissionID: "s3", InsufficientCoverage: true},
			}}
			convey.So(verifyRanking(res, 3), convey.ShouldBeNil)
		})

		convey.Convey("An inverted order is caught", func() {
			res := normalizeResult{Version: 3, Entries: []RankedEntry{
				{SubmissionID: "s1", Rank: 1, Aggregate: &lo},
				{SubmissionID: "s2", Rank: 2, Aggregate: &hi},
			}}
			convey.So(errors.Is(verifyRanking(res, 3), ErrVerification), convey.ShouldBeTrue)
		})

		convey.Convey("A stale version is caught", func() {
			convey.So(errors.Is(verifyRanking(normalizeResult{Version: 2}, 3), ErrVerification), convey.ShouldBeTrue)
		})
	})
}
