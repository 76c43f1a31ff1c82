// Package judgingsim drives a judging round against a running service and
// checks the engine's guarantees from the outside.
package judgingsim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	reportPermission    = 0600
)

type runner struct {
	cfg    *Config
	client *HTTPClient
	pop    *population
	stats  *Stats
	log    logger.Logger
}

// Run executes a complete simulated round and returns its statistics.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	r := &runner{
		cfg:    cfg,
		client: newHTTPClient(cfg.BaseURL, cfg.Timeout),
		pop:    generatePopulation(cfg),
		stats:  &Stats{StartTime: time.Now()},
		log:    logger.Get().Named("judgingsim"),
	}

	r.log.Info(ctx, "starting judging simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("event", cfg.EventID),
		logger.Int("round", cfg.Round),
		logger.Int("judges", cfg.Judges),
		logger.Int("submissions", cfg.Submissions),
		logger.Int("workers", cfg.Workers))

	// Step 1: Check service health
	if err := r.client.do(ctx, principal{}, http.MethodGet, "/healthz", nil, nil); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Directory and rubric
	rubricID, err := r.seed(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed event: %w", err)
	}

	// Step 3: Assignments
	c := constraints{CoverageMin: cfg.CoverageMin, CoverageMax: cfg.CoverageMax, LoadMax: cfg.LoadMax}
	var assigned assignResult
	if err := r.client.do(ctx, organizer, http.MethodPost, r.roundPath("/assignments"), c, &assigned); err != nil {
		return nil, fmt.Errorf("assign: %w", err)
	}
	r.stats.AssignmentsCreated = len(assigned.Created)
	r.stats.UnderCovered = len(assigned.UnderCovered)
	if err := verifyAssignments(assigned, c); err != nil {
		return nil, err
	}

	// Step 4: Scores
	r.submitScores(ctx, r.planScores(assigned.Created, rubricID))
	if r.stats.ScoresFailed > 0 {
		return nil, fmt.Errorf("%d score writes failed", r.stats.ScoresFailed)
	}

	// Step 5: Lock, then confirm writes are refused
	var state roundState
	if err := r.client.do(ctx, organizer, http.MethodPost, r.roundPath("/lock"), nil, &state); err != nil {
		return nil, fmt.Errorf("lock round: %w", err)
	}
	if err := r.verifyLocked(ctx, assigned.Created, rubricID); err != nil {
		return nil, err
	}

	// Step 6: Results
	var norm normalizeResult
	if err := r.client.do(ctx, organizer, http.MethodPost, r.roundPath("/normalize"), nil, &norm); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	r.stats.RankedEntries = len(norm.Entries)
	if err := verifyRanking(norm, state.Version); err != nil {
		return nil, err
	}
	var again normalizeResult
	if err := r.client.do(ctx, organizer, http.MethodPost, r.roundPath("/normalize"), nil, &again); err != nil {
		return nil, fmt.Errorf("normalize again: %w", err)
	}
	if err := verifyIdempotent(norm, again); err != nil {
		return nil, err
	}

	var reliability json.RawMessage
	if err := r.client.do(ctx, organizer, http.MethodGet, r.roundPath("/reliability"), nil, &reliability); err != nil {
		return nil, fmt.Errorf("reliability: %w", err)
	}

	r.stats.EndTime = time.Now()
	r.stats.Duration = r.stats.EndTime.Sub(r.stats.StartTime)

	if cfg.OutputFile != "" {
		if err := saveReport(cfg.OutputFile, Report{Config: *cfg, Stats: *r.stats, Ranking: norm.Entries, Reliability: reliability}); err != nil {
			r.log.Warn(ctx, "failed to save report", logger.Error(err))
		} else {
			r.log.Info(ctx, "report saved", logger.String("file", cfg.OutputFile))
		}
	}
	r.displayFinalStats(ctx)
	return r.stats, nil
}

func (r *runner) roundPath(suffix string) string {
	return "/v1/events/" + r.cfg.EventID + "/rounds/" + strconv.Itoa(r.cfg.Round) + suffix
}

func (r *runner) eventPath(suffix string) string {
	return "/v1/events/" + r.cfg.EventID + suffix
}

// seed registers the population and creates the rubric.
func (r *runner) seed(ctx context.Context) (string, error) {
	for _, j := range r.pop.judges {
		if err := r.client.do(ctx, organizer, http.MethodPut, r.eventPath("/directory/judges/"+j), map[string]any{"name": j}, nil); err != nil {
			return "", err
		}
	}
	for _, s := range r.pop.submissions {
		team := "team-" + s
		if err := r.client.do(ctx, organizer, http.MethodPut, r.eventPath("/directory/teams/"+team), map[string]any{"name": team}, nil); err != nil {
			return "", err
		}
		body := map[string]any{"team_id": team, "status": "submitted"}
		if err := r.client.do(ctx, organizer, http.MethodPut, r.eventPath("/directory/submissions/"+s), body, nil); err != nil {
			return "", err
		}
	}
	var rb rubricDoc
	if err := r.client.do(ctx, organizer, http.MethodPost, r.eventPath("/rubrics"), map[string]any{"criteria": criteria}, &rb); err != nil {
		return "", err
	}
	r.log.Info(ctx, "event seeded",
		logger.Int("judges", len(r.pop.judges)),
		logger.Int("submissions", len(r.pop.submissions)),
		logger.String("rubric", rb.ID))
	return rb.ID, nil
}

func saveReport(filename string, rep Report) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(filename, data, reportPermission); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func (r *runner) displayFinalStats(ctx context.Context) {
	var scoresPerSecond float64
	if r.stats.Duration > 0 {
		scoresPerSecond = float64(r.stats.ScoresSubmitted) / r.stats.Duration.Seconds()
	}
	r.log.Info(ctx, "final statistics",
		logger.Int("assignmentsCreated", r.stats.AssignmentsCreated),
		logger.Int("underCovered", r.stats.UnderCovered),
		logger.Int("scoresSubmitted", r.stats.ScoresSubmitted),
		logger.Int("staleWrites", r.stats.StaleWrites),
		logger.Int("retries", r.stats.Retries),
		logger.Int("rankedEntries", r.stats.RankedEntries),
		logger.Duration("duration", r.stats.Duration),
		logger.Float64("scoresPerSecond", scoresPerSecond))
}
