package judgingsim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// scoreJob is one judge's work on one submission. A correction re-submits
// the same pair with a stale version after the first write.
type scoreJob struct {
	input      scoreInput
	correction map[string]float64
}

// Worker configuration constants.
const workerChannelMultiplier = 2

func (r *runner) planScores(assignments []assignment, rubricID string) []scoreJob {
	jobs := make([]scoreJob, 0, len(assignments))
	for _, a := range assignments {
		job := scoreJob{input: scoreInput{
			JudgeID:      a.JudgeID,
			SubmissionID: a.SubmissionID,
			RubricID:     rubricID,
			Values:       r.pop.values(a.JudgeID, a.SubmissionID),
		}}
		if r.pop.rng.Float64() < r.cfg.Corrections {
			job.correction = r.pop.values(a.JudgeID, a.SubmissionID)
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// submitScores runs jobs across cfg.Workers goroutines.
func (r *runner) submitScores(ctx context.Context, jobs []scoreJob) {
	log.Printf("📤 Submitting %d scores with %d workers...", len(jobs), r.cfg.Workers)

	var submitted, failed, stale, retries int64
	jobChan := make(chan scoreJob, r.cfg.Workers*workerChannelMultiplier)
	var wg sync.WaitGroup

	var lastReport atomic.Int64
	reportInterval := time.Second

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobChan {
				if ctx.Err() != nil {
					return
				}
				sc, retried, err := r.submitWithRetry(ctx, job.input)
				if retried {
					atomic.AddInt64(&retries, 1)
				}
				if err != nil {
					atomic.AddInt64(&failed, 1)
					if r.cfg.Verbose {
						log.Printf("❌ %s on %s: %v", job.input.JudgeID, job.input.SubmissionID, err)
					}
					continue
				}
				atomic.AddInt64(&submitted, 1)

				if job.correction != nil {
					fix := job.input
					fix.Values = job.correction
					fix.ExpectedVersion = sc.Version - 1
					_, retried, err := r.submitWithRetry(ctx, fix)
					if retried {
						atomic.AddInt64(&stale, 1)
						atomic.AddInt64(&retries, 1)
					}
					if err != nil {
						atomic.AddInt64(&failed, 1)
					}
				}

				now := time.Now().UnixNano()
				last := lastReport.Load()
				if now-last >= int64(reportInterval) && lastReport.CompareAndSwap(last, now) && r.cfg.Verbose {
					log.Printf("📊 Progress: %d/%d scored (failed: %d, stale: %d)",
						atomic.LoadInt64(&submitted), len(jobs), atomic.LoadInt64(&failed), atomic.LoadInt64(&stale))
				}
			}
		}()
	}

	go func() {
		defer close(jobChan)
		for _, job := range jobs {
			select {
			case <-ctx.Done():
				return
			case jobChan <- job:
			}
		}
	}()
	wg.Wait()

	r.stats.ScoresSubmitted = int(submitted)
	r.stats.ScoresFailed = int(failed)
	r.stats.StaleWrites = int(stale)
	r.stats.Retries = int(retries)

	log.Printf(`✅ Score submission completed:
   Submitted: %d
   Failed: %d
   Stale writes recovered: %d
`, r.stats.ScoresSubmitted, r.stats.ScoresFailed, r.stats.StaleWrites)
}

// submitWithRetry posts in. On a stale version it re-reads the current
// score and retries once with that version.
func (r *runner) submitWithRetry(ctx context.Context, in scoreInput) (score, bool, error) {
	var sc score
	err := r.client.do(ctx, judgePrincipal(in.JudgeID), http.MethodPost, r.roundPath("/scores"), in, &sc)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusPreconditionFailed {
		return sc, false, err
	}

	current, err := r.currentScore(ctx, in.JudgeID, in.SubmissionID)
	if err != nil {
		return score{}, true, fmt.Errorf("re-read after stale write: %w", err)
	}
	in.ExpectedVersion = current.Version
	err = r.client.do(ctx, judgePrincipal(in.JudgeID), http.MethodPost, r.roundPath("/scores"), in, &sc)
	return sc, true, err
}

func (r *runner) currentScore(ctx context.Context, judgeID, submissionID string) (score, error) {
	q := url.Values{"judge_id": {judgeID}, "submission_id": {submissionID}}
	var list []score
	if err := r.client.do(ctx, judgePrincipal(judgeID), http.MethodGet, r.roundPath("/scores?"+q.Encode()), nil, &list); err != nil {
		return score{}, err
	}
	if len(list) == 0 {
		return score{}, fmt.Errorf("no score for %s on %s", judgeID, submissionID)
	}
	return list[0], nil
}
