package judgingsim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
)

// ErrVerification marks a broken engine guarantee.
var ErrVerification = errors.New("verification failed")

// verifyAssignments checks loads and per-submission coverage against c.
func verifyAssignments(res assignResult, c constraints) error {
	perSub := make(map[string]map[string]bool)
	load := make(map[string]int)
	for _, a := range res.Created {
		if perSub[a.SubmissionID] == nil {
			perSub[a.SubmissionID] = make(map[string]bool)
		}
		if perSub[a.SubmissionID][a.JudgeID] {
			return fmt.Errorf("%w: %s assigned twice to %s", ErrVerification, a.JudgeID, a.SubmissionID)
		}
		perSub[a.SubmissionID][a.JudgeID] = true
		load[a.JudgeID]++
	}
	for j, n := range load {
		if n > c.LoadMax {
			return fmt.Errorf("%w: %s carries %d submissions, load_max is %d", ErrVerification, j, n, c.LoadMax)
		}
	}
	gaps := make(map[string]bool, len(res.UnderCovered))
	for _, g := range res.UnderCovered {
		gaps[g.SubmissionID] = true
	}
	for sub, judges := range perSub {
		if len(judges) > c.CoverageMax {
			return fmt.Errorf("%w: %s has %d judges, coverage_max is %d", ErrVerification, sub, len(judges), c.CoverageMax)
		}
		if len(judges) < c.CoverageMin && !gaps[sub] {
			return fmt.Errorf("%w: %s is under-covered but not reported", ErrVerification, sub)
		}
	}
	log.Printf("✅ Assignments verified: %d rows, %d gaps", len(res.Created), len(res.UnderCovered))
	return nil
}

// verifyLocked checks one score write per judge is refused after the lock.
func (r *runner) verifyLocked(ctx context.Context, assigned []assignment, rubricID string) error {
	if len(assigned) == 0 {
		return nil
	}
	a := assigned[0]
	in := scoreInput{JudgeID: a.JudgeID, SubmissionID: a.SubmissionID, RubricID: rubricID, Values: r.pop.values(a.JudgeID, a.SubmissionID)}
	current, err := r.currentScore(ctx, a.JudgeID, a.SubmissionID)
	if err == nil {
		in.ExpectedVersion = current.Version
	}
	err = r.client.do(ctx, judgePrincipal(a.JudgeID), http.MethodPost, r.roundPath("/scores"), in, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		return fmt.Errorf("%w: write after lock answered %v", ErrVerification, err)
	}
	log.Printf("✅ Locked round refuses writes")
	return nil
}

// verifyRanking checks ranks are dense from 1, aggregates never increase
// down the ranking, and under-covered entries carry no aggregate.
func verifyRanking(res normalizeResult, lockedVersion int64) error {
	if res.Version != lockedVersion {
		return fmt.Errorf("%w: normalized version %d, locked version %d", ErrVerification, res.Version, lockedVersion)
	}
	var prev *float64
	rank := 0
	for _, e := range res.Entries {
		if e.InsufficientCoverage {
			if e.Aggregate != nil {
				return fmt.Errorf("%w: under-covered %s has an aggregate", ErrVerification, e.SubmissionID)
			}
			continue
		}
		rank++
		if e.Rank != rank {
			return fmt.Errorf("%w: %s ranked %d, want %d", ErrVerification, e.SubmissionID, e.Rank, rank)
		}
		if e.Aggregate == nil {
			return fmt.Errorf("%w: ranked %s has no aggregate", ErrVerification, e.SubmissionID)
		}
		if prev != nil && *e.Aggregate > *prev {
			return fmt.Errorf("%w: %s out of order", ErrVerification, e.SubmissionID)
		}
		prev = e.Aggregate
	}
	log.Printf("✅ Ranking verified: %d ranked, %d under-covered", rank, len(res.UnderCovered))
	return nil
}

// verifyIdempotent checks two normalizations of an unchanged round agree.
func verifyIdempotent(a, b normalizeResult) error {
	if a.Version != b.Version || len(a.Entries) != len(b.Entries) {
		return fmt.Errorf("%w: repeated normalization changed shape", ErrVerification)
	}
	for i := range a.Entries {
		x, y := a.Entries[i], b.Entries[i]
		if x.SubmissionID != y.SubmissionID || x.Rank != y.Rank {
			return fmt.Errorf("%w: repeated normalization reordered %s", ErrVerification, x.SubmissionID)
		}
	}
	return nil
}
