// Package normalize turns raw judge totals into bias-corrected per-submission
// aggregates and a deterministic ranking.
package normalize

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

// Method names a normalization strategy.
type Method string

const (
	MethodZScore Method = "zscore"
	MethodRaw    Method = "raw"
)

// zeroSpread is the standard deviation below which a judge's totals are
// treated as identical.
const zeroSpread = 1e-12

// Normalizer standardizes one judge's totals. The returned flag reports that
// the totals could not be standardized and were passed through unchanged.
type Normalizer interface {
	Method() Method
	Compute(totals []float64) ([]float64, bool)
}

// ZScore is (total − mean) / population stddev.
type ZScore struct{}

func (ZScore) Method() Method { return MethodZScore }

func (ZScore) Compute(totals []float64) ([]float64, bool) {
	out := make([]float64, len(totals))
	mean, std := MeanStd(totals)
	if len(totals) == 0 || std < zeroSpread {
		copy(out, totals)
		return out, true
	}
	for i, t := range totals {
		out[i] = (t - mean) / std
	}
	return out, false
}

// Raw ranks on raw totals.
type Raw struct{}

func (Raw) Method() Method { return MethodRaw }

func (Raw) Compute(totals []float64) ([]float64, bool) {
	out := make([]float64, len(totals))
	copy(out, totals)
	return out, false
}

// Methods lists the supported strategies.
func Methods() []Method { return []Method{MethodZScore, MethodRaw} }

// ForMethod returns the strategy named m. An empty name selects z-score.
func ForMethod(m Method) (Normalizer, error) {
	switch Method(strings.ToLower(strings.TrimSpace(string(m)))) {
	case "", MethodZScore:
		return ZScore{}, nil
	case MethodRaw:
		return Raw{}, nil
	default:
		return nil, model.NewValidationError("method", "unknown normalization method %q", m)
	}
}

// MeanStd returns the mean and population standard deviation of xs.
func MeanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// Value is the normalization of one score.
type Value struct {
	ScoreID      string  `json:"score_id"`
	JudgeID      string  `json:"judge_id"`
	SubmissionID string  `json:"submission_id"`
	Total        float64 `json:"total"`
	Normalized   float64 `json:"normalized_score"`
	Unnormalized bool    `json:"unnormalized"`
}

// Entry is one submission's outcome. Aggregate is nil exactly when
// InsufficientCoverage is set.
type Entry struct {
	SubmissionID         string    `json:"submission_id"`
	Rank                 int       `json:"rank,omitempty"`
	Aggregate            *float64  `json:"aggregate,omitempty"`
	RawMean              float64   `json:"raw_mean"`
	Coverage             int       `json:"coverage"`
	InsufficientCoverage bool      `json:"insufficient_coverage"`
	Unnormalized         bool      `json:"unnormalized"`
	SubmittedAt          time.Time `json:"submitted_at,omitempty"`
}

// Input is a consistent snapshot of one round.
type Input struct {
	Scores      []model.Score
	Submissions []model.Submission
	CoverageMin int
	Normalizer  Normalizer
}

// Output holds per-score values, ranked entries followed by under-covered
// ones, and the coverage report (nil when every submission is covered).
type Output struct {
	Method   Method               `json:"method"`
	Values   []Value              `json:"values"`
	Entries  []Entry              `json:"entries"`
	Coverage *model.CoverageError `json:"-"`
}

// Compute normalizes a round snapshot. It is pure and deterministic: the
// same snapshot always yields identical values and ranks.
func Compute(in Input) Output {
	n := in.Normalizer
	if n == nil {
		n = ZScore{}
	}
	minCov := in.CoverageMin
	if minCov < 1 {
		minCov = 1
	}

	byJudge := make(map[string][]model.Score)
	for _, s := range in.Scores {
		if !s.Voided {
			byJudge[s.JudgeID] = append(byJudge[s.JudgeID], s)
		}
	}
	judges := make([]string, 0, len(byJudge))
	for j := range byJudge {
		judges = append(judges, j)
	}
	sort.Strings(judges)

	values := make([]Value, 0, len(in.Scores))
	for _, j := range judges {
		group := byJudge[j]
		sort.Slice(group, func(a, b int) bool { return group[a].SubmissionID < group[b].SubmissionID })
		totals := make([]float64, len(group))
		for i, s := range group {
			totals[i] = s.Total
		}
		normalized, flat := n.Compute(totals)
		for i, s := range group {
			values = append(values, Value{
				ScoreID:      s.ID,
				JudgeID:      j,
				SubmissionID: s.SubmissionID,
				Total:        s.Total,
				Normalized:   normalized[i],
				Unnormalized: flat,
			})
		}
	}

	entries, gaps := aggregate(values, in.Submissions, minCov)
	out := Output{Method: n.Method(), Values: values, Entries: entries}
	if len(gaps) > 0 {
		out.Coverage = &model.CoverageError{Gaps: gaps}
	}
	return out
}

func aggregate(values []Value, subs []model.Submission, minCov int) ([]Entry, []model.CoverageGap) {
	submitted := make(map[string]time.Time, len(subs))
	ids := make(map[string]bool, len(subs))
	for _, s := range subs {
		if s.Judgeable() {
			ids[s.ID] = true
			submitted[s.ID] = s.SubmittedAt
		}
	}
	type acc struct {
		norm, raw    float64
		n            int
		unnormalized bool
	}
	sums := make(map[string]*acc)
	for _, v := range values {
		ids[v.SubmissionID] = true
		a := sums[v.SubmissionID]
		if a == nil {
			a = &acc{}
			sums[v.SubmissionID] = a
		}
		a.norm += v.Normalized
		a.raw += v.Total
		a.n++
		a.unnormalized = a.unnormalized || v.Unnormalized
	}

	ranked := make([]Entry, 0, len(ids))
	short := make([]Entry, 0)
	for id := range ids {
		e := Entry{SubmissionID: id, SubmittedAt: submitted[id]}
		if a := sums[id]; a != nil {
			e.Coverage = a.n
			e.RawMean = a.raw / float64(a.n)
			e.Unnormalized = a.unnormalized
			if a.n >= minCov {
				agg := a.norm / float64(a.n)
				e.Aggregate = &agg
			}
		}
		if e.Aggregate == nil {
			e.InsufficientCoverage = true
			short = append(short, e)
			continue
		}
		ranked = append(ranked, e)
	}

	sort.Slice(ranked, func(i, j int) bool { return ranksBefore(ranked[i], ranked[j]) })
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	sort.Slice(short, func(i, j int) bool { return short[i].SubmissionID < short[j].SubmissionID })

	gaps := make([]model.CoverageGap, 0, len(short))
	for _, e := range short {
		gaps = append(gaps, model.CoverageGap{SubmissionID: e.SubmissionID, Have: e.Coverage, Want: minCov})
	}
	return append(ranked, short...), gaps
}

// ranksBefore orders by aggregate, raw mean, earliest submission time, id.
// Unknown submission times sort after known ones.
func ranksBefore(a, b Entry) bool {
	if *a.Aggregate != *b.Aggregate {
		return *a.Aggregate > *b.Aggregate
	}
	if a.RawMean != b.RawMean {
		return a.RawMean > b.RawMean
	}
	az, bz := a.SubmittedAt.IsZero(), b.SubmittedAt.IsZero()
	switch {
	case az != bz:
		return bz
	case !a.SubmittedAt.Equal(b.SubmittedAt):
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.SubmissionID < b.SubmissionID
}
