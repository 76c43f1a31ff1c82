// Package reliability reports how consistently judges score. It only reads.
package reliability

import (
	"math"
	"sort"
)

// Observation is one non-voided score as seen after normalization.
type Observation struct {
	JudgeID      string  `json:"judge_id"`
	SubmissionID string  `json:"submission_id"`
	Total        float64 `json:"total"`
	Normalized   float64 `json:"normalized"`
}

// PairAgreement is the Pearson correlation of two judges' normalized scores
// on the submissions they both scored. Correlation is nil when fewer than two
// submissions are shared or either side has no variance.
type PairAgreement struct {
	JudgeA      string   `json:"judge_a"`
	JudgeB      string   `json:"judge_b"`
	Shared      int      `json:"shared"`
	Correlation *float64 `json:"correlation,omitempty"`
}

// JudgeMetric summarizes one judge.
type JudgeMetric struct {
	JudgeID string `json:"judge_id"`
	Scored  int    `json:"scored"`
	// Agreement is the mean of the judge's defined pairwise correlations.
	Agreement *float64 `json:"agreement,omitempty"`
	// Bias is the mean of (own normalized − peers' mean normalized) over
	// submissions that at least one peer also scored.
	Bias    *float64 `json:"bias,omitempty"`
	Outlier bool     `json:"outlier"`
}

// SubmissionCoverage counts the judges that scored a submission.
type SubmissionCoverage struct {
	SubmissionID string `json:"submission_id"`
	Judges       int    `json:"judges"`
}

// Bucket is one bar of the coverage histogram.
type Bucket struct {
	Judges      int `json:"judges"`
	Submissions int `json:"submissions"`
}

// Input is a round's observations. Submissions lists ids that should appear
// in the coverage report even when nobody scored them.
type Input struct {
	Observations []Observation
	Submissions  []string
	Threshold    float64
}

// Report is the reliability view of a round.
type Report struct {
	Threshold float64              `json:"bias_threshold"`
	Pairs     []PairAgreement      `json:"pairs"`
	Judges    []JudgeMetric        `json:"judges"`
	Coverage  []SubmissionCoverage `json:"coverage"`
	Histogram []Bucket             `json:"histogram"`
	Outliers  []string             `json:"outliers"`
}

// Build computes the report.
func Build(in Input) Report {
	grid := make(map[string]map[string]Observation)
	for _, o := range in.Observations {
		if grid[o.JudgeID] == nil {
			grid[o.JudgeID] = make(map[string]Observation)
		}
		grid[o.JudgeID][o.SubmissionID] = o
	}
	judges := sortedKeys(grid)

	rep := Report{Threshold: in.Threshold, Outliers: make([]string, 0)}
	perJudge := make(map[string][]float64)
	for i, a := range judges {
		for _, b := range judges[i+1:] {
			p := pair(a, b, grid[a], grid[b])
			rep.Pairs = append(rep.Pairs, p)
			if p.Correlation != nil {
				perJudge[a] = append(perJudge[a], *p.Correlation)
				perJudge[b] = append(perJudge[b], *p.Correlation)
			}
		}
	}

	bySub := make(map[string][]Observation)
	for _, j := range judges {
		for _, sub := range sortedKeys(grid[j]) {
			bySub[sub] = append(bySub[sub], grid[j][sub])
		}
	}

	for _, j := range judges {
		m := JudgeMetric{JudgeID: j, Scored: len(grid[j])}
		if cs := perJudge[j]; len(cs) > 0 {
			v := mean(cs)
			m.Agreement = &v
		}
		if b, ok := bias(j, grid[j], bySub); ok {
			m.Bias = &b
			m.Outlier = math.Abs(b) > in.Threshold
		}
		if m.Outlier {
			rep.Outliers = append(rep.Outliers, j)
		}
		rep.Judges = append(rep.Judges, m)
	}

	counts := make(map[string]int)
	for _, id := range in.Submissions {
		counts[id] = 0
	}
	for id, obs := range bySub {
		counts[id] = len(obs)
	}
	hist := make(map[int]int)
	for _, id := range sortedKeys(counts) {
		rep.Coverage = append(rep.Coverage, SubmissionCoverage{SubmissionID: id, Judges: counts[id]})
		hist[counts[id]]++
	}
	for k, v := range hist {
		rep.Histogram = append(rep.Histogram, Bucket{Judges: k, Submissions: v})
	}
	sort.Slice(rep.Histogram, func(i, j int) bool { return rep.Histogram[i].Judges < rep.Histogram[j].Judges })
	return rep
}

func pair(a, b string, sa, sb map[string]Observation) PairAgreement {
	p := PairAgreement{JudgeA: a, JudgeB: b}
	var xs, ys []float64
	for _, sub := range sortedKeys(sa) {
		if ob, ok := sb[sub]; ok {
			xs = append(xs, sa[sub].Normalized)
			ys = append(ys, ob.Normalized)
		}
	}
	p.Shared = len(xs)
	if r, ok := Pearson(xs, ys); ok {
		p.Correlation = &r
	}
	return p
}

func bias(judge string, own map[string]Observation, bySub map[string][]Observation) (float64, bool) {
	var devs []float64
	for _, sub := range sortedKeys(own) {
		var peers []float64
		for _, o := range bySub[sub] {
			if o.JudgeID != judge {
				peers = append(peers, o.Normalized)
			}
		}
		if len(peers) == 0 {
			continue
		}
		devs = append(devs, own[sub].Normalized-mean(peers))
	}
	if len(devs) == 0 {
		return 0, false
	}
	return mean(devs), true
}

// Pearson returns the sample correlation of xs and ys. It reports false for
// fewer than two points or zero variance on either side.
func Pearson(xs, ys []float64) (float64, bool) {
	if len(xs) < 2 || len(xs) != len(ys) {
		return 0, false
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	return sxy / math.Sqrt(sxx*syy), true
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
