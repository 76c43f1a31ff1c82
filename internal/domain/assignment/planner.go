// Package assignment allocates judges to submissions.
//
// Planning is pure: callers load the current round state, call Build or
// PickReplacement, and persist the result atomically. Existing counting
// assignments contribute to coverage and load, so planning a round twice tops
// it up instead of duplicating work.
package assignment

import (
	"sort"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/conflict"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

// Input is the round snapshot a plan is computed from.
type Input struct {
	Judges      []string
	Submissions []string
	// Existing holds every assignment row of the round in any status. A pair
	// with a non-voided row is not planned again; a voided pair becomes
	// eligible once its conflict is resolved.
	Existing    []model.Assignment
	Conflicts   *conflict.Index
	Constraints model.Constraints
}

// Pair is one planned judge/submission binding.
type Pair struct {
	JudgeID      string `json:"judge_id"`
	SubmissionID string `json:"submission_id"`
}

// Plan is the outcome of allocation. UnderCovered lists submissions that
// could not reach coverage_min; the pairs that were found are still valid.
type Plan struct {
	Pairs        []Pair              `json:"pairs"`
	UnderCovered []model.CoverageGap `json:"under_covered,omitempty"`
	Loads        map[string]int      `json:"loads"`
}

type state struct {
	judges   []string
	load     map[string]int
	coverage map[string]int
	blocked  map[Pair]bool
	loadMax  int
	conf     *conflict.Index
}

func newState(in Input) *state {
	st := &state{
		judges:   uniqueSorted(in.Judges),
		load:     make(map[string]int, len(in.Judges)),
		coverage: make(map[string]int, len(in.Submissions)),
		blocked:  make(map[Pair]bool, len(in.Existing)),
		loadMax:  in.Constraints.LoadMax,
		conf:     in.Conflicts,
	}
	for _, j := range st.judges {
		st.load[j] = 0
	}
	for _, a := range in.Existing {
		if a.Status.Holds() {
			st.blocked[Pair{a.JudgeID, a.SubmissionID}] = true
		}
		if !a.Status.Counting() {
			continue
		}
		st.coverage[a.SubmissionID]++
		if _, known := st.load[a.JudgeID]; known {
			st.load[a.JudgeID]++
		}
	}
	return st
}

func (st *state) eligible(judgeID, submissionID string) bool {
	if st.blocked[Pair{judgeID, submissionID}] {
		return false
	}
	if _, conflicted := st.conf.Unresolved(judgeID, submissionID); conflicted {
		return false
	}
	return st.loadMax <= 0 || st.load[judgeID] < st.loadMax
}

// pick returns the eligible judge with the fewest assignments, ties broken by id.
func (st *state) pick(submissionID string) (string, bool) {
	best, found := "", false
	for _, j := range st.judges {
		if !st.eligible(j, submissionID) {
			continue
		}
		if !found || st.load[j] < st.load[best] {
			best, found = j, true
		}
	}
	return best, found
}

// Build allocates judges to every submission up to coverage_min and then
// rebalances the newly planned pairs.
func Build(in Input) Plan {
	st := newState(in)
	want := in.Constraints.CoverageMin
	if in.Constraints.CoverageMax > 0 && want > in.Constraints.CoverageMax {
		want = in.Constraints.CoverageMax
	}

	var planned []Pair
	var gaps []model.CoverageGap
	for _, s := range uniqueSorted(in.Submissions) {
		for st.coverage[s] < want {
			j, ok := st.pick(s)
			if !ok {
				break
			}
			p := Pair{JudgeID: j, SubmissionID: s}
			planned = append(planned, p)
			st.blocked[p] = true
			st.load[j]++
			st.coverage[s]++
		}
		if st.coverage[s] < want {
			gaps = append(gaps, model.CoverageGap{SubmissionID: s, Have: st.coverage[s], Want: want})
		}
	}

	planned = st.balance(planned)
	sort.Slice(planned, func(a, b int) bool {
		if planned[a].SubmissionID != planned[b].SubmissionID {
			return planned[a].SubmissionID < planned[b].SubmissionID
		}
		return planned[a].JudgeID < planned[b].JudgeID
	})

	return Plan{Pairs: planned, UnderCovered: gaps, Loads: st.load}
}

// balance moves newly planned pairs from heavier to lighter judges while the
// load gap is at least two. Every move lowers the sum of squared loads, so
// the loop terminates; each move keeps coverage and eligibility intact.
func (st *state) balance(planned []Pair) []Pair {
	for st.moveOne(planned) {
	}
	return planned
}

func (st *state) moveOne(planned []Pair) bool {
	byLoad := append([]string(nil), st.judges...)
	sort.SliceStable(byLoad, func(a, b int) bool { return st.load[byLoad[a]] > st.load[byLoad[b]] })

	for _, donor := range byLoad {
		for ri := len(byLoad) - 1; ri >= 0; ri-- {
			receiver := byLoad[ri]
			if st.load[donor]-st.load[receiver] < 2 {
				continue
			}
			for i, p := range planned {
				if p.JudgeID != donor || !st.eligible(receiver, p.SubmissionID) {
					continue
				}
				next := Pair{JudgeID: receiver, SubmissionID: p.SubmissionID}
				delete(st.blocked, p)
				st.blocked[next] = true
				planned[i] = next
				st.load[donor]--
				st.load[receiver]++
				return true
			}
		}
	}
	return false
}

// PickReplacement chooses one judge for submissionID under the same rules as
// Build. It fails when coverage_max is already reached or nobody is eligible.
func PickReplacement(in Input, submissionID string) (string, bool) {
	st := newState(in)
	if limit := in.Constraints.CoverageMax; limit > 0 && st.coverage[submissionID] >= limit {
		return "", false
	}
	return st.pick(submissionID)
}

// Loads counts counting assignments per judge.
func Loads(assignments []model.Assignment) map[string]int {
	out := make(map[string]int)
	for _, a := range assignments {
		if a.Status.Counting() {
			out[a.JudgeID]++
		}
	}
	return out
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
