// Package conflict finds judge/submission pairs that must not be evaluated
// together.
package conflict

import (
	"sort"
	"strings"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

// Candidate is a proposed conflict flag produced by an automatic rule.
type Candidate struct {
	JudgeID      string               `json:"judge_id"`
	SubmissionID string               `json:"submission_id"`
	TeamID       string               `json:"team_id"`
	Reason       model.ConflictReason `json:"reason"`
	Detail       string               `json:"detail"`
}

// Rule decides whether a judge is conflicted with a team.
type Rule interface {
	Reason() model.ConflictReason
	Match(j model.Judge, t model.Team) (detail string, ok bool)
}

// AffiliationRule fires when a judge shares an organization with the team's
// members or sponsors. Comparison is case-insensitive.
type AffiliationRule struct{}

func (AffiliationRule) Reason() model.ConflictReason { return model.ConflictAffiliation }

func (AffiliationRule) Match(j model.Judge, t model.Team) (string, bool) {
	orgs := make(map[string]struct{}, len(t.Affiliations)+len(t.Sponsors))
	for _, o := range t.Affiliations {
		orgs[fold(o)] = struct{}{}
	}
	for _, o := range t.Sponsors {
		orgs[fold(o)] = struct{}{}
	}
	for _, a := range j.Affiliations {
		if _, ok := orgs[fold(a)]; ok && fold(a) != "" {
			return strings.TrimSpace(a), true
		}
	}
	return "", false
}

// MentorRule fires when the judge mentored the team.
type MentorRule struct{}

func (MentorRule) Reason() model.ConflictReason { return model.ConflictMentor }

func (MentorRule) Match(j model.Judge, t model.Team) (string, bool) {
	for _, id := range j.MentorOf {
		if id == t.ID {
			return "mentor of " + t.ID, true
		}
	}
	return "", false
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Input is everything detection reads. Existing holds flags in any state.
type Input struct {
	Judges      []model.Judge
	Teams       []model.Team
	Submissions []model.Submission
	Existing    []model.ConflictFlag
}

// Detector runs rules in order; the first match for a pair wins.
type Detector struct {
	rules []Rule
}

// NewDetector builds a detector. With no rules it uses the affiliation and
// mentor rules.
func NewDetector(rules ...Rule) *Detector {
	if len(rules) == 0 {
		rules = []Rule{AffiliationRule{}, MentorRule{}}
	}
	return &Detector{rules: rules}
}

// Detect proposes flags for pairs that are not flagged yet. Output is sorted
// by judge then submission.
func (d *Detector) Detect(in Input) []Candidate {
	teams := make(map[string]model.Team, len(in.Teams))
	for _, t := range in.Teams {
		teams[t.ID] = t
	}
	flagged := make(map[pair]struct{}, len(in.Existing))
	for _, f := range in.Existing {
		flagged[pair{f.JudgeID, f.SubmissionID}] = struct{}{}
	}

	var out []Candidate
	for _, j := range in.Judges {
		for _, s := range in.Submissions {
			if _, ok := flagged[pair{j.ID, s.ID}]; ok {
				continue
			}
			team, ok := teams[s.TeamID]
			if !ok {
				continue
			}
			for _, rule := range d.rules {
				if detail, hit := rule.Match(j, team); hit {
					out = append(out, Candidate{
						JudgeID:      j.ID,
						SubmissionID: s.ID,
						TeamID:       team.ID,
						Reason:       rule.Reason(),
						Detail:       detail,
					})
					break
				}
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].JudgeID != out[b].JudgeID {
			return out[a].JudgeID < out[b].JudgeID
		}
		return out[a].SubmissionID < out[b].SubmissionID
	})
	return out
}

type pair struct{ judge, submission string }

// Index answers "is this pair conflicted" over unresolved flags.
type Index struct {
	flags map[pair]model.ConflictFlag
}

// NewIndex indexes the unresolved flags among flags.
func NewIndex(flags []model.ConflictFlag) *Index {
	idx := &Index{flags: make(map[pair]model.ConflictFlag)}
	for _, f := range flags {
		idx.Add(f)
	}
	return idx
}

// Add indexes f when it is unresolved.
func (i *Index) Add(f model.ConflictFlag) {
	if f.Resolved {
		return
	}
	i.flags[pair{f.JudgeID, f.SubmissionID}] = f
}

// Unresolved returns the open flag for a pair, if any.
func (i *Index) Unresolved(judgeID, submissionID string) (model.ConflictFlag, bool) {
	if i == nil {
		return model.ConflictFlag{}, false
	}
	f, ok := i.flags[pair{judgeID, submissionID}]
	return f, ok
}

// Len is the number of unresolved flags.
func (i *Index) Len() int { return len(i.flags) }
