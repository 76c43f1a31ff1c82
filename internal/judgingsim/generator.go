package judgingsim

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Criteria of the simulated rubric.
var criteria = []criterion{
	{Key: "impact", Label: "Impact", Weight: 40, MaxScore: 10, LowScoreThreshold: 2},
	{Key: "execution", Label: "Execution", Weight: 35, MaxScore: 10, LowScoreThreshold: 2},
	{Key: "presentation", Label: "Presentation", Weight: 25, MaxScore: 10},
}

// Value generation ranges.
const (
	qualityMin  = 3.0
	qualitySpan = 6.0
	biasSpan    = 3.0
	noiseSpan   = 1.0
)

type criterion struct {
	Key               string  `json:"key"`
	Label             string  `json:"label"`
	Weight            float64 `json:"weight"`
	MaxScore          float64 `json:"max_score"`
	LowScoreThreshold float64 `json:"low_score_threshold"`
}

// population is the generated directory. Each submission has a hidden
// quality and each judge a harshness offset, so raw totals disagree while
// normalized ones should not.
type population struct {
	judges      []string
	submissions []string
	quality     map[string]float64
	harshness   map[string]float64
	rng         *rand.Rand
}

func generatePopulation(cfg *Config) *population {
	p := &population{
		quality:   make(map[string]float64, cfg.Submissions),
		harshness: make(map[string]float64, cfg.Judges),
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	for i := 1; i <= cfg.Judges; i++ {
		id := fmt.Sprintf("judge-%03d", i)
		p.judges = append(p.judges, id)
		p.harshness[id] = (p.rng.Float64() - 0.5) * biasSpan
	}
	for i := 1; i <= cfg.Submissions; i++ {
		id := fmt.Sprintf("sub-%03d", i)
		p.submissions = append(p.submissions, id)
		p.quality[id] = qualityMin + p.rng.Float64()*qualitySpan
	}
	return p
}

// values draws one judge's criterion values for a submission. It is only
// called from the planning goroutine.
func (p *population) values(judge, submission string) map[string]float64 {
	out := make(map[string]float64, len(criteria))
	for _, c := range criteria {
		v := p.quality[submission] + p.harshness[judge] + (p.rng.Float64()-0.5)*noiseSpan
		// Stay clear of low-score thresholds so no comment is required.
		v = math.Max(c.LowScoreThreshold+0.5, math.Min(c.MaxScore, v))
		out[c.Key] = math.Round(v*10) / 10
	}
	return out
}
