package learning

import (
	"fmt"
	"math"

	"github.com/evolvai/evolv/core"
)

// Quality dimension weights, in evaluation order: coverage, consistency,
// generality, utility, precision.
var qualityWeights = [5]float64{0.3, 0.25, 0.2, 0.15, 0.1}

// defaultQualityThreshold gates candidate acceptance.
const defaultQualityThreshold = 0.6

// QualityReport scores one candidate skill.
type QualityReport struct {
	Coverage    float64 `json:"coverage"`
	Consistency float64 `json:"consistency"`
	Generality  float64 `json:"generality"`
	Utility     float64 `json:"utility"`
	Precision   float64 `json:"precision"`
	Composite   float64 `json:"composite"`
	Accepted    bool    `json:"accepted"`
}

// EvaluateCandidate scores a candidate against its source episodes.
func EvaluateCandidate(c CandidateSkill, sources []*core.Episode, threshold float64) QualityReport {
	if threshold <= 0 {
		threshold = defaultQualityThreshold
	}
	r := QualityReport{
		Coverage:    coverage(c, sources),
		Consistency: consistency(sources),
		Generality:  generality(c),
		Utility:     c.SuccessRate,
		Precision:   precision(c),
	}
	r.Composite = qualityWeights[0]*r.Coverage +
		qualityWeights[1]*r.Consistency +
		qualityWeights[2]*r.Generality +
		qualityWeights[3]*r.Utility +
		qualityWeights[4]*r.Precision
	r.Accepted = r.Composite >= threshold
	return r
}

// coverage is the fraction of source episodes whose execution is
// consistent with the candidate's step count.
func coverage(c CandidateSkill, sources []*core.Episode) float64 {
	if len(sources) == 0 {
		return 0
	}
	consistent := 0
	for _, e := range sources {
		if len(e.Results) == len(c.Steps) {
			consistent++
		}
	}
	return float64(consistent) / float64(len(sources))
}

// consistency rewards low duration variance across the source group.
func consistency(sources []*core.Episode) float64 {
	if len(sources) < 2 {
		return 0.5
	}
	var mean float64
	for _, e := range sources {
		mean += e.TotalDuration.Seconds()
	}
	mean /= float64(len(sources))
	if mean == 0 {
		return 0.5
	}
	var variance float64
	for _, e := range sources {
		d := e.TotalDuration.Seconds() - mean
		variance += d * d
	}
	variance /= float64(len(sources) - 1)
	cv := math.Sqrt(variance) / mean
	return clamp01(1 - cv)
}

// generality rewards placeholder parameters: a procedure bound to
// literal values transfers poorly.
func generality(c CandidateSkill) float64 {
	total, placeholders := 0, 0
	for _, step := range c.Steps {
		for k, v := range step.Parameters {
			total++
			if fmt.Sprint(v) == "<"+k+">" {
				placeholders++
			}
		}
	}
	if total == 0 {
		return 0.5
	}
	return float64(placeholders) / float64(total)
}

// precision rewards candidates derived from larger, more specific
// groups.
func precision(c CandidateSkill) float64 {
	if len(c.Steps) == 0 {
		return 0
	}
	size := clamp01(float64(c.GroupSize) / 10)
	depth := clamp01(float64(len(c.Steps)) / 5)
	return (size + depth) / 2
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
