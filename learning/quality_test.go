package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/evolvai/evolv/core"
)

func TestEvaluateCandidateComposite(t *testing.T) {
	sources := []*core.Episode{
		twoStepEpisode(0, core.StateSuccess, 3*time.Second),
		twoStepEpisode(1, core.StateSuccess, 3*time.Second),
		twoStepEpisode(2, core.StateSuccess, 3*time.Second),
	}
	c := CandidateSkill{
		Name:        "procedure: search -> generate",
		Steps:       []core.SkillStep{{Action: "search"}, {Action: "generate"}},
		GroupSize:   3,
		SuccessRate: 1.0,
	}

	r := EvaluateCandidate(c, sources, 0)
	assert.Equal(t, 1.0, r.Coverage)
	assert.Equal(t, 1.0, r.Consistency)
	assert.Equal(t, 0.5, r.Generality, "no parameters to generalize")
	assert.Equal(t, 1.0, r.Utility)
	assert.InDelta(t, 0.35, r.Precision, 1e-9)
	assert.InDelta(t, 0.835, r.Composite, 1e-9)
	assert.True(t, r.Accepted)
}

func TestEvaluateCandidateRejectsWeakProcedure(t *testing.T) {
	// Wildly varying durations and a low success rate drag the composite
	// below the acceptance threshold.
	sources := []*core.Episode{
		twoStepEpisode(0, core.StateSuccess, time.Second),
		twoStepEpisode(1, core.StateSuccess, 5*time.Second),
		twoStepEpisode(2, core.StateSuccess, 9*time.Second),
	}
	c := CandidateSkill{
		Name: "procedure: search",
		Steps: []core.SkillStep{{Action: "search", Parameters: map[string]interface{}{
			"query": "kubernetes operators",
		}}},
		GroupSize:   3,
		SuccessRate: 0.4,
	}

	r := EvaluateCandidate(c, sources, 0)
	assert.Zero(t, r.Coverage, "two-result sources never match a one-step candidate")
	assert.InDelta(t, 0.2, r.Consistency, 1e-9)
	assert.Zero(t, r.Generality, "literal parameter only")
	assert.False(t, r.Accepted)
	assert.Less(t, r.Composite, defaultQualityThreshold)
}

func TestGenerality(t *testing.T) {
	c := CandidateSkill{Steps: []core.SkillStep{{
		Parameters: map[string]interface{}{
			"query":  "<query>",
			"format": "json",
		},
	}}}
	assert.Equal(t, 0.5, generality(c))
}
