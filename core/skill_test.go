package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSkillRecordUseEWMA(t *testing.T) {
	s := &Skill{Name: "test"}

	s.RecordUse(true, time.Second, 0.2)
	assert.Equal(t, 1.0, s.Metrics.SuccessRate)
	assert.Equal(t, time.Second, s.Metrics.MeanDuration)
	assert.Equal(t, 1, s.Usage.Total)

	s.RecordUse(false, 3*time.Second, 0.2)
	assert.InDelta(t, 0.8, s.Metrics.SuccessRate, 1e-9)
	assert.Equal(t, 2, s.Usage.Total)
	assert.Equal(t, 1, s.Usage.Failures)

	// Success rate stays in [0, 1] under any sequence.
	for i := 0; i < 50; i++ {
		s.RecordUse(i%2 == 0, time.Second, 0.2)
		assert.GreaterOrEqual(t, s.Metrics.SuccessRate, 0.0)
		assert.LessOrEqual(t, s.Metrics.SuccessRate, 1.0)
	}
}

func TestSkillRecordUseBadAlphaFallsBack(t *testing.T) {
	s := &Skill{}
	s.RecordUse(true, time.Second, 0)
	s.RecordUse(false, time.Second, 1.5)
	assert.InDelta(t, 0.8, s.Metrics.SuccessRate, 1e-9)
}

func TestBumpVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.0.0", "1.1.0"},
		{"2.5.3", "2.6.0"},
		{"garbage", "1.0.0"},
		{"", "1.0.0"},
	}
	for _, tt := range tests {
		s := &Skill{Version: tt.in}
		s.BumpVersion()
		assert.Equal(t, tt.want, s.Version, "from %q", tt.in)
	}
}

func TestSkillIDDeterministic(t *testing.T) {
	a := SkillID("fetch and summarize", "two step procedure")
	b := SkillID("fetch and summarize", "two step procedure")
	c := SkillID("fetch and summarize", "different description")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^skill_[0-9a-f]{16}$`, a)
}

func TestEmbeddingText(t *testing.T) {
	s := &Skill{
		Name:        "summarize",
		Description: "condense text",
		Objectives:  []string{"short output"},
	}
	assert.Equal(t, "summarize condense text short output", s.EmbeddingText())
}
