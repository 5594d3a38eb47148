package learning

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/memory"
)

// fakeKnowledge is an in-memory KnowledgeWriter.
type fakeKnowledge struct {
	mu       sync.Mutex
	skills   map[string]core.Skill
	prefs    map[string]string
	nextID   int
	setCalls int
}

func newFakeKnowledge() *fakeKnowledge {
	return &fakeKnowledge{
		skills: make(map[string]core.Skill),
		prefs:  make(map[string]string),
	}
}

func (f *fakeKnowledge) SaveSkill(ctx context.Context, skill *core.Skill) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("skill_%d", f.nextID)
	skill.ID = id
	f.skills[id] = *skill
	return id, nil
}

func (f *fakeKnowledge) UpdateSkill(ctx context.Context, id string, patch memory.SkillPatch) (*core.Skill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.skills[id]
	if !ok {
		return nil, fmt.Errorf("skill %s not found", id)
	}
	if patch.Description != nil {
		s.Description = *patch.Description
	}
	if patch.Steps != nil {
		s.Steps = patch.Steps
	}
	if patch.Categories != nil {
		s.Categories = patch.Categories
	}
	if patch.Metrics != nil {
		s.Metrics = *patch.Metrics
	}
	s.Version = "1.1.0"
	f.skills[id] = s
	return &s, nil
}

func (f *fakeKnowledge) ListAll(filter memory.SkillFilter, limit int) []core.Skill {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Skill, 0, len(f.skills))
	for _, s := range f.skills {
		out = append(out, s)
	}
	return out
}

func (f *fakeKnowledge) PreferredTool(taskType string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tool, ok := f.prefs[taskType]
	return tool, ok
}

func (f *fakeKnowledge) SetPreferredTool(taskType, tool string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefs[taskType] = tool
	f.setCalls++
}

func searchCandidate() CandidateSkill {
	return CandidateSkill{
		Name:        "procedure: search -> generate",
		Description: "Learned procedure over 3 similar executions",
		Steps: []core.SkillStep{
			{Action: "search", RequiredTools: []string{"http_fetch"}},
			{Action: "generate"},
		},
		Categories:     []string{"generate", "search"},
		SourceEpisodes: []string{"e1", "e2", "e3"},
		GroupSize:      3,
		MeanDuration:   3 * time.Second,
		SuccessRate:    1.0,
	}
}

func TestIntegrateCandidateFreshInsert(t *testing.T) {
	kw := newFakeKnowledge()
	c := searchCandidate()

	result, err := IntegrateCandidate(context.Background(), kw, c, QualityReport{Composite: 0.8, Accepted: true})
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", result.Version)
	assert.False(t, result.Replaced)
	assert.False(t, result.Skipped)

	saved := kw.skills[result.SkillID]
	assert.Equal(t, c.Name, saved.Name)
	assert.Equal(t, core.SkillProcedure, saved.Type)
	assert.Equal(t, core.AuthorSystem, saved.Author)
	assert.Equal(t, 6*time.Second, saved.EstimatedTimeout)
	assert.Equal(t, 0.8, saved.Resources["quality_composite"])
	assert.Equal(t, c.SourceEpisodes, saved.Resources["source_episodes"])
}

func TestIntegrateCandidateReplacesWorseDuplicate(t *testing.T) {
	kw := newFakeKnowledge()
	existing := &core.Skill{
		Name:      "procedure: search -> generate",
		Version:   "1.0.0",
		Resources: map[string]interface{}{"quality_composite": 0.5},
	}
	id, err := kw.SaveSkill(context.Background(), existing)
	require.NoError(t, err)

	result, err := IntegrateCandidate(context.Background(), kw, searchCandidate(), QualityReport{Composite: 0.8})
	require.NoError(t, err)

	assert.True(t, result.Replaced)
	assert.Equal(t, id, result.SkillID)
	assert.Equal(t, "1.1.0", result.Version)
	assert.Equal(t, 1.0, kw.skills[id].Metrics.SuccessRate)
}

func TestIntegrateCandidateSkipsBetterDuplicate(t *testing.T) {
	kw := newFakeKnowledge()
	existing := &core.Skill{
		Name:      "procedure: search -> generate",
		Version:   "2.1.0",
		Resources: map[string]interface{}{"quality_composite": 0.9},
	}
	_, err := kw.SaveSkill(context.Background(), existing)
	require.NoError(t, err)

	result, err := IntegrateCandidate(context.Background(), kw, searchCandidate(), QualityReport{Composite: 0.8})
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, "existing skill scores higher", result.Reason)
	assert.Equal(t, "2.1.0", result.Version, "existing skill untouched")
}

func TestApplyPreferences(t *testing.T) {
	kw := newFakeKnowledge()
	kw.prefs[core.TaskTypeGenerate] = "text_generate"

	proposals := []PreferenceProposal{
		{TaskType: core.TaskTypeSearch, Tool: "http_fetch", Improvement: 0.2},
		{TaskType: core.TaskTypeAnalyze, Tool: "stats_tool", Improvement: 0.05},
		// Already the preferred tool, skipped regardless of improvement.
		{TaskType: core.TaskTypeGenerate, Tool: "text_generate", Improvement: 0.9},
	}

	applied := ApplyPreferences(kw, proposals, 0.1)
	require.Len(t, applied, 1)
	assert.Equal(t, core.TaskTypeSearch, applied[0].TaskType)
	assert.Equal(t, 1, kw.setCalls)

	tool, ok := kw.PreferredTool(core.TaskTypeSearch)
	require.True(t, ok)
	assert.Equal(t, "http_fetch", tool)

	// Re-running the same window changes nothing.
	assert.Empty(t, ApplyPreferences(kw, proposals, 0.1))
	assert.Equal(t, 1, kw.setCalls)
}

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, nameSimilarity("procedure: search -> generate", "Procedure: Search -> Generate"))
	assert.InDelta(t, 0.5, nameSimilarity(
		"procedure: search -> generate",
		"procedure: search -> analyze"), 1e-9)
	assert.Zero(t, nameSimilarity("", "anything"))
}
