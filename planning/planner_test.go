package planning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/memory"
)

const validPlanResponse = "```json\n" + `{
	"objective": "find and summarize",
	"tasks": [
		{"id": "t1", "description": "look up the topic", "type": "search",
		 "tool": "http_fetch", "parameters": {"query": "go releases"},
		 "estimated_duration_seconds": 5, "critical": true},
		{"id": "t2", "description": "write the summary", "type": "generate",
		 "parameters": {"prompt": "summarize the findings"}, "depends_on": ["t1"],
		 "estimated_duration_seconds": 10}
	]
}` + "\n```"

// fakeSkills is a scripted SkillSource.
type fakeSkills struct {
	matches  []memory.SkillMatch
	defaults map[string]map[string]interface{}
	err      error
}

func (f *fakeSkills) SearchSkills(ctx context.Context, query string, filter memory.SkillFilter, limit int) ([]memory.SkillMatch, error) {
	return f.matches, f.err
}

func (f *fakeSkills) ParameterDefaults(taskType string) map[string]interface{} {
	return f.defaults[taskType]
}

func provenSkill(similarity float64) memory.SkillMatch {
	return memory.SkillMatch{
		Similarity: similarity,
		Skill: core.Skill{
			ID:         "skill_abc",
			Name:       "search and summarize",
			Categories: []string{"search"},
			Metrics:    core.SkillMetrics{SuccessRate: 0.9},
			Steps: []core.SkillStep{
				{Action: "search for the topic"},
				{Action: "summarize the findings"},
			},
			EstimatedTimeout: 20 * time.Second,
		},
	}
}

func newTestPlanner(skills SkillSource, llm core.LLMClient) *Planner {
	catalog := &fakeCatalog{tools: []string{"http_fetch", "text_generate"}}
	return NewPlanner(skills, llm, catalog, nil, core.PlanningConfig{}, nil)
}

func TestGeneratePlanEmptyGoal(t *testing.T) {
	p := newTestPlanner(nil, &core.MockLLM{})
	_, err := p.GeneratePlan(context.Background(), core.Goal{Text: "   "}, "c1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidPlan)
}

func TestGeneratePlanFromSkill(t *testing.T) {
	skills := &fakeSkills{matches: []memory.SkillMatch{provenSkill(0.95)}}
	// The adaptation response is unusable, so the skill steps are used
	// verbatim.
	llm := &core.MockLLM{Responses: []string{"no json here"}}
	p := newTestPlanner(skills, llm)

	plan, err := p.GeneratePlan(context.Background(), core.Goal{Text: "search for go releases"}, "c1")
	require.NoError(t, err)

	assert.Equal(t, core.OriginAdapted, plan.Metadata.Origin)
	assert.Equal(t, "skill_abc", plan.Metadata.SourceSkillID)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, "t1", plan.Tasks[0].ID)
	assert.Equal(t, []string{"t1"}, plan.Tasks[1].DependsOn)
}

func TestGeneratePlanSkillBelowSuccessGateFallsThrough(t *testing.T) {
	match := provenSkill(0.95)
	match.Skill.Metrics.SuccessRate = 0.5
	skills := &fakeSkills{matches: []memory.SkillMatch{match}}
	llm := &core.MockLLM{Responses: []string{validPlanResponse}}
	p := newTestPlanner(skills, llm)

	plan, err := p.GeneratePlan(context.Background(), core.Goal{Text: "search for go releases"}, "c1")
	require.NoError(t, err)
	// Similarity passes but history fails, so the skill path is skipped.
	assert.NotEqual(t, core.OriginAdapted, plan.Metadata.Origin)
}

func TestGeneratePlanComplexGoalUsesLLM(t *testing.T) {
	llm := &core.MockLLM{Responses: []string{validPlanResponse}}
	p := newTestPlanner(&fakeSkills{}, llm)

	plan, err := p.GeneratePlan(context.Background(),
		core.Goal{Text: "search for go releases and then summarize the changes step by step"}, "c1")
	require.NoError(t, err)

	assert.Equal(t, core.OriginGenerated, plan.Metadata.Origin)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, 1, llm.Calls())

	// optimize bands the plan and estimates duration with slack.
	assert.Equal(t, [][]string{{"t1"}, {"t2"}}, plan.Bands)
	assert.Equal(t, "18s", plan.Resources["estimated_duration"])
}

func TestGeneratePlanReplansOnBadResponse(t *testing.T) {
	llm := &core.MockLLM{Responses: []string{"not a plan at all", validPlanResponse}}
	p := newTestPlanner(nil, llm)

	plan, err := p.GeneratePlan(context.Background(),
		core.Goal{Text: "search for go releases and then summarize them"}, "c1")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, 2, llm.Calls())

	// The retry prompt carries the rejection reason back to the model.
	require.Len(t, llm.Prompts, 2)
	assert.Contains(t, llm.Prompts[1], "rejected")
}

func TestGeneratePlanFailsAfterMaxReplans(t *testing.T) {
	llm := &core.MockLLM{Responses: []string{"still not json"}}
	p := newTestPlanner(nil, llm)

	_, err := p.GeneratePlan(context.Background(),
		core.Goal{Text: "search for go releases and then summarize them"}, "c1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPlanningFailed)
	// Initial attempt plus MaxReplans retries.
	assert.Equal(t, 3, llm.Calls())
}

func TestGeneratePlanHybrid(t *testing.T) {
	// Similarity sits between the relaxed and the strict threshold.
	skills := &fakeSkills{matches: []memory.SkillMatch{provenSkill(0.65)}}
	llm := &core.MockLLM{Responses: []string{"unusable adaptation output"}}
	p := newTestPlanner(skills, llm)

	plan, err := p.GeneratePlan(context.Background(), core.Goal{Text: "search for go releases"}, "c1")
	require.NoError(t, err)

	assert.Equal(t, core.OriginHybrid, plan.Metadata.Origin)
	assert.Equal(t, "skill_abc", plan.Metadata.SourceSkillID)
	require.Len(t, plan.Tasks, 2)
}

func TestGeneratePlanNoLLMConfigured(t *testing.T) {
	p := newTestPlanner(nil, nil)
	_, err := p.GeneratePlan(context.Background(), core.Goal{Text: "summarize the report"}, "c1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPlanningFailed)
}

func TestGeneratePlanCaches(t *testing.T) {
	llm := &core.MockLLM{Responses: []string{validPlanResponse}}
	p := newTestPlanner(nil, llm)
	goal := core.Goal{Text: "search for go releases and then summarize them"}

	first, err := p.GeneratePlan(context.Background(), goal, "c1")
	require.NoError(t, err)
	second, err := p.GeneratePlan(context.Background(), goal, "c1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, llm.Calls())
}

func TestPlanCacheTTLAndCapacity(t *testing.T) {
	c := NewPlanCache(2)
	c.Put("goal one", &core.Plan{ID: "p1"})
	c.Put("goal two", &core.Plan{ID: "p2"})
	c.Put("goal three", &core.Plan{ID: "p3"})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("goal one")
	assert.False(t, ok, "oldest entry evicted")

	got, ok := c.Get("goal three")
	require.True(t, ok)
	assert.Equal(t, "p3", got.ID)
}

func TestRankCandidatesOrdering(t *testing.T) {
	analysis := AnalyzeGoal("search for go releases")
	weak := provenSkill(0.4)
	weak.Skill.ID = "skill_weak"
	strong := provenSkill(0.9)

	ranked := rankCandidates([]memory.SkillMatch{weak, strong}, analysis, nil)
	require.Len(t, ranked, 2)
	assert.Equal(t, "skill_abc", ranked[0].match.Skill.ID)
	assert.Greater(t, ranked[0].score, ranked[1].score)
	// 0.4*0.9 + 0.4*0.9 + 0.2*1.0 with the search category matching intent.
	assert.InDelta(t, 0.92, ranked[0].score, 1e-9)
}

func TestContextRelevanceNoCategories(t *testing.T) {
	analysis := AnalyzeGoal("search for go releases")
	assert.Equal(t, 0.5, contextRelevance(core.Skill{}, analysis, nil))
}

func TestTasksFromStepsBackfillsParameters(t *testing.T) {
	skill := provenSkill(1).Skill
	tasks := tasksFromSteps(skill)
	require.Len(t, tasks, 2)

	assert.Equal(t, core.TaskTypeSearch, tasks[0].Type)
	assert.Equal(t, "search for the topic", tasks[0].Parameters["query"])
	assert.Equal(t, core.TaskTypeGenerate, tasks[1].Type)
	assert.Equal(t, "summarize the findings", tasks[1].Parameters["prompt"])
	assert.Equal(t, []string{"t1"}, tasks[1].DependsOn)
	assert.Equal(t, 10*time.Second, tasks[0].EstimatedDuration)
}
