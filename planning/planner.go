package planning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/memory"
	"github.com/evolvai/evolv/messaging"
)

// planTemperature keeps LLM planning output near-deterministic.
const planTemperature = 0.1

// minSkillSuccessRate gates skill-based planning on history, not just
// similarity.
const minSkillSuccessRate = 0.7

// SkillSource is the slice of the knowledge store the planner reads.
type SkillSource interface {
	SearchSkills(ctx context.Context, query string, filter memory.SkillFilter, limit int) ([]memory.SkillMatch, error)
	ParameterDefaults(taskType string) map[string]interface{}
}

// ToolCatalog lets the planner check and enumerate registered tools.
type ToolCatalog interface {
	ToolChecker
	Names() []string
}

// Planner turns a goal into a validated, banded plan using one of three
// strategies: skill-based adaptation, LLM reasoning, or a hybrid of both.
type Planner struct {
	knowledge SkillSource
	llm       core.LLMClient
	tools     ToolCatalog
	bus       messaging.Publisher
	cache     *PlanCache
	config    core.PlanningConfig
	logger    core.Logger
}

// NewPlanner wires a planner. knowledge, tools, and bus may be nil; llm
// is required for LLM and hybrid strategies.
func NewPlanner(knowledge SkillSource, llm core.LLMClient, tools ToolCatalog, bus messaging.Publisher, config core.PlanningConfig, logger core.Logger) *Planner {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = 0.7
	}
	if config.SkillConfidenceThreshold <= 0 {
		config.SkillConfidenceThreshold = 0.8
	}
	if config.MaxReplans <= 0 {
		config.MaxReplans = 2
	}
	return &Planner{
		knowledge: knowledge,
		llm:       llm,
		tools:     tools,
		bus:       bus,
		cache:     NewPlanCache(config.CacheCapacity),
		config:    config,
		logger:    logger,
	}
}

// GeneratePlan produces a plan for the goal. The correlation ID ties the
// emitted events to the owning session.
func (p *Planner) GeneratePlan(ctx context.Context, goal core.Goal, correlationID string) (*core.Plan, error) {
	analysis := AnalyzeGoal(goal.Text)
	if analysis.Normalized == "" {
		return nil, &core.FrameworkError{Op: "planner.GeneratePlan", Kind: "planning", Err: core.ErrInvalidPlan, Message: "empty goal"}
	}

	if cached, ok := p.cache.Get(analysis.Normalized); ok {
		p.logger.Debug("Plan cache hit", map[string]interface{}{
			"operation": "plan_generate",
			"plan_id":   cached.ID,
		})
		return cached, nil
	}

	candidates := p.searchCandidates(ctx, analysis, goal.Context)
	plan, err := p.planByStrategy(ctx, analysis, goal, candidates)
	if err != nil {
		return nil, err
	}

	p.optimize(plan)
	p.cache.Put(analysis.Normalized, plan)

	p.logger.Info("Plan generated", map[string]interface{}{
		"operation":  "plan_generate",
		"plan_id":    plan.ID,
		"origin":     string(plan.Metadata.Origin),
		"tasks":      len(plan.Tasks),
		"confidence": plan.Metadata.Confidence,
	})
	if p.bus != nil {
		evt := messaging.NewPlanGenerated(correlationID, plan.ID, string(plan.Metadata.Origin), len(plan.Tasks), plan.Metadata.Confidence)
		_ = p.bus.Publish(ctx, messaging.TopicEvents, evt)
	}
	return plan, nil
}

func (p *Planner) searchCandidates(ctx context.Context, analysis GoalAnalysis, goalContext map[string]interface{}) []rankedSkill {
	if p.knowledge == nil {
		return nil
	}
	matches, err := p.knowledge.SearchSkills(ctx, analysis.Normalized, memory.SkillFilter{}, 5)
	if err != nil {
		p.logger.Warn("Skill search failed", map[string]interface{}{
			"operation": "plan_generate",
			"error":     err.Error(),
		})
		return nil
	}
	contextKeys := make([]string, 0, len(goalContext))
	for k := range goalContext {
		contextKeys = append(contextKeys, k)
	}
	return rankCandidates(matches, analysis, contextKeys)
}

// planByStrategy picks and runs one of the three strategies.
func (p *Planner) planByStrategy(ctx context.Context, analysis GoalAnalysis, goal core.Goal, candidates []rankedSkill) (*core.Plan, error) {
	if best, ok := p.eligibleSkill(candidates, p.config.SimilarityThreshold); ok {
		return p.planFromSkill(ctx, analysis, best)
	}
	if analysis.Complex {
		return p.planFromLLM(ctx, analysis, goal)
	}
	return p.planHybrid(ctx, analysis, goal, candidates)
}

// eligibleSkill returns the top candidate passing both the similarity
// and the success-rate gates.
func (p *Planner) eligibleSkill(candidates []rankedSkill, minSimilarity float64) (rankedSkill, bool) {
	for _, c := range candidates {
		if c.match.Similarity >= minSimilarity && c.match.Skill.Metrics.SuccessRate > minSkillSuccessRate {
			return c, true
		}
	}
	return rankedSkill{}, false
}

func (p *Planner) planFromSkill(ctx context.Context, analysis GoalAnalysis, candidate rankedSkill) (*core.Plan, error) {
	tasks, err := p.adaptSkill(ctx, candidate.match.Skill, analysis)
	if err != nil {
		return nil, err
	}
	plan := p.assemble(analysis, tasks, core.PlanMetadata{
		Origin:        core.OriginAdapted,
		SourceSkillID: candidate.match.Skill.ID,
		Confidence:    candidate.score,
	})
	if err := ValidatePlan(plan, p.tools); err != nil {
		// Skill steps did not survive as a valid plan; the LLM path is
		// the fallback.
		p.logger.Warn("Adapted plan invalid, falling back to generation", map[string]interface{}{
			"operation": "plan_generate",
			"skill_id":  candidate.match.Skill.ID,
			"error":     err.Error(),
		})
		return p.planFromLLM(ctx, analysis, core.Goal{Text: analysis.Raw})
	}
	return plan, nil
}

func (p *Planner) planFromLLM(ctx context.Context, analysis GoalAnalysis, goal core.Goal) (*core.Plan, error) {
	if p.llm == nil {
		return nil, &core.FrameworkError{Op: "planner.planFromLLM", Kind: "planning", Err: core.ErrPlanningFailed, Message: "no LLM client configured"}
	}

	var toolNames []string
	if p.tools != nil {
		toolNames = p.tools.Names()
	}
	prompt := BuildPlanPrompt(analysis, goal.Context, toolNames)

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxReplans; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res, err := p.llm.Generate(ctx, prompt, &core.GenerateOptions{
			Temperature: planTemperature,
			Model:       p.config.Model,
		})
		if err != nil {
			lastErr = err
			continue
		}
		doc, err := ParsePlanResponse(res.Content)
		if err != nil {
			lastErr = err
			prompt = replanPrompt(prompt, err)
			continue
		}
		plan := p.assemble(analysis, doc.toTasks(), core.PlanMetadata{
			Origin:     core.OriginGenerated,
			Model:      p.config.Model,
			Confidence: 0.75,
		})
		if err := ValidatePlan(plan, p.tools); err != nil {
			lastErr = err
			prompt = replanPrompt(prompt, err)
			continue
		}
		return plan, nil
	}
	return nil, &core.FrameworkError{
		Op:      "planner.planFromLLM",
		Kind:    "planning",
		Err:     core.ErrPlanningFailed,
		Message: fmt.Sprintf("no valid plan after %d attempts: %v", p.config.MaxReplans+1, lastErr),
	}
}

// planHybrid starts from the best available skill under a relaxed
// similarity gate and augments with LLM tasks when confidence is short.
func (p *Planner) planHybrid(ctx context.Context, analysis GoalAnalysis, goal core.Goal, candidates []rankedSkill) (*core.Plan, error) {
	relaxed := p.config.SimilarityThreshold * 0.8
	best, ok := p.eligibleSkill(candidates, relaxed)
	if !ok {
		return p.planFromLLM(ctx, analysis, goal)
	}

	tasks, err := p.adaptSkill(ctx, best.match.Skill, analysis)
	if err != nil {
		return p.planFromLLM(ctx, analysis, goal)
	}
	confidence := best.score

	if confidence < p.config.SkillConfidenceThreshold {
		generated, err := p.planFromLLM(ctx, analysis, goal)
		if err == nil {
			tasks = unionTasks(tasks, generated.Tasks)
			confidence = (confidence + generated.Metadata.Confidence) / 2
		}
	}

	plan := p.assemble(analysis, tasks, core.PlanMetadata{
		Origin:        core.OriginHybrid,
		SourceSkillID: best.match.Skill.ID,
		Model:         p.config.Model,
		Confidence:    confidence,
	})
	if err := ValidatePlan(plan, p.tools); err != nil {
		return p.planFromLLM(ctx, analysis, goal)
	}
	return plan, nil
}

// unionTasks merges two task sets, deduplicating on task ID with the
// skill-derived tasks winning.
func unionTasks(primary, secondary []core.Task) []core.Task {
	seen := make(map[string]bool, len(primary))
	out := append([]core.Task(nil), primary...)
	for _, t := range primary {
		seen[t.ID] = true
	}
	for _, t := range secondary {
		if !seen[t.ID] {
			out = append(out, t)
			seen[t.ID] = true
		}
	}
	return out
}

func (p *Planner) assemble(analysis GoalAnalysis, tasks []core.Task, meta core.PlanMetadata) *core.Plan {
	meta.CreatedAt = time.Now()
	return &core.Plan{
		ID:        "plan_" + uuid.NewString(),
		Objective: analysis.TaggedObjective(),
		Tasks:     tasks,
		Metadata:  meta,
	}
}

func replanPrompt(prompt string, cause error) string {
	return prompt + fmt.Sprintf("\nThe previous attempt was rejected: %v\nFix the problem and respond again with only the JSON object.\n", cause)
}
