package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/memory"
)

// candidate weights: similarity carries as much as history, context
// relevance breaks ties.
const (
	weightSimilarity = 0.4
	weightSuccess    = 0.4
	weightContext    = 0.2
)

type rankedSkill struct {
	match memory.SkillMatch
	score float64
}

// rankCandidates scores skill matches against the goal analysis.
func rankCandidates(matches []memory.SkillMatch, analysis GoalAnalysis, contextKeys []string) []rankedSkill {
	ranked := make([]rankedSkill, 0, len(matches))
	for _, m := range matches {
		score := weightSimilarity*m.Similarity +
			weightSuccess*m.Skill.Metrics.SuccessRate +
			weightContext*contextRelevance(m.Skill, analysis, contextKeys)
		ranked = append(ranked, rankedSkill{match: m, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}

// contextRelevance measures overlap between the skill's categories and
// the goal's intent, task type, and context keys.
func contextRelevance(skill core.Skill, analysis GoalAnalysis, contextKeys []string) float64 {
	if len(skill.Categories) == 0 {
		return 0.5
	}
	hits := 0
	for _, cat := range skill.Categories {
		lc := strings.ToLower(cat)
		if lc == string(analysis.Intent) || lc == analysis.TaskType {
			hits++
			continue
		}
		for _, key := range contextKeys {
			if lc == strings.ToLower(key) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(skill.Categories))
}

// adaptSkill rewrites the selected skill's steps for the new goal. The
// LLM adjusts descriptions and parameters but the step order and
// dependency structure are taken from the skill. When the LLM response is
// unusable the skill's steps are used as-is.
func (p *Planner) adaptSkill(ctx context.Context, skill core.Skill, analysis GoalAnalysis) ([]core.Task, error) {
	base := tasksFromSteps(skill)
	if len(base) == 0 {
		return nil, fmt.Errorf("%w: skill %s has no steps", core.ErrPlanningFailed, skill.ID)
	}

	stepsJSON, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return base, nil
	}
	prompt := BuildAdaptPrompt(analysis, skill.Name, string(stepsJSON))
	res, err := p.llm.Generate(ctx, prompt, &core.GenerateOptions{
		Temperature: planTemperature,
		Model:       p.config.Model,
	})
	if err != nil {
		p.logger.Warn("Skill adaptation LLM call failed, using steps verbatim", map[string]interface{}{
			"operation": "plan_adapt",
			"skill_id":  skill.ID,
			"error":     err.Error(),
		})
		return base, nil
	}

	doc, err := ParsePlanResponse(res.Content)
	if err != nil {
		return base, nil
	}
	adapted := doc.toTasks()
	if !sameStructure(base, adapted) {
		p.logger.Warn("Adapted plan changed step structure, using steps verbatim", map[string]interface{}{
			"operation": "plan_adapt",
			"skill_id":  skill.ID,
		})
		return base, nil
	}
	return adapted, nil
}

// sameStructure verifies the adaptation kept ids, order, types, and
// dependencies.
func sameStructure(base, adapted []core.Task) bool {
	if len(base) != len(adapted) {
		return false
	}
	for i := range base {
		if base[i].ID != adapted[i].ID || base[i].Type != adapted[i].Type {
			return false
		}
		if len(base[i].DependsOn) != len(adapted[i].DependsOn) {
			return false
		}
		for j := range base[i].DependsOn {
			if base[i].DependsOn[j] != adapted[i].DependsOn[j] {
				return false
			}
		}
	}
	return true
}

// tasksFromSteps turns a skill's ordered steps into a sequential task
// chain.
func tasksFromSteps(skill core.Skill) []core.Task {
	tasks := make([]core.Task, 0, len(skill.Steps))
	for i, step := range skill.Steps {
		task := core.Task{
			ID:          fmt.Sprintf("t%d", i+1),
			Description: step.Action,
			Type:        stepTaskType(step),
			Tool:        core.ToolAuto,
			Parameters:  cloneParams(step.Parameters),
		}
		if len(step.RequiredTools) > 0 {
			task.Tool = step.RequiredTools[0]
		}
		switch task.Type {
		case core.TaskTypeSearch:
			if _, ok := task.Parameters["query"]; !ok {
				task.Parameters["query"] = step.Action
			}
		case core.TaskTypeGenerate:
			if _, ok := task.Parameters["prompt"]; !ok {
				task.Parameters["prompt"] = step.Action
			}
		}
		if i > 0 {
			task.DependsOn = []string{fmt.Sprintf("t%d", i)}
		}
		if skill.EstimatedTimeout > 0 {
			task.EstimatedDuration = skill.EstimatedTimeout / time.Duration(len(skill.Steps))
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func stepTaskType(step core.SkillStep) string {
	action := strings.ToLower(step.Action)
	switch {
	case strings.Contains(action, "search") || strings.Contains(action, "find") || strings.Contains(action, "fetch"):
		return core.TaskTypeSearch
	case strings.Contains(action, "analyze") || strings.Contains(action, "compare") || strings.Contains(action, "evaluate"):
		return core.TaskTypeAnalyze
	case strings.Contains(action, "call") || strings.Contains(action, "invoke") || strings.Contains(action, "request"):
		return core.TaskTypeCall
	default:
		return core.TaskTypeGenerate
	}
}

func cloneParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
