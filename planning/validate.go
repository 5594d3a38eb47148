package planning

import (
	"fmt"

	"github.com/evolvai/evolv/core"
)

// ToolChecker answers whether a tool name is registered.
type ToolChecker interface {
	Has(name string) bool
}

// ValidatePlan enforces the structural rules every plan must satisfy
// before execution. tools may be nil, which skips tool existence checks.
func ValidatePlan(plan *core.Plan, tools ToolChecker) error {
	if plan == nil || len(plan.Tasks) == 0 {
		return fmt.Errorf("%w: plan has no tasks", core.ErrInvalidPlan)
	}

	seen := make(map[string]bool, len(plan.Tasks))
	for _, task := range plan.Tasks {
		if task.ID == "" {
			return fmt.Errorf("%w: task with empty ID", core.ErrInvalidPlan)
		}
		if seen[task.ID] {
			return fmt.Errorf("%w: duplicate task ID %s", core.ErrInvalidPlan, task.ID)
		}
		seen[task.ID] = true
	}

	for _, task := range plan.Tasks {
		if err := validateTask(task, tools); err != nil {
			return err
		}
	}

	graph := NewTaskGraph(plan.Tasks)
	return graph.Validate()
}

func validateTask(task core.Task, tools ToolChecker) error {
	switch task.Type {
	case core.TaskTypeSearch:
		if _, ok := task.Parameters["query"]; !ok {
			return fmt.Errorf("%w: search task %s missing query parameter", core.ErrInvalidPlan, task.ID)
		}
	case core.TaskTypeGenerate:
		if _, ok := task.Parameters["prompt"]; !ok {
			return fmt.Errorf("%w: generate task %s missing prompt parameter", core.ErrInvalidPlan, task.ID)
		}
	case core.TaskTypeAnalyze, core.TaskTypeCall:
	case "":
		return fmt.Errorf("%w: task %s missing type", core.ErrInvalidPlan, task.ID)
	default:
		return fmt.Errorf("%w: task %s has unknown type %q", core.ErrInvalidPlan, task.ID, task.Type)
	}

	if task.Tool == "" {
		return fmt.Errorf("%w: task %s missing tool selector", core.ErrInvalidPlan, task.ID)
	}
	if task.Tool != core.ToolAuto && tools != nil && !tools.Has(task.Tool) {
		return fmt.Errorf("%w: task %s references unknown tool %s", core.ErrInvalidPlan, task.ID, task.Tool)
	}
	return nil
}
