package planning

import (
	"time"

	"github.com/evolvai/evolv/core"
)

// planSlack pads the critical-path estimate to absorb retries and queue
// waits.
const planSlack = 1.2

// optimize orders the plan into parallel bands, normalizes parameters
// from stored defaults, and estimates total duration.
func (p *Planner) optimize(plan *core.Plan) {
	graph := NewTaskGraph(plan.Tasks)
	plan.Bands = graph.ExecutionBands()

	for i := range plan.Tasks {
		p.normalizeTask(&plan.Tasks[i])
	}

	if plan.Resources == nil {
		plan.Resources = map[string]interface{}{}
	}
	critical := graph.CriticalPath()
	plan.Resources["estimated_duration"] = time.Duration(float64(critical) * planSlack).String()
}

// normalizeTask applies stored per-(taskType, parameter) defaults and
// backfills the parameters the task type requires from the description.
func (p *Planner) normalizeTask(task *core.Task) {
	if task.Parameters == nil {
		task.Parameters = map[string]interface{}{}
	}
	if p.knowledge != nil {
		for param, value := range p.knowledge.ParameterDefaults(task.Type) {
			if _, set := task.Parameters[param]; !set {
				task.Parameters[param] = value
			}
		}
	}
	switch task.Type {
	case core.TaskTypeSearch:
		if _, ok := task.Parameters["query"]; !ok && task.Description != "" {
			task.Parameters["query"] = task.Description
		}
	case core.TaskTypeGenerate:
		if _, ok := task.Parameters["prompt"]; !ok && task.Description != "" {
			task.Parameters["prompt"] = task.Description
		}
	}
}
