package learning

import (
	"fmt"
	"time"

	"github.com/evolvai/evolv/core"
)

// twoStepEpisode builds a sealed-shape episode with a search task followed
// by a generate task. The query varies per episode; the format parameter is
// constant across the group.
func twoStepEpisode(n int, state core.ExecutionState, totalDuration time.Duration) *core.Episode {
	start := time.Now().Add(-time.Duration(n+1) * time.Minute)
	success := state == core.StateSuccess
	e := &core.Episode{
		ID:        fmt.Sprintf("episode_%d", n),
		SessionID: "s1",
		Goal:      fmt.Sprintf("find and summarize topic %d", n),
		State:     state,
		Plan: core.Plan{
			ID: fmt.Sprintf("plan_%d", n),
			Tasks: []core.Task{
				{ID: "t1", Type: core.TaskTypeSearch, Tool: "http_fetch",
					Description: "search for the topic",
					Parameters: map[string]interface{}{
						"query":  fmt.Sprintf("topic %d", n),
						"format": "json",
					}},
				{ID: "t2", Type: core.TaskTypeGenerate, Tool: "text_generate",
					Description: "summarize the findings",
					Parameters:  map[string]interface{}{"prompt": "summarize"},
					DependsOn:   []string{"t1"}},
			},
		},
		Results: []core.TaskResult{
			{TaskID: "t1", Success: success, State: state, Tool: "http_fetch", Duration: totalDuration / 2},
			{TaskID: "t2", Success: success, State: state, Tool: "text_generate", Duration: totalDuration / 2},
		},
		StartTime:     start,
		EndTime:       start.Add(totalDuration),
		TotalDuration: totalDuration,
	}
	e.ComputeMetrics()
	return e
}

// toolEpisode builds a single-task episode for tool performance tests.
func toolEpisode(n int, taskType, tool string, success bool, duration time.Duration) *core.Episode {
	state := core.StateSuccess
	if !success {
		state = core.StateFailure
	}
	start := time.Now().Add(-time.Duration(n+1) * time.Minute)
	e := &core.Episode{
		ID:        fmt.Sprintf("episode_%s_%d", tool, n),
		SessionID: "s1",
		Goal:      fmt.Sprintf("run %s %d", tool, n),
		State:     state,
		Plan: core.Plan{
			ID:    fmt.Sprintf("plan_%s_%d", tool, n),
			Tasks: []core.Task{{ID: "t1", Type: taskType, Tool: tool}},
		},
		Results: []core.TaskResult{
			{TaskID: "t1", Success: success, State: state, Tool: tool, Duration: duration},
		},
		StartTime:     start,
		EndTime:       start.Add(duration),
		TotalDuration: duration,
	}
	e.ComputeMetrics()
	return e
}
