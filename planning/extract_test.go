package planning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evolvai/evolv/core"
)

func TestExtractPlanJSONFenced(t *testing.T) {
	response := "Here is the plan:\n```json\n{\"tasks\": []}\n```\nDone."
	raw, err := ExtractPlanJSON(response)
	require.NoError(t, err)
	assert.Equal(t, `{"tasks": []}`, raw)
}

func TestExtractPlanJSONBareFence(t *testing.T) {
	response := "```\n{\"tasks\": []}\n```"
	raw, err := ExtractPlanJSON(response)
	require.NoError(t, err)
	assert.Equal(t, `{"tasks": []}`, raw)
}

func TestExtractPlanJSONBalancedBraces(t *testing.T) {
	response := `The plan follows. {"objective": "x", "tasks": [{"id": "t1"}]} That is all.`
	raw, err := ExtractPlanJSON(response)
	require.NoError(t, err)
	assert.Equal(t, `{"objective": "x", "tasks": [{"id": "t1"}]}`, raw)
}

func TestExtractPlanJSONIgnoresBracesInStrings(t *testing.T) {
	response := `{"objective": "use {curly} braces \" quoted", "tasks": []}`
	raw, err := ExtractPlanJSON(response)
	require.NoError(t, err)
	assert.Equal(t, response, raw)
}

func TestExtractPlanJSONNoObject(t *testing.T) {
	_, err := ExtractPlanJSON("sorry, I cannot produce a plan")
	assert.ErrorIs(t, err, core.ErrPlanningFailed)
}

func TestParsePlanResponse(t *testing.T) {
	response := "```json\n" + `{
		"objective": "find and summarize",
		"tasks": [
			{"id": "t1", "description": "look up", "type": "search",
			 "tool": "http_fetch", "parameters": {"query": "go releases"},
			 "estimated_duration_seconds": 5, "critical": true},
			{"id": "t2", "description": "write up", "type": "generate",
			 "parameters": {"prompt": "summarize"}, "depends_on": ["t1"]}
		]
	}` + "\n```"

	doc, err := ParsePlanResponse(response)
	require.NoError(t, err)
	assert.Equal(t, "find and summarize", doc.Objective)

	tasks := doc.toTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, core.TaskTypeSearch, tasks[0].Type)
	assert.Equal(t, 5*time.Second, tasks[0].EstimatedDuration)
	assert.True(t, tasks[0].Critical)
	// Missing tool falls back to auto selection.
	assert.Equal(t, core.ToolAuto, tasks[1].Tool)
	assert.Equal(t, []string{"t1"}, tasks[1].DependsOn)
}

func TestParsePlanResponseMalformedJSON(t *testing.T) {
	_, err := ParsePlanResponse("```json\n{\"tasks\": [}\n```")
	assert.ErrorIs(t, err, core.ErrPlanningFailed)
}
