package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evolvai/evolv/core"
)

type fakeCatalog struct {
	tools []string
}

func (f *fakeCatalog) Has(name string) bool {
	for _, t := range f.tools {
		if t == name {
			return true
		}
	}
	return false
}

func (f *fakeCatalog) Names() []string { return append([]string(nil), f.tools...) }

func validPlan() *core.Plan {
	return &core.Plan{
		ID: "plan_x",
		Tasks: []core.Task{
			{ID: "t1", Type: core.TaskTypeSearch, Tool: "http_fetch",
				Parameters: map[string]interface{}{"query": "go"}},
			{ID: "t2", Type: core.TaskTypeGenerate, Tool: core.ToolAuto,
				Parameters: map[string]interface{}{"prompt": "summarize"},
				DependsOn:  []string{"t1"}},
		},
	}
}

func TestValidatePlan(t *testing.T) {
	catalog := &fakeCatalog{tools: []string{"http_fetch"}}

	tests := []struct {
		name    string
		mutate  func(*core.Plan)
		wantErr string
	}{
		{"valid", nil, ""},
		{"no tasks", func(p *core.Plan) { p.Tasks = nil }, "no tasks"},
		{"empty task id", func(p *core.Plan) { p.Tasks[0].ID = "" }, "empty ID"},
		{"duplicate task id", func(p *core.Plan) { p.Tasks[1].ID = "t1" }, "duplicate"},
		{"search without query", func(p *core.Plan) { delete(p.Tasks[0].Parameters, "query") }, "query"},
		{"generate without prompt", func(p *core.Plan) { delete(p.Tasks[1].Parameters, "prompt") }, "prompt"},
		{"missing type", func(p *core.Plan) { p.Tasks[0].Type = "" }, "missing type"},
		{"unknown type", func(p *core.Plan) { p.Tasks[0].Type = "juggle" }, "unknown type"},
		{"missing tool selector", func(p *core.Plan) { p.Tasks[0].Tool = "" }, "tool selector"},
		{"unregistered tool", func(p *core.Plan) { p.Tasks[0].Tool = "ghost" }, "unknown tool"},
		{"unknown dependency", func(p *core.Plan) { p.Tasks[1].DependsOn = []string{"ghost"} }, "unknown task"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := validPlan()
			if tt.mutate != nil {
				tt.mutate(plan)
			}
			err := ValidatePlan(plan, catalog)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, core.ErrInvalidPlan)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidatePlanNilCatalogSkipsToolCheck(t *testing.T) {
	plan := validPlan()
	plan.Tasks[0].Tool = "anything-goes"
	assert.NoError(t, ValidatePlan(plan, nil))
}

func TestValidatePlanAnalyzeAndCallNeedNoParams(t *testing.T) {
	plan := &core.Plan{Tasks: []core.Task{
		{ID: "t1", Type: core.TaskTypeAnalyze, Tool: core.ToolAuto},
		{ID: "t2", Type: core.TaskTypeCall, Tool: core.ToolAuto},
	}}
	assert.NoError(t, ValidatePlan(plan, nil))
}
