package planning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evolvai/evolv/core"
)

func diamondTasks() []core.Task {
	return []core.Task{
		{ID: "a", EstimatedDuration: time.Second},
		{ID: "b", DependsOn: []string{"a"}, EstimatedDuration: 2 * time.Second},
		{ID: "c", DependsOn: []string{"a"}, EstimatedDuration: 4 * time.Second},
		{ID: "d", DependsOn: []string{"b", "c"}, EstimatedDuration: time.Second},
	}
}

func TestGraphValidate(t *testing.T) {
	assert.NoError(t, NewTaskGraph(diamondTasks()).Validate())
}

func TestGraphValidateMissingDependency(t *testing.T) {
	g := NewTaskGraph([]core.Task{{ID: "a", DependsOn: []string{"ghost"}}})
	assert.ErrorIs(t, g.Validate(), core.ErrInvalidPlan)
}

func TestGraphValidateCycle(t *testing.T) {
	g := NewTaskGraph([]core.Task{
		{ID: "a", DependsOn: []string{"c"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	})
	err := g.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidPlan)
	assert.Contains(t, err.Error(), "cycle")
}

func TestTopologicalOrder(t *testing.T) {
	order := NewTaskGraph(diamondTasks()).TopologicalOrder()
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestExecutionBands(t *testing.T) {
	bands := NewTaskGraph(diamondTasks()).ExecutionBands()
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, bands)
}

func TestExecutionBandsIndependentTasks(t *testing.T) {
	bands := NewTaskGraph([]core.Task{{ID: "x"}, {ID: "y"}, {ID: "z"}}).ExecutionBands()
	assert.Equal(t, [][]string{{"x", "y", "z"}}, bands)
}

func TestCriticalPath(t *testing.T) {
	// Longest chain is a -> c -> d: 1 + 4 + 1 seconds.
	assert.Equal(t, 6*time.Second, NewTaskGraph(diamondTasks()).CriticalPath())
}

func TestCriticalPathEmptyGraph(t *testing.T) {
	assert.Equal(t, time.Duration(0), NewTaskGraph(nil).CriticalPath())
}
