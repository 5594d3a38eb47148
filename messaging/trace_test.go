package messaging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceSpanNesting(t *testing.T) {
	c := NewTraceCollector(0)

	root := c.StartSpan("c1", "orchestrator", "goal")
	planning := c.StartSpan("c1", "planner", "plan")
	planning.SetTag("origin", "generated")
	planning.End(true, "")

	executing := c.StartSpan("c1", "execution", "execute")
	task := c.StartSpan("c1", "execution", "task")
	task.End(true, "")
	executing.End(true, "")

	trace, ok := c.GetTrace("c1")
	require.True(t, ok)
	assert.False(t, trace.Finalized)

	require.Len(t, trace.Root.Children, 2)
	assert.Equal(t, "plan", trace.Root.Children[0].Action)
	assert.Equal(t, "generated", trace.Root.Children[0].Tags["origin"])
	assert.Equal(t, root.ID, trace.Root.Children[0].ParentID)

	// The task span nested under the executing span, not the root.
	require.Len(t, trace.Root.Children[1].Children, 1)
	assert.Equal(t, "task", trace.Root.Children[1].Children[0].Action)

	root.End(true, "")
	trace, ok = c.GetTrace("c1")
	require.True(t, ok)
	assert.True(t, trace.Finalized)
	assert.Equal(t, 1, c.FinalizedCount())
}

func TestTraceSpanEndIsIdempotent(t *testing.T) {
	c := NewTraceCollector(0)
	span := c.StartSpan("c1", "m", "a")
	span.End(true, "")
	first := span.Duration
	span.End(false, "second end ignored")

	assert.Equal(t, first, span.Duration)
	assert.True(t, span.Success)
	assert.Empty(t, span.Error)
}

func TestTraceRecordsFailure(t *testing.T) {
	c := NewTraceCollector(0)
	root := c.StartSpan("c1", "orchestrator", "goal")
	root.End(false, "planning failed")

	trace, ok := c.GetTrace("c1")
	require.True(t, ok)
	assert.False(t, trace.Root.Success)
	assert.Equal(t, "planning failed", trace.Root.Error)
}

func TestTraceCollectorEviction(t *testing.T) {
	c := NewTraceCollector(2)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("c%d", i)
		c.StartSpan(id, "m", "a").End(true, "")
	}

	assert.Equal(t, 2, c.FinalizedCount())
	_, ok := c.GetTrace("c0")
	assert.False(t, ok, "oldest trace evicted")
	_, ok = c.GetTrace("c2")
	assert.True(t, ok)
}

func TestTraceNewRootAfterFinalize(t *testing.T) {
	c := NewTraceCollector(0)

	c.StartSpan("c1", "m", "first").End(true, "")
	second := c.StartSpan("c1", "m", "second")

	// A fresh root starts a new in-flight trace; the finalized one is
	// still the retained answer for the correlation ID.
	trace, ok := c.GetTrace("c1")
	require.True(t, ok)
	assert.True(t, trace.Finalized)
	assert.Equal(t, "first", trace.Root.Action)
	second.End(true, "")
}
