package registry

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/evolvai/evolv/core"
)

// ExecutionRecord is the outcome of one safe tool execution.
type ExecutionRecord struct {
	Success  bool
	Value    interface{}
	Duration time.Duration
	Error    error
	ToolName string
}

// SafeExecute runs a tool by name with panic recovery and metrics capture.
// The tool's metrics are updated atomically for every outcome, including
// panics, which surface as ordinary errors.
func (r *Registry) SafeExecute(ctx context.Context, name string, params map[string]interface{}) ExecutionRecord {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ExecutionRecord{
			ToolName: name,
			Error:    &core.FrameworkError{Op: "registry.SafeExecute", Kind: "registry", ID: name, Err: core.ErrToolNotFound},
		}
	}

	start := time.Now()
	value, err := runRecovered(ctx, reg.tool, params)
	duration := time.Since(start)
	reg.metrics.Record(err == nil, duration)

	if err != nil {
		r.logger.Debug("Tool execution failed", map[string]interface{}{
			"operation": "tool_execute",
			"tool":      name,
			"duration":  duration.String(),
			"error":     err.Error(),
		})
		return ExecutionRecord{ToolName: name, Duration: duration, Error: err}
	}
	return ExecutionRecord{ToolName: name, Duration: duration, Success: true, Value: value}
}

func runRecovered(ctx context.Context, tool Tool, params map[string]interface{}) (value interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v\n%s", tool.Name(), rec, debug.Stack())
		}
	}()
	return tool.Execute(ctx, params)
}
