package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/messaging"
	"github.com/evolvai/evolv/registry"
)

// ToolSource is the slice of the registry the engine needs.
type ToolSource interface {
	Get(name string) (registry.Tool, bool)
	ListByTaskType(taskType string) []registry.RankedTool
	SafeExecute(ctx context.Context, name string, params map[string]interface{}) registry.ExecutionRecord
}

// KnowledgeSink receives the engine's write-backs to the knowledge store:
// preference samples for every outcome and a lightweight skill sample for
// every success.
type KnowledgeSink interface {
	PreferredTool(taskType string) (string, bool)
	UpdatePreference(taskType, tool string, success bool, duration time.Duration)
	RecordSample(ctx context.Context, sample core.SkillSample) error
}

// Context carries the execution scope of one task.
type Context struct {
	SessionID     string
	PlanID        string
	CorrelationID string
}

// Engine executes one task end to end: validate, resolve the tool,
// dispatch under a deadline, classify failures, and retry recoverable ones
// under backoff. It never returns an error: every outcome folds into a
// TaskResult.
type Engine struct {
	tools     ToolSource
	pool      *WorkerPool
	knowledge KnowledgeSink
	bus       messaging.Publisher
	config    core.ExecutionConfig
	logger    core.Logger
}

// NewEngine creates an execution engine. knowledge and bus may be nil.
func NewEngine(tools ToolSource, knowledge KnowledgeSink, bus messaging.Publisher, config core.ExecutionConfig, logger core.Logger) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 2 * time.Second
	}
	if config.RetryBackoff == "" {
		config.RetryBackoff = string(BackoffExponential)
	}
	return &Engine{
		tools:     tools,
		pool:      NewWorkerPool(config.WorkerPool, config.QueueTimeout),
		knowledge: knowledge,
		bus:       bus,
		config:    config,
		logger:    logger,
	}
}

// ExecuteTask runs one task to a terminal TaskResult.
func (e *Engine) ExecuteTask(ctx context.Context, task core.Task, ec Context) core.TaskResult {
	executionID := uuid.NewString()
	start := time.Now()

	if err := e.validate(task); err != nil {
		// Structural problems never retry.
		result := e.terminal(task, start, core.TaskResult{
			Success:   false,
			State:     core.StateFailure,
			Error:     err.Error(),
			ErrorKind: "invalid-task",
		})
		e.record(ctx, task, result, ec, executionID, Classification{Kind: "invalid-task", Category: "validation", Action: ActionEscalate, Confidence: 1.0})
		return result
	}

	toolName, err := e.resolveTool(task)
	if err != nil {
		result := e.terminal(task, start, core.TaskResult{
			Success:   false,
			State:     core.StateFailure,
			Error:     err.Error(),
			ErrorKind: "missing-resource",
		})
		e.record(ctx, task, result, ec, executionID, Classify(err))
		return result
	}

	deadline := e.deadline(task)
	maxRetries := e.config.MaxRetries
	switch {
	case task.MaxRetries > 0:
		maxRetries = task.MaxRetries
	case task.MaxRetries < 0:
		// Explicit opt-out: the task fails on its first error.
		maxRetries = 0
	}

	var (
		lastErr   error
		lastClass Classification
		retries   int
	)
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			result := e.terminal(task, start, core.TaskResult{
				State:     core.StateCanceled,
				Error:     ctx.Err().Error(),
				ErrorKind: "canceled",
				Tool:      toolName,
				Retries:   retries,
			})
			e.record(ctx, task, result, ec, executionID, Classify(ctx.Err()))
			return result
		}

		value, err := e.pool.Run(ctx, deadline, func(runCtx context.Context) (interface{}, error) {
			rec := e.tools.SafeExecute(runCtx, toolName, task.Parameters)
			if rec.Error != nil {
				return nil, rec.Error
			}
			return rec.Value, nil
		})
		if err == nil {
			result := e.terminal(task, start, core.TaskResult{
				Success: true,
				State:   core.StateSuccess,
				Value:   value,
				Tool:    toolName,
				Retries: retries,
			})
			e.record(ctx, task, result, ec, executionID, Classification{})
			return result
		}

		lastErr = err
		lastClass = Classify(err)
		if !lastClass.Recoverable || attempt >= maxRetries || ctx.Err() != nil {
			break
		}

		retries++
		delay := Jittered(Delay(policyFor(lastClass.Action, BackoffPolicy(e.config.RetryBackoff)), e.config.RetryBaseDelay, retries), e.config.RetryBaseDelay)
		e.logger.Debug("Retrying task", map[string]interface{}{
			"operation": "task_retry",
			"task_id":   task.ID,
			"attempt":   retries,
			"delay":     delay.String(),
			"kind":      lastClass.Kind,
		})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	state := core.StateFailure
	switch lastClass.Kind {
	case "timeout":
		state = core.StateTimeout
	case "canceled":
		state = core.StateCanceled
	}
	result := e.terminal(task, start, core.TaskResult{
		State:     state,
		Error:     lastErr.Error(),
		ErrorKind: lastClass.Kind,
		Tool:      toolName,
		Retries:   retries,
	})
	e.record(ctx, task, result, ec, executionID, lastClass)
	return result
}

func (e *Engine) validate(task core.Task) error {
	if task.ID == "" {
		return fmt.Errorf("%w: missing task ID", core.ErrInvalidTask)
	}
	if task.Type == "" {
		return fmt.Errorf("%w %s: missing type", core.ErrInvalidTask, task.ID)
	}
	if task.Tool == "" {
		return fmt.Errorf("%w %s: missing tool selector", core.ErrInvalidTask, task.ID)
	}
	switch task.Type {
	case core.TaskTypeSearch:
		if _, ok := task.Parameters["query"]; !ok {
			return fmt.Errorf("%w %s: search task requires query parameter", core.ErrInvalidTask, task.ID)
		}
	case core.TaskTypeGenerate:
		if _, ok := task.Parameters["prompt"]; !ok {
			return fmt.Errorf("%w %s: generate task requires prompt parameter", core.ErrInvalidTask, task.ID)
		}
	}
	return nil
}

// resolveTool maps the task's tool selector to a registered tool. "auto"
// prefers the learned tool for the task type when one exists, otherwise
// the registry's top-ranked candidate.
func (e *Engine) resolveTool(task core.Task) (string, error) {
	if task.Tool != core.ToolAuto {
		if _, ok := e.tools.Get(task.Tool); !ok {
			return "", &core.FrameworkError{Op: "engine.resolveTool", Kind: "execution", ID: task.Tool, Err: core.ErrToolNotFound}
		}
		return task.Tool, nil
	}
	if e.knowledge != nil {
		if preferred, ok := e.knowledge.PreferredTool(task.Type); ok {
			if _, registered := e.tools.Get(preferred); registered {
				return preferred, nil
			}
		}
	}
	ranked := e.tools.ListByTaskType(task.Type)
	if len(ranked) == 0 {
		return "", &core.FrameworkError{Op: "engine.resolveTool", Kind: "execution", ID: task.Type, Err: core.ErrToolNotFound, Message: "no tool for task type"}
	}
	return ranked[0].Tool.Name(), nil
}

func (e *Engine) deadline(task core.Task) time.Duration {
	if task.Timeout > 0 && task.Timeout < e.config.DefaultTimeout {
		return task.Timeout
	}
	return e.config.DefaultTimeout
}

func (e *Engine) terminal(task core.Task, start time.Time, result core.TaskResult) core.TaskResult {
	result.TaskID = task.ID
	result.StartTime = start
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)
	return result
}

// record emits the per-outcome metadata: structured log, event, knowledge
// write-backs.
func (e *Engine) record(ctx context.Context, task core.Task, result core.TaskResult, ec Context, executionID string, class Classification) {
	meta := BuildMetadata(task, result, ec, executionID, class)

	e.logger.Info("Task finished", map[string]interface{}{
		"operation": "task_execute",
		"task_id":   task.ID,
		"state":     string(result.State),
		"tool":      result.Tool,
		"duration":  result.Duration.String(),
		"retries":   result.Retries,
	})

	if e.bus != nil {
		evt := messaging.NewTaskExecuted(ec.CorrelationID, task.ID, string(result.State), result.Tool, result.Duration)
		if err := e.bus.Publish(ctx, messaging.TopicTasks, evt); err != nil {
			e.logger.Warn("Event publish failed", map[string]interface{}{
				"operation": "task_execute",
				"task_id":   task.ID,
				"error":     err.Error(),
			})
		}
	}

	if e.knowledge == nil || result.Tool == "" {
		_ = meta
		return
	}
	e.knowledge.UpdatePreference(task.Type, result.Tool, result.Success, result.Duration)
	if result.Success {
		sample := core.SkillSample{
			TaskType:   task.Type,
			Tool:       result.Tool,
			Parameters: meta.Parameters,
			Duration:   result.Duration,
		}
		if err := e.knowledge.RecordSample(ctx, sample); err != nil {
			e.logger.Warn("Skill sample upsert failed", map[string]interface{}{
				"operation": "skill_sample",
				"task_id":   task.ID,
				"error":     err.Error(),
			})
		}
	}
}
