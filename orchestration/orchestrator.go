package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/execution"
	"github.com/evolvai/evolv/memory"
	"github.com/evolvai/evolv/messaging"
	"github.com/evolvai/evolv/planning"
)

// PlanSource produces a plan for a goal.
type PlanSource interface {
	GeneratePlan(ctx context.Context, goal core.Goal, correlationID string) (*core.Plan, error)
}

// TaskExecutor runs one task to a terminal result.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, task core.Task, ec execution.Context) core.TaskResult
}

// LearningScheduler receives episode IDs for asynchronous analysis.
type LearningScheduler interface {
	ScheduleEpisode(episodeID string)
}

// Orchestrator drives one goal end to end: plan, execute band by band,
// record the episode, schedule learning.
type Orchestrator struct {
	mem       *memory.Facade
	planner   PlanSource
	engine    TaskExecutor
	learning  LearningScheduler
	bus       messaging.Publisher
	traces    *messaging.TraceCollector
	sessions  *SessionManager
	admission *admission
	config    core.Config
	logger    core.Logger
}

// NewOrchestrator wires an orchestrator. learning and bus may be nil.
func NewOrchestrator(mem *memory.Facade, planner PlanSource, engine TaskExecutor, learning LearningScheduler, bus messaging.Publisher, traces *messaging.TraceCollector, config core.Config, logger core.Logger) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if traces == nil {
		traces = messaging.NewTraceCollector(0)
	}
	if config.Orchestration.SuccessThreshold <= 0 {
		config.Orchestration.SuccessThreshold = 0.7
	}
	if config.Orchestration.SessionConcurrency <= 0 {
		config.Orchestration.SessionConcurrency = 4
	}
	if config.Orchestration.PlanSlack <= 0 {
		config.Orchestration.PlanSlack = 0.2
	}
	return &Orchestrator{
		mem:       mem,
		planner:   planner,
		engine:    engine,
		learning:  learning,
		bus:       bus,
		traces:    traces,
		sessions:  NewSessionManager(mem.Working, logger),
		admission: newAdmission(config.Orchestration.MaxConcurrentGoals, config.Orchestration.AdmissionTimeout),
		config:    config,
		logger:    logger,
	}
}

// Sessions exposes session control (cancellation, cleanup).
func (o *Orchestrator) Sessions() *SessionManager { return o.sessions }

// Traces exposes the collected span trees.
func (o *Orchestrator) Traces() *messaging.TraceCollector { return o.traces }

// SubmitGoal runs the full cycle for one goal and blocks until it
// reaches a terminal state.
func (o *Orchestrator) SubmitGoal(ctx context.Context, req core.GoalRequest) (core.GoalResponse, error) {
	if req.Goal == "" {
		return core.GoalResponse{}, &core.FrameworkError{Op: "orchestrator.SubmitGoal", Kind: "orchestration", Err: core.ErrInvalidPlan, Message: "empty goal"}
	}
	if err := o.admission.Acquire(ctx); err != nil {
		return core.GoalResponse{}, err
	}
	defer o.admission.Release()

	session := o.sessions.Ensure(req.SessionID)
	root := o.traces.StartSpan(session.CorrelationID, "orchestrator", "goal")

	resp, err := o.run(ctx, req, session)
	root.End(err == nil, errString(err))
	return resp, err
}

func (o *Orchestrator) run(ctx context.Context, req core.GoalRequest, session *Session) (core.GoalResponse, error) {
	start := time.Now()
	goal := core.Goal{
		Text:      req.Goal,
		Context:   req.Context,
		SessionID: session.ID,
		Priority:  req.Priority,
		CreatedAt: start,
	}

	// Planning.
	planSpan := o.traces.StartSpan(session.CorrelationID, "planner", "generate_plan")
	plan, err := o.planner.GeneratePlan(ctx, goal, session.CorrelationID)
	planSpan.End(err == nil, errString(err))
	if err != nil {
		episodeID := o.recordErrorEpisode(ctx, goal, session, start, err)
		return core.GoalResponse{
			SessionID: session.ID,
			State:     core.StateFailure,
			EpisodeID: episodeID,
			Timestamp: time.Now(),
		}, err
	}

	if err := o.mem.Working.Put(session.ID, "plan_current", plan, 0); err != nil {
		o.logger.Warn("Plan stash failed", map[string]interface{}{
			"operation":  "goal_submit",
			"session_id": session.ID,
			"error":      err.Error(),
		})
	}

	// Execution.
	execSpan := o.traces.StartSpan(session.CorrelationID, "execution", "execute_plan")
	results, aborted := o.executePlan(ctx, plan, session)
	execSpan.End(!aborted, "")

	state := o.globalState(ctx, plan, results, session, aborted)

	// Recording.
	recordSpan := o.traces.StartSpan(session.CorrelationID, "orchestrator", "record_episode")
	episode := o.buildEpisode(goal, plan, results, state, session, start)
	episodeID, recErr := o.mem.Episodic.Append(ctx, episode)
	recordSpan.End(recErr == nil, errString(recErr))
	if recErr != nil {
		// A refused write is fatal to the goal even when execution went well.
		o.publishSystemError(ctx, session.CorrelationID, recErr)
		o.mem.Working.Clear(session.ID)
		return core.GoalResponse{
			SessionID: session.ID,
			State:     core.StateFailure,
			Results:   results,
			Timestamp: time.Now(),
		}, recErr
	}

	if o.bus != nil {
		_ = o.bus.Publish(ctx, messaging.TopicEvents, messaging.NewEpisodeRecorded(session.CorrelationID, episodeID, string(state)))
	}

	// Learning runs for every business outcome, but not for cancellations.
	if o.learning != nil && state != core.StateCanceled {
		o.learning.ScheduleEpisode(episodeID)
	}

	o.mem.Working.Clear(session.ID)

	o.logger.Info("Goal finished", map[string]interface{}{
		"operation":  "goal_submit",
		"session_id": session.ID,
		"state":      string(state),
		"episode_id": episodeID,
		"tasks":      len(results),
		"duration":   time.Since(start).String(),
	})
	return core.GoalResponse{
		SessionID: session.ID,
		State:     state,
		Results:   results,
		EpisodeID: episodeID,
		Timestamp: time.Now(),
	}, nil
}

// executePlan runs the plan band by band. Within a band tasks run
// concurrently up to the session concurrency cap. A failed critical task
// aborts everything still outstanding.
func (o *Orchestrator) executePlan(ctx context.Context, plan *core.Plan, session *Session) ([]core.TaskResult, bool) {
	bands := plan.Bands
	if len(bands) == 0 {
		bands = planning.NewTaskGraph(plan.Tasks).ExecutionBands()
	}

	execCtx, cancel := o.planContext(ctx, plan, session)
	defer cancel()

	ec := execution.Context{
		SessionID:     session.ID,
		PlanID:        plan.ID,
		CorrelationID: session.CorrelationID,
	}

	var (
		mu      sync.Mutex
		results []core.TaskResult
		aborted bool
	)

	for _, band := range bands {
		if execCtx.Err() != nil || aborted {
			break
		}
		var g errgroup.Group
		g.SetLimit(o.config.Orchestration.SessionConcurrency)
		for _, id := range band {
			task, ok := plan.Task(id)
			if !ok {
				continue
			}
			g.Go(func() error {
				result := o.engine.ExecuteTask(execCtx, task, ec)

				if err := o.mem.Working.Put(session.ID, "result_"+task.ID, result, 0); err != nil {
					o.logger.Warn("Result stash failed", map[string]interface{}{
						"operation":  "execute_plan",
						"session_id": session.ID,
						"task_id":    task.ID,
						"error":      err.Error(),
					})
				}
				o.warnOnLatency(execCtx, task, result, session)

				mu.Lock()
				results = append(results, result)
				if !result.Success && task.Critical && !aborted {
					aborted = true
					cancel()
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	// Tasks that never started finalize as canceled.
	if aborted || execCtx.Err() != nil {
		executed := make(map[string]bool, len(results))
		for _, r := range results {
			executed[r.TaskID] = true
		}
		now := time.Now()
		for _, task := range plan.Tasks {
			if executed[task.ID] {
				continue
			}
			results = append(results, core.TaskResult{
				TaskID:    task.ID,
				State:     core.StateCanceled,
				Error:     "aborted before start",
				ErrorKind: "canceled",
				StartTime: now,
				EndTime:   now,
			})
		}
	}
	return results, aborted
}

// planContext bounds the whole plan by the critical-path estimate plus
// slack, nested inside the session's cancellation scope.
func (o *Orchestrator) planContext(ctx context.Context, plan *core.Plan, session *Session) (context.Context, context.CancelFunc) {
	merged, cancel := mergeContexts(ctx, session.Context())
	critical := planning.NewTaskGraph(plan.Tasks).CriticalPath()
	if critical <= 0 {
		return merged, cancel
	}
	budget := time.Duration(float64(critical) * (1 + o.config.Orchestration.PlanSlack))
	timed, timedCancel := context.WithTimeout(merged, budget)
	return timed, func() {
		timedCancel()
		cancel()
	}
}

// mergeContexts derives a context canceled when either parent is.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(a)
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged, cancel
}

// globalState folds the task results into the episode-level state.
func (o *Orchestrator) globalState(ctx context.Context, plan *core.Plan, results []core.TaskResult, session *Session, aborted bool) core.ExecutionState {
	if session.Context().Err() != nil || ctx.Err() == context.Canceled {
		return core.StateCanceled
	}

	criticalOK := true
	succeeded := 0
	timeouts := 0
	for _, r := range results {
		if r.Success {
			succeeded++
			continue
		}
		if r.State == core.StateTimeout {
			timeouts++
		}
		if task, ok := plan.Task(r.TaskID); ok && task.Critical {
			criticalOK = false
		}
	}

	if aborted || !criticalOK {
		return core.StateFailure
	}
	ratio := 0.0
	if len(results) > 0 {
		ratio = float64(succeeded) / float64(len(results))
	}
	switch {
	case ratio >= o.config.Orchestration.SuccessThreshold:
		return core.StateSuccess
	case succeeded > 0:
		return core.StatePartial
	case timeouts > 0 && timeouts == len(results):
		return core.StateTimeout
	default:
		return core.StateFailure
	}
}

// buildEpisode assembles and seals the immutable record of this run.
func (o *Orchestrator) buildEpisode(goal core.Goal, plan *core.Plan, results []core.TaskResult, state core.ExecutionState, session *Session, start time.Time) *core.Episode {
	end := time.Now()
	if !end.After(start) {
		end = start.Add(time.Millisecond)
	}

	ec := execution.Context{SessionID: session.ID, PlanID: plan.ID, CorrelationID: session.CorrelationID}
	taskMeta := make([]core.ExecutionMetadata, 0, len(results))
	for _, r := range results {
		if task, ok := plan.Task(r.TaskID); ok {
			taskMeta = append(taskMeta, execution.MetadataForResult(task, r, ec))
		}
	}

	episodeContext := map[string]interface{}{
		"correlation_id": session.CorrelationID,
		"plan_origin":    string(plan.Metadata.Origin),
		"task_metadata":  taskMeta,
	}
	for k, v := range goal.Context {
		episodeContext[k] = v
	}

	e := &core.Episode{
		ID:            core.NewEpisodeID(start, goal.Text),
		Goal:          goal.Text,
		SessionID:     session.ID,
		Plan:          *plan,
		Results:       results,
		State:         state,
		TotalDuration: end.Sub(start),
		Context:       episodeContext,
		StartTime:     start,
		EndTime:       end,
		SystemVersion: o.systemVersion(),
	}
	e.ComputeMetrics()
	e.Evaluation = e.Metrics.SuccessRate
	e.Seal()
	return e
}

// recordErrorEpisode writes a diagnostic episode for failures outside
// task execution, such as planning errors. Best effort: a store failure
// here only logs.
func (o *Orchestrator) recordErrorEpisode(ctx context.Context, goal core.Goal, session *Session, start time.Time, cause error) string {
	end := time.Now()
	if !end.After(start) {
		end = start.Add(time.Millisecond)
	}
	e := &core.Episode{
		ID:        core.NewEpisodeID(start, goal.Text),
		Goal:      goal.Text,
		SessionID: session.ID,
		State:     core.StateFailure,
		Context: map[string]interface{}{
			"correlation_id": session.CorrelationID,
			"error":          cause.Error(),
		},
		TotalDuration: end.Sub(start),
		StartTime:     start,
		EndTime:       end,
		SystemVersion: o.systemVersion(),
	}
	e.ComputeMetrics()
	e.Seal()

	id, err := o.mem.Episodic.Append(ctx, e)
	if err != nil {
		o.logger.Error("Error episode write failed", map[string]interface{}{
			"operation":  "record_episode",
			"session_id": session.ID,
			"error":      err.Error(),
		})
		return ""
	}
	o.publishSystemError(ctx, session.CorrelationID, cause)
	return id
}

func (o *Orchestrator) warnOnLatency(ctx context.Context, task core.Task, result core.TaskResult, session *Session) {
	warn := o.config.Monitoring.LatencyWarn
	if warn <= 0 || result.Duration <= warn {
		return
	}
	o.logger.Warn("Slow task", map[string]interface{}{
		"operation": "execute_plan",
		"task_id":   task.ID,
		"tool":      result.Tool,
		"duration":  result.Duration.String(),
		"threshold": warn.String(),
	})
	if o.bus != nil {
		evt := messaging.NewPerformanceAlert(session.CorrelationID, "execution",
			fmt.Sprintf("task %s exceeded latency threshold", task.ID),
			map[string]interface{}{
				"task_id":  task.ID,
				"tool":     result.Tool,
				"duration": result.Duration.String(),
			})
		_ = o.bus.Publish(ctx, messaging.TopicEvents, evt)
	}
}

func (o *Orchestrator) publishSystemError(ctx context.Context, correlationID string, cause error) {
	if o.bus == nil {
		return
	}
	_ = o.bus.Publish(ctx, messaging.TopicEvents, messaging.NewSystemError(correlationID, "orchestrator", cause.Error()))
}

func (o *Orchestrator) systemVersion() string {
	if o.config.SystemVersion != "" {
		return o.config.SystemVersion
	}
	return core.Version
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
