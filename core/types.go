package core

import (
	"time"
)

// Goal is a user request in natural language. Goals are immutable once
// accepted by the orchestrator.
type Goal struct {
	Text      string                 `json:"text"`
	Context   map[string]interface{} `json:"context,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Priority  int                    `json:"priority,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// PlanOrigin records which strategy produced a plan.
type PlanOrigin string

const (
	OriginGenerated PlanOrigin = "generated"
	OriginAdapted   PlanOrigin = "adapted"
	OriginHybrid    PlanOrigin = "hybrid"
)

// PlanMetadata describes how a plan was produced.
type PlanMetadata struct {
	Origin        PlanOrigin `json:"origin"`
	SourceSkillID string     `json:"source_skill_id,omitempty"`
	Model         string     `json:"model,omitempty"`
	Confidence    float64    `json:"confidence"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Plan is an ordered collection of tasks produced by the planner.
// Bands groups dependency-independent task IDs that may run concurrently;
// bands are executed in order.
type Plan struct {
	ID          string                 `json:"id"`
	Objective   string                 `json:"objective"`
	Tasks       []Task                 `json:"tasks"`
	Bands       [][]string             `json:"bands,omitempty"`
	Resources   map[string]interface{} `json:"resources,omitempty"`
	Constraints map[string]interface{} `json:"constraints,omitempty"`
	Metadata    PlanMetadata           `json:"metadata"`
}

// Task returns the task with the given ID, if present.
func (p *Plan) Task(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// TaskIDs returns the IDs of all tasks in plan order.
func (p *Plan) TaskIDs() []string {
	ids := make([]string, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

// Common task types. The set is open: tools may register categories for
// additional types at runtime.
const (
	TaskTypeSearch   = "search"
	TaskTypeGenerate = "generate"
	TaskTypeAnalyze  = "analyze"
	TaskTypeCall     = "call"
)

// ToolAuto selects the best-ranked tool for the task type at execution time.
const ToolAuto = "auto"

// Task is the atomic unit of work inside a plan.
type Task struct {
	ID                string                 `json:"id"`
	Description       string                 `json:"description"`
	Type              string                 `json:"type"`
	Tool              string                 `json:"tool"`
	Parameters        map[string]interface{} `json:"parameters,omitempty"`
	DependsOn         []string               `json:"depends_on,omitempty"`
	EstimatedDuration time.Duration          `json:"estimated_duration,omitempty"`
	Timeout           time.Duration          `json:"timeout,omitempty"`
	// MaxRetries overrides the engine's retry cap for this task.
	// Zero means unset; a negative value disables retries entirely.
	MaxRetries int  `json:"max_retries,omitempty"`
	Critical   bool `json:"critical,omitempty"`
}

// ExecutionState is the terminal state of a task or of a whole episode.
type ExecutionState string

const (
	StateSuccess  ExecutionState = "success"
	StateFailure  ExecutionState = "failure"
	StatePartial  ExecutionState = "partial"
	StateTimeout  ExecutionState = "timeout"
	StateCanceled ExecutionState = "canceled"
)

// TaskResult is the outcome of executing one task. The execution engine
// never returns errors directly: every outcome, including engine-internal
// failures, is folded into a TaskResult.
type TaskResult struct {
	TaskID    string         `json:"task_id"`
	Success   bool           `json:"success"`
	Value     interface{}    `json:"value,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	State     ExecutionState `json:"state"`
	Tool      string         `json:"tool,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  time.Duration  `json:"duration"`
	Retries   int            `json:"retries"`
}

// Preference records the observed performance of one tool for one task type.
// The preferred tool per task type is derived from these records.
type Preference struct {
	TaskType     string        `json:"task_type"`
	Tool         string        `json:"tool"`
	SuccessRate  float64       `json:"success_rate"`
	MeanDuration time.Duration `json:"mean_duration"`
	Variance     float64       `json:"variance"`
	Samples      int           `json:"samples"`
	LastUsed     time.Time     `json:"last_used"`
}

// GoalRequest is the submit-goal entry point payload.
type GoalRequest struct {
	Goal      string                 `json:"goal"`
	Context   map[string]interface{} `json:"context,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Priority  int                    `json:"priority,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// GoalResponse is returned by the submit-goal entry point.
type GoalResponse struct {
	SessionID string         `json:"session_id"`
	State     ExecutionState `json:"state"`
	Results   []TaskResult   `json:"results"`
	EpisodeID string         `json:"episode_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
