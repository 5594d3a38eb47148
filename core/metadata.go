package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ExecutionMetadata is the per-task record the execution engine emits for
// every terminal outcome. It is appended to the episode under construction
// and, on success, mined into a lightweight skill sample.
type ExecutionMetadata struct {
	TaskID      string         `json:"task_id"`
	ExecutionID string         `json:"execution_id"`
	SessionID   string         `json:"session_id"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	Duration    time.Duration  `json:"duration"`
	State       ExecutionState `json:"state"`
	Tool        string         `json:"tool,omitempty"`

	// Parameters is a snapshot taken at dispatch; later task mutation does
	// not alter it.
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	ErrorKind         string `json:"error_kind,omitempty"`
	RecommendedAction string `json:"recommended_action,omitempty"`

	// Performance estimates. Relative duration compares against the task's
	// estimate; stability degrades with retries. CPU/memory shares are
	// coarse heuristics, not measurements.
	Throughput       float64 `json:"throughput"`
	RelativeDuration float64 `json:"relative_duration,omitempty"`
	Stability        float64 `json:"stability"`
	CPUShare         float64 `json:"cpu_share,omitempty"`
	MemoryShare      float64 `json:"memory_share,omitempty"`

	Hash string `json:"hash"`
}

// ComputeHash derives the metadata integrity hash over the invariant fields.
func (m *ExecutionMetadata) ComputeHash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d|%s|%s",
		m.TaskID, m.ExecutionID, m.SessionID,
		m.StartTime.UnixNano(), m.EndTime.UnixNano(),
		m.State, m.Tool,
	)))
	return hex.EncodeToString(sum[:])
}

// SkillSample is the lightweight pattern extracted from a successful task
// execution and upserted into the knowledge store.
type SkillSample struct {
	TaskType   string                 `json:"task_type"`
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Duration   time.Duration          `json:"duration"`
}
