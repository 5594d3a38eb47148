package execution

import (
	"math"

	"github.com/google/uuid"

	"github.com/evolvai/evolv/core"
)

// BuildMetadata assembles the per-task metadata record for a terminal
// outcome.
func BuildMetadata(task core.Task, result core.TaskResult, ec Context, executionID string, class Classification) core.ExecutionMetadata {
	meta := core.ExecutionMetadata{
		TaskID:      task.ID,
		ExecutionID: executionID,
		SessionID:   ec.SessionID,
		StartTime:   result.StartTime,
		EndTime:     result.EndTime,
		Duration:    result.Duration,
		State:       result.State,
		Tool:        result.Tool,
		Parameters:  snapshotParams(task.Parameters),
	}
	if class.Kind != "" {
		meta.ErrorKind = class.Kind
		meta.RecommendedAction = string(class.Action)
	}

	secs := result.Duration.Seconds()
	if secs > 0 {
		meta.Throughput = 1 / secs
	}
	if task.EstimatedDuration > 0 {
		meta.RelativeDuration = float64(result.Duration) / float64(task.EstimatedDuration)
	}
	// Stability decays with retries: a clean first-attempt run scores 1.
	meta.Stability = 1 / (1 + float64(result.Retries))

	// Coarse resource share heuristics; not measurements.
	meta.CPUShare = clamp01(secs / 60)
	meta.MemoryShare = clamp01(float64(len(result.Error)+64) / 1e6)

	meta.Hash = meta.ComputeHash()
	return meta
}

// MetadataForResult rebuilds a metadata record from a finished task
// result, deriving the classification from the recorded error kind. The
// orchestrator uses this to append per-task metadata to the episode under
// construction.
func MetadataForResult(task core.Task, result core.TaskResult, ec Context) core.ExecutionMetadata {
	class := Classification{}
	if result.ErrorKind != "" {
		class = classificationByKind(result.ErrorKind)
	}
	return BuildMetadata(task, result, ec, uuid.NewString(), class)
}

func classificationByKind(kind string) Classification {
	for _, rule := range classifierRules {
		if rule.result.Kind == kind {
			return rule.result
		}
	}
	return Classification{Kind: kind, Category: "unclassified", Action: ActionEscalate, Confidence: 0.3}
}

func snapshotParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
