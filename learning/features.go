package learning

import (
	"sort"

	"github.com/evolvai/evolv/core"
)

// EpisodeFeatures is the tabular projection of one episode the analyses
// work on.
type EpisodeFeatures struct {
	EpisodeID    string
	SessionID    string
	Success      bool
	State        core.ExecutionState
	DurationSecs float64
	TaskCount    int
	SuccessRate  float64
	UniqueTools  int
	TotalRetries int
	ToolUsage    map[string]int
	TypeMix      map[string]int
	ToolSequence []string
}

// ExtractFeatures projects episodes into feature rows. Episodes without
// results still produce a row so failure analyses see them.
func ExtractFeatures(episodes []*core.Episode) []EpisodeFeatures {
	rows := make([]EpisodeFeatures, 0, len(episodes))
	for _, e := range episodes {
		row := EpisodeFeatures{
			EpisodeID:    e.ID,
			SessionID:    e.SessionID,
			Success:      e.State == core.StateSuccess,
			State:        e.State,
			DurationSecs: e.TotalDuration.Seconds(),
			TaskCount:    e.Metrics.TaskCount,
			SuccessRate:  e.Metrics.SuccessRate,
			TotalRetries: e.Metrics.TotalRetries,
			ToolUsage:    make(map[string]int),
			TypeMix:      make(map[string]int),
		}
		for _, r := range e.Results {
			if r.Tool != "" {
				row.ToolUsage[r.Tool]++
				row.ToolSequence = append(row.ToolSequence, r.Tool)
			}
			if task, ok := e.Plan.Task(r.TaskID); ok {
				row.TypeMix[task.Type]++
			}
		}
		row.UniqueTools = len(row.ToolUsage)
		rows = append(rows, row)
	}
	return rows
}

// toolVocabulary is the sorted union of tools across all rows. A stable
// vocabulary keeps feature vectors comparable between rows.
func toolVocabulary(rows []EpisodeFeatures) []string {
	set := make(map[string]bool)
	for _, row := range rows {
		for tool := range row.ToolUsage {
			set[tool] = true
		}
	}
	vocab := make([]string, 0, len(set))
	for tool := range set {
		vocab = append(vocab, tool)
	}
	sort.Strings(vocab)
	return vocab
}

// toolFrequencyVector encodes a row against the vocabulary, normalized
// by the row's task count.
func toolFrequencyVector(row EpisodeFeatures, vocab []string) []float64 {
	vec := make([]float64, len(vocab))
	total := 0
	for _, count := range row.ToolUsage {
		total += count
	}
	if total == 0 {
		return vec
	}
	for i, tool := range vocab {
		vec[i] = float64(row.ToolUsage[tool]) / float64(total)
	}
	return vec
}

// numericFeatureNames are the scalar features used by the factor
// analysis, in a fixed order.
var numericFeatureNames = []string{
	"duration_secs", "task_count", "success_rate", "unique_tools", "total_retries",
}

func numericFeatureVector(row EpisodeFeatures) []float64 {
	return []float64{
		row.DurationSecs,
		float64(row.TaskCount),
		row.SuccessRate,
		float64(row.UniqueTools),
		float64(row.TotalRetries),
	}
}
