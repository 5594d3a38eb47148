package learning

import (
	"context"
	"time"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/memory"
	"github.com/evolvai/evolv/messaging"
)

// EpisodeReader is the slice of the episodic log the learning loop
// reads.
type EpisodeReader interface {
	Get(ctx context.Context, id string) (*core.Episode, error)
	List(ctx context.Context, filter memory.EpisodeFilter, limit int) ([]*core.Episode, error)
}

// ImpactReport compares per-(taskType, tool) performance before and
// after a preference change.
type ImpactReport struct {
	TaskType        string    `json:"task_type"`
	Tool            string    `json:"tool"`
	AppliedAt       time.Time `json:"applied_at"`
	BeforeComposite float64   `json:"before_composite"`
	AfterComposite  float64   `json:"after_composite"`
	BeforeSamples   int       `json:"before_samples"`
	AfterSamples    int       `json:"after_samples"`
	Regressed       bool      `json:"regressed"`
}

// regressionMargin tolerates composite noise before flagging.
const regressionMargin = 0.05

// MeasureImpact compares the windows [appliedAt-window, appliedAt] and
// [appliedAt, appliedAt+window] for one promoted preference and flags a
// regression. A regression alert is published when a bus is attached.
func MeasureImpact(ctx context.Context, reader EpisodeReader, bus messaging.Publisher, p PreferenceProposal, appliedAt time.Time, window time.Duration) (ImpactReport, error) {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	report := ImpactReport{
		TaskType:  p.TaskType,
		Tool:      p.Tool,
		AppliedAt: appliedAt,
	}

	before, err := reader.List(ctx, memory.EpisodeFilter{From: appliedAt.Add(-window), To: appliedAt}, 0)
	if err != nil {
		return report, err
	}
	after, err := reader.List(ctx, memory.EpisodeFilter{From: appliedAt, To: appliedAt.Add(window)}, 0)
	if err != nil {
		return report, err
	}

	report.BeforeComposite, report.BeforeSamples = windowComposite(before, p.TaskType)
	report.AfterComposite, report.AfterSamples = windowComposite(after, p.TaskType)

	if report.BeforeSamples > 0 && report.AfterSamples > 0 {
		report.Regressed = report.AfterComposite < report.BeforeComposite-regressionMargin
	}

	if report.Regressed && bus != nil {
		evt := messaging.NewPerformanceAlert("", "learning",
			"preference change regressed task type "+p.TaskType,
			map[string]interface{}{
				"task_type": p.TaskType,
				"tool":      p.Tool,
				"before":    report.BeforeComposite,
				"after":     report.AfterComposite,
			})
		_ = bus.Publish(ctx, messaging.TopicEvents, evt)
	}
	return report, nil
}

// windowComposite computes the mean composite score over all results of
// the task type in a window.
func windowComposite(episodes []*core.Episode, taskType string) (float64, int) {
	var (
		successes int
		samples   int
		total     time.Duration
	)
	for _, e := range episodes {
		for _, r := range e.Results {
			task, ok := e.Plan.Task(r.TaskID)
			if !ok || task.Type != taskType {
				continue
			}
			samples++
			if r.Success {
				successes++
			}
			total += r.Duration
		}
	}
	if samples == 0 {
		return 0, 0
	}
	successRate := float64(successes) / float64(samples)
	mean := total / time.Duration(samples)
	return memory.CompositeScore(successRate, mean), samples
}
