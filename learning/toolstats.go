package learning

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/memory"
)

// minPopulation is the per-tool sample size below which significance
// testing is skipped.
const minPopulation = 10

// ToolAggregate is the observed performance of one tool for one task
// type across the analysis window.
type ToolAggregate struct {
	TaskType     string        `json:"task_type"`
	Tool         string        `json:"tool"`
	Samples      int           `json:"samples"`
	Successes    int           `json:"successes"`
	SuccessRate  float64       `json:"success_rate"`
	MeanDuration time.Duration `json:"mean_duration"`
	StdDev       float64       `json:"std_dev_secs"`
	CILow        float64       `json:"ci_low_secs"`
	CIHigh       float64       `json:"ci_high_secs"`
	Composite    float64       `json:"composite"`

	durations []float64
}

// PreferenceProposal suggests switching the preferred tool for a task
// type.
type PreferenceProposal struct {
	TaskType    string  `json:"task_type"`
	Tool        string  `json:"tool"`
	Composite   float64 `json:"composite"`
	Improvement float64 `json:"improvement"`
	Significant bool    `json:"significant"`
	PValue      float64 `json:"p_value"`
}

// AnalyzeToolPerformance aggregates per-(taskType, tool) metrics from
// the episodes and proposes the best tool per task type by composite
// score. Duration differences between the top two tools are tested with
// Welch's t-test when both populations reach the minimum size.
func AnalyzeToolPerformance(episodes []*core.Episode) ([]ToolAggregate, []PreferenceProposal) {
	byKey := make(map[[2]string]*ToolAggregate)
	for _, e := range episodes {
		for _, r := range e.Results {
			if r.Tool == "" {
				continue
			}
			task, ok := e.Plan.Task(r.TaskID)
			if !ok {
				continue
			}
			key := [2]string{task.Type, r.Tool}
			agg, exists := byKey[key]
			if !exists {
				agg = &ToolAggregate{TaskType: task.Type, Tool: r.Tool}
				byKey[key] = agg
			}
			agg.Samples++
			if r.Success {
				agg.Successes++
			}
			agg.durations = append(agg.durations, r.Duration.Seconds())
		}
	}

	aggregates := make([]ToolAggregate, 0, len(byKey))
	byType := make(map[string][]*ToolAggregate)
	for _, agg := range byKey {
		finalize(agg)
		byType[agg.TaskType] = append(byType[agg.TaskType], agg)
		aggregates = append(aggregates, *agg)
	}
	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].TaskType != aggregates[j].TaskType {
			return aggregates[i].TaskType < aggregates[j].TaskType
		}
		return aggregates[i].Composite > aggregates[j].Composite
	})

	var proposals []PreferenceProposal
	for taskType, aggs := range byType {
		sort.Slice(aggs, func(i, j int) bool { return aggs[i].Composite > aggs[j].Composite })
		best := aggs[0]
		proposal := PreferenceProposal{
			TaskType:  taskType,
			Tool:      best.Tool,
			Composite: best.Composite,
		}
		if len(aggs) > 1 {
			runnerUp := aggs[1]
			proposal.Improvement = best.Composite - runnerUp.Composite
			if best.Samples >= minPopulation && runnerUp.Samples >= minPopulation {
				p := welchPValue(best.durations, runnerUp.durations)
				proposal.PValue = p
				proposal.Significant = p < 0.05
			}
		} else {
			proposal.Improvement = best.Composite
		}
		proposals = append(proposals, proposal)
	}
	sort.Slice(proposals, func(i, j int) bool { return proposals[i].TaskType < proposals[j].TaskType })
	return aggregates, proposals
}

func finalize(agg *ToolAggregate) {
	if agg.Samples == 0 {
		return
	}
	agg.SuccessRate = float64(agg.Successes) / float64(agg.Samples)

	mean := stat.Mean(agg.durations, nil)
	agg.MeanDuration = time.Duration(mean * float64(time.Second))
	if len(agg.durations) > 1 {
		agg.StdDev = stat.StdDev(agg.durations, nil)
		// 95% confidence interval for the mean duration.
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(len(agg.durations) - 1)}
		margin := dist.Quantile(0.975) * agg.StdDev / math.Sqrt(float64(len(agg.durations)))
		agg.CILow = mean - margin
		agg.CIHigh = mean + margin
	}
	agg.Composite = memory.CompositeScore(agg.SuccessRate, agg.MeanDuration)
}

// welchPValue runs a two-sided Welch's t-test on two duration samples.
func welchPValue(a, b []float64) float64 {
	meanA, varA := stat.MeanVariance(a, nil)
	meanB, varB := stat.MeanVariance(b, nil)
	nA, nB := float64(len(a)), float64(len(b))

	se := math.Sqrt(varA/nA + varB/nB)
	if se == 0 {
		return 1
	}
	t := (meanA - meanB) / se

	// Welch-Satterthwaite degrees of freedom.
	num := math.Pow(varA/nA+varB/nB, 2)
	den := math.Pow(varA/nA, 2)/(nA-1) + math.Pow(varB/nB, 2)/(nB-1)
	if den == 0 {
		return 1
	}
	df := num / den

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.CDF(-math.Abs(t))
}
