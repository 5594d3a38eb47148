package learning

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/evolvai/evolv/core"
)

// CandidateSkill is a generalized procedure derived from a group of
// structurally similar successful episodes. It still has to pass quality
// evaluation before entering the knowledge store.
type CandidateSkill struct {
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	Steps          []core.SkillStep `json:"steps"`
	Categories     []string         `json:"categories"`
	SourceEpisodes []string         `json:"source_episodes"`
	GroupSize      int              `json:"group_size"`
	MeanDuration   time.Duration    `json:"mean_duration"`
	SuccessRate    float64          `json:"success_rate"`
}

// AbstractProcedures groups successful episodes by structural signature
// (task count, type mix, tool mix, duration band) and derives one
// candidate procedure per group of at least minEpisodes.
func AbstractProcedures(episodes []*core.Episode, minEpisodes int) []CandidateSkill {
	if minEpisodes <= 0 {
		minEpisodes = 3
	}

	groups := make(map[string][]*core.Episode)
	for _, e := range episodes {
		if e.State != core.StateSuccess || len(e.Results) == 0 {
			continue
		}
		groups[structuralSignature(e)] = append(groups[structuralSignature(e)], e)
	}

	var candidates []CandidateSkill
	for _, group := range groups {
		if len(group) < minEpisodes {
			continue
		}
		if c, ok := deriveCandidate(group); ok {
			candidates = append(candidates, c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].GroupSize > candidates[j].GroupSize })
	return candidates
}

// structuralSignature buckets an episode by shape rather than content.
func structuralSignature(e *core.Episode) string {
	typeMix := make(map[string]int)
	toolSet := make(map[string]bool)
	for _, r := range e.Results {
		if task, ok := e.Plan.Task(r.TaskID); ok {
			typeMix[task.Type]++
		}
		if r.Tool != "" {
			toolSet[r.Tool] = true
		}
	}

	types := make([]string, 0, len(typeMix))
	for t, n := range typeMix {
		types = append(types, fmt.Sprintf("%s:%d", t, n))
	}
	sort.Strings(types)
	tools := make([]string, 0, len(toolSet))
	for t := range toolSet {
		tools = append(tools, t)
	}
	sort.Strings(tools)

	return fmt.Sprintf("n=%d|%s|%s|%s",
		len(e.Results),
		strings.Join(types, ","),
		strings.Join(tools, ","),
		durationBand(e.TotalDuration),
	)
}

func durationBand(d time.Duration) string {
	switch {
	case d < 5*time.Second:
		return "fast"
	case d < 30*time.Second:
		return "medium"
	case d < 2*time.Minute:
		return "slow"
	default:
		return "long"
	}
}

// deriveCandidate builds the generalized procedure for one group: the
// modal task sequence with parameters generalized across the group.
func deriveCandidate(group []*core.Episode) (CandidateSkill, bool) {
	sequences := make([][]core.Task, 0, len(group))
	for _, e := range group {
		var seq []core.Task
		for _, r := range e.Results {
			if task, ok := e.Plan.Task(r.TaskID); ok {
				seq = append(seq, task)
			}
		}
		sequences = append(sequences, seq)
	}

	modal := modalTaskSequence(sequences)
	if len(modal) == 0 {
		return CandidateSkill{}, false
	}

	steps := make([]core.SkillStep, 0, len(modal))
	categories := make(map[string]bool)
	for pos, task := range modal {
		step := core.SkillStep{
			Action:     task.Description,
			Parameters: generalizeParameters(sequences, pos),
		}
		if step.Action == "" {
			step.Action = task.Type
		}
		if task.Tool != "" && task.Tool != core.ToolAuto {
			step.RequiredTools = []string{task.Tool}
		}
		categories[task.Type] = true
		steps = append(steps, step)
	}

	var total time.Duration
	var successSum float64
	ids := make([]string, 0, len(group))
	for _, e := range group {
		total += e.TotalDuration
		successSum += e.Metrics.SuccessRate
		ids = append(ids, e.ID)
	}

	cats := make([]string, 0, len(categories))
	for c := range categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	return CandidateSkill{
		Name:           candidateName(modal),
		Description:    fmt.Sprintf("Learned procedure over %d similar executions: %s", len(group), describeSteps(modal)),
		Steps:          steps,
		Categories:     cats,
		SourceEpisodes: ids,
		GroupSize:      len(group),
		MeanDuration:   total / time.Duration(len(group)),
		SuccessRate:    successSum / float64(len(group)),
	}, true
}

// modalTaskSequence returns the first sequence of modal length.
func modalTaskSequence(sequences [][]core.Task) []core.Task {
	lengthCount := make(map[int]int)
	for _, seq := range sequences {
		lengthCount[len(seq)]++
	}
	modalLen, modalCount := 0, 0
	for length, count := range lengthCount {
		if count > modalCount {
			modalLen, modalCount = length, count
		}
	}
	for _, seq := range sequences {
		if len(seq) == modalLen {
			return seq
		}
	}
	return nil
}

// generalizeParameters keeps a parameter only when every sequence agrees
// on its value at this position; disagreeing values become placeholders.
func generalizeParameters(sequences [][]core.Task, pos int) map[string]interface{} {
	counts := make(map[string]int)
	values := make(map[string]interface{})
	stable := make(map[string]bool)
	rows := 0
	for _, seq := range sequences {
		if pos >= len(seq) {
			continue
		}
		rows++
		for k, v := range seq[pos].Parameters {
			counts[k]++
			if prev, seen := values[k]; !seen {
				values[k] = v
				stable[k] = true
			} else if fmt.Sprint(prev) != fmt.Sprint(v) {
				stable[k] = false
			}
		}
	}

	out := make(map[string]interface{})
	for k, n := range counts {
		if n < rows {
			continue
		}
		if stable[k] {
			out[k] = values[k]
		} else {
			out[k] = "<" + k + ">"
		}
	}
	return out
}

func candidateName(tasks []core.Task) string {
	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		parts = append(parts, t.Type)
	}
	return "procedure: " + strings.Join(parts, " -> ")
}

func describeSteps(tasks []core.Task) string {
	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.Description != "" {
			parts = append(parts, t.Description)
		} else {
			parts = append(parts, t.Type)
		}
	}
	return strings.Join(parts, "; ")
}
