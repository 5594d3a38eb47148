package memory

import (
	"encoding/json"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evolvai/evolv/core"
)

// preferenceTable holds tool preferences per task type with copy-on-write
// snapshots: readers load an immutable snapshot without locking, writers
// serialize on a mutex and swap in a fresh copy. This keeps hot preference
// reads on the execution path free of torn updates.
type preferenceTable struct {
	mu       sync.Mutex
	snapshot atomic.Value // *preferenceSnapshot
}

type preferenceSnapshot struct {
	// ByTaskType maps task type -> tool -> observed metrics.
	ByTaskType map[string]map[string]core.Preference `json:"by_task_type"`
	// Preferred is the explicitly promoted tool per task type, set by the
	// learning loop.
	Preferred map[string]string `json:"preferred"`
	// ParamDefaults maps task type -> parameter name -> default value,
	// applied by the planner during parameter normalization.
	ParamDefaults map[string]map[string]interface{} `json:"param_defaults"`
}

func newPreferenceTable() *preferenceTable {
	t := &preferenceTable{}
	t.snapshot.Store(&preferenceSnapshot{
		ByTaskType:    map[string]map[string]core.Preference{},
		Preferred:     map[string]string{},
		ParamDefaults: map[string]map[string]interface{}{},
	})
	return t
}

func (t *preferenceTable) current() *preferenceSnapshot {
	return t.snapshot.Load().(*preferenceSnapshot)
}

func (s *preferenceSnapshot) clone() *preferenceSnapshot {
	next := &preferenceSnapshot{
		ByTaskType:    make(map[string]map[string]core.Preference, len(s.ByTaskType)),
		Preferred:     make(map[string]string, len(s.Preferred)),
		ParamDefaults: make(map[string]map[string]interface{}, len(s.ParamDefaults)),
	}
	for tt, tools := range s.ByTaskType {
		m := make(map[string]core.Preference, len(tools))
		for tool, p := range tools {
			m[tool] = p
		}
		next.ByTaskType[tt] = m
	}
	for k, v := range s.Preferred {
		next.Preferred[k] = v
	}
	for tt, params := range s.ParamDefaults {
		m := make(map[string]interface{}, len(params))
		for k, v := range params {
			m[k] = v
		}
		next.ParamDefaults[tt] = m
	}
	return next
}

// GetPreference returns the recorded metrics for (taskType, tool).
func (ks *KnowledgeStore) GetPreference(taskType, tool string) (core.Preference, bool) {
	snap := ks.prefs.current()
	tools, ok := snap.ByTaskType[taskType]
	if !ok {
		return core.Preference{}, false
	}
	p, ok := tools[tool]
	return p, ok
}

// PreferredTool returns the selected tool for a task type: the explicitly
// promoted tool when one is set, otherwise the best tool by composite
// score over the recorded preferences.
func (ks *KnowledgeStore) PreferredTool(taskType string) (string, bool) {
	snap := ks.prefs.current()
	if tool, ok := snap.Preferred[taskType]; ok {
		return tool, true
	}
	tools := snap.ByTaskType[taskType]
	best, bestScore := "", math.Inf(-1)
	for tool, p := range tools {
		if score := CompositeScore(p.SuccessRate, p.MeanDuration); score > bestScore {
			best, bestScore = tool, score
		}
	}
	return best, best != ""
}

// CompositeScore ranks a tool by 0.6*successRate + 0.4/ln(1+durationSeconds).
func CompositeScore(successRate float64, meanDuration time.Duration) float64 {
	denom := math.Log1p(meanDuration.Seconds())
	if denom < 1 {
		denom = 1
	}
	return 0.6*successRate + 0.4/denom
}

// UpdatePreference folds one execution outcome into the (taskType, tool)
// metrics. Mean and variance follow Welford's online update.
func (ks *KnowledgeStore) UpdatePreference(taskType, tool string, success bool, duration time.Duration) {
	ks.prefs.mu.Lock()
	defer ks.prefs.mu.Unlock()

	next := ks.prefs.current().clone()
	tools := next.ByTaskType[taskType]
	if tools == nil {
		tools = map[string]core.Preference{}
		next.ByTaskType[taskType] = tools
	}
	p := tools[tool]
	p.TaskType, p.Tool = taskType, tool

	n := float64(p.Samples)
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	p.SuccessRate = (p.SuccessRate*n + outcome) / (n + 1)

	x := duration.Seconds()
	mean := p.MeanDuration.Seconds()
	delta := x - mean
	mean += delta / (n + 1)
	p.Variance = (p.Variance*n + delta*(x-mean)) / (n + 1)
	p.MeanDuration = time.Duration(mean * float64(time.Second))

	p.Samples++
	p.LastUsed = time.Now()
	tools[tool] = p

	ks.prefs.snapshot.Store(next)
	ks.persistPrefs()
}

// SetPreferredTool promotes a tool for a task type. Setting the already
// promoted tool is a no-op, which keeps preference application idempotent.
func (ks *KnowledgeStore) SetPreferredTool(taskType, tool string) {
	ks.prefs.mu.Lock()
	defer ks.prefs.mu.Unlock()
	if ks.prefs.current().Preferred[taskType] == tool {
		return
	}
	next := ks.prefs.current().clone()
	next.Preferred[taskType] = tool
	ks.prefs.snapshot.Store(next)
	ks.persistPrefs()
}

// SetParameterDefault stores a default value for (taskType, parameter).
func (ks *KnowledgeStore) SetParameterDefault(taskType, param string, value interface{}) {
	ks.prefs.mu.Lock()
	defer ks.prefs.mu.Unlock()
	next := ks.prefs.current().clone()
	if next.ParamDefaults[taskType] == nil {
		next.ParamDefaults[taskType] = map[string]interface{}{}
	}
	next.ParamDefaults[taskType][param] = value
	ks.prefs.snapshot.Store(next)
	ks.persistPrefs()
}

// ParameterDefaults returns the stored defaults for a task type.
func (ks *KnowledgeStore) ParameterDefaults(taskType string) map[string]interface{} {
	return ks.prefs.current().ParamDefaults[taskType]
}

// PreferenceSnapshot returns all recorded preferences, flattened.
func (ks *KnowledgeStore) PreferenceSnapshot() []core.Preference {
	snap := ks.prefs.current()
	var out []core.Preference
	for _, tools := range snap.ByTaskType {
		for _, p := range tools {
			out = append(out, p)
		}
	}
	return out
}

func (ks *KnowledgeStore) persistPrefs() {
	path := ks.prefsFile()
	if path == "" {
		return
	}
	data, err := json.MarshalIndent(ks.prefs.current(), "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		ks.logger.Warn("Preference persistence failed", map[string]interface{}{
			"operation": "preference_persist",
			"error":     err.Error(),
		})
	}
}

func (t *preferenceTable) load(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	snap := &preferenceSnapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return err
	}
	if snap.ByTaskType == nil {
		snap.ByTaskType = map[string]map[string]core.Preference{}
	}
	if snap.Preferred == nil {
		snap.Preferred = map[string]string{}
	}
	if snap.ParamDefaults == nil {
		snap.ParamDefaults = map[string]map[string]interface{}{}
	}
	t.snapshot.Store(snap)
	return nil
}
