package registry

import (
	"sort"
	"sync"

	"github.com/evolvai/evolv/core"
)

// Registry holds the discovered tools, grouped by category, and ranks them
// per task type from their running metrics.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]*registration
	categories map[string][]string // category -> tool names, registration order

	logger core.Logger
}

type registration struct {
	tool       Tool
	categories []string
	metrics    *Metrics
}

// taskTypeCategories maps a task type to the tool categories that can
// serve it, in preference order.
var taskTypeCategories = map[string][]string{
	core.TaskTypeSearch:   {"search", "network"},
	core.TaskTypeGenerate: {"generate", "llm"},
	core.TaskTypeAnalyze:  {"analyze", "compute"},
	core.TaskTypeCall:     {"network", "api"},
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		tools:      make(map[string]*registration),
		categories: make(map[string][]string),
		logger:     logger,
	}
}

// Register adds a tool under the given categories. Registering the same
// name twice is an error.
func (r *Registry) Register(tool Tool, categories ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return &core.FrameworkError{Op: "registry.Register", Kind: "registry", ID: name, Message: "tool already registered"}
	}
	r.tools[name] = &registration{
		tool:       tool,
		categories: categories,
		metrics:    &Metrics{},
	}
	for _, c := range categories {
		r.categories[c] = append(r.categories[c], name)
	}

	r.logger.Info("Tool registered", map[string]interface{}{
		"operation":  "tool_register",
		"tool":       name,
		"version":    tool.Version(),
		"categories": categories,
	})
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return reg.tool, true
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// MetricsFor returns a snapshot of the tool's running metrics.
func (r *Registry) MetricsFor(name string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return Stats{}, false
	}
	return reg.metrics.Snapshot(), true
}

// ListByCategory returns the tools registered under a category.
func (r *Registry) ListByCategory(category string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.categories[category]
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n].tool)
	}
	return out
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RankedTool pairs a tool with its fitness for a task type.
type RankedTool struct {
	Tool    Tool
	Fitness float64
}

// experienceRuns is the successful-execution count past which a tool earns
// the experience bonus.
const experienceRuns = 10

// ListByTaskType ranks the tools able to serve a task type. Fitness is a
// 0.5 base for category fit, shifted by up to ±0.3 with the observed
// success rate, plus a 0.1 bonus for tools with enough successful runs.
func (r *Registry) ListByTaskType(taskType string) []RankedTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]bool{}
	var ranked []RankedTool
	for _, category := range taskTypeCategories[taskType] {
		for _, name := range r.categories[category] {
			if seen[name] {
				continue
			}
			seen[name] = true
			reg := r.tools[name]
			stats := reg.metrics.Snapshot()

			fitness := 0.5
			if stats.Total > 0 {
				fitness += 0.6 * (stats.SuccessRate - 0.5) // ±0.3 band
			}
			if stats.Successes >= experienceRuns {
				fitness += 0.1
			}
			ranked = append(ranked, RankedTool{Tool: reg.tool, Fitness: fitness})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fitness > ranked[j].Fitness })
	return ranked
}
