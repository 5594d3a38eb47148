package planning

import (
	"fmt"
	"sort"
	"time"

	"github.com/evolvai/evolv/core"
)

// TaskGraph is the dependency graph over a plan's tasks. It answers the
// questions the planner and orchestrator need: is the graph acyclic, what
// is a valid execution order, and which tasks can run side by side.
type TaskGraph struct {
	nodes map[string]*graphNode
}

type graphNode struct {
	id           string
	dependencies []string
	dependents   []string
	duration     time.Duration
}

// NewTaskGraph builds the graph from the plan's tasks.
func NewTaskGraph(tasks []core.Task) *TaskGraph {
	g := &TaskGraph{nodes: make(map[string]*graphNode, len(tasks))}
	for _, t := range tasks {
		g.nodes[t.ID] = &graphNode{
			id:           t.ID,
			dependencies: append([]string(nil), t.DependsOn...),
			duration:     t.EstimatedDuration,
		}
	}
	for id, node := range g.nodes {
		for _, dep := range node.dependencies {
			if depNode, ok := g.nodes[dep]; ok {
				depNode.dependents = append(depNode.dependents, id)
			}
		}
	}
	return g
}

// Validate reports missing dependencies and cycles.
func (g *TaskGraph) Validate() error {
	for id, node := range g.nodes {
		for _, dep := range node.dependencies {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("%w: task %s depends on unknown task %s", core.ErrInvalidPlan, id, dep)
			}
		}
	}

	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	for id := range g.nodes {
		if !visited[id] {
			if g.hasCycle(id, visited, inStack) {
				return fmt.Errorf("%w: dependency cycle detected", core.ErrInvalidPlan)
			}
		}
	}
	return nil
}

func (g *TaskGraph) hasCycle(id string, visited, inStack map[string]bool) bool {
	visited[id] = true
	inStack[id] = true
	for _, dep := range g.nodes[id].dependents {
		if !visited[dep] {
			if g.hasCycle(dep, visited, inStack) {
				return true
			}
		} else if inStack[dep] {
			return true
		}
	}
	inStack[id] = false
	return false
}

// TopologicalOrder returns a dependency-respecting task order. Ties are
// broken by task ID so the order is deterministic.
func (g *TaskGraph) TopologicalOrder() []string {
	inDegree := make(map[string]int, len(g.nodes))
	for id, node := range g.nodes {
		inDegree[id] = len(node.dependencies)
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		var freed []string
		for _, dep := range g.nodes[current].dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				freed = append(freed, dep)
			}
		}
		sort.Strings(freed)
		queue = append(queue, freed...)
	}
	return order
}

// ExecutionBands groups tasks into levels: every task in a band depends
// only on tasks from earlier bands, so a band can run concurrently.
func (g *TaskGraph) ExecutionBands() [][]string {
	var bands [][]string
	done := make(map[string]bool, len(g.nodes))

	for len(done) < len(g.nodes) {
		var band []string
		for id, node := range g.nodes {
			if done[id] {
				continue
			}
			ready := true
			for _, dep := range node.dependencies {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				band = append(band, id)
			}
		}
		if len(band) == 0 {
			break
		}
		sort.Strings(band)
		for _, id := range band {
			done[id] = true
		}
		bands = append(bands, band)
	}
	return bands
}

// CriticalPath returns the longest estimated-duration chain through the
// graph.
func (g *TaskGraph) CriticalPath() time.Duration {
	memo := make(map[string]time.Duration, len(g.nodes))
	var longest func(id string) time.Duration
	longest = func(id string) time.Duration {
		if d, ok := memo[id]; ok {
			return d
		}
		node := g.nodes[id]
		var best time.Duration
		for _, dep := range node.dependencies {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			if d := longest(dep); d > best {
				best = d
			}
		}
		total := best + node.duration
		memo[id] = total
		return total
	}

	var max time.Duration
	for id := range g.nodes {
		if d := longest(id); d > max {
			max = d
		}
	}
	return max
}
