// Package graph tracks task dependencies and decides which tasks may run.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/warden/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// nodeState is the scheduling state of a node, tracked independently of the
// task so the graph never reads tasks owned by running workers.
type nodeState int

const (
	stateWaiting nodeState = iota
	stateRunning
	stateCompleted
	stateFailed
)

type node struct {
	id    string
	rank  int
	index int
	state nodeState
}

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to its scheduling node.
	nodes map[string]*node
	// order holds task IDs in insertion order.
	order []string
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	edges map[string][]string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]*node),
		edges:    make(map[string][]string),
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from tasks in dispatch order.
// Returns an error if a cycle is detected or dependencies reference unknown tasks.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, task := range tasks {
		if _, dup := g.nodes[task.ID]; dup {
			return fmt.Errorf("duplicate task %s", task.ID)
		}
		g.nodes[task.ID] = &node{id: task.ID, rank: task.Priority.Rank(), index: i}
		g.order = append(g.order, task.ID)
		g.edges[task.ID] = nil
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}

	g.debugLog("[graph] built %d nodes, edges %v", len(g.nodes), g.edges)
	return nil
}

// hasCycleLocked runs a depth-first search with white/gray/black coloring.
func (g *DependencyGraph) hasCycleLocked() bool {
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns task IDs with every dependency before its
// dependents. Unrelated tasks keep insertion order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}
	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// Ready returns waiting tasks whose dependencies all completed, highest
// priority first and in insertion order within a priority.
func (g *DependencyGraph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*node
	for _, id := range g.order {
		n := g.nodes[id]
		if n.state != stateWaiting {
			continue
		}
		ok := true
		for _, depID := range g.edges[id] {
			if g.nodes[depID].state != stateCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].rank < ready[j].rank
	})
	ids := make([]string, len(ready))
	for i, n := range ready {
		ids[i] = n.id
	}
	return ids
}

// Blocked returns waiting tasks with at least one failed dependency.
func (g *DependencyGraph) Blocked() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var blocked []string
	for _, id := range g.order {
		if g.nodes[id].state != stateWaiting {
			continue
		}
		for _, depID := range g.edges[id] {
			if g.nodes[depID].state == stateFailed {
				blocked = append(blocked, id)
				break
			}
		}
	}
	return blocked
}

// Waiting returns tasks that have not started, in insertion order.
func (g *DependencyGraph) Waiting() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for _, id := range g.order {
		if g.nodes[id].state == stateWaiting {
			ids = append(ids, id)
		}
	}
	return ids
}

func (g *DependencyGraph) mark(taskID string, s nodeState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[taskID]; ok {
		n.state = s
		g.debugLog("[graph] task %s -> state %d", taskID, s)
	}
}

// MarkRunning records that a task was started.
func (g *DependencyGraph) MarkRunning(taskID string) { g.mark(taskID, stateRunning) }

// MarkComplete records that a task completed, unblocking its dependents.
func (g *DependencyGraph) MarkComplete(taskID string) { g.mark(taskID, stateCompleted) }

// MarkFailed records that a task ended without completing. Its dependents
// become blocked.
func (g *DependencyGraph) MarkFailed(taskID string) { g.mark(taskID, stateFailed) }

// Done reports whether every task has finished.
func (g *DependencyGraph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		if n.state == stateWaiting || n.state == stateRunning {
			return false
		}
	}
	return true
}

// GetDependents returns the IDs of tasks that depend on the given task, in
// insertion order.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, id := range g.order {
		for _, depID := range g.edges[id] {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}
