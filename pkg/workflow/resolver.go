package workflow

import (
	"sort"
	"sync"

	"github.com/yukkuristudio/flowkit/pkg/errors"
)

// DefaultResolver is the default dependency resolver. It layers the DAG with
// Kahn-style peeling: each phase is the set of steps whose prerequisites have
// all been placed in earlier phases. The resolver remembers the dependency
// map of the last resolved definitions so CheckDependenciesSatisfied can be
// answered without re-passing them.
type DefaultResolver struct {
	mu     sync.RWMutex
	depMap map[string][]string
}

// NewDefaultResolver creates the default resolver.
func NewDefaultResolver() *DefaultResolver {
	return &DefaultResolver{depMap: make(map[string][]string)}
}

var _ DependencyResolver = (*DefaultResolver)(nil)

// ResolveExecutionOrder layers the definitions into execution phases.
// When the ready set is empty while steps remain, the residual steps form a
// cycle and a CircularDependencyError is returned.
func (r *DefaultResolver) ResolveExecutionOrder(defs []StepDefinition) ([][]string, error) {
	deps := make(map[string][]string, len(defs))
	ids := make(map[string]int, len(defs))
	for _, d := range defs {
		deps[d.StepName] = d.Dependencies
		ids[d.StepName] = d.StepID
	}

	r.mu.Lock()
	for name, stepDeps := range deps {
		r.depMap[name] = stepDeps
	}
	r.mu.Unlock()

	remaining := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		remaining[d.StepName] = struct{}{}
	}

	var phases [][]string
	for len(remaining) > 0 {
		var ready []string
		for name := range remaining {
			blocked := false
			for _, dep := range deps[name] {
				if _, ok := remaining[dep]; ok {
					blocked = true
					break
				}
			}
			if !blocked {
				ready = append(ready, name)
			}
		}

		if len(ready) == 0 {
			residual := make([]string, 0, len(remaining))
			for name := range remaining {
				residual = append(residual, name)
			}
			sort.Strings(residual)
			return nil, errors.NewCircularDependencyError(residual, nil)
		}

		// Stable by step id for reproducibility; order within a phase is
		// otherwise unspecified and must not be relied on.
		sort.Slice(ready, func(i, j int) bool { return ids[ready[i]] < ids[ready[j]] })

		phases = append(phases, ready)
		for _, name := range ready {
			delete(remaining, name)
		}
	}

	return phases, nil
}

// CheckDependenciesSatisfied reports whether every dependency of the named
// step is in the completed set, per the last resolved definitions. Unknown
// steps have no recorded dependencies and are trivially satisfied.
func (r *DefaultResolver) CheckDependenciesSatisfied(stepName string, completed map[string]struct{}) bool {
	r.mu.RLock()
	deps := r.depMap[stepName]
	r.mu.RUnlock()

	for _, dep := range deps {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}

// FindCircularDependencies enumerates dependency cycles with a DFS over the
// definitions, recording each cycle as the slice of the DFS path from the
// first re-visited node onward.
func (r *DefaultResolver) FindCircularDependencies(defs []StepDefinition) [][]string {
	deps := make(map[string][]string, len(defs))
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		deps[d.StepName] = d.Dependencies
		names = append(names, d.StepName)
	}
	sort.Strings(names)

	r.mu.Lock()
	for name, stepDeps := range deps {
		r.depMap[name] = stepDeps
	}
	r.mu.Unlock()

	return findCycles(deps, names)
}

// findCycles runs DFS cycle enumeration over an adjacency map. roots fixes
// the visit order for reproducible output; nil means map order.
func findCycles(deps map[string][]string, roots []string) [][]string {
	if roots == nil {
		roots = make([]string, 0, len(deps))
		for name := range deps {
			roots = append(roots, name)
		}
		sort.Strings(roots)
	}

	var cycles [][]string
	visited := make(map[string]bool, len(deps))
	onStack := make(map[string]bool, len(deps))

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		if onStack[node] {
			for i, n := range path {
				if n == node {
					cycle := make([]string, len(path)-i)
					copy(cycle, path[i:])
					cycles = append(cycles, cycle)
					return
				}
			}
			return
		}
		if visited[node] {
			return
		}

		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for _, dep := range deps[node] {
			dfs(dep, path)
		}

		onStack[node] = false
	}

	for _, name := range roots {
		if !visited[name] {
			dfs(name, nil)
		}
	}

	return cycles
}
