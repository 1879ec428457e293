package plan

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCyclicDependency rejects plans whose dependency graph is not a DAG.
var ErrCyclicDependency = errors.New("cyclic step dependency")

// stepDependencies returns the union of a step's explicit dependencies and
// the step IDs referenced from its parameters, deduplicated and sorted.
// Implicit references to IDs outside the plan are not dependencies: they
// either resolve from the execution context or stay literal.
func stepDependencies(step Step, known map[int]Step) []int {
	seen := map[int]struct{}{}
	for _, dep := range step.DependsOn {
		seen[dep] = struct{}{}
	}
	refs := map[int]struct{}{}
	collectRefSteps(step.Parameters, refs)
	for ref := range refs {
		if _, ok := known[ref]; ok {
			seen[ref] = struct{}{}
		}
	}
	delete(seen, step.ID)

	deps := make([]int, 0, len(seen))
	for dep := range seen {
		deps = append(deps, dep)
	}
	sort.Ints(deps)
	return deps
}

// buildLevels validates the dependency graph and groups step IDs into
// execution levels: level 0 has no dependencies, level n is 1 + the max
// level of its dependencies.
func buildLevels(steps []Step) ([][]int, map[int][]int, error) {
	byID := make(map[int]Step, len(steps))
	for _, s := range steps {
		if _, dup := byID[s.ID]; dup {
			return nil, nil, fmt.Errorf("duplicate step id %d", s.ID)
		}
		byID[s.ID] = s
	}

	deps := make(map[int][]int, len(steps))
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, nil, fmt.Errorf("step %d depends on unknown step %d", s.ID, dep)
			}
		}
		deps[s.ID] = stepDependencies(s, byID)
	}

	// Kahn's algorithm; leftover nodes mean a cycle.
	indegree := make(map[int]int, len(steps))
	dependents := make(map[int][]int, len(steps))
	for id, stepDeps := range deps {
		indegree[id] = len(stepDeps)
		for _, dep := range stepDeps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	level := make(map[int]int, len(steps))
	frontier := make([]int, 0, len(steps))
	for id, n := range indegree {
		if n == 0 {
			frontier = append(frontier, id)
			level[id] = 0
		}
	}

	placed := 0
	var levels [][]int
	for len(frontier) > 0 {
		sort.Ints(frontier)
		levels = append(levels, frontier)
		placed += len(frontier)

		var next []int
		for _, id := range frontier {
			for _, dependent := range dependents[id] {
				if candidate := level[id] + 1; candidate > level[dependent] {
					level[dependent] = candidate
				}
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		frontier = next
	}
	if placed != len(steps) {
		return nil, nil, fmt.Errorf("%w: %d of %d steps unreachable", ErrCyclicDependency, len(steps)-placed, len(steps))
	}

	// Regroup by the computed level so a node released early by one branch
	// still waits for its deepest dependency chain.
	grouped := map[int][]int{}
	maxLevel := 0
	for id, lv := range level {
		grouped[lv] = append(grouped[lv], id)
		if lv > maxLevel {
			maxLevel = lv
		}
	}
	levels = levels[:0]
	for lv := 0; lv <= maxLevel; lv++ {
		ids := grouped[lv]
		sort.Ints(ids)
		levels = append(levels, ids)
	}
	return levels, deps, nil
}
