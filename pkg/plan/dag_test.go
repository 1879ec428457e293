package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLevelsGroupsByDepth(t *testing.T) {
	steps := []Step{
		{ID: 1},
		{ID: 2},
		{ID: 3, DependsOn: []int{1, 2}},
		{ID: 4, DependsOn: []int{3}},
	}
	levels, deps, err := buildLevels(steps)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2}, {3}, {4}}, levels)
	assert.Equal(t, []int{1, 2}, deps[3])
}

func TestBuildLevelsUnionsImplicitDependencies(t *testing.T) {
	steps := []Step{
		{ID: 1},
		{ID: 2, Parameters: map[string]any{"input": "$step1.out"}},
		{ID: 3, DependsOn: []int{1}, Parameters: map[string]any{
			"nested": map[string]any{"v": "{$step2.out}"},
		}},
	}
	levels, deps, err := buildLevels(steps)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1}, {2}, {3}}, levels)
	assert.Equal(t, []int{1, 2}, deps[3])
}

func TestBuildLevelsWaitsForDeepestDependency(t *testing.T) {
	// Step 4 depends on both a level-0 and a level-1 step.
	steps := []Step{
		{ID: 1},
		{ID: 2, DependsOn: []int{1}},
		{ID: 3},
		{ID: 4, DependsOn: []int{2, 3}},
	}
	levels, _, err := buildLevels(steps)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 3}, {2}, {4}}, levels)
}

func TestBuildLevelsRejectsCycle(t *testing.T) {
	steps := []Step{
		{ID: 1, DependsOn: []int{2}},
		{ID: 2, DependsOn: []int{1}},
	}
	_, _, err := buildLevels(steps)
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

func TestBuildLevelsRejectsUnknownDependency(t *testing.T) {
	_, _, err := buildLevels([]Step{{ID: 1, DependsOn: []int{9}}})
	assert.Error(t, err)
}

func TestBuildLevelsRejectsDuplicateID(t *testing.T) {
	_, _, err := buildLevels([]Step{{ID: 1}, {ID: 1}})
	assert.Error(t, err)
}

func TestStepDependenciesIgnoresSelfReference(t *testing.T) {
	known := map[int]Step{1: {ID: 1}, 2: {ID: 2}}
	deps := stepDependencies(Step{ID: 2, DependsOn: []int{2, 1}}, known)
	assert.Equal(t, []int{1}, deps)
}

func TestStepDependenciesSkipsOutOfPlanReferences(t *testing.T) {
	known := map[int]Step{1: {ID: 1}}
	deps := stepDependencies(Step{ID: 1, Parameters: map[string]any{
		"ctx": "$step0.user", "gone": "$step9.x",
	}}, known)
	assert.Empty(t, deps)
}
