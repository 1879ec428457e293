package plan

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/perf"
)

type fakeTool struct {
	name     string
	required []string
	delay    time.Duration
	err      error
	output   any
	validate func(map[string]any) error
	calls    atomic.Int32
	lastArgs atomic.Value
}

func (f *fakeTool) Name() string             { return f.name }
func (f *fakeTool) RequiredParams() []string { return f.required }

func (f *fakeTool) ValidateParams(params map[string]any) error {
	if f.validate != nil {
		return f.validate(params)
	}
	return nil
}

func (f *fakeTool) Run(ctx context.Context, params map[string]any) (any, error) {
	f.calls.Add(1)
	f.lastArgs.Store(params)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.output != nil {
		return f.output, nil
	}
	return map[string]any{"tool": f.name}, nil
}

type fakeVerifier struct {
	byStep map[int]Verification
}

func (f *fakeVerifier) Verify(_ context.Context, _ string, step Step, _ any) (Verification, error) {
	if v, ok := f.byStep[step.ID]; ok {
		return v, nil
	}
	return Verification{Valid: true, Confidence: 0.9}, nil
}

type fakeCritic struct{ reason string }

func (f *fakeCritic) Critique(context.Context, string, StepResult) (string, error) {
	return f.reason, nil
}

func perfConfig(maxParallel int) config.PerformanceConfig {
	return config.PerformanceConfig{
		ParallelExecution: config.ParallelConfig{Enabled: true, MaxParallelSteps: maxParallel},
		BackgroundTasks:   config.BackgroundConfig{Enabled: true, Workers: 2},
	}
}

func TestExecuteRunsLevelsInOrderAndFeedsOutputs(t *testing.T) {
	analyze := &fakeTool{name: "analyze", output: map[string]any{"count": 2, "wasted_mb": 0.38}}
	report := &fakeTool{name: "report", required: []string{"message"}}
	exec := NewExecutor(NewCatalog(analyze, report), perfConfig(4), perf.NewMonitor())

	result := exec.Execute(context.Background(), Plan{Steps: []Step{
		{ID: 1, Tool: "analyze"},
		{ID: 2, Tool: "report", Parameters: map[string]any{
			"message": "Found {$step1.count} groups, wasting {$step1.wasted_mb} MB",
		}},
	}}, "summarize waste", nil)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 2, result.StepsCompleted)
	assert.Equal(t, 2, result.StepsTotal)
	args := report.lastArgs.Load().(map[string]any)
	assert.Equal(t, "Found 2 groups, wasting 0.38 MB", args["message"])
}

func TestExecuteRunsIndependentStepsConcurrently(t *testing.T) {
	slow := 100 * time.Millisecond
	a := &fakeTool{name: "a", delay: slow, output: map[string]any{"v": 1}}
	b := &fakeTool{name: "b", delay: slow, output: map[string]any{"v": 2}}
	c := &fakeTool{name: "c", delay: slow}
	exec := NewExecutor(NewCatalog(a, b, c), perfConfig(4), perf.NewMonitor())

	started := time.Now()
	result := exec.Execute(context.Background(), Plan{Steps: []Step{
		{ID: 1, Tool: "a"},
		{ID: 2, Tool: "b"},
		{ID: 3, Tool: "c", DependsOn: []int{1, 2}},
	}}, "goal", nil)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 3, result.StepsCompleted)
	assert.Less(t, time.Since(started), 250*time.Millisecond)
}

func TestExecuteMissingParametersFailsWithoutInvocation(t *testing.T) {
	send := &fakeTool{name: "send", required: []string{"recipient", "body"}}
	exec := NewExecutor(NewCatalog(send), perfConfig(2), perf.NewMonitor())

	result := exec.Execute(context.Background(), Plan{Steps: []Step{
		{ID: 1, Tool: "send", Parameters: map[string]any{"body": "hi"}},
	}}, "goal", nil)

	assert.Equal(t, StatusFailed, result.Status)
	assert.False(t, result.NeedsReplan)
	assert.Contains(t, result.Error, "recipient")
	assert.Zero(t, send.calls.Load())
	assert.False(t, result.StepResults[1].RetryPossible)
}

func TestExecuteToolErrorNeedsReplan(t *testing.T) {
	flaky := &fakeTool{name: "flaky", err: errors.New("upstream 503")}
	exec := NewExecutor(NewCatalog(flaky), perfConfig(2), perf.NewMonitor())

	result := exec.Execute(context.Background(), Plan{Steps: []Step{
		{ID: 1, Tool: "flaky"},
	}}, "goal", nil)

	assert.Equal(t, StatusNeedsReplan, result.Status)
	assert.True(t, result.NeedsReplan)
	assert.Contains(t, result.ReplanReason, "upstream 503")
	assert.True(t, result.StepResults[1].RetryPossible)
}

func TestExecuteFailurePreservesCompletedResults(t *testing.T) {
	ok := &fakeTool{name: "ok", output: map[string]any{"done": true}}
	bad := &fakeTool{name: "bad", err: errors.New("boom")}
	never := &fakeTool{name: "never"}
	exec := NewExecutor(NewCatalog(ok, bad, never), perfConfig(2), perf.NewMonitor())

	result := exec.Execute(context.Background(), Plan{Steps: []Step{
		{ID: 1, Tool: "ok"},
		{ID: 2, Tool: "bad", DependsOn: []int{1}},
		{ID: 3, Tool: "never", DependsOn: []int{2}},
	}}, "goal", nil)

	assert.Equal(t, StatusNeedsReplan, result.Status)
	assert.Equal(t, 1, result.StepsCompleted)
	require.Contains(t, result.StepResults, 1)
	assert.Equal(t, StatusSuccess, result.StepResults[1].Status)
	assert.NotContains(t, result.StepResults, 3)
	assert.Zero(t, never.calls.Load())
}

func TestExecuteCriticAnnotatesReplanReason(t *testing.T) {
	bad := &fakeTool{name: "bad", err: errors.New("boom")}
	exec := NewExecutor(NewCatalog(bad), perfConfig(2), perf.NewMonitor()).
		WithCritic(&fakeCritic{reason: "root cause: wrong credentials; rotate the token"})

	result := exec.Execute(context.Background(), Plan{Steps: []Step{{ID: 1, Tool: "bad"}}}, "goal", nil)
	assert.Equal(t, "root cause: wrong credentials; rotate the token", result.ReplanReason)
}

func TestExecuteCyclicPlanRejected(t *testing.T) {
	a := &fakeTool{name: "a"}
	exec := NewExecutor(NewCatalog(a), perfConfig(2), perf.NewMonitor())

	result := exec.Execute(context.Background(), Plan{Steps: []Step{
		{ID: 1, Tool: "a", DependsOn: []int{2}},
		{ID: 2, Tool: "a", DependsOn: []int{1}},
	}}, "goal", nil)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "cyclic")
	assert.Zero(t, a.calls.Load())
}

func TestExecuteHighConfidenceRejectionNeedsReplan(t *testing.T) {
	deploy := &fakeTool{name: "deploy"}
	verifier := &fakeVerifier{byStep: map[int]Verification{
		1: {Valid: false, Confidence: 0.95, Issues: []string{"wrong target environment"}},
	}}
	exec := NewExecutor(NewCatalog(deploy), perfConfig(2), perf.NewMonitor()).WithVerifier(verifier)

	result := exec.Execute(context.Background(), Plan{Steps: []Step{
		{ID: 1, Tool: "deploy", Critical: true},
	}}, "deploy to staging", nil)

	assert.Equal(t, StatusNeedsReplan, result.Status)
	assert.True(t, result.NeedsReplan)
	assert.Contains(t, result.ReplanReason, "wrong target environment")
	require.Len(t, result.VerificationResults, 1)
}

func TestExecuteLowConfidenceRejectionIsPartialSuccess(t *testing.T) {
	deploy := &fakeTool{name: "deploy"}
	verifier := &fakeVerifier{byStep: map[int]Verification{
		1: {Valid: false, Confidence: 0.4, Issues: []string{"possibly stale config"}},
	}}
	exec := NewExecutor(NewCatalog(deploy), perfConfig(2), perf.NewMonitor()).WithVerifier(verifier)

	result := exec.Execute(context.Background(), Plan{Steps: []Step{
		{ID: 1, Tool: "deploy", Critical: true},
	}}, "deploy", nil)

	assert.Equal(t, StatusPartialSuccess, result.Status)
	assert.False(t, result.NeedsReplan)
}

func TestExecuteNonCriticalStepsSkipVerification(t *testing.T) {
	lookup := &fakeTool{name: "lookup"}
	verifier := &fakeVerifier{byStep: map[int]Verification{
		1: {Valid: false, Confidence: 1.0},
	}}
	exec := NewExecutor(NewCatalog(lookup), perfConfig(2), perf.NewMonitor()).WithVerifier(verifier)

	result := exec.Execute(context.Background(), Plan{Steps: []Step{{ID: 1, Tool: "lookup"}}}, "goal", nil)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Empty(t, result.VerificationResults)
}

func TestExecutePlanContextSeedsStepZero(t *testing.T) {
	echo := &fakeTool{name: "echo", required: []string{"value"}}
	exec := NewExecutor(NewCatalog(echo), perfConfig(2), perf.NewMonitor())

	result := exec.Execute(context.Background(), Plan{Steps: []Step{
		{ID: 1, Tool: "echo", Parameters: map[string]any{"value": "$step0.user"}},
	}}, "goal", map[string]any{"user": "rosa"})

	assert.Equal(t, StatusSuccess, result.Status)
	args := echo.lastArgs.Load().(map[string]any)
	assert.Equal(t, "rosa", args["value"])
}

func TestExecuteEmptyPlanSucceeds(t *testing.T) {
	exec := NewExecutor(NewCatalog(), perfConfig(2), perf.NewMonitor())
	result := exec.Execute(context.Background(), Plan{}, "goal", nil)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Zero(t, result.StepsTotal)
}

func TestIsMissingParameters(t *testing.T) {
	err := &MissingParametersError{Tool: "send", Missing: []string{"body"}}
	assert.True(t, IsMissingParameters(err))
	assert.False(t, IsMissingParameters(errors.New("other")))
}
