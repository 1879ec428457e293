package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/perf"
)

const defaultMaxParallelSteps = 5

// Executor runs plans level by level. Within a level, steps run
// concurrently up to the configured bound; a level completes before the
// next begins, so every dependency's output exists when referenced.
type Executor struct {
	catalog  *Catalog
	verifier Verifier
	critic   Critic
	parallel config.ParallelConfig
	workers  int
	monitor  *perf.Monitor
	logger   *slog.Logger
}

func NewExecutor(catalog *Catalog, cfg config.PerformanceConfig, monitor *perf.Monitor) *Executor {
	return &Executor{
		catalog:  catalog,
		parallel: cfg.ParallelExecution,
		workers:  cfg.BackgroundTasks.Workers,
		monitor:  monitor,
		logger:   slog.Default().With("component", "plan-executor"),
	}
}

// WithVerifier enables background verification of critical steps.
func (e *Executor) WithVerifier(v Verifier) *Executor {
	e.verifier = v
	return e
}

// WithCritic enables failure critique for replan reasons.
func (e *Executor) WithCritic(c Critic) *Executor {
	e.critic = c
	return e
}

func (e *Executor) maxParallel() int {
	if !e.parallel.Enabled {
		return 1
	}
	if e.parallel.MaxParallelSteps > 0 {
		return e.parallel.MaxParallelSteps
	}
	return defaultMaxParallelSteps
}

// Execute runs the plan against the goal. planContext seeds step 0's
// output, so plans can reference caller-provided values as $step0.key.
func (e *Executor) Execute(ctx context.Context, p Plan, goal string, planContext map[string]any) *Result {
	started := time.Now()
	result := &Result{
		Status:      StatusInProgress,
		StepsTotal:  len(p.Steps),
		StepResults: map[int]StepResult{},
	}
	if len(p.Steps) == 0 {
		result.Status = StatusSuccess
		return result
	}

	levels, _, err := buildLevels(p.Steps)
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		e.logger.Warn("Plan rejected at validation", "error", err)
		return result
	}

	byID := make(map[int]Step, len(p.Steps))
	for _, s := range p.Steps {
		byID[s.ID] = s
	}

	outputs := map[int]any{}
	if len(planContext) > 0 {
		outputs[0] = planContext
	}

	var pool *verifyPool
	if e.verifier != nil {
		pool = newVerifyPool(e.verifier, e.workers)
	}

	var mu sync.Mutex
	lastCompleted := -1
	failed := false

	for _, level := range levels {
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(e.maxParallel())
		for _, id := range level {
			step := byID[id]
			group.Go(func() error {
				stepResult := e.runStep(groupCtx, step, outputs, &mu)
				mu.Lock()
				result.StepResults[step.ID] = stepResult
				if stepResult.Status == StatusSuccess {
					outputs[step.ID] = stepResult.Output
					result.StepsCompleted++
					if step.ID > lastCompleted {
						lastCompleted = step.ID
					}
				}
				mu.Unlock()

				if stepResult.Failed() {
					return fmt.Errorf("step %d: %s", step.ID, stepResult.Error)
				}
				if pool != nil && step.Critical {
					pool.submit(ctx, goal, step, stepResult.Output)
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			failed = true
			break
		}
	}

	if pool != nil {
		result.VerificationResults = pool.wait()
	}
	if out, ok := outputs[lastCompleted]; ok && lastCompleted >= 0 {
		result.FinalOutput = out
	}

	switch {
	case failed:
		e.finishFailed(ctx, goal, result)
	case e.rejectedByVerifier(result):
		result.Status = StatusNeedsReplan
		result.NeedsReplan = true
		result.ReplanReason = verifierReplanReason(result.VerificationResults)
	case e.flaggedByVerifier(result):
		result.Status = StatusPartialSuccess
	default:
		result.Status = StatusSuccess
	}

	e.monitor.Observe("plan_execute_ms", time.Since(started))
	e.logger.Info("Plan execution finished",
		"status", result.Status,
		"steps_completed", result.StepsCompleted,
		"steps_total", result.StepsTotal)
	return result
}

// runStep resolves parameters, validates them, and invokes the tool. A
// missing tool or missing parameters are not retryable; a tool call that
// errors is.
func (e *Executor) runStep(ctx context.Context, step Step, outputs map[int]any, mu *sync.Mutex) StepResult {
	started := time.Now()
	result := StepResult{StepID: step.ID, Tool: step.Tool, Status: StatusInProgress}
	finish := func() StepResult {
		result.DurationMS = float64(time.Since(started)) / float64(time.Millisecond)
		return result
	}

	tool, ok := e.catalog.Get(step.Tool)
	if !ok {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("unknown tool %q", step.Tool)
		return finish()
	}

	mu.Lock()
	params := resolveParams(step.Parameters, outputs, e.logger)
	mu.Unlock()

	if err := validateParams(tool, params); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		return finish()
	}

	output, err := tool.Run(ctx, params)
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.RetryPossible = true
		e.logger.Warn("Step execution failed", "step_id", step.ID, "tool", step.Tool, "error", err)
		return finish()
	}
	result.Status = StatusSuccess
	result.Output = output
	return finish()
}

// finishFailed decides between NEEDS_REPLAN and FAILED and asks the critic
// for a replan reason when one is configured.
func (e *Executor) finishFailed(ctx context.Context, goal string, result *Result) {
	var firstFailure StepResult
	for _, sr := range result.StepResults {
		if sr.Failed() && (firstFailure.Status == "" || sr.StepID < firstFailure.StepID) {
			firstFailure = sr
		}
	}
	result.Error = firstFailure.Error

	if firstFailure.RetryPossible {
		result.Status = StatusNeedsReplan
		result.NeedsReplan = true
		result.ReplanReason = fmt.Sprintf("step %d (%s) failed: %s", firstFailure.StepID, firstFailure.Tool, firstFailure.Error)
	} else {
		result.Status = StatusFailed
	}

	if e.critic != nil && result.NeedsReplan {
		critique, err := e.critic.Critique(ctx, goal, firstFailure)
		if err != nil {
			e.logger.Warn("Critic consultation failed", "step_id", firstFailure.StepID, "error", err)
		} else if critique != "" {
			result.ReplanReason = critique
		}
	}
}

// rejectedByVerifier reports whether any verification came back invalid
// with high confidence.
func (e *Executor) rejectedByVerifier(result *Result) bool {
	for _, entry := range result.VerificationResults {
		if entry.Error == "" && !entry.Verification.Valid && entry.Verification.Confidence > 0.8 {
			return true
		}
	}
	return false
}

// flaggedByVerifier reports low-confidence invalid verdicts: the plan ran
// to completion but with noted issues.
func (e *Executor) flaggedByVerifier(result *Result) bool {
	for _, entry := range result.VerificationResults {
		if entry.Error == "" && !entry.Verification.Valid {
			return true
		}
	}
	return false
}

func verifierReplanReason(entries []VerificationEntry) string {
	for _, entry := range entries {
		if entry.Error == "" && !entry.Verification.Valid && entry.Verification.Confidence > 0.8 {
			reason := fmt.Sprintf("verification rejected step %d (confidence %.2f)", entry.StepID, entry.Verification.Confidence)
			if len(entry.Verification.Issues) > 0 {
				reason += ": " + entry.Verification.Issues[0]
			}
			return reason
		}
	}
	return "verification rejected a critical step"
}

// IsMissingParameters reports whether err is a required-parameter failure.
func IsMissingParameters(err error) bool {
	var mp *MissingParametersError
	return errors.As(err, &mp)
}
