// Package plan executes tool plans as dependency DAGs: steps are grouped
// into levels, run concurrently within a bounded level, and their outputs
// flow into later steps through $step{N}.{path} parameter references.
package plan

// Step statuses.
const (
	StatusPending        = "PENDING"
	StatusInProgress     = "IN_PROGRESS"
	StatusSuccess        = "SUCCESS"
	StatusPartialSuccess = "PARTIAL_SUCCESS"
	StatusFailed         = "FAILED"
	StatusNeedsReplan    = "NEEDS_REPLAN"
)

// Step is one tool invocation in a plan. DependsOn is the explicit
// dependency list; references inside Parameters add implicit ones.
type Step struct {
	ID          int            `json:"id"`
	Tool        string         `json:"tool"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	DependsOn   []int          `json:"dependencies,omitempty"`
	Critical    bool           `json:"critical,omitempty"`
}

// Plan is an ordered list of steps forming a DAG.
type Plan struct {
	Steps []Step `json:"steps"`
}

// StepResult records one step's outcome.
type StepResult struct {
	StepID        int     `json:"step_id"`
	Tool          string  `json:"tool"`
	Status        string  `json:"status"`
	Output        any     `json:"output,omitempty"`
	Error         string  `json:"error,omitempty"`
	RetryPossible bool    `json:"retry_possible"`
	DurationMS    float64 `json:"duration_ms"`
}

// Failed reports whether the step ended in error.
func (r StepResult) Failed() bool {
	return r.Status == StatusFailed
}

// Result is the full execution record. Completed step results are always
// preserved, including on failure.
type Result struct {
	Status              string              `json:"status"`
	StepsCompleted      int                 `json:"steps_completed"`
	StepsTotal          int                 `json:"steps_total"`
	StepResults         map[int]StepResult  `json:"step_results"`
	VerificationResults []VerificationEntry `json:"verification_results,omitempty"`
	FinalOutput         any                 `json:"final_output,omitempty"`
	Error               string              `json:"error,omitempty"`
	NeedsReplan         bool                `json:"needs_replan"`
	ReplanReason        string              `json:"replan_reason,omitempty"`
}
