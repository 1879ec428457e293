package plan

import (
	"context"
	"sync"
)

// Verification is a verifier's judgement of one completed critical step.
type Verification struct {
	Valid       bool     `json:"valid"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// VerificationEntry ties a verification back to its step.
type VerificationEntry struct {
	StepID       int          `json:"step_id"`
	Verification Verification `json:"verification"`
	Error        string       `json:"error,omitempty"`
}

// Verifier re-reads the goal, the step, and its output and judges whether
// the step actually achieved what the goal needed.
type Verifier interface {
	Verify(ctx context.Context, goal string, step Step, output any) (Verification, error)
}

// Critic annotates a failed execution with a root cause and corrective
// actions for the replanner.
type Critic interface {
	Critique(ctx context.Context, goal string, failed StepResult) (string, error)
}

// verifyPool runs verifications in the background with a bounded worker
// count; Wait collects every outcome before the final response is built.
type verifyPool struct {
	verifier Verifier
	sem      chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	entries []VerificationEntry
}

func newVerifyPool(verifier Verifier, workers int) *verifyPool {
	if workers <= 0 {
		workers = 2
	}
	return &verifyPool{verifier: verifier, sem: make(chan struct{}, workers)}
}

// submit schedules one verification. A canceled context drains the slot
// without calling the verifier.
func (p *verifyPool) submit(ctx context.Context, goal string, step Step, output any) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
			p.record(VerificationEntry{StepID: step.ID, Error: ctx.Err().Error()})
			return
		}

		verification, err := p.verifier.Verify(ctx, goal, step, output)
		entry := VerificationEntry{StepID: step.ID, Verification: verification}
		if err != nil {
			entry.Error = err.Error()
		}
		p.record(entry)
	}()
}

func (p *verifyPool) record(entry VerificationEntry) {
	p.mu.Lock()
	p.entries = append(p.entries, entry)
	p.mu.Unlock()
}

// wait blocks until all submitted verifications finish and returns them
// ordered by step ID.
func (p *verifyPool) wait() []VerificationEntry {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]VerificationEntry, len(p.entries))
	copy(out, p.entries)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].StepID > out[j].StepID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
