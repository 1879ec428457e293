package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/latticehq/lattice/pkg/plan"
)

// PlanVerifier judges completed critical steps against the user goal.
type PlanVerifier struct {
	client Client
}

func NewPlanVerifier(client Client) *PlanVerifier {
	return &PlanVerifier{client: client}
}

const verifierSystem = `You verify whether one executed plan step actually achieved what the user goal required.
Judge only the given step against the goal. Return a JSON object:
{"valid": bool, "issues": [string], "suggestions": [string], "confidence": number between 0 and 1}`

// Verify re-reads the goal, the step definition, and its result.
func (v *PlanVerifier) Verify(ctx context.Context, goal string, step plan.Step, output any) (plan.Verification, error) {
	outputJSON, _ := json.Marshal(output)
	stepJSON, _ := json.Marshal(step)
	prompt := fmt.Sprintf("Goal:\n%s\n\nStep:\n%s\n\nStep result:\n%s", goal, stepJSON, outputJSON)

	raw, err := v.client.Complete(ctx, Request{
		System:   verifierSystem,
		Messages: []Message{{Role: RoleUser, Content: prompt}},
		JSONMode: true,
	})
	if err != nil {
		return plan.Verification{}, fmt.Errorf("verification call failed: %w", err)
	}

	var verification plan.Verification
	if err := json.Unmarshal([]byte(StripFences(raw)), &verification); err != nil {
		return plan.Verification{}, fmt.Errorf("failed to parse verification response: %w", err)
	}
	return verification, nil
}

// PlanCritic produces a root-cause annotation for a failed step.
type PlanCritic struct {
	client Client
}

func NewPlanCritic(client Client) *PlanCritic {
	return &PlanCritic{client: client}
}

const criticSystem = `A plan step failed. Name the most likely root cause and the corrective action a replanner should take.
Return a JSON object: {"root_cause": string, "corrective_actions": [string]}`

func (c *PlanCritic) Critique(ctx context.Context, goal string, failed plan.StepResult) (string, error) {
	failedJSON, _ := json.Marshal(failed)
	raw, err := c.client.Complete(ctx, Request{
		System:   criticSystem,
		Messages: []Message{{Role: RoleUser, Content: fmt.Sprintf("Goal:\n%s\n\nFailed step:\n%s", goal, failedJSON)}},
		JSONMode: true,
	})
	if err != nil {
		return "", fmt.Errorf("critique call failed: %w", err)
	}

	var parsed struct {
		RootCause         string   `json:"root_cause"`
		CorrectiveActions []string `json:"corrective_actions"`
	}
	if err := json.Unmarshal([]byte(StripFences(raw)), &parsed); err != nil {
		return "", fmt.Errorf("failed to parse critique response: %w", err)
	}
	reason := parsed.RootCause
	if len(parsed.CorrectiveActions) > 0 {
		reason += "; corrective: " + strings.Join(parsed.CorrectiveActions, "; ")
	}
	return reason, nil
}

// ExtractedMemory is one durable fact pulled out of a conversation.
type ExtractedMemory struct {
	Content  string  `json:"content"`
	Category string  `json:"category"`
	Salience float64 `json:"salience"`
}

// MemoryExtractor pulls durable user facts from conversation turns.
type MemoryExtractor struct {
	client Client
}

func NewMemoryExtractor(client Client) *MemoryExtractor {
	return &MemoryExtractor{client: client}
}

const extractorSystem = `Extract durable facts about the user from this conversation: preferences, role, recurring topics, commitments.
Skip anything transient or derivable from the conversation itself.
Return a JSON object: {"memories": [{"content": string, "category": string, "salience": number between 0.1 and 1.0}]}. An empty list is fine.`

func (e *MemoryExtractor) Extract(ctx context.Context, conversation []Message) ([]ExtractedMemory, error) {
	var b strings.Builder
	for _, m := range conversation {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	raw, err := e.client.Complete(ctx, Request{
		System:   extractorSystem,
		Messages: []Message{{Role: RoleUser, Content: b.String()}},
		JSONMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("memory extraction call failed: %w", err)
	}

	var parsed struct {
		Memories []ExtractedMemory `json:"memories"`
	}
	if err := json.Unmarshal([]byte(StripFences(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	out := parsed.Memories[:0]
	for _, m := range parsed.Memories {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Salience < 0.1 {
			m.Salience = 0.1
		}
		if m.Salience > 1.0 {
			m.Salience = 1.0
		}
		out = append(out, m)
	}
	return out, nil
}

// AnswerSynthesizer composes a grounded prose answer from retrieved
// snippets.
type AnswerSynthesizer struct {
	client Client
}

func NewAnswerSynthesizer(client Client) *AnswerSynthesizer {
	return &AnswerSynthesizer{client: client}
}

const synthesizerSystem = `Answer the user's question using only the retrieved snippets below.
Cite nothing outside the snippets; when the snippets do not answer the question, say so.
Keep the answer short and concrete.`

// Snippet is one retrieved item fed to the synthesizer.
type Snippet struct {
	Source string
	Title  string
	Text   string
}

func (a *AnswerSynthesizer) Synthesize(ctx context.Context, query string, snippets []Snippet) (string, error) {
	if len(snippets) == 0 {
		return "", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSnippets:\n", query)
	for i, sn := range snippets {
		fmt.Fprintf(&b, "[%d] (%s) %s\n%s\n\n", i+1, sn.Source, sn.Title, sn.Text)
	}
	answer, err := a.client.Complete(ctx, Request{
		System:   synthesizerSystem,
		Messages: []Message{{Role: RoleUser, Content: b.String()}},
	})
	if err != nil {
		return "", fmt.Errorf("synthesis call failed: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// StripFences removes a wrapping markdown code fence, which some models add
// even in JSON mode.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
