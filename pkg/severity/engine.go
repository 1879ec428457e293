// Package severity scores issues by blending chat, scm, doc, graph, and
// semantic-drift signals into an explainable 0–100 score.
package severity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/perf"
	"github.com/latticehq/lattice/pkg/vector"
)

// GraphReader is the slice of the graph service the engine reads.
type GraphReader interface {
	GetSignalStats(ctx context.Context, componentIDs, kinds []string, sinceUnix int64) graph.SignalStats
	GetComponentActivity(ctx context.Context, componentIDs []string, sinceUnix int64) graph.ComponentActivity
	RunQuery(ctx context.Context, query string, params map[string]any) []map[string]any
}

// Searcher is the slice of the vector service the semantic axis uses.
type Searcher interface {
	SemanticSearch(ctx context.Context, query string, opts vector.SearchOptions) ([]vector.SearchResult, error)
}

// Input identifies the issue and carries the doc-side facts the engine
// cannot derive from the backends.
type Input struct {
	IssueID      string
	Components   []string
	Topic        string
	DocSeverity  string
	DocImpact    string
	DocLabels    []string
	DocUpdatedAt time.Time
}

// Payload is the full scoring record. Contributions sum to the 0–1 score
// within 1e-6.
type Payload struct {
	IssueID       string             `json:"issue_id"`
	Score         float64            `json:"score"`      // 0–100
	Score0To10    float64            `json:"score_0_10"` // 0–10
	Label         string             `json:"label"`
	Breakdown     map[string]float64 `json:"breakdown"`
	Contributions map[string]float64 `json:"contributions"`
	Weights       map[string]float64 `json:"weights"`
	Details       map[string]any     `json:"details"`
	SemanticPairs []PairDrift        `json:"semantic_pairs,omitempty"`
	Explanation   Explanation        `json:"explanation"`
}

// Explanation is the algebraic trail of the blend.
type Explanation struct {
	Formula string            `json:"formula"`
	Terms   []ExplanationTerm `json:"terms"`
	Final   float64           `json:"final"` // 0–1
}

// ExplanationTerm is one axis term of the blend.
type ExplanationTerm struct {
	Axis         string  `json:"axis"`
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Engine computes severity payloads. Feature queries per axis are isolated:
// each can be re-run independently against the same backends.
type Engine struct {
	cfg     config.SeverityConfig
	graph   GraphReader
	vector  Searcher
	monitor *perf.Monitor
	logger  *slog.Logger
	now     func() time.Time
}

func NewEngine(cfg config.SeverityConfig, g GraphReader, v Searcher, monitor *perf.Monitor) *Engine {
	return &Engine{
		cfg:     cfg,
		graph:   g,
		vector:  v,
		monitor: monitor,
		logger:  slog.Default().With("component", "severity"),
		now:     time.Now,
	}
}

// Score evaluates every axis and blends them with the configured weights.
func (e *Engine) Score(ctx context.Context, input Input) *Payload {
	started := e.now()

	chatRaw, chatScore := e.chatFeatures(ctx, input.Components)
	scmRaw, scmScore := e.scmFeatures(ctx, input.Components)
	docRaw, docScore := e.docFeatures(input)
	graphRaw, graphScore := e.graphFeatures(ctx, input.Components)
	pairs, semanticScore := e.semanticFeatures(ctx, input)

	w := e.cfg.Weights
	axes := []ExplanationTerm{
		{Axis: "chat", Score: chatScore, Weight: w.Chat},
		{Axis: "scm", Score: scmScore, Weight: w.SCM},
		{Axis: "doc", Score: docScore, Weight: w.Doc},
		{Axis: "semantic", Score: semanticScore, Weight: w.Semantic},
		{Axis: "graph", Score: graphScore, Weight: w.Graph},
	}

	breakdown := map[string]float64{}
	contributions := map[string]float64{}
	weights := map[string]float64{}
	var total float64
	for i := range axes {
		axes[i].Contribution = axes[i].Weight * axes[i].Score
		total += axes[i].Contribution
		breakdown[axes[i].Axis] = axes[i].Score
		contributions[axes[i].Axis] = axes[i].Contribution
		weights[axes[i].Axis] = axes[i].Weight
	}
	total = clamp01(total)

	payload := &Payload{
		IssueID:       input.IssueID,
		Score:         total * 100,
		Score0To10:    total * 10,
		Label:         labelFor(total * 100),
		Breakdown:     breakdown,
		Contributions: contributions,
		Weights:       weights,
		Details: map[string]any{
			"chat":  chatRaw,
			"scm":   scmRaw,
			"doc":   docRaw,
			"graph": graphRaw,
		},
		SemanticPairs: pairs,
		Explanation: Explanation{
			Formula: "score = 100 × Σ(weight_axis × score_axis)",
			Terms:   axes,
			Final:   total,
		},
	}

	if err := verifyContributions(payload); err != nil {
		e.logger.Error("Severity contribution invariant violated", "issue_id", input.IssueID, "error", err)
	}
	e.monitor.Observe("severity_score_ms", e.now().Sub(started))
	return payload
}

// labelFor maps the 0–100 score onto the severity enum.
func labelFor(score float64) string {
	switch {
	case score >= 85:
		return "critical"
	case score >= 70:
		return "high"
	case score >= 50:
		return "medium"
	default:
		return "low"
	}
}

// verifyContributions checks that per-axis contributions sum to the blended
// 0–1 score within epsilon.
func verifyContributions(p *Payload) error {
	const epsilon = 1e-6
	var sum float64
	for _, c := range p.Contributions {
		sum += c
	}
	// The clamp can legitimately cap an overweight blend at 1.
	if p.Explanation.Final < 1 && math.Abs(sum-p.Explanation.Final) > epsilon {
		return fmt.Errorf("contributions sum %.9f != score %.9f", sum, p.Explanation.Final)
	}
	return nil
}
