package main

import (
	"context"
	"fmt"

	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/incident"
	"github.com/latticehq/lattice/pkg/memory"
	"github.com/latticehq/lattice/pkg/search"
	"github.com/latticehq/lattice/pkg/severity"
)

// Plan-executor tool adapters over the engine services. Each tool takes its
// parameters from the resolved step map and returns a JSON-serializable
// output for downstream $step references.

type searchTool struct {
	orchestrator *search.Orchestrator
}

func (searchTool) Name() string             { return "search" }
func (searchTool) RequiredParams() []string { return []string{"query"} }

func (t searchTool) Run(ctx context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)
	opts := search.Options{
		Modalities: stringSlice(params["modalities"]),
		Components: stringSlice(params["components"]),
	}
	if limit, ok := params["limit"].(float64); ok {
		opts.Limit = int(limit)
	}
	return t.orchestrator.Query(ctx, query, opts), nil
}

type graphNeighborhoodTool struct {
	graph *graph.Service
}

func (graphNeighborhoodTool) Name() string             { return "graph_neighborhood" }
func (graphNeighborhoodTool) RequiredParams() []string { return []string{"component_id"} }

func (t graphNeighborhoodTool) Run(ctx context.Context, params map[string]any) (any, error) {
	if !t.graph.IsConfigured() {
		return nil, fmt.Errorf("graph backend is not configured")
	}
	componentID, _ := params["component_id"].(string)
	return t.graph.GetComponentNeighborhood(ctx, componentID), nil
}

type severityTool struct {
	engine *severity.Engine
}

func (severityTool) Name() string             { return "severity_score" }
func (severityTool) RequiredParams() []string { return []string{"issue_id"} }

func (t severityTool) Run(ctx context.Context, params map[string]any) (any, error) {
	input := severity.Input{
		IssueID:    stringParam(params, "issue_id"),
		Components: stringSlice(params["components"]),
		Topic:      stringParam(params, "topic"),
	}
	input.DocSeverity = stringParam(params, "doc_severity")
	input.DocImpact = stringParam(params, "doc_impact")
	input.DocLabels = stringSlice(params["doc_labels"])
	return t.engine.Score(ctx, input), nil
}

type memoryRecallTool struct {
	memory *memory.Service
}

func (memoryRecallTool) Name() string             { return "memory_recall" }
func (memoryRecallTool) RequiredParams() []string { return []string{"user_id", "query"} }

func (t memoryRecallTool) Run(ctx context.Context, params map[string]any) (any, error) {
	store, err := t.memory.Store(stringParam(params, "user_id"))
	if err != nil {
		return nil, err
	}
	limit := 0
	if n, ok := params["limit"].(float64); ok {
		limit = int(n)
	}
	return store.Recall(ctx, stringParam(params, "query"), limit)
}

type investigationTool struct {
	builder *incident.Builder
}

func (investigationTool) Name() string             { return "build_investigation" }
func (investigationTool) RequiredParams() []string { return []string{"query"} }

// Run rebuilds a ReasoningResult from the step parameters, typically
// templated from an upstream search step's output.
func (t investigationTool) Run(_ context.Context, params map[string]any) (any, error) {
	result := incident.ReasoningResult{
		Query:      stringParam(params, "query"),
		Summary:    stringParam(params, "summary"),
		Components: stringSlice(params["components"]),
		TraceID:    stringParam(params, "trace_id"),
	}
	if raw, ok := params["evidence"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			result.Evidence = append(result.Evidence, incident.Evidence{
				ID:      stringParam(m, "id"),
				Source:  stringParam(m, "source"),
				Title:   stringParam(m, "title"),
				URL:     stringParam(m, "url"),
				Snippet: stringParam(m, "snippet"),
			})
		}
	}
	return t.builder.Build(result)
}

func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
