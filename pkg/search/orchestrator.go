// Package search runs the planner-driven parallel fanout across modality
// handlers, fuses results, and records query traces.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/incident"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/perf"
	"github.com/latticehq/lattice/pkg/planner"
)

// ResponseCap bounds the fused result list.
const ResponseCap = 10

// Response is the shaped outcome of one query. Status is always "ok": the
// worst case is empty results, never a top-level failure.
type Response struct {
	Status         string                        `json:"status"`
	Query          string                        `json:"query"`
	Results        []modality.Result             `json:"results"`
	ModalitiesUsed []string                      `json:"modalities_used"`
	GraphContext   map[string]graph.Neighborhood `json:"graph_context,omitempty"`
	TraceID        string                        `json:"trace_id,omitempty"`
	Telemetry      []ModalityTelemetry           `json:"telemetry,omitempty"`
}

// ModalityTelemetry records one handler's contribution to the fanout.
type ModalityTelemetry struct {
	Modality   string `json:"modality"`
	Results    int    `json:"results"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Options tune one query invocation.
type Options struct {
	Hints      *planner.Hints
	Modalities []string // restricts the primary fanout when non-empty
	Components []string // graph context is composed per targeted component
	Limit      int
}

// Orchestrator fans a query out across selected handlers.
type Orchestrator struct {
	cfg      *config.SearchConfig
	planner  *planner.Planner
	registry *modality.Registry
	graph    *graph.Service
	traces   *incident.TraceStore
	monitor  *perf.Monitor
	logger   *slog.Logger
}

func NewOrchestrator(cfg *config.SearchConfig, pl *planner.Planner, reg *modality.Registry, g *graph.Service, traces *incident.TraceStore, monitor *perf.Monitor) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		planner:  pl,
		registry: reg,
		graph:    g,
		traces:   traces,
		monitor:  monitor,
		logger:   slog.Default().With("component", "orchestrator"),
	}
}

// Query plans, fans out, fuses, and traces. A primary fanout that returns
// zero results triggers exactly one fallback pass.
func (o *Orchestrator) Query(ctx context.Context, query string, opts Options) *Response {
	started := time.Now()
	resp := &Response{Status: "ok", Query: query, Results: []modality.Result{}}

	primaryIDs := o.planner.Plan(query, false, opts.Hints)
	if len(opts.Modalities) > 0 {
		primaryIDs = restrict(primaryIDs, opts.Modalities)
	}
	results, used, telemetry := o.fanout(ctx, query, primaryIDs, false, opts.Limit)

	if len(results) == 0 {
		fallbackIDs := o.planner.Plan(query, true, opts.Hints)
		fbResults, fbUsed, fbTelemetry := o.fanout(ctx, query, fallbackIDs, true, opts.Limit)
		results = append(results, fbResults...)
		used = append(used, fbUsed...)
		telemetry = append(telemetry, fbTelemetry...)
	}

	resp.Results = fuse(results, ResponseCap)
	resp.ModalitiesUsed = dedupeInOrder(used)
	resp.Telemetry = telemetry
	resp.GraphContext = o.graphContext(ctx, opts.Components)

	o.monitor.Observe("query_total_ms", time.Since(started))
	o.recordTrace(resp, results)
	return resp
}

// fanout runs each selected handler concurrently under its own deadline.
// A handler that errors or times out contributes zero results.
func (o *Orchestrator) fanout(ctx context.Context, query string, modalityIDs []string, includeFallback bool, limit int) ([]modality.Result, []string, []ModalityTelemetry) {
	handlers := o.registry.QueryHandlers(includeFallback, modalityIDs)
	if len(handlers) == 0 {
		return nil, nil, nil
	}

	type fanoutSlot struct {
		results   []modality.Result
		telemetry ModalityTelemetry
	}
	slots := make([]fanoutSlot, len(handlers))

	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h modality.Handler) {
			defer wg.Done()
			id := h.ModalityID()
			mc, _ := o.cfg.Modality(id)
			hctx := ctx
			var cancel context.CancelFunc
			if timeout := mc.Timeout(); timeout > 0 {
				hctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			queryLimit := limit
			if queryLimit <= 0 || queryLimit > mc.MaxResults {
				queryLimit = mc.MaxResults
			}
			started := time.Now()
			results, err := h.Query(hctx, query, queryLimit)
			elapsed := time.Since(started)

			slot := fanoutSlot{telemetry: ModalityTelemetry{
				Modality:   id,
				DurationMS: elapsed.Milliseconds(),
			}}
			switch {
			case err != nil:
				// Partial results from a failed or timed-out handler are
				// discarded.
				slot.telemetry.Error = err.Error()
				slot.telemetry.TimedOut = hctx.Err() == context.DeadlineExceeded
				o.monitor.Incr("fanout_errors_" + id)
				o.logger.Warn("Modality query failed", "modality", id, "error", err)
			default:
				slot.results = results
				slot.telemetry.Results = len(results)
			}
			o.monitor.Observe("fanout_ms_"+id, elapsed)
			slots[i] = slot
		}(i, h)
	}
	wg.Wait()

	var all []modality.Result
	var used []string
	telemetry := make([]ModalityTelemetry, 0, len(slots))
	for _, slot := range slots {
		all = append(all, slot.results...)
		used = append(used, slot.telemetry.Modality)
		telemetry = append(telemetry, slot.telemetry)
	}
	return all, used, telemetry
}

// fuse sorts by weighted score descending and truncates. The sort is stable,
// so equal scores keep handler insertion order.
func fuse(results []modality.Result, limit int) []modality.Result {
	fused := slices.Clone(results)
	sort.SliceStable(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	if len(fused) > limit {
		fused = fused[:limit]
	}
	if fused == nil {
		fused = []modality.Result{}
	}
	return fused
}

func restrict(ids, allowed []string) []string {
	var out []string
	for _, id := range ids {
		if slices.Contains(allowed, id) {
			out = append(out, id)
		}
	}
	return out
}

func dedupeInOrder(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// graphContext composes a neighborhood per targeted component.
func (o *Orchestrator) graphContext(ctx context.Context, components []string) map[string]graph.Neighborhood {
	if len(components) == 0 || !o.graph.IsConfigured() {
		return nil
	}
	out := make(map[string]graph.Neighborhood, len(components))
	for _, comp := range components {
		out[comp] = o.graph.GetComponentNeighborhood(ctx, comp)
	}
	return out
}

func (o *Orchestrator) recordTrace(resp *Response, retrieved []modality.Result) {
	if o.traces == nil {
		return
	}
	trace := &incident.QueryTrace{
		Query:          resp.Query,
		ModalitiesUsed: resp.ModalitiesUsed,
		Telemetry:      map[string]string{},
	}
	for _, r := range retrieved {
		trace.Retrieved = append(trace.Retrieved, incident.TraceChunkFrom(r))
	}
	for _, r := range resp.Results {
		trace.Chosen = append(trace.Chosen, incident.TraceChunkFrom(r))
	}
	for _, tel := range resp.Telemetry {
		status := fmt.Sprintf("%d results in %dms", tel.Results, tel.DurationMS)
		if tel.Error != "" {
			status = "error: " + tel.Error
		}
		trace.Telemetry[tel.Modality] = status
	}
	if err := o.traces.Append(trace); err != nil {
		o.logger.Warn("Trace append failed", "error", err)
		return
	}
	resp.TraceID = trace.TraceID
}
