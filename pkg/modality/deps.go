package modality

import (
	"context"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/perf"
	"github.com/latticehq/lattice/pkg/vector"
)

// Deps bundles the shared services every handler needs.
type Deps struct {
	Config  *config.Config
	Vector  *vector.Service
	Graph   *graph.Service
	State   *StateStore
	Monitor *perf.Monitor
}

// ModalityConfig resolves the effective config for a modality, empty (and
// disabled) when unconfigured.
func (d Deps) ModalityConfig(id string) config.ModalityConfig {
	mc, ok := d.Config.Search.Modality(id)
	if !ok {
		return config.ModalityConfig{}
	}
	return mc
}

// SemanticQuery is the shared query path: search the vector index restricted
// to the handler's source types, weight scores by the modality weight, and
// shape results.
func (d Deps) SemanticQuery(ctx context.Context, modalityID string, sourceTypes []chunk.SourceType, text string, limit int, extra vector.SearchOptions) ([]Result, error) {
	mc := d.ModalityConfig(modalityID)
	if limit <= 0 {
		limit = mc.MaxResults
	}
	opts := extra
	opts.TopK = limit
	opts.SourceTypes = sourceTypes
	if opts.MetadataFilters == nil && d.Config.Search.WorkspaceID != "" {
		opts.MetadataFilters = map[string]any{chunk.MetaWorkspaceID: d.Config.Search.WorkspaceID}
	}
	hits, err := d.Vector.SemanticSearch(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if hit.Chunk == nil {
			continue
		}
		results = append(results, FromChunk(modalityID, *hit.Chunk, hit.Score, mc.Weight))
	}
	d.Monitor.Add("modality_query_results_"+modalityID, int64(len(results)))
	return results, nil
}

// IndexAndMirror persists chunks to the vector index and mirrors each into
// the graph as Chunk→Source. Empty-text chunks are dropped by the vector
// service; the graph mirror skips them here for symmetry.
func (d Deps) IndexAndMirror(ctx context.Context, chunks []*chunk.Chunk) (int, error) {
	indexed, err := d.Vector.IndexChunks(ctx, chunks)
	if err != nil {
		return indexed, err
	}
	if d.Graph.IsConfigured() {
		for _, c := range chunks {
			if c.Text == "" {
				continue
			}
			d.Graph.UpsertChunk(ctx, graph.ChunkNodeFrom(c))
		}
	}
	return indexed, nil
}
