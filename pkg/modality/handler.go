// Package modality defines the per-source handler contract and the registry
// that tracks which handlers are enabled, what they last indexed, and whether
// their configuration drifted since.
package modality

import (
	"context"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
)

// Result is one retrieved chunk with its weighted relevance. Score is the
// backend similarity multiplied by the modality weight; RawScore keeps the
// unweighted value for telemetry.
type Result struct {
	Chunk    chunk.Chunk `json:"chunk"`
	Modality string      `json:"modality"`
	Title    string      `json:"title,omitempty"`
	URL      string      `json:"url,omitempty"`
	Score    float64     `json:"score"`
	RawScore float64     `json:"raw_score"`
}

// FromChunk builds a Result from a retrieved chunk, weighting the raw
// backend score by the modality weight and lifting the conventional title
// and url metadata keys.
func FromChunk(modalityID string, c chunk.Chunk, rawScore, weight float64) Result {
	r := Result{
		Chunk:    c,
		Modality: modalityID,
		Score:    rawScore * weight,
		RawScore: rawScore,
	}
	if v, ok := c.Metadata[chunk.MetaDisplayName].(string); ok {
		r.Title = v
	}
	if v, ok := c.Metadata[chunk.MetaURL].(string); ok {
		r.URL = v
	}
	return r
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Sources int `json:"sources"`
	Chunks  int `json:"chunks"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Add merges another run's counters.
func (s *IngestStats) Add(other IngestStats) {
	s.Sources += other.Sources
	s.Chunks += other.Chunks
	s.Skipped += other.Skipped
	s.Errors += other.Errors
}

// Handler is one modality's ingest+query implementation. Query-only handlers
// report CanIngest false and their Ingest is never called.
type Handler interface {
	// ModalityID is the stable identifier used in config and registry state.
	ModalityID() string

	CanIngest() bool
	CanQuery() bool

	// Ingest pulls from the external source and writes chunks. A non-nil
	// scope overrides the configured one for this run.
	Ingest(ctx context.Context, scope *config.ModalityScope) (IngestStats, error)

	// Query retrieves up to limit results for the text. Scores are already
	// weighted by the modality weight.
	Query(ctx context.Context, text string, limit int) ([]Result, error)
}
