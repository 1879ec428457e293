// Package graph mirrors ingested entities into a Neo4j property graph and
// serves neighborhood queries. When the backend is unconfigured every read
// returns an empty summary and every write is a no-op.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/perf"
)

// QueryMetadata captures the outcome of the most recent backend operation.
// Errors are recorded here instead of propagating.
type QueryMetadata struct {
	Query            string    `json:"query,omitempty"`
	Error            string    `json:"error,omitempty"`
	NodesCreated     int       `json:"nodes_created,omitempty"`
	RelationsCreated int       `json:"relations_created,omitempty"`
	Records          int       `json:"records,omitempty"`
	At               time.Time `json:"at"`
}

// Service wraps the Neo4j driver with typed upserts and reads.
type Service struct {
	driver   neo4j.DriverWithContext
	database string
	monitor  *perf.Monitor
	logger   *slog.Logger

	mu       sync.Mutex
	lastMeta QueryMetadata
}

// NewService connects to Neo4j. A missing credential yields a no-op service,
// not an error: the rest of the engine degrades gracefully.
func NewService(cfg *config.Config, monitor *perf.Monitor) (*Service, error) {
	s := &Service{
		database: cfg.Graph.Database,
		monitor:  monitor,
		logger:   slog.Default().With("component", "graph"),
	}
	if !cfg.Graph.Configured() {
		return s, nil
	}
	driver, err := neo4j.NewDriverWithContext(
		cfg.Graph.URI,
		neo4j.BasicAuth(cfg.Graph.Username, cfg.Graph.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	s.driver = driver
	return s, nil
}

// IsConfigured reports whether the backend is usable.
func (s *Service) IsConfigured() bool { return s != nil && s.driver != nil }

// Close releases the driver.
func (s *Service) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

// LastQueryMetadata returns the outcome of the most recent operation.
func (s *Service) LastQueryMetadata() QueryMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMeta
}

func (s *Service) setMeta(meta QueryMetadata) {
	meta.At = time.Now().UTC()
	s.mu.Lock()
	s.lastMeta = meta
	s.mu.Unlock()
}

// RunQuery executes a parameterized read query and returns records keyed by
// return-name. Errors are logged, recorded in metadata, and swallowed: the
// caller receives an empty result set.
func (s *Service) RunQuery(ctx context.Context, query string, params map[string]any) []map[string]any {
	if !s.IsConfigured() {
		return nil
	}
	started := time.Now()
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	s.monitor.Observe("graph_query_ms", time.Since(started))
	if err != nil {
		s.logger.Warn("Graph query failed", "error", err)
		s.setMeta(QueryMetadata{Query: query, Error: err.Error()})
		return nil
	}

	records := make([]map[string]any, 0, len(result.Records))
	for _, rec := range result.Records {
		records = append(records, rec.AsMap())
	}
	s.setMeta(QueryMetadata{Query: query, Records: len(records)})
	return records
}

// RunWrite executes a parameterized write. Idempotent by construction: all
// typed upserts use MERGE keyed on the primary identifier.
func (s *Service) RunWrite(ctx context.Context, query string, params map[string]any) {
	if !s.IsConfigured() {
		return
	}
	started := time.Now()
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
	)
	s.monitor.Observe("graph_write_ms", time.Since(started))
	if err != nil {
		s.logger.Warn("Graph write failed", "error", err)
		s.setMeta(QueryMetadata{Query: query, Error: err.Error()})
		return
	}
	counters := result.Summary.Counters()
	s.setMeta(QueryMetadata{
		Query:            query,
		NodesCreated:     counters.NodesCreated(),
		RelationsCreated: counters.RelationshipsCreated(),
	})
}
