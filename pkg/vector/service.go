// Package vector persists chunks in Qdrant and serves filtered semantic
// search. Embeddings are L2-normalized and compared by cosine similarity.
package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/embed"
	"github.com/latticehq/lattice/pkg/masking"
	"github.com/latticehq/lattice/pkg/perf"
)

// Sentinel errors for vector operations. Callers treat any error as
// "no results" and never abort the fanout.
var (
	ErrUnconfigured      = errors.New("vector backend not configured")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// SearchOptions narrow a semantic search. Every set filter becomes a
// conjunctive "must" clause; list-valued metadata filters mean "any-of".
type SearchOptions struct {
	TopK            int
	MinScore        float64
	SourceTypes     []chunk.SourceType
	Components      []string
	Services        []string
	Tags            []string
	Since           time.Time
	MetadataFilters map[string]any
	// Collection overrides the default collection for this search.
	Collection string
}

// SearchResult is one scored chunk.
type SearchResult struct {
	Chunk *chunk.Chunk
	Score float64
}

// Service is the Qdrant-backed vector store.
type Service struct {
	client     *qdrant.Client
	embedder   embed.Embedder
	collection string
	dimension  int
	topK       int
	minScore   float64
	timeout    time.Duration
	masker     *masking.Service
	monitor    *perf.Monitor
	logger     *slog.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewService connects to Qdrant per config. Returns a disabled no-op service
// when the backend is not configured.
func NewService(cfg *config.Config, embedder embed.Embedder, monitor *perf.Monitor) (*Service, error) {
	s := &Service{
		embedder:   embedder,
		collection: cfg.VectorDB.Collection,
		dimension:  cfg.VectorDB.Dimension,
		topK:       cfg.VectorDB.DefaultTopK,
		minScore:   cfg.VectorDB.MinScore,
		timeout:    time.Duration(cfg.VectorDB.TimeoutSeconds) * time.Second,
		masker:     masking.NewService(cfg.Masking),
		monitor:    monitor,
		logger:     slog.Default().With("component", "vector"),
		ensured:    make(map[string]bool),
	}
	if !cfg.VectorDB.Configured() {
		return s, nil
	}

	host, port, useTLS, err := splitEndpoint(cfg.VectorDB.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid vectordb.url: %w", err)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.VectorDB.APIKey,
		UseTLS: useTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                30 * time.Second,
				Timeout:             10 * time.Second,
				PermitWithoutStream: true,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	s.client = client
	return s, nil
}

// IsConfigured reports whether the backend is usable.
func (s *Service) IsConfigured() bool { return s != nil && s.client != nil }

// Close releases the backend connection.
func (s *Service) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// IndexChunks embeds and upserts chunks. Chunks with empty text are skipped:
// they must be neither embedded nor persisted. Point IDs derive from the
// entity ID so re-indexing identical content is idempotent.
func (s *Service) IndexChunks(ctx context.Context, chunks []*chunk.Chunk) (int, error) {
	if !s.IsConfigured() {
		return 0, ErrUnconfigured
	}

	byCollection := make(map[string][]*chunk.Chunk)
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		// Scrub credentials before the text is embedded; the chunk is
		// mutated so downstream consumers index masked text too.
		c.Text = s.masker.Mask(c.Text)
		coll := c.Collection
		if coll == "" {
			coll = s.collection
		}
		byCollection[coll] = append(byCollection[coll], c)
	}

	indexed := 0
	for coll, group := range byCollection {
		n, err := s.indexInto(ctx, coll, group)
		indexed += n
		if err != nil {
			return indexed, err
		}
	}
	s.monitor.Add("vector_chunks_indexed", int64(indexed))
	return indexed, nil
}

func (s *Service) indexInto(ctx context.Context, collection string, chunks []*chunk.Chunk) (int, error) {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		// Same clamp as ingest; chunks built through chunk.New are already
		// clamped, re-clamping is a no-op.
		texts[i] = chunk.ClampText(c.Text)
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed for index failed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("%w: got %d vectors for %d chunks", ErrDimensionMismatch, len(vectors), len(chunks))
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) != s.dimension {
			return 0, fmt.Errorf("%w: vector has %d dims, collection wants %d",
				ErrDimensionMismatch, len(vectors[i]), s.dimension)
		}
		id := c.EntityID
		if id == "" {
			id = c.ChunkID
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(chunk.PointID(id)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(c.ToPayload()),
		})
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	started := time.Now()
	_, err = s.client.Upsert(opCtx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	s.monitor.Observe("vector_upsert_ms", time.Since(started))
	if err != nil {
		return 0, fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return len(points), nil
}

// SemanticSearch embeds the query and runs a filtered cosine search.
// Empty query text returns an empty list without touching the backend.
func (s *Service) SemanticSearch(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if !s.IsConfigured() {
		return nil, ErrUnconfigured
	}

	vectors, err := s.embedder.Embed(ctx, []string{chunk.ClampText(query)})
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query returned %d vectors, want 1", len(vectors))
	}

	collection := opts.Collection
	if collection == "" {
		collection = s.collection
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, err
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = s.topK
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = s.minScore
	}

	queryReq := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vectors[0]...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if minScore > 0 {
		queryReq.ScoreThreshold = qdrant.PtrOf(float32(minScore))
	}
	if filter := buildFilter(opts); filter != nil {
		queryReq.Filter = filter
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	started := time.Now()
	points, err := s.client.Query(opCtx, queryReq)
	s.monitor.Observe("vector_search_ms", time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, SearchResult{
			Chunk: chunk.FromPayload(payloadToMap(p.Payload)),
			Score: float64(p.Score),
		})
	}
	return results, nil
}

// ensureCollection creates the collection with the configured dimension and
// cosine distance on first use. Subsequent operations skip the check.
func (s *Service) ensureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[name] {
		return nil
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	exists, err := s.client.CollectionExists(opCtx, name)
	if err != nil {
		return fmt.Errorf("collection check failed: %w", err)
	}
	if !exists {
		err = s.client.CreateCollection(opCtx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("collection create failed: %w", err)
		}
		s.logger.Info("Created vector collection", "collection", name, "dimension", s.dimension)
	}
	s.ensured[name] = true
	return nil
}

func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func splitEndpoint(raw string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}
	host = u.Hostname()
	if host == "" {
		// Bare host:port without scheme.
		parts := strings.SplitN(raw, ":", 2)
		host = parts[0]
		if len(parts) == 2 {
			port, _ = strconv.Atoi(parts[1])
		}
	}
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}
	if port == 0 {
		port = 6334
	}
	useTLS = u.Scheme == "https"
	return host, port, useTLS, nil
}
