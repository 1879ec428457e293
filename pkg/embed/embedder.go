// Package embed produces L2-normalized embeddings through an OpenAI-compatible
// /embeddings endpoint, with batch calls, per-item fallback, and zero-vector
// placeholders as the last resort.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/perf"
	"github.com/latticehq/lattice/pkg/ratelimit"
)

// Embedder turns text into fixed-dimension vectors. Implementations must
// preserve input order and return one vector per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Client is the OpenAI-backed embedder.
type Client struct {
	api       openai.Client
	model     string
	dimension int
	batchSize int
	limiter   *ratelimit.Limiter
	monitor   *perf.Monitor
	logger    *slog.Logger
}

// NewClient builds the embedder from config. The HTTP client comes from the
// shared pool keyed by credential+model.
func NewClient(cfg *config.Config, limiter *ratelimit.Limiter, monitor *perf.Monitor) *Client {
	key := ratelimit.PoolKey(cfg.LLM.APIKey, cfg.VectorDB.EmbeddingModel)
	httpClient := ratelimit.SharedClient(key, cfg.Performance.ConnectionPooling)

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.LLM.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.LLM.BaseURL))
	}

	batch := cfg.Performance.BatchEmbeddings.BatchSize
	if !cfg.Performance.BatchEmbeddings.Enabled || batch <= 0 {
		batch = 1
	}

	return &Client{
		api:       openai.NewClient(opts...),
		model:     cfg.VectorDB.EmbeddingModel,
		dimension: cfg.VectorDB.Dimension,
		batchSize: batch,
		limiter:   limiter,
		monitor:   monitor,
		logger:    slog.Default().With("component", "embedder"),
	}
}

// Dimension returns the configured vector dimension.
func (c *Client) Dimension() int { return c.dimension }

// Embed embeds texts in configured batches. A failed batch falls back to
// per-item calls; items that still fail get a zero-vector placeholder, which
// is recorded in telemetry rather than failing the caller.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("Batch embedding failed, falling back to per-item calls",
				"batch_size", len(batch), "error", err)
			vectors = c.embedIndividually(ctx, batch)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.acquire(ctx, texts); err != nil {
		return nil, err
	}
	started := time.Now()
	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(c.model),
	})
	c.monitor.Observe("embed_call_ms", time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("embeddings call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d items, want %d", len(resp.Data), len(texts))
	}
	if c.limiter != nil {
		c.limiter.RecordUsage(int(resp.Usage.TotalTokens))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(vectors) {
			return nil, fmt.Errorf("embeddings response index %d out of range", idx)
		}
		vectors[idx] = Normalize(toFloat32(item.Embedding))
	}
	return vectors, nil
}

// embedIndividually is the degraded path: one call per item, zero-vector
// placeholder on failure.
func (c *Client) embedIndividually(ctx context.Context, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := c.embedBatch(ctx, []string{text})
		if err != nil || len(v) != 1 {
			c.monitor.Incr("embed_zero_vector_placeholders")
			c.logger.Warn("Per-item embedding failed, using zero-vector placeholder",
				"index", i, "error", err)
			vectors[i] = make([]float32, c.dimension)
			continue
		}
		vectors[i] = v[0]
	}
	return vectors
}

func (c *Client) acquire(ctx context.Context, texts []string) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Acquire(ctx, estimateTokens(texts))
}

// estimateTokens uses the rough 4-chars-per-token heuristic; the limiter is
// corrected post-hoc with actual usage.
func estimateTokens(texts []string) int {
	total := 0
	for _, t := range texts {
		total += (len(t) + 3) / 4
	}
	return total
}

// Normalize L2-normalizes a vector in place and returns it. A zero vector
// stays zero.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
