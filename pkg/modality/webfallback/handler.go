// Package webfallback queries an external web-search endpoint. It is
// fallback-only: the orchestrator consults it when the primary fanout comes
// back empty.
package webfallback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/modality"
)

const ModalityID = "web"

// Handler proxies queries to a SearxNG-compatible JSON search endpoint.
type Handler struct {
	deps       modality.Deps
	httpClient *http.Client
	logger     *slog.Logger
}

func New(deps modality.Deps) *Handler {
	return &Handler{
		deps:       deps,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default().With("component", "web-handler"),
	}
}

// NewWithHTTPClient injects an HTTP client. Used by tests.
func NewWithHTTPClient(deps modality.Deps, httpClient *http.Client) *Handler {
	h := New(deps)
	h.httpClient = httpClient
	return h
}

func (h *Handler) ModalityID() string { return ModalityID }
func (h *Handler) CanIngest() bool    { return false }
func (h *Handler) CanQuery() bool     { return true }

func (h *Handler) Ingest(context.Context, *config.ModalityScope) (modality.IngestStats, error) {
	return modality.IngestStats{}, fmt.Errorf("web modality is query-only")
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Query calls the configured search endpoint and shapes each hit as a web
// chunk. Hits come back ranked; a missing per-hit score falls back to rank
// position.
func (h *Handler) Query(ctx context.Context, text string, limit int) ([]modality.Result, error) {
	mc := h.deps.ModalityConfig(ModalityID)
	if limit <= 0 {
		limit = mc.MaxResults
	}
	searchURL := mc.Scope.SearchURL
	if searchURL == "" {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s?q=%s&format=json", searchURL, url.QueryEscape(text))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("web search returned HTTP %d", resp.StatusCode)
	}
	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	weight := mc.Weight
	if weight == 1.0 && h.deps.Config.Search.Defaults.WebFallbackWeight > 0 {
		weight = h.deps.Config.Search.Defaults.WebFallbackWeight
	}
	var results []modality.Result
	for i, hit := range parsed.Results {
		if i >= limit {
			break
		}
		raw := hit.Score
		if raw <= 0 {
			raw = 1.0 / float64(i+1)
		}
		c := chunk.New(chunk.EntityID("web", hit.URL), chunk.SourceWeb, hit.Content)
		c.Tags = []string{"web"}
		c.SetMeta(chunk.MetaSourceID, "web:"+hit.URL)
		c.SetMeta(chunk.MetaDisplayName, hit.Title)
		c.SetMeta(chunk.MetaURL, hit.URL)
		results = append(results, modality.FromChunk(ModalityID, *c, raw, weight))
	}
	h.deps.Monitor.Add("modality_query_results_"+ModalityID, int64(len(results)))
	return results, nil
}
