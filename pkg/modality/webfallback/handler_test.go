package webfallback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/perf"
)

func newHandler(t *testing.T, searchURL string) *Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.Search.Defaults.WebFallbackWeight = 0.5
	cfg.Search.Modalities = map[string]config.ModalityConfig{
		ModalityID: {Enabled: true, FallbackOnly: true, MaxResults: 5,
			Scope: config.ModalityScope{SearchURL: searchURL}},
	}
	store, err := modality.NewStateStore(t.TempDir())
	require.NoError(t, err)
	deps := modality.Deps{Config: cfg, State: store, Monitor: perf.NewMonitor()}
	return New(deps)
}

func TestQueryShapesAndWeightsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "qdrant filters", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Write([]byte(`{"results":[
			{"title":"Filtering guide","url":"https://example.com/a","content":"how filters work","score":0.9},
			{"title":"Forum thread","url":"https://example.com/b","content":"same question"}
		]}`))
	}))
	defer srv.Close()

	h := newHandler(t, srv.URL)
	results, err := h.Query(context.Background(), "qdrant filters", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Explicit score weighted by the fallback weight.
	assert.InDelta(t, 0.9, results[0].RawScore, 1e-9)
	assert.InDelta(t, 0.45, results[0].Score, 1e-9)
	assert.Equal(t, "Filtering guide", results[0].Title)
	assert.Equal(t, "https://example.com/a", results[0].URL)
	assert.Equal(t, ModalityID, results[0].Modality)

	// Missing score falls back to rank position.
	assert.InDelta(t, 0.5, results[1].RawScore, 1e-9)
}

func TestQueryTruncatesToLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"url":"u1"},{"url":"u2"},{"url":"u3"}]}`))
	}))
	defer srv.Close()

	h := newHandler(t, srv.URL)
	results, err := h.Query(context.Background(), "x", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestQueryWithoutSearchURL(t *testing.T) {
	h := newHandler(t, "")
	results, err := h.Query(context.Background(), "x", 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestQueryErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := newHandler(t, srv.URL)
	_, err := h.Query(context.Background(), "x", 5)
	assert.Error(t, err)
}

func TestHandlerIsFallbackQueryOnly(t *testing.T) {
	h := newHandler(t, "")
	assert.False(t, h.CanIngest())
	assert.True(t, h.CanQuery())
	_, err := h.Ingest(context.Background(), nil)
	assert.Error(t, err)
}
