package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o644))
	return dir
}

func TestInitializeDefaultsWhenMissing(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.Search.Enabled)
	assert.Equal(t, 5, cfg.Search.Defaults.MaxResultsPerModality)
	assert.Equal(t, "qdrant", cfg.VectorDB.Provider)
	assert.InDelta(t, 1.0, cfg.Severity.Weights.Sum(), 1e-9)
}

func TestInitializeMergesUserConfig(t *testing.T) {
	dir := writeConfig(t, `
search:
  workspace_id: acme
  defaults:
    max_results_per_modality: 8
  modalities:
    chat:
      enabled: true
      weight: 1.2
      scope:
        channels: [C042]
    web:
      enabled: true
      fallback_only: true
  planner:
    enabled: true
    rules:
      - name: code
        keywords: ["stack trace", ".py"]
        include: [scm, files]
vectordb:
  enabled: true
  url: http://localhost:6334
  dimension: 768
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Search.WorkspaceID)
	assert.Equal(t, 8, cfg.Search.Defaults.MaxResultsPerModality)
	// Defaults still fill unset fields.
	assert.Equal(t, 4000, cfg.Search.Defaults.TimeoutMSPerModality)
	assert.Equal(t, 768, cfg.VectorDB.Dimension)

	chat, ok := cfg.Search.Modality("chat")
	require.True(t, ok)
	assert.Equal(t, 1.2, chat.Weight)
	assert.Equal(t, 8, chat.MaxResults) // default applied
	assert.Equal(t, []string{"C042"}, chat.Scope.Channels)

	web, ok := cfg.Search.Modality("web")
	require.True(t, ok)
	assert.True(t, web.FallbackOnly)
	assert.Equal(t, 1.0, web.Weight)
}

func TestInitializeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "negative modality timeout",
			yaml: "search:\n  modalities:\n    chat:\n      timeout_ms: -1\n",
		},
		{
			name: "planner rule without keywords",
			yaml: "search:\n  planner:\n    rules:\n      - name: empty\n        include: [chat]\n",
		},
		{
			name: "vector dimension missing",
			yaml: "vectordb:\n  enabled: true\n  url: http://x\n  dimension: -5\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Initialize(context.Background(), writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant.internal:6334")
	t.Setenv("NEO4J_URI", "bolt://graph.internal:7687")
	t.Setenv("NEO4J_USERNAME", "neo4j")
	t.Setenv("NEO4J_PASSWORD", "secret")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "http://qdrant.internal:6334", cfg.VectorDB.URL)
	assert.Equal(t, "bolt://graph.internal:7687", cfg.Graph.URI)
	assert.Equal(t, "secret", cfg.Graph.Password)
}

func TestEnvLegacyFallback(t *testing.T) {
	t.Setenv("QDRANT_URL", "")
	t.Setenv("VECTOR_DB_URL", "http://legacy:6334")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "http://legacy:6334", cfg.VectorDB.URL)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("LATTICE_TEST_TOKEN", "tok-123")
	out := expandEnv("api_key: {{.LATTICE_TEST_TOKEN}}")
	assert.Equal(t, "api_key: tok-123", out)

	// Literal $ is preserved (regex patterns, passwords).
	assert.Equal(t, "pattern: ^secret.*$", expandEnv("pattern: ^secret.*$"))
}

func TestSearchConfigHashDeterministic(t *testing.T) {
	mk := func() SearchConfig {
		return SearchConfig{
			Enabled:     true,
			WorkspaceID: "w",
			Modalities: map[string]ModalityConfig{
				"chat": {Enabled: true, Weight: 1},
				"scm":  {Enabled: true, Weight: 1},
				"docs": {Enabled: true, Weight: 1},
			},
		}
	}
	a, b := mk(), mk()
	assert.Equal(t, a.Hash(), b.Hash())

	b.Modalities["chat"] = ModalityConfig{Enabled: true, Weight: 2}
	assert.NotEqual(t, a.Hash(), b.Hash())
}
