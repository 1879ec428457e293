package vector

import (
	"context"
	"log/slog"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/perf"
)

// emptyEmbedder reports success but returns no vectors.
type emptyEmbedder struct{}

func (emptyEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return [][]float32{}, nil
}

func (emptyEmbedder) Dimension() int { return 2 }

func TestSemanticSearchEmbedCountMismatch(t *testing.T) {
	// The gRPC connection is lazy; nothing is dialed before the embed step
	// fails.
	client, err := qdrant.NewClient(&qdrant.Config{Host: "localhost", Port: 6334})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := &Service{
		client:     client,
		embedder:   emptyEmbedder{},
		collection: "chunks",
		dimension:  2,
		topK:       10,
		monitor:    perf.NewMonitor(),
		logger:     slog.Default(),
		ensured:    map[string]bool{},
	}

	_, err = s.SemanticSearch(context.Background(), "query", SearchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 0 vectors")
	assert.NotContains(t, err.Error(), "%!w")
}
