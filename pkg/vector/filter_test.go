package vector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/chunk"
)

func TestBuildFilterEmpty(t *testing.T) {
	assert.Nil(t, buildFilter(SearchOptions{}))
}

func TestBuildFilterConjunctive(t *testing.T) {
	f := buildFilter(SearchOptions{
		SourceTypes: []chunk.SourceType{chunk.SourceDoc, chunk.SourceChat},
		Components:  []string{"auth"},
		Tags:        []string{"release"},
		Since:       time.Unix(1_700_000_000, 0),
		MetadataFilters: map[string]any{
			"workspace_id": "acme",
			"source_id":    []string{"a", "b"},
		},
	})
	require.NotNil(t, f)
	// source_types + component + tags + since + two metadata filters
	assert.Len(t, f.Must, 6)
}

func TestBuildFilterMetadataDeterministic(t *testing.T) {
	opts := SearchOptions{MetadataFilters: map[string]any{
		"b": "2", "a": "1", "c": "3",
	}}
	a := buildFilter(opts)
	b := buildFilter(opts)
	require.Equal(t, len(a.Must), len(b.Must))
	for i := range a.Must {
		assert.Equal(t, a.Must[i].String(), b.Must[i].String())
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		host    string
		port    int
		useTLS  bool
		wantErr bool
	}{
		{name: "http with port", raw: "http://localhost:6334", host: "localhost", port: 6334},
		{name: "https default port", raw: "https://qdrant.internal", host: "qdrant.internal", port: 6334, useTLS: true},
		{name: "bare host port", raw: "qdrant:6334", host: "qdrant", port: 6334},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := splitEndpoint(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.useTLS, useTLS)
		})
	}
}

func TestPayloadRoundTripThroughQdrantValues(t *testing.T) {
	c := chunk.New("doc:guides/a.md#0", chunk.SourceDoc, "getting started")
	c.Component = "docs"
	c.Tags = []string{"doc", "guide"}
	c.SetMeta(chunk.MetaPath, "guides/a.md")
	c.SetMeta(chunk.MetaStartOffset, 0)

	// Simulate the qdrant payload encode/decode cycle.
	encoded := qdrantValueMapRoundTrip(c.ToPayload())
	got := chunk.FromPayload(encoded)

	assert.Equal(t, c.EntityID, got.EntityID)
	assert.Equal(t, c.SourceType, got.SourceType)
	assert.Equal(t, c.Text, got.Text)
	assert.Equal(t, c.Tags, got.Tags)
	assert.Equal(t, "guides/a.md", got.Metadata[chunk.MetaPath])
}
