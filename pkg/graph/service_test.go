package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/perf"
)

func newUnconfigured(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(&config.Config{}, perf.NewMonitor())
	require.NoError(t, err)
	return s
}

func TestUnconfiguredServiceIsNoOp(t *testing.T) {
	s := newUnconfigured(t)
	ctx := context.Background()

	assert.False(t, s.IsConfigured())
	assert.Nil(t, s.RunQuery(ctx, "MATCH (n) RETURN n", nil))

	// Writes must not panic and must not record metadata.
	s.RunWrite(ctx, "MERGE (n:Component {component_id: $id})", map[string]any{"id": "auth"})
	assert.Empty(t, s.LastQueryMetadata().Query)

	require.NoError(t, s.Close(ctx))
}

func TestUnconfiguredReadsReturnEmptySummaries(t *testing.T) {
	s := newUnconfigured(t)
	ctx := context.Background()

	n := s.GetComponentNeighborhood(ctx, "auth")
	assert.Equal(t, "auth", n.ComponentID)
	assert.Empty(t, n.DocIDs)
	assert.Empty(t, n.IssueIDs)

	impact := s.GetAPIImpact(ctx, "GET /v1/users")
	assert.Equal(t, "GET /v1/users", impact.APIID)
	assert.Empty(t, impact.Components)

	activity := s.GetComponentActivity(ctx, []string{"auth"}, 0)
	assert.Zero(t, activity.Components)

	stats := s.GetSignalStats(ctx, []string{"auth"}, []string{"chat"}, 0)
	assert.Zero(t, stats.Count)
}

func TestRecordCoercions(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, toStrings([]any{"a", "", "b", 3}))
	assert.Nil(t, toStrings("not-a-list"))

	assert.Equal(t, 7, toInt(int64(7)))
	assert.Equal(t, 7, toInt(7.0))
	assert.Zero(t, toInt("x"))

	assert.InDelta(t, 0.5, toFloat(0.5), 1e-9)
	assert.InDelta(t, 3.0, toFloat(int64(3)), 1e-9)
	assert.Zero(t, toFloat(nil))
}
