package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/incident"
	"github.com/latticehq/lattice/pkg/memory"
)

func TestRunAllPrunesIdleSessions(t *testing.T) {
	sessions, err := memory.NewSessionStore(t.TempDir())
	require.NoError(t, err)

	stale := sessions.Create("alice", "old question")
	stale.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	fresh := sessions.Create("bob", "new question")

	svc := NewService(config.RetentionConfig{
		Enabled:          true,
		SessionMaxAgeHrs: 24,
	}, nil, sessions, nil)
	svc.RunAll()

	_, err = sessions.Get(stale.ID)
	assert.Error(t, err)
	_, err = sessions.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestRunAllTrimsTraces(t *testing.T) {
	traces, err := incident.NewTraceStore(t.TempDir())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, traces.Append(&incident.QueryTrace{Query: "q"}))
	}

	svc := NewService(config.RetentionConfig{
		Enabled:   true,
		MaxTraces: 2,
	}, nil, nil, traces)
	svc.RunAll()

	recent, err := traces.Recent(10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestRunAllKeepsDurableMemories(t *testing.T) {
	memories := memory.NewService(t.TempDir(), nil)
	store, err := memories.Store("alice")
	require.NoError(t, err)

	kept, err := store.Add(context.Background(), memory.Entry{Content: "durable fact"})
	require.NoError(t, err)

	svc := NewService(config.RetentionConfig{Enabled: true}, memories, nil, nil)
	svc.RunAll()

	entries, err := store.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, kept.MemoryID, entries[0].MemoryID)
}

func TestRunAllHandlesNilDeps(t *testing.T) {
	svc := NewService(config.RetentionConfig{Enabled: true, MaxTraces: 100}, nil, nil, nil)
	svc.RunAll()
}

func TestStartStop(t *testing.T) {
	sessions, err := memory.NewSessionStore(t.TempDir())
	require.NoError(t, err)

	svc := NewService(config.RetentionConfig{
		Enabled:         true,
		IntervalMinutes: 60,
	}, nil, sessions, nil)
	svc.Start(context.Background())
	svc.Stop()
}
