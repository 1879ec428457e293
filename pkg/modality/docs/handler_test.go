package docs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/perf"
)

func testDeps(t *testing.T) modality.Deps {
	t.Helper()
	cfg := &config.Config{}
	cfg.Search.WorkspaceID = "acme"
	g, err := graph.NewService(cfg, perf.NewMonitor())
	require.NoError(t, err)
	store, err := modality.NewStateStore(t.TempDir())
	require.NoError(t, err)
	return modality.Deps{Config: cfg, Graph: g, State: store, Monitor: perf.NewMonitor()}
}

func TestChunkFileWindowsWithOffsets(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("architecture notes. ", 80) // 1600 chars
	path := filepath.Join(root, "guides", "arch.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	h := New(testDeps(t))
	chunks, err := h.chunkFile(context.Background(), root, path)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	first, second := chunks[0], chunks[1]
	assert.Equal(t, "doc:guides/arch.md#0", first.EntityID)
	assert.Equal(t, chunk.SourceDoc, first.SourceType)
	assert.Equal(t, "guides/arch.md", first.Metadata[chunk.MetaPath])
	assert.Equal(t, 0, first.Metadata[chunk.MetaStartOffset])
	assert.Equal(t, 1000, first.Metadata[chunk.MetaEndOffset])
	assert.Equal(t, 800, second.Metadata[chunk.MetaStartOffset])
	assert.Equal(t, "doc:guides/arch.md", second.SourceID())
}

func TestIngestFiltersExtensionsAndHiddenDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("hello docs"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "binary.png"), []byte{0xff, 0xd8}, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "notes.md"), []byte("ignored"), 0o644))

	h := New(testDeps(t))
	stats, err := h.Ingest(context.Background(), &config.ModalityScope{Roots: []string{root}})
	// The vector backend is unconfigured, so indexing reports an error, but
	// the walk itself counted correctly.
	assert.Error(t, err)
	assert.Equal(t, 1, stats.Sources)
	assert.Equal(t, 1, stats.Skipped)
}

func TestIngestScopeExtensionsOverride(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.org"), []byte("org mode"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("markdown"), 0o644))

	h := New(testDeps(t))
	stats, _ := h.Ingest(context.Background(), &config.ModalityScope{
		Roots:      []string{root},
		Extensions: []string{".org"},
	})
	assert.Equal(t, 1, stats.Sources)
	assert.Equal(t, 1, stats.Skipped)
}
