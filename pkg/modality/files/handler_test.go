package files

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
	g, err := graph.NewService(cfg, perf.NewMonitor())
	require.NoError(t, err)
	store, err := modality.NewStateStore(t.TempDir())
	require.NoError(t, err)
	return modality.Deps{Config: cfg, Graph: g, State: store, Monitor: perf.NewMonitor()}
}

func TestChunkFileResolvesComponentAndLanguage(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "services", "auth", "token.go")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("package auth\n\nfunc Refresh() {}\n"), 0o644))

	rules := []config.ComponentRule{{PathPrefix: "services/auth/", Components: []string{"auth"}}}
	h := New(testDeps(t))
	chunks, skipped, err := h.chunkFile(context.Background(), root, path, ".go", rules)
	require.NoError(t, err)
	assert.False(t, skipped)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, "file:services/auth/token.go#0", c.EntityID)
	assert.Equal(t, chunk.SourceFile, c.SourceType)
	assert.Equal(t, "auth", c.Component)
	assert.Equal(t, []string{"file", "go"}, c.Tags)
}

func TestChunkFileSkipsBinaryAndOversized(t *testing.T) {
	root := t.TempDir()
	h := New(testDeps(t))

	binary := filepath.Join(root, "blob.go")
	require.NoError(t, os.WriteFile(binary, []byte{0xff, 0xfe, 0x00, 0x01}, 0o644))
	_, skipped, err := h.chunkFile(context.Background(), root, binary, ".go", nil)
	require.NoError(t, err)
	assert.True(t, skipped)

	big := filepath.Join(root, "big.sql")
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat("x", maxFileBytes+1)), 0o644))
	_, skipped, err = h.chunkFile(context.Background(), root, big, ".sql", nil)
	require.NoError(t, err)
	assert.True(t, skipped)
}

func TestIngestSkipsVendorDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "dep.go"), []byte("package dep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	h := New(testDeps(t))
	stats, _ := h.Ingest(context.Background(), &config.ModalityScope{Roots: []string{root}})
	assert.Equal(t, 1, stats.Sources)
}
