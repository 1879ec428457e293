// Package docs indexes text files under configured roots with overlapping
// character windows.
package docs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/vector"
)

const ModalityID = "docs"

const (
	windowSize    = 1000
	windowOverlap = 200
)

var defaultExtensions = []string{".md", ".mdx", ".txt", ".rst", ".adoc"}

// Handler walks doc roots and indexes windowed chunks per file.
type Handler struct {
	deps   modality.Deps
	logger *slog.Logger
}

func New(deps modality.Deps) *Handler {
	return &Handler{deps: deps, logger: slog.Default().With("component", "docs-handler")}
}

func (h *Handler) ModalityID() string { return ModalityID }
func (h *Handler) CanIngest() bool    { return true }
func (h *Handler) CanQuery() bool     { return true }

// Ingest walks every configured root and re-indexes matching files. Chunks
// are keyed by path+window offset, so unchanged files upsert in place.
func (h *Handler) Ingest(ctx context.Context, scopeOverride *config.ModalityScope) (modality.IngestStats, error) {
	var stats modality.IngestStats
	scope := h.deps.ModalityConfig(ModalityID).Scope
	if scopeOverride != nil {
		scope = *scopeOverride
	}
	extensions := scope.Extensions
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}

	var chunks []*chunk.Chunk
	for _, root := range scope.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if !slices.Contains(extensions, strings.ToLower(filepath.Ext(path))) {
				stats.Skipped++
				return nil
			}
			fileChunks, err := h.chunkFile(ctx, root, path)
			if err != nil {
				stats.Errors++
				h.logger.Warn("Doc file read failed", "path", path, "error", err)
				return nil
			}
			chunks = append(chunks, fileChunks...)
			stats.Sources++
			return nil
		})
		if err != nil {
			stats.Errors++
			h.logger.Warn("Doc root walk failed", "root", root, "error", err)
		}
	}

	indexed, err := h.deps.IndexAndMirror(ctx, chunks)
	stats.Chunks = indexed
	return stats, err
}

// chunkFile windows one file's content, recording path and offsets.
func (h *Handler) chunkFile(ctx context.Context, root, path string) ([]*chunk.Chunk, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	info, _ := os.Stat(path)
	sourceID := "doc:" + rel

	h.deps.Graph.UpsertSource(ctx, graph.SourceNode{
		SourceID:   sourceID,
		SourceType: string(chunk.SourceDoc),
		Title:      rel,
	})

	var chunks []*chunk.Chunk
	for _, w := range modality.SplitText(string(raw), windowSize, windowOverlap) {
		entityID := chunk.EntityID("doc", fmt.Sprintf("%s#%d", rel, w.Start))
		c := chunk.New(entityID, chunk.SourceDoc, w.Text)
		if info != nil {
			c.Timestamp = info.ModTime()
		}
		c.Tags = []string{"doc"}
		c.SetMeta(chunk.MetaWorkspaceID, h.deps.Config.Search.WorkspaceID)
		c.SetMeta(chunk.MetaSourceID, sourceID)
		c.SetMeta(chunk.MetaDisplayName, rel)
		c.SetMeta(chunk.MetaPath, rel)
		c.SetMeta(chunk.MetaStartOffset, w.Start)
		c.SetMeta(chunk.MetaEndOffset, w.End)
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Query searches doc chunks semantically.
func (h *Handler) Query(ctx context.Context, text string, limit int) ([]modality.Result, error) {
	return h.deps.SemanticQuery(ctx, ModalityID, []chunk.SourceType{chunk.SourceDoc}, text, limit, vector.SearchOptions{})
}
