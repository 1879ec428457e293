// Package files indexes local source/config files under extension-filtered
// roots, one windowed chunk set per file, and mirrors each file as a code
// artifact in the graph.
package files

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/vector"
)

const ModalityID = "files"

const (
	windowSize    = 2000
	windowOverlap = 200
	maxFileBytes  = 1 << 20 // larger files are skipped, not truncated
)

var defaultExtensions = []string{".go", ".py", ".ts", ".js", ".yaml", ".yml", ".json", ".toml", ".sql", ".sh"}

var languageByExt = map[string]string{
	".go": "go", ".py": "python", ".ts": "typescript", ".js": "javascript",
	".yaml": "yaml", ".yml": "yaml", ".json": "json", ".toml": "toml",
	".sql": "sql", ".sh": "shell",
}

// Handler walks configured roots and indexes file contents.
type Handler struct {
	deps   modality.Deps
	logger *slog.Logger
}

func New(deps modality.Deps) *Handler {
	return &Handler{deps: deps, logger: slog.Default().With("component", "files-handler")}
}

func (h *Handler) ModalityID() string { return ModalityID }
func (h *Handler) CanIngest() bool    { return true }
func (h *Handler) CanQuery() bool     { return true }

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
	rules := scope.ComponentRules

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
				name := d.Name()
				if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
					return filepath.SkipDir
				}
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if !slices.Contains(extensions, ext) {
				stats.Skipped++
				return nil
			}
			fileChunks, skipped, err := h.chunkFile(ctx, root, path, ext, rules)
			if err != nil {
				stats.Errors++
				h.logger.Warn("File read failed", "path", path, "error", err)
				return nil
			}
			if skipped {
				stats.Skipped++
				return nil
			}
			chunks = append(chunks, fileChunks...)
			stats.Sources++
			return nil
		})
		if err != nil {
			stats.Errors++
			h.logger.Warn("File root walk failed", "root", root, "error", err)
		}
	}

	indexed, err := h.deps.IndexAndMirror(ctx, chunks)
	stats.Chunks = indexed
	return stats, err
}

func (h *Handler) chunkFile(ctx context.Context, root, path, ext string, rules []config.ComponentRule) ([]*chunk.Chunk, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	if info.Size() > maxFileBytes {
		return nil, true, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if !utf8.Valid(raw) {
		return nil, true, nil
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	component := componentFor(rel, rules)
	sourceID := "file:" + rel

	h.deps.Graph.UpsertSource(ctx, graph.SourceNode{
		SourceID:   sourceID,
		SourceType: string(chunk.SourceFile),
		Title:      rel,
		Component:  component,
		Timestamp:  info.ModTime(),
	})
	h.deps.Graph.UpsertCodeArtifact(ctx, graph.CodeArtifactNode{
		ArtifactID: sourceID,
		Path:       rel,
		Component:  component,
		Language:   languageByExt[ext],
	})

	var chunks []*chunk.Chunk
	for _, w := range modality.SplitText(string(raw), windowSize, windowOverlap) {
		entityID := chunk.EntityID("file", fmt.Sprintf("%s#%d", rel, w.Start))
		c := chunk.New(entityID, chunk.SourceFile, w.Text)
		c.Timestamp = info.ModTime()
		c.Component = component
		c.Tags = []string{"file", strings.TrimPrefix(ext, ".")}
		c.SetMeta(chunk.MetaWorkspaceID, h.deps.Config.Search.WorkspaceID)
		c.SetMeta(chunk.MetaSourceID, sourceID)
		c.SetMeta(chunk.MetaDisplayName, rel)
		c.SetMeta(chunk.MetaPath, rel)
		c.SetMeta(chunk.MetaStartOffset, w.Start)
		c.SetMeta(chunk.MetaEndOffset, w.End)
		chunks = append(chunks, c)
	}
	return chunks, false, nil
}

// componentFor applies the first matching prefix rule.
func componentFor(rel string, rules []config.ComponentRule) string {
	for _, rule := range rules {
		if strings.HasPrefix(rel, rule.PathPrefix) && len(rule.Components) > 0 {
			return rule.Components[0]
		}
	}
	return ""
}

func (h *Handler) Query(ctx context.Context, text string, limit int) ([]modality.Result, error) {
	return h.deps.SemanticQuery(ctx, ModalityID, []chunk.SourceType{chunk.SourceFile}, text, limit, vector.SearchOptions{})
}
