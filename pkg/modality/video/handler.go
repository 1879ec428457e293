// Package video ingests video transcripts: metadata via cache, data API, or
// oembed; caption tracks with retry and anti-bot classification; and a
// Video→Channel→Playlist→Chunk→Concept subgraph mirror.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/vector"
)

const ModalityID = "video"

// timestampWindowSec is the half-width of the window used by
// QueryAtTimestamp.
const timestampWindowSec = 25.0

const conceptsPerChunk = 3

// Handler ingests configured video IDs and serves semantic plus
// timestamp-aware retrieval.
type Handler struct {
	deps       modality.Deps
	httpClient *http.Client
	logger     *slog.Logger
	cacheDir   string

	apiKey        string
	apiBaseURL    string
	oembedURL     string
	transcriptURL string
}

// New builds the video handler. API endpoints and the api key come from the
// modality scope filters (api_key, api_url, oembed_url, transcript_url).
func New(deps modality.Deps) *Handler {
	filters := deps.ModalityConfig(ModalityID).Scope.Filters
	h := &Handler{
		deps:          deps,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        slog.Default().With("component", "video-handler"),
		cacheDir:      filepath.Join(deps.Config.DataDir, "state", "video_meta"),
		apiKey:        filters["api_key"],
		apiBaseURL:    filters["api_url"],
		oembedURL:     filters["oembed_url"],
		transcriptURL: filters["transcript_url"],
	}
	if h.apiBaseURL == "" {
		h.apiBaseURL = "https://www.googleapis.com/youtube/v3"
	}
	if h.oembedURL == "" {
		h.oembedURL = "https://www.youtube.com/oembed"
	}
	return h
}

func (h *Handler) ModalityID() string { return ModalityID }
func (h *Handler) CanIngest() bool    { return h.transcriptURL != "" }
func (h *Handler) CanQuery() bool     { return true }

// Ingest processes every configured video ID. A video whose transcript is
// disabled or unavailable is skipped, not an error.
func (h *Handler) Ingest(ctx context.Context, scopeOverride *config.ModalityScope) (modality.IngestStats, error) {
	var stats modality.IngestStats
	scope := h.deps.ModalityConfig(ModalityID).Scope
	if scopeOverride != nil {
		scope = *scopeOverride
	}
	for _, videoID := range scope.VideoIDs {
		n, err := h.ingestVideo(ctx, videoID)
		stats.Chunks += n
		switch {
		case err == nil:
			stats.Sources++
		case isTranscriptSkip(err):
			stats.Skipped++
			h.logger.Info("Video skipped", "video_id", videoID, "reason", err)
		default:
			stats.Errors++
			h.logger.Warn("Video ingestion failed", "video_id", videoID, "error", err)
		}
	}
	return stats, nil
}

func isTranscriptSkip(err error) bool {
	return errors.Is(err, ErrTranscriptDisabled) || errors.Is(err, ErrTranscriptUnavailable)
}

func (h *Handler) ingestVideo(ctx context.Context, videoID string) (int, error) {
	meta, err := h.fetchMetadata(ctx, videoID)
	if err != nil {
		return 0, fmt.Errorf("metadata for %s: %w", videoID, err)
	}
	segments, err := h.fetchTranscript(ctx, videoID)
	if err != nil {
		return 0, err
	}

	h.mirrorVideo(ctx, meta)

	var chunks []*chunk.Chunk
	for _, tc := range chunkTranscript(segments) {
		c := h.buildChunk(meta, tc)
		chunks = append(chunks, c)
		h.mirrorChunk(ctx, meta, c, tc)
	}
	return h.deps.IndexAndMirror(ctx, chunks)
}

func (h *Handler) buildChunk(meta videoMetadata, tc transcriptChunk) *chunk.Chunk {
	entityID := chunk.EntityID("video", fmt.Sprintf("%s@%.0f", meta.VideoID, tc.StartSec))
	c := chunk.New(entityID, chunk.SourceVideo, tc.Text)
	c.Timestamp = meta.PublishedAt
	c.Tags = []string{"video", meta.VideoID}
	c.SetMeta(chunk.MetaWorkspaceID, h.deps.Config.Search.WorkspaceID)
	c.SetMeta(chunk.MetaSourceID, "video:"+meta.VideoID)
	c.SetMeta(chunk.MetaDisplayName, meta.Title)
	c.SetMeta(chunk.MetaURL, fmt.Sprintf("https://www.youtube.com/watch?v=%s&t=%ds", meta.VideoID, int(tc.StartSec)))
	c.SetMeta("start_sec", tc.StartSec)
	c.SetMeta("end_sec", tc.EndSec)
	return c
}

// mirrorVideo upserts the video subgraph nodes and their links.
func (h *Handler) mirrorVideo(ctx context.Context, meta videoMetadata) {
	g := h.deps.Graph
	g.UpsertSource(ctx, graph.SourceNode{
		SourceID:   "video:" + meta.VideoID,
		SourceType: string(chunk.SourceVideo),
		Title:      meta.Title,
		URL:        "https://www.youtube.com/watch?v=" + meta.VideoID,
		Timestamp:  meta.PublishedAt,
	})
	g.UpsertVideo(ctx, graph.VideoNode{
		VideoID: meta.VideoID, Title: meta.Title, ChannelID: meta.ChannelID,
		URL:      "https://www.youtube.com/watch?v=" + meta.VideoID,
		Duration: meta.Duration, PublishedAt: meta.PublishedAt,
	})
	if meta.ChannelID != "" {
		g.UpsertChannel(ctx, graph.ChannelNode{ChannelID: meta.ChannelID, Title: meta.ChannelTitle})
		g.LinkVideoChannel(ctx, meta.VideoID, meta.ChannelID)
	}
	if meta.PlaylistID != "" {
		g.UpsertPlaylist(ctx, graph.PlaylistNode{PlaylistID: meta.PlaylistID})
		g.LinkVideoPlaylist(ctx, meta.VideoID, meta.PlaylistID)
	}
}

func (h *Handler) mirrorChunk(ctx context.Context, meta videoMetadata, c *chunk.Chunk, tc transcriptChunk) {
	g := h.deps.Graph
	g.UpsertTranscriptChunk(ctx, graph.TranscriptChunkNode{
		ChunkID: c.ChunkID, VideoID: meta.VideoID,
		StartSec: tc.StartSec, EndSec: tc.EndSec,
	})
	g.LinkVideoChunk(ctx, meta.VideoID, c.ChunkID)
	for _, concept := range extractConcepts(tc.Text, conceptsPerChunk) {
		g.UpsertConcept(ctx, graph.ConceptNode{Name: concept})
		g.LinkChunkConcept(ctx, c.ChunkID, concept)
	}
}

// Query searches video chunks semantically across all indexed videos.
func (h *Handler) Query(ctx context.Context, text string, limit int) ([]modality.Result, error) {
	return h.deps.SemanticQuery(ctx, ModalityID, []chunk.SourceType{chunk.SourceVideo}, text, limit, vector.SearchOptions{})
}

// QueryVideo restricts semantic search to a single video's chunks.
func (h *Handler) QueryVideo(ctx context.Context, videoID, text string, limit int) ([]modality.Result, error) {
	return h.deps.SemanticQuery(ctx, ModalityID, []chunk.SourceType{chunk.SourceVideo}, text, limit,
		vector.SearchOptions{MetadataFilters: map[string]any{
			chunk.MetaWorkspaceID: h.deps.Config.Search.WorkspaceID,
			chunk.MetaSourceID:    "video:" + videoID,
		}})
}

// QueryAtTimestamp returns the chunks whose spans intersect a ±25s window
// around the given offset, most relevant first.
func (h *Handler) QueryAtTimestamp(ctx context.Context, videoID, text string, atSec float64, limit int) ([]modality.Result, error) {
	// Over-fetch within the video, then narrow to the window locally: the
	// backend range filter only covers the timestamp key.
	candidates, err := h.QueryVideo(ctx, videoID, text, limit*4)
	if err != nil {
		return nil, err
	}
	lo, hi := atSec-timestampWindowSec, atSec+timestampWindowSec
	var out []modality.Result
	for _, r := range candidates {
		start, sok := metaFloat(r.Chunk.Metadata, "start_sec")
		end, eok := metaFloat(r.Chunk.Metadata, "end_sec")
		if !sok || !eok {
			continue
		}
		if end < lo || start > hi {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func metaFloat(meta map[string]any, key string) (float64, bool) {
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
