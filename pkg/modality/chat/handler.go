// Package chat ingests Slack channel history into the index and answers
// semantic queries over it.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/vector"
)

const ModalityID = "chat"

const (
	historyPageSize = 200
	maxThreadLines  = 20
)

// slackAPI is the subset of the Slack SDK the handler uses.
type slackAPI interface {
	GetConversationHistoryContext(ctx context.Context, params *goslack.GetConversationHistoryParameters) (*goslack.GetConversationHistoryResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *goslack.GetConversationRepliesParameters) ([]goslack.Message, bool, string, error)
	GetUserInfoContext(ctx context.Context, user string) (*goslack.User, error)
	GetPermalinkContext(ctx context.Context, params *goslack.PermalinkParameters) (string, error)
}

// Handler pulls channel-scoped messages and indexes one chunk per message,
// with thread context folded into the text.
type Handler struct {
	deps   modality.Deps
	api    slackAPI
	logger *slog.Logger

	mu    sync.Mutex
	users map[string]string
}

// New builds the chat handler. An empty token yields a query-only handler.
func New(deps modality.Deps, token string) *Handler {
	h := &Handler{
		deps:   deps,
		logger: slog.Default().With("component", "chat-handler"),
		users:  map[string]string{},
	}
	if token != "" {
		h.api = goslack.New(token)
	}
	return h
}

// NewWithAPI injects a Slack API implementation. Used by tests.
func NewWithAPI(deps modality.Deps, api slackAPI) *Handler {
	h := New(deps, "")
	h.api = api
	return h
}

func (h *Handler) ModalityID() string { return ModalityID }
func (h *Handler) CanIngest() bool    { return h.api != nil }
func (h *Handler) CanQuery() bool     { return true }

// Ingest pulls new messages per configured channel since the channel's
// last_indexed_ts checkpoint.
func (h *Handler) Ingest(ctx context.Context, scopeOverride *config.ModalityScope) (modality.IngestStats, error) {
	var stats modality.IngestStats
	scope := h.deps.ModalityConfig(ModalityID).Scope
	if scopeOverride != nil {
		scope = *scopeOverride
	}
	for _, channel := range scope.Channels {
		chStats, err := h.ingestChannel(ctx, channel)
		stats.Add(chStats)
		if err != nil {
			stats.Errors++
			h.logger.Warn("Channel ingestion failed", "channel", channel, "error", err)
		}
	}
	return stats, nil
}

func (h *Handler) ingestChannel(ctx context.Context, channel string) (modality.IngestStats, error) {
	var stats modality.IngestStats

	ckpt, err := h.deps.State.Checkpoint(ModalityID, channel)
	if err != nil {
		return stats, err
	}
	oldest, _ := ckpt["last_indexed_ts"].(string)
	maxTS := oldest

	cursor := ""
	var chunks []*chunk.Chunk
	for {
		params := &goslack.GetConversationHistoryParameters{
			ChannelID: channel,
			Oldest:    oldest,
			Limit:     historyPageSize,
			Cursor:    cursor,
		}
		history, err := h.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return stats, fmt.Errorf("conversations.history failed: %w", err)
		}
		for _, msg := range history.Messages {
			if strings.TrimSpace(msg.Text) == "" {
				stats.Skipped++
				continue
			}
			c := h.buildChunk(ctx, channel, msg)
			chunks = append(chunks, c)
			stats.Sources++
			if msg.Timestamp > maxTS {
				maxTS = msg.Timestamp
			}
		}
		if !history.HasMore || history.ResponseMetaData.NextCursor == "" {
			break
		}
		cursor = history.ResponseMetaData.NextCursor
	}

	indexed, err := h.deps.IndexAndMirror(ctx, chunks)
	stats.Chunks = indexed
	if err != nil {
		return stats, err
	}
	if maxTS != oldest {
		if err := h.deps.State.SaveCheckpoint(ModalityID, channel, map[string]any{"last_indexed_ts": maxTS}); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// buildChunk shapes one message into a chunk: channel/author/timestamp header
// plus the body, with thread replies appended when the message roots a thread.
func (h *Handler) buildChunk(ctx context.Context, channel string, msg goslack.Message) *chunk.Chunk {
	ts := parseSlackTS(msg.Timestamp)
	author := h.userName(ctx, msg.User)

	var b strings.Builder
	fmt.Fprintf(&b, "#%s @%s [%s]\n%s", channel, author, ts.UTC().Format(time.RFC3339), msg.Text)
	if msg.ThreadTimestamp != "" && msg.ThreadTimestamp == msg.Timestamp {
		for _, line := range h.threadContext(ctx, channel, msg.ThreadTimestamp) {
			b.WriteString("\n" + line)
		}
	}

	entityID := chunk.EntityID(ModalityID, channel+":"+msg.Timestamp)
	c := chunk.New(entityID, chunk.SourceChat, b.String())
	c.Timestamp = ts
	c.Tags = []string{"chat", channel}
	c.SetMeta(chunk.MetaWorkspaceID, h.deps.Config.Search.WorkspaceID)
	c.SetMeta(chunk.MetaSourceID, channel+":"+msg.Timestamp)
	c.SetMeta(chunk.MetaDisplayName, fmt.Sprintf("#%s message from @%s", channel, author))
	c.SetMeta("channel_id", channel)
	if msg.ThreadTimestamp != "" {
		c.SetMeta("thread_ts", msg.ThreadTimestamp)
	}
	if link, err := h.api.GetPermalinkContext(ctx, &goslack.PermalinkParameters{Channel: channel, Ts: msg.Timestamp}); err == nil && link != "" {
		c.SetMeta("permalink", link)
		c.SetMeta(chunk.MetaURL, link)
	}

	h.deps.Graph.UpsertSource(ctx, graph.SourceNode{
		SourceID:   c.SourceID(),
		SourceType: string(chunk.SourceChat),
		Title:      fmt.Sprintf("#%s @%s", channel, author),
		URL:        metaString(c, chunk.MetaURL),
		Timestamp:  ts,
	})
	if components := h.mentionedComponents(msg.Text); len(components) > 0 {
		c.Component = components[0]
		h.deps.Graph.UpsertActivitySignal(ctx, graph.ActivitySignalNode{
			SignalID:   "chat:" + channel + ":" + msg.Timestamp,
			Kind:       "chat",
			Weight:     1.0,
			Components: components,
			Labels:     []string{channel},
			Timestamp:  ts,
		})
	}
	return c
}

// mentionedComponents scans the message for the component names listed in
// the scope's components filter (comma-separated).
func (h *Handler) mentionedComponents(text string) []string {
	raw := h.deps.ModalityConfig(ModalityID).Scope.Filters["components"]
	if raw == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var out []string
	for _, comp := range strings.Split(raw, ",") {
		comp = strings.TrimSpace(comp)
		if comp != "" && strings.Contains(lower, strings.ToLower(comp)) {
			out = append(out, comp)
		}
	}
	return out
}

// threadContext returns reply lines for a thread root, capped to keep the
// chunk within the clamp budget.
func (h *Handler) threadContext(ctx context.Context, channel, threadTS string) []string {
	replies, _, _, err := h.api.GetConversationRepliesContext(ctx, &goslack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: threadTS,
	})
	if err != nil {
		h.logger.Warn("Thread fetch failed", "channel", channel, "thread_ts", threadTS, "error", err)
		return nil
	}
	var lines []string
	for _, reply := range replies {
		if reply.Timestamp == threadTS || strings.TrimSpace(reply.Text) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("↳ @%s: %s", h.userName(ctx, reply.User), reply.Text))
		if len(lines) >= maxThreadLines {
			break
		}
	}
	return lines
}

// Query searches chat chunks semantically.
func (h *Handler) Query(ctx context.Context, text string, limit int) ([]modality.Result, error) {
	return h.deps.SemanticQuery(ctx, ModalityID, []chunk.SourceType{chunk.SourceChat}, text, limit, vector.SearchOptions{})
}

func (h *Handler) userName(ctx context.Context, userID string) string {
	if userID == "" {
		return "unknown"
	}
	h.mu.Lock()
	name, ok := h.users[userID]
	h.mu.Unlock()
	if ok {
		return name
	}
	name = userID
	if info, err := h.api.GetUserInfoContext(ctx, userID); err == nil {
		if info.Profile.DisplayName != "" {
			name = info.Profile.DisplayName
		} else if info.RealName != "" {
			name = info.RealName
		}
	}
	h.mu.Lock()
	h.users[userID] = name
	h.mu.Unlock()
	return name
}

// parseSlackTS converts a Slack "seconds.fraction" timestamp.
func parseSlackTS(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func metaString(c *chunk.Chunk, key string) string {
	if v, ok := c.Metadata[key].(string); ok {
		return v
	}
	return ""
}
