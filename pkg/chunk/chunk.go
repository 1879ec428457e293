// Package chunk defines the canonical unit of semantic storage shared by the
// ingestion pipeline, the vector service, and the graph mirror.
package chunk

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxTextLen is the hard cap on chunk text. Text longer than this is clamped
// with a trailing ellipsis. The same clamp is applied at ingest and at search
// so re-embedding identical text is byte-stable.
const MaxTextLen = 8000

// SourceType identifies the upstream modality a chunk was derived from.
type SourceType string

const (
	SourceChat     SourceType = "chat"
	SourceSCM      SourceType = "scm"
	SourceDoc      SourceType = "doc"
	SourceDocIssue SourceType = "doc_issue"
	SourceIssue    SourceType = "issue"
	SourceFile     SourceType = "file"
	SourceVideo    SourceType = "video"
	SourceWeb      SourceType = "web"
)

// IsValid checks if the source type is one of the known modalities.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceChat, SourceSCM, SourceDoc, SourceDocIssue, SourceIssue,
		SourceFile, SourceVideo, SourceWeb:
		return true
	default:
		return false
	}
}

// Chunk is the unit of semantic storage. Chunks are immutable once created;
// re-ingestion produces new chunks under the same EntityID.
type Chunk struct {
	ChunkID    string         `json:"chunk_id"`
	EntityID   string         `json:"entity_id"`
	SourceType SourceType     `json:"source_type"`
	Text       string         `json:"text"`
	Component  string         `json:"component,omitempty"`
	Service    string         `json:"service,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	// Collection overrides the default vector collection when set.
	Collection string `json:"collection,omitempty"`
}

// Conventional metadata keys. Handlers populate the subset that applies.
const (
	MetaWorkspaceID = "workspace_id"
	MetaSourceID    = "source_id"
	MetaParentID    = "parent_id"
	MetaDisplayName = "display_name"
	MetaPath        = "path"
	MetaStartOffset = "start_offset"
	MetaEndOffset   = "end_offset"
	MetaURL         = "url"
)

// ClampText truncates text to MaxTextLen characters, appending an ellipsis.
// The clamped result is exactly MaxTextLen characters long.
func ClampText(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxTextLen {
		return text
	}
	return string(runes[:MaxTextLen-3]) + "..."
}

// EntityID builds the stable "type:identifier" ID used to dedupe chunks
// across re-ingestion.
func EntityID(entityType, identifier string) string {
	return fmt.Sprintf("%s:%s", entityType, identifier)
}

// New creates a chunk with clamped text and a fresh unique chunk ID.
func New(entityID string, sourceType SourceType, text string) *Chunk {
	return &Chunk{
		ChunkID:    uuid.NewString(),
		EntityID:   entityID,
		SourceType: sourceType,
		Text:       ClampText(text),
		Metadata:   map[string]any{},
	}
}

// pointIDNamespace is the UUIDv5 namespace for mapping non-UUID entity IDs
// to backend-compatible point IDs. Stable across processes.
var pointIDNamespace = uuid.MustParse("8f9e6b1a-4c3d-4e2f-9a8b-7c6d5e4f3a2b")

// PointID returns a vector-backend-compatible point ID for the chunk's
// entity ID. Well-formed UUIDs pass through unchanged; anything else is
// mapped to a deterministic UUIDv5 so re-indexing the same entity yields
// the same point.
func PointID(entityID string) string {
	if id, err := uuid.Parse(entityID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(pointIDNamespace, []byte(entityID)).String()
}

// SourceID returns the metadata source_id, or "" when absent.
func (c *Chunk) SourceID() string {
	if c.Metadata == nil {
		return ""
	}
	if v, ok := c.Metadata[MetaSourceID].(string); ok {
		return v
	}
	return ""
}

// SetMeta sets a metadata key, allocating the map on first use.
func (c *Chunk) SetMeta(key string, value any) *Chunk {
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Metadata[key] = value
	return c
}
