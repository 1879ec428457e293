package chunk

import (
	"time"
)

// Payload keys used in the vector backend. Kept flat so filter clauses can
// address them directly; free-form metadata nests under "metadata".
const (
	payloadChunkID    = "chunk_id"
	payloadEntityID   = "entity_id"
	payloadSourceType = "source_type"
	payloadText       = "text"
	payloadComponent  = "component"
	payloadService    = "service"
	payloadTimestamp  = "timestamp"
	payloadTags       = "tags"
	payloadMetadata   = "metadata"
)

// ToPayload converts a chunk to the flat map persisted as the vector point
// payload. Timestamps are stored as Unix seconds so range filters apply.
func (c *Chunk) ToPayload() map[string]any {
	p := map[string]any{
		payloadChunkID:    c.ChunkID,
		payloadEntityID:   c.EntityID,
		payloadSourceType: string(c.SourceType),
		payloadText:       c.Text,
	}
	if c.Component != "" {
		p[payloadComponent] = c.Component
	}
	if c.Service != "" {
		p[payloadService] = c.Service
	}
	if !c.Timestamp.IsZero() {
		p[payloadTimestamp] = c.Timestamp.Unix()
	}
	if len(c.Tags) > 0 {
		tags := make([]any, len(c.Tags))
		for i, t := range c.Tags {
			tags[i] = t
		}
		p[payloadTags] = tags
	}
	if len(c.Metadata) > 0 {
		p[payloadMetadata] = c.Metadata
	}
	return p
}

// FromPayload reconstructs a chunk from a vector point payload. The inverse
// of ToPayload: entity_id, source_type, and text survive byte-for-byte.
func FromPayload(p map[string]any) *Chunk {
	c := &Chunk{
		ChunkID:    stringAt(p, payloadChunkID),
		EntityID:   stringAt(p, payloadEntityID),
		SourceType: SourceType(stringAt(p, payloadSourceType)),
		Text:       stringAt(p, payloadText),
		Component:  stringAt(p, payloadComponent),
		Service:    stringAt(p, payloadService),
	}
	switch ts := p[payloadTimestamp].(type) {
	case int64:
		c.Timestamp = time.Unix(ts, 0).UTC()
	case float64:
		c.Timestamp = time.Unix(int64(ts), 0).UTC()
	}
	if raw, ok := p[payloadTags].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				c.Tags = append(c.Tags, s)
			}
		}
	}
	if meta, ok := p[payloadMetadata].(map[string]any); ok {
		c.Metadata = meta
	}
	return c
}

func stringAt(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}
