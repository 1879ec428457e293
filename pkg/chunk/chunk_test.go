package chunk

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
		clamped bool
	}{
		{name: "short text untouched", input: "hello", wantLen: 5},
		{name: "exact limit untouched", input: strings.Repeat("a", MaxTextLen), wantLen: MaxTextLen},
		{name: "over limit clamped with ellipsis", input: strings.Repeat("a", MaxTextLen+500), wantLen: MaxTextLen, clamped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampText(tt.input)
			assert.Len(t, []rune(got), tt.wantLen)
			if tt.clamped {
				assert.True(t, strings.HasSuffix(got, "..."))
			} else {
				assert.Equal(t, tt.input, got)
			}
		})
	}
}

func TestClampTextIdempotent(t *testing.T) {
	long := strings.Repeat("x", MaxTextLen*2)
	once := ClampText(long)
	assert.Equal(t, once, ClampText(once))
}

func TestPointIDDeterministic(t *testing.T) {
	// Non-UUID entity IDs map to a stable UUIDv5.
	a := PointID("doc:guides/setup.md")
	b := PointID("doc:guides/setup.md")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, PointID("doc:guides/other.md"))

	// Well-formed UUIDs pass through.
	id := "1b4e28ba-2fa1-11d2-883f-0016d3cca427"
	assert.Equal(t, id, PointID(id))
}

func TestEntityID(t *testing.T) {
	assert.Equal(t, "component:auth-service", EntityID("component", "auth-service"))
}

func TestPayloadRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	c := New("chat:C042:1710000000.000100", SourceChat, "who broke the deploy?")
	c.Component = "deployer"
	c.Service = "ci"
	c.Timestamp = ts
	c.Tags = []string{"chat", "c042"}
	c.SetMeta(MetaSourceID, "C042:1710000000.000100")
	c.SetMeta(MetaURL, "https://example.slack.com/archives/C042/p1710000000000100")

	got := FromPayload(c.ToPayload())

	require.NotNil(t, got)
	assert.Equal(t, c.EntityID, got.EntityID)
	assert.Equal(t, c.SourceType, got.SourceType)
	assert.Equal(t, c.Text, got.Text)
	assert.Equal(t, c.Component, got.Component)
	assert.Equal(t, c.Tags, got.Tags)
	assert.Equal(t, ts.Unix(), got.Timestamp.Unix())
	assert.Equal(t, "C042:1710000000.000100", got.SourceID())
}

func TestNewClampsText(t *testing.T) {
	c := New("doc:big", SourceDoc, strings.Repeat("z", MaxTextLen+1))
	assert.Len(t, []rune(c.Text), MaxTextLen)
	assert.NotEmpty(t, c.ChunkID)
	assert.NotEqual(t, New("doc:big", SourceDoc, "x").ChunkID, c.ChunkID)
}
