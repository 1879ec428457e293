package video

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segmentEvery(n int, secEach float64, textLen int) []transcriptSegment {
	segs := make([]transcriptSegment, n)
	for i := range segs {
		segs[i] = transcriptSegment{
			Text:     strings.Repeat(fmt.Sprintf("w%d ", i%10), textLen/4),
			StartSec: float64(i) * secEach,
			Duration: secEach,
		}
	}
	return segs
}

func TestChunkTranscriptRespectsCharCap(t *testing.T) {
	segs := segmentEvery(40, 4.0, 200)
	chunks := chunkTranscript(segs)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), maxChunkChars)
		assert.Less(t, c.StartSec, c.EndSec)
	}
}

func TestChunkTranscriptOverlapWindow(t *testing.T) {
	segs := segmentEvery(40, 1.0, 200)
	chunks := chunkTranscript(segs)
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		// Each chunk starts at or before the previous chunk's end, within
		// the 2s overlap window.
		assert.LessOrEqual(t, chunks[i].StartSec, chunks[i-1].EndSec)
		assert.GreaterOrEqual(t, chunks[i].StartSec, chunks[i-1].EndSec-overlapSeconds-1.0)
	}
}

func TestChunkTranscriptSingleShort(t *testing.T) {
	chunks := chunkTranscript([]transcriptSegment{
		{Text: "hello world", StartSec: 0, Duration: 3},
	})
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 3.0, chunks[0].EndSec)
}

func TestChunkTranscriptSkipsEmptySegments(t *testing.T) {
	chunks := chunkTranscript([]transcriptSegment{
		{Text: "  ", StartSec: 0, Duration: 1},
		{Text: "real text", StartSec: 1, Duration: 2},
	})
	require.Len(t, chunks, 1)
	assert.Equal(t, "real text", chunks[0].Text)
}

func TestExtractConcepts(t *testing.T) {
	text := "kubernetes kubernetes deployment deployment deployment rollback the the and"
	got := extractConcepts(text, 2)
	assert.Equal(t, []string{"deployment", "kubernetes"}, got)
}

func TestParseISODuration(t *testing.T) {
	assert.Equal(t, 4*60+13, parseISODuration("PT4M13S"))
	assert.Equal(t, 3600+30, parseISODuration("PT1H30S"))
	assert.Equal(t, 0, parseISODuration(""))
}
