package video

import (
	"sort"
	"strings"
	"unicode"
)

const (
	maxChunkChars  = 1200
	overlapSeconds = 2.0
)

// transcriptChunk is a span of consecutive segments joined into one text
// block with its time window.
type transcriptChunk struct {
	Text     string
	StartSec float64
	EndSec   float64
}

// chunkTranscript packs segments into chunks of at most maxChunkChars,
// starting each following chunk from the segments inside the previous
// chunk's trailing overlap window.
func chunkTranscript(segments []transcriptSegment) []transcriptChunk {
	var chunks []transcriptChunk
	i := 0
	for i < len(segments) {
		var b strings.Builder
		start := segments[i].StartSec
		end := start
		j := i
		for ; j < len(segments); j++ {
			seg := strings.TrimSpace(segments[j].Text)
			if seg == "" {
				continue
			}
			if b.Len() > 0 && b.Len()+1+len(seg) > maxChunkChars {
				break
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(seg)
			end = segments[j].StartSec + segments[j].Duration
		}
		if b.Len() > 0 {
			chunks = append(chunks, transcriptChunk{Text: b.String(), StartSec: start, EndSec: end})
		}
		if j >= len(segments) {
			break
		}
		// Rewind to the first segment inside the overlap window so adjacent
		// chunks share up to overlapSeconds of audio.
		next := j
		for next > i+1 && segments[next-1].StartSec >= end-overlapSeconds {
			next--
		}
		i = next
	}
	return chunks
}

// extractConcepts returns the most frequent meaningful terms in the text,
// used to tag transcript chunks in the graph.
func extractConcepts(text string, limit int) []string {
	counts := map[string]int{}
	var order []string
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	}) {
		if len(field) < 5 {
			continue
		}
		if _, seen := counts[field]; !seen {
			order = append(order, field)
		}
		counts[field]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}
