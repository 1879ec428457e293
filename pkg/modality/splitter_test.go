package modality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextWindowsAndOverlap(t *testing.T) {
	text := strings.Repeat("a", 2500)
	windows := SplitText(text, 1000, 200)
	require.Len(t, windows, 4)

	assert.Equal(t, 0, windows[0].Start)
	assert.Equal(t, 1000, windows[0].End)
	assert.Equal(t, 800, windows[1].Start)
	assert.Equal(t, 1800, windows[1].End)
	assert.Equal(t, 1600, windows[2].Start)
	assert.Equal(t, 2400, windows[3].Start)
	assert.Equal(t, 2500, windows[3].End)
	assert.Len(t, windows[3].Text, 100)
}

func TestSplitTextShortInput(t *testing.T) {
	windows := SplitText("short", 1000, 200)
	require.Len(t, windows, 1)
	assert.Equal(t, "short", windows[0].Text)
	assert.Equal(t, 5, windows[0].End)
}

func TestSplitTextEmpty(t *testing.T) {
	assert.Nil(t, SplitText("", 1000, 200))
}

func TestSplitTextRuneOffsets(t *testing.T) {
	// Multibyte runes must not split mid-character.
	text := strings.Repeat("é", 1200)
	windows := SplitText(text, 1000, 200)
	require.Len(t, windows, 2)
	assert.Equal(t, 1000, len([]rune(windows[0].Text)))
	assert.Equal(t, 800, windows[1].Start)
}

func TestSplitTextBadOverlapFallsBack(t *testing.T) {
	text := strings.Repeat("a", 30)
	windows := SplitText(text, 10, 10)
	require.Len(t, windows, 3)
	assert.Equal(t, 10, windows[1].Start)
}
