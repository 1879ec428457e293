package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShorten(t *testing.T) {
	assert.Equal(t, "abcd", shorten("abcd"))
	assert.Equal(t, "a3f8c2d1", shorten("a3f8c2d1deadbeef"))
}

func TestFullHasAppPrefix(t *testing.T) {
	assert.True(t, strings.HasPrefix(Full(), AppName+"/"))
	assert.NotEmpty(t, GitCommit)
}
