package plan

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.Default() }

func TestParseRefTokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []stepRef
	}{
		{
			name:  "bare reference",
			input: "$step1.count",
			want:  []stepRef{{step: 1, path: []string{"count"}}},
		},
		{
			name:  "braced reference",
			input: "{$step2.result.items.0}",
			want:  []stepRef{{step: 2, path: []string{"result", "items", "0"}}},
		},
		{
			name:  "mixed in prose",
			input: "Found {$step1.count} groups in $step3.repo today",
			want: []stepRef{
				{step: 1, path: []string{"count"}},
				{step: 3, path: []string{"repo"}},
			},
		},
		{
			name:  "trailing dot stays outside the path",
			input: "see $step1.summary.",
			want:  []stepRef{{step: 1, path: []string{"summary"}}},
		},
		{
			name:  "no references",
			input: "plain text with $dollar and {braces}",
			want:  nil,
		},
		{
			name:  "step without path is not a reference",
			input: "$step1 alone",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := parseRefTokens(tt.input)
			var got []stepRef
			for _, tok := range tokens {
				got = append(got, tok.ref)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveSingleReferencePreservesType(t *testing.T) {
	outputs := map[int]any{
		1: map[string]any{"count": 2, "items": []any{"a", "b"}},
	}
	params := map[string]any{
		"n":     "$step1.count",
		"first": "$step1.items.0",
	}
	resolved := resolveParams(params, outputs, testLogger())
	assert.Equal(t, 2, resolved["n"])
	assert.Equal(t, "a", resolved["first"])
}

func TestResolveTemplateString(t *testing.T) {
	outputs := map[int]any{
		1: map[string]any{"count": float64(2), "wasted_mb": 0.38},
	}
	params := map[string]any{
		"message": "Found {$step1.count} groups, wasting {$step1.wasted_mb} MB",
	}
	resolved := resolveParams(params, outputs, testLogger())
	assert.Equal(t, "Found 2 groups, wasting 0.38 MB", resolved["message"])
}

func TestResolveNestedParams(t *testing.T) {
	outputs := map[int]any{1: map[string]any{"id": "abc"}}
	params := map[string]any{
		"outer": map[string]any{
			"list": []any{"$step1.id", "literal"},
		},
	}
	resolved := resolveParams(params, outputs, testLogger())
	outer := resolved["outer"].(map[string]any)
	list := outer["list"].([]any)
	assert.Equal(t, "abc", list[0])
	assert.Equal(t, "literal", list[1])
}

func TestResolveMissingReferenceStaysLiteral(t *testing.T) {
	params := map[string]any{
		"whole":    "$step9.value",
		"template": "got {$step9.value} back",
	}
	resolved := resolveParams(params, map[int]any{}, testLogger())
	assert.Equal(t, "$step9.value", resolved["whole"])
	assert.Equal(t, "got {$step9.value} back", resolved["template"])
}

func TestResolveIsIdempotent(t *testing.T) {
	outputs := map[int]any{1: map[string]any{"count": 2}}
	params := map[string]any{"message": "Found {$step1.count} groups"}

	once := resolveParams(params, outputs, testLogger())
	twice := resolveParams(once, outputs, testLogger())
	assert.Equal(t, once, twice)
}

func TestCollectRefSteps(t *testing.T) {
	params := map[string]any{
		"a": "$step1.x",
		"b": map[string]any{"c": []any{"{$step2.y}", 42}},
	}
	seen := map[int]struct{}{}
	collectRefSteps(params, seen)
	require.Len(t, seen, 2)
	assert.Contains(t, seen, 1)
	assert.Contains(t, seen, 2)
}

func TestResolvePathListIndex(t *testing.T) {
	value := map[string]any{"items": []any{map[string]any{"name": "first"}}}

	got, ok := resolvePath(value, []string{"items", "0", "name"})
	require.True(t, ok)
	assert.Equal(t, "first", got)

	_, ok = resolvePath(value, []string{"items", "5"})
	assert.False(t, ok)
	_, ok = resolvePath(value, []string{"missing"})
	assert.False(t, ok)
}
