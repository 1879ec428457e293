package plan

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// stepRef is one parsed $step{N}.{path} reference.
type stepRef struct {
	step int
	path []string
}

func (r stepRef) String() string {
	return "$step" + strconv.Itoa(r.step) + "." + strings.Join(r.path, ".")
}

// refToken is a reference occurrence inside a string parameter, with its
// byte span so templates can be rebuilt around unresolvable tokens.
type refToken struct {
	start, end int
	ref        stepRef
	braced     bool
}

// parseRefTokens scans s for `{$stepN.path}` and bare `$stepN.path` tokens.
// An explicit scanner rather than a regex: path boundaries matter when the
// reference sits inside prose.
func parseRefTokens(s string) []refToken {
	var tokens []refToken
	for i := 0; i < len(s); {
		if s[i] == '{' && strings.HasPrefix(s[i+1:], "$step") {
			if tok, next, ok := parseBraced(s, i); ok {
				tokens = append(tokens, tok)
				i = next
				continue
			}
		}
		if s[i] == '$' && strings.HasPrefix(s[i:], "$step") {
			if tok, next, ok := parseBare(s, i); ok {
				tokens = append(tokens, tok)
				i = next
				continue
			}
		}
		i++
	}
	return tokens
}

// parseBraced parses `{$stepN.path}` with s[start] == '{'.
func parseBraced(s string, start int) (refToken, int, bool) {
	tok, next, ok := parseBare(s, start+1)
	if !ok || next >= len(s) || s[next] != '}' {
		return refToken{}, 0, false
	}
	tok.start = start
	tok.end = next + 1
	tok.braced = true
	return tok, tok.end, true
}

// parseBare parses `$stepN.seg(.seg)*` with s[start] == '$'. The reference
// ends at the first character that cannot extend a path segment; a trailing
// dot belongs to the surrounding text, not the path.
func parseBare(s string, start int) (refToken, int, bool) {
	i := start + len("$step")
	numStart := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == numStart || i >= len(s) || s[i] != '.' {
		return refToken{}, 0, false
	}
	step, err := strconv.Atoi(s[numStart:i])
	if err != nil {
		return refToken{}, 0, false
	}

	var path []string
	for i < len(s) && s[i] == '.' {
		segStart := i + 1
		j := segStart
		for j < len(s) && isPathChar(s[j]) {
			j++
		}
		if j == segStart {
			break
		}
		path = append(path, s[segStart:j])
		i = j
	}
	if len(path) == 0 {
		return refToken{}, 0, false
	}
	return refToken{start: start, end: i, ref: stepRef{step: step, path: path}}, i, true
}

func isPathChar(b byte) bool {
	return b == '_' || b == '-' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// collectRefSteps walks an arbitrarily nested parameter value and returns
// every referenced step ID.
func collectRefSteps(value any, into map[int]struct{}) {
	switch v := value.(type) {
	case string:
		for _, tok := range parseRefTokens(v) {
			into[tok.ref.step] = struct{}{}
		}
	case map[string]any:
		for _, nested := range v {
			collectRefSteps(nested, into)
		}
	case []any:
		for _, nested := range v {
			collectRefSteps(nested, into)
		}
	}
}

// resolvePath walks the referenced output by map key or list index.
func resolvePath(value any, path []string) (any, bool) {
	cur := value
	for _, seg := range path {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// resolveParams resolves every string parameter against completed step
// outputs. Resolution is idempotent: strings without references pass
// through untouched, and missing references stay as literal text.
func resolveParams(params map[string]any, outputs map[int]any, logger *slog.Logger) map[string]any {
	if len(params) == 0 {
		return params
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		out[key] = resolveValue(value, outputs, logger)
	}
	return out
}

func resolveValue(value any, outputs map[int]any, logger *slog.Logger) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, outputs, logger)
	case map[string]any:
		nested := make(map[string]any, len(v))
		for k, inner := range v {
			nested[k] = resolveValue(inner, outputs, logger)
		}
		return nested
	case []any:
		nested := make([]any, len(v))
		for i, inner := range v {
			nested[i] = resolveValue(inner, outputs, logger)
		}
		return nested
	default:
		return value
	}
}

func resolveString(s string, outputs map[int]any, logger *slog.Logger) any {
	tokens := parseRefTokens(s)
	if len(tokens) == 0 {
		return s
	}

	// A parameter that is exactly one bare reference keeps the raw value's
	// type instead of being stringified.
	if len(tokens) == 1 && !tokens[0].braced && tokens[0].start == 0 && tokens[0].end == len(s) {
		if raw, ok := lookupRef(tokens[0].ref, outputs); ok {
			return raw
		}
		logger.Warn("Unresolved step reference kept as literal", "reference", tokens[0].ref.String())
		return s
	}

	var b strings.Builder
	prev := 0
	for _, tok := range tokens {
		b.WriteString(s[prev:tok.start])
		if raw, ok := lookupRef(tok.ref, outputs); ok {
			b.WriteString(formatValue(raw))
		} else {
			logger.Warn("Unresolved step reference kept as literal", "reference", tok.ref.String())
			b.WriteString(s[tok.start:tok.end])
		}
		prev = tok.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

func lookupRef(ref stepRef, outputs map[int]any) (any, bool) {
	base, ok := outputs[ref.step]
	if !ok {
		return nil, false
	}
	return resolvePath(base, ref.path)
}

// formatValue renders a resolved value for template interpolation. Floats
// use the shortest representation so "0.38" does not become "0.380000".
func formatValue(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}
