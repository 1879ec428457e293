package masking

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// maskedSecretValue replaces data values in Kubernetes Secret manifests.
const maskedSecretValue = "[MASKED_SECRET_DATA]"

var (
	yamlSecretRe = regexp.MustCompile(`(?m)^\s*(- )?kind:\s*Secret(List)?\s*$`)
	jsonSecretRe = regexp.MustCompile(`"kind"\s*:\s*"Secret(List)?"`)
)

// kubernetesSecretMasker blanks data/stringData values in Secret manifests
// pasted into chat messages or committed to files. Structural, not regex:
// ConfigMaps and other kinds pass through untouched.
type kubernetesSecretMasker struct{}

// AppliesTo is a cheap pre-check before parsing.
func (m *kubernetesSecretMasker) AppliesTo(text string) bool {
	if !strings.Contains(text, "Secret") {
		return false
	}
	return yamlSecretRe.MatchString(text) || jsonSecretRe.MatchString(text)
}

// Mask parses the text as JSON or multi-document YAML and blanks Secret
// data. Returns the original text on any parse or encode error.
func (m *kubernetesSecretMasker) Mask(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked := m.maskJSON(text); masked != text {
			return masked
		}
	}
	return m.maskYAML(text)
}

func (m *kubernetesSecretMasker) maskYAML(text string) string {
	decoder := yaml.NewDecoder(strings.NewReader(text))
	var docs []map[string]any
	masked := false
	for {
		var doc map[string]any
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return text
		}
		if doc == nil {
			continue
		}
		if maskSecretDoc(doc) {
			masked = true
		}
		docs = append(docs, doc)
	}
	if !masked || len(docs) == 0 {
		return text
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range docs {
		if err := encoder.Encode(doc); err != nil {
			return text
		}
	}
	if err := encoder.Close(); err != nil {
		return text
	}
	out := strings.TrimRight(buf.String(), "\n")
	if strings.HasSuffix(text, "\n") {
		out += "\n"
	}
	return out
}

func (m *kubernetesSecretMasker) maskJSON(text string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return text
	}
	if !maskSecretDoc(obj) {
		return text
	}
	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return text
	}
	result := string(out)
	if strings.HasSuffix(text, "\n") {
		result += "\n"
	}
	return result
}

// maskSecretDoc blanks one parsed document, recursing into List items.
// Reports whether anything was masked.
func maskSecretDoc(doc map[string]any) bool {
	kind, _ := doc["kind"].(string)
	switch {
	case kind == "Secret":
		blankDataFields(doc)
		return true
	case strings.HasSuffix(kind, "List"):
		items, _ := doc["items"].([]any)
		masked := false
		for _, item := range items {
			itemMap, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if maskSecretDoc(itemMap) {
				masked = true
			}
		}
		return masked
	}
	return false
}

func blankDataFields(doc map[string]any) {
	for _, field := range []string{"data", "stringData"} {
		dataMap, ok := doc[field].(map[string]any)
		if !ok {
			continue
		}
		for key := range dataMap {
			dataMap[key] = maskedSecretValue
		}
	}
}
