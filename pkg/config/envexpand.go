package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// expandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax to avoid collision with $ in regex patterns and
// passwords. Missing variables expand to empty string; validation catches
// required fields that stay empty.
func expandEnv(data string) string {
	if !strings.Contains(data, "{{") {
		return data
	}
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(data)
	if err != nil {
		// Malformed template syntax: pass the raw YAML through untouched.
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if idx := strings.IndexByte(env, '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.String()
}
