// Package masking scrubs credentials out of chunk text before it is
// embedded and indexed. Chat logs, commit diffs, and pasted manifests leak
// tokens; once embedded they are retrievable by anyone who can query.
package masking

import (
	"log/slog"
	"regexp"

	"github.com/latticehq/lattice/pkg/config"
)

type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns cover the credential shapes that show up in ingested text.
// Order matters: specific token formats run before the generic assignment
// sweeps so replacements keep their labels.
var builtinPatterns = []struct {
	name, pattern, replacement string
}{
	{"private_key", `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`, "[MASKED_PRIVATE_KEY]"},
	{"aws_access_key", `\bAKIA[0-9A-Z]{16}\b`, "[MASKED_AWS_KEY]"},
	{"slack_token", `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`, "[MASKED_SLACK_TOKEN]"},
	{"github_token", `\bgh[pousr]_[A-Za-z0-9]{36,}\b`, "[MASKED_GITHUB_TOKEN]"},
	{"bearer_token", `(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}`, "Bearer [MASKED_TOKEN]"},
	{"credential_assignment", `(?i)\b(api[_-]?key|apikey|secret[_-]?key|access[_-]?token|auth[_-]?token|client[_-]?secret)\b(\s*[:=]\s*)["']?[A-Za-z0-9+/._-]{12,}["']?`, "${1}${2}[MASKED_CREDENTIAL]"},
	{"password_assignment", `(?i)\b(password|passwd|pwd)\b(\s*[:=]\s*)["']?[^\s"']{6,}["']?`, "${1}${2}[MASKED_PASSWORD]"},
}

// Service applies secret masking to text. Nil-safe: a nil service masks
// nothing.
type Service struct {
	patterns []*compiledPattern
	secrets  *kubernetesSecretMasker
	logger   *slog.Logger
}

// NewService compiles the built-in patterns plus any custom ones from
// config. Invalid custom patterns are logged and skipped. Returns nil when
// masking is disabled.
func NewService(cfg config.MaskingConfig) *Service {
	if !cfg.Enabled {
		return nil
	}
	logger := slog.Default().With("component", "masking")

	s := &Service{
		secrets: &kubernetesSecretMasker{},
		logger:  logger,
	}
	for _, p := range builtinPatterns {
		s.patterns = append(s.patterns, &compiledPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.pattern),
			replacement: p.replacement,
		})
	}
	for _, p := range cfg.Patterns {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			logger.Error("Failed to compile custom masking pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &compiledPattern{
			name:        p.Name,
			regex:       compiled,
			replacement: p.Replacement,
		})
	}
	logger.Info("Masking enabled",
		"builtin_patterns", len(builtinPatterns),
		"custom_patterns", len(s.patterns)-len(builtinPatterns))
	return s
}

// Mask applies the structural Kubernetes Secret masker, then every regex
// pattern. Returns the input unchanged when s is nil.
func (s *Service) Mask(text string) string {
	if s == nil || text == "" {
		return text
	}
	if s.secrets.AppliesTo(text) {
		text = s.secrets.Mask(text)
	}
	for _, p := range s.patterns {
		text = p.regex.ReplaceAllString(text, p.replacement)
	}
	return text
}
