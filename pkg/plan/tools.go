package plan

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Tool is one callable action a plan step can name.
type Tool interface {
	Name() string
	// RequiredParams lists parameters that must be present and non-empty.
	RequiredParams() []string
	Run(ctx context.Context, params map[string]any) (any, error)
}

// ParamValidator adds tool-specific checks beyond the required set.
// Validation errors are not retryable.
type ParamValidator interface {
	ValidateParams(params map[string]any) error
}

// MissingParametersError reports required parameters that are absent or
// empty after resolution. The tool is never invoked; retrying the same
// plan cannot help.
type MissingParametersError struct {
	Tool    string
	Missing []string
}

func (e *MissingParametersError) Error() string {
	return fmt.Sprintf("tool %s missing required parameters: %s", e.Tool, strings.Join(e.Missing, ", "))
}

// Catalog maps tool names to implementations.
type Catalog struct {
	tools map[string]Tool
}

func NewCatalog(tools ...Tool) *Catalog {
	c := &Catalog{tools: map[string]Tool{}}
	for _, t := range tools {
		c.tools[t.Name()] = t
	}
	return c
}

func (c *Catalog) Register(t Tool) {
	c.tools[t.Name()] = t
}

func (c *Catalog) Get(name string) (Tool, bool) {
	t, ok := c.tools[name]
	return t, ok
}

// Names lists registered tools, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateParams enforces the required set, then any tool-specific checks.
func validateParams(tool Tool, params map[string]any) error {
	var missing []string
	for _, name := range tool.RequiredParams() {
		if isEmptyParam(params[name]) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingParametersError{Tool: tool.Name(), Missing: missing}
	}
	if v, ok := tool.(ParamValidator); ok {
		return v.ValidateParams(params)
	}
	return nil
}

func isEmptyParam(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
