// Package llm provides chat-completion clients for OpenAI and Anthropic
// behind one interface, plus the structured tasks built on them: plan
// verification, failure critique, and memory extraction.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/perf"
	"github.com/latticehq/lattice/pkg/ratelimit"
)

// ErrUnsupportedProvider rejects config.LLM.Provider values without a client.
var ErrUnsupportedProvider = errors.New("unsupported llm provider")

// maxStructuredTemperature caps structured (JSON) tasks; creative sampling
// breaks schema compliance.
const maxStructuredTemperature = 0.3

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call. JSONMode constrains the response to a
// single JSON object and caps the temperature.
type Request struct {
	System      string
	Messages    []Message
	JSONMode    bool
	Temperature float64
	MaxTokens   int
}

// Client is a synchronous chat-completion client.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// New builds the provider client named by config. The HTTP client comes
// from the shared pool keyed by credential+model.
func New(cfg config.LLMConfig, pooling config.PoolingConfig, limiter *ratelimit.Limiter, monitor *perf.Monitor) (Client, error) {
	switch cfg.Provider {
	case "openai", "":
		return newOpenAIClient(cfg, pooling, limiter, monitor), nil
	case "anthropic":
		return newAnthropicClient(cfg, pooling, limiter, monitor), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// effectiveTemperature applies the request override, the config default,
// and the structured-task cap, in that order.
func effectiveTemperature(cfg config.LLMConfig, req Request) float64 {
	temp := cfg.Temperature
	if req.Temperature > 0 {
		temp = req.Temperature
	}
	if req.JSONMode && temp > maxStructuredTemperature {
		temp = maxStructuredTemperature
	}
	return temp
}

func effectiveMaxTokens(cfg config.LLMConfig, req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 2048
}

// estimateRequestTokens feeds the rate limiter before the call; actual
// usage corrects it afterwards.
func estimateRequestTokens(req Request) int {
	total := (len(req.System) + 3) / 4
	for _, m := range req.Messages {
		total += (len(m.Content) + 3) / 4
	}
	return total + 256
}
