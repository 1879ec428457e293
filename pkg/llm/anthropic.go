package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/perf"
	"github.com/latticehq/lattice/pkg/ratelimit"
)

// jsonModeInstruction stands in for a response-format parameter: the
// Messages API has none, so the constraint lives in the system prompt.
const jsonModeInstruction = "Respond with a single valid JSON object and nothing else. No prose, no code fences."

type anthropicClient struct {
	api     anthropic.Client
	cfg     config.LLMConfig
	limiter *ratelimit.Limiter
	monitor *perf.Monitor
	logger  *slog.Logger
}

func newAnthropicClient(cfg config.LLMConfig, pooling config.PoolingConfig, limiter *ratelimit.Limiter, monitor *perf.Monitor) *anthropicClient {
	key := ratelimit.PoolKey(cfg.APIKey, cfg.Model)
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(ratelimit.SharedClient(key, pooling)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicClient{
		api:     anthropic.NewClient(opts...),
		cfg:     cfg,
		limiter: limiter,
		monitor: monitor,
		logger:  slog.Default().With("component", "llm-anthropic"),
	}
}

func (c *anthropicClient) Model() string { return c.cfg.Model }

func (c *anthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, estimateRequestTokens(req)); err != nil {
			return "", err
		}
	}

	system := req.System
	if req.JSONMode {
		if system != "" {
			system += "\n\n"
		}
		system += jsonModeInstruction
	}

	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.Model),
		MaxTokens:   int64(effectiveMaxTokens(c.cfg, req)),
		Temperature: anthropic.Float(effectiveTemperature(c.cfg, req)),
		Messages:    messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	started := time.Now()
	resp, err := c.api.Messages.New(ctx, params)
	c.monitor.Observe("llm_call_ms", time.Since(started))
	if err != nil {
		return "", fmt.Errorf("messages call failed: %w", err)
	}
	if c.limiter != nil {
		c.limiter.RecordUsage(int(resp.Usage.InputTokens + resp.Usage.OutputTokens))
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("messages call returned no text content")
	}
	return b.String(), nil
}
