package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/perf"
	"github.com/latticehq/lattice/pkg/ratelimit"
)

type openAIClient struct {
	api     openai.Client
	cfg     config.LLMConfig
	limiter *ratelimit.Limiter
	monitor *perf.Monitor
	logger  *slog.Logger
}

func newOpenAIClient(cfg config.LLMConfig, pooling config.PoolingConfig, limiter *ratelimit.Limiter, monitor *perf.Monitor) *openAIClient {
	key := ratelimit.PoolKey(cfg.APIKey, cfg.Model)
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(ratelimit.SharedClient(key, pooling)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAIClient{
		api:     openai.NewClient(opts...),
		cfg:     cfg,
		limiter: limiter,
		monitor: monitor,
		logger:  slog.Default().With("component", "llm-openai"),
	}
}

func (c *openAIClient) Model() string { return c.cfg.Model }

func (c *openAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, estimateRequestTokens(req)); err != nil {
			return "", err
		}
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.cfg.Model),
		Messages:    messages,
		Temperature: openai.Float(effectiveTemperature(c.cfg, req)),
		MaxTokens:   openai.Int(int64(effectiveMaxTokens(c.cfg, req))),
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	started := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	c.monitor.Observe("llm_call_ms", time.Since(started))
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	if c.limiter != nil {
		c.limiter.RecordUsage(int(resp.Usage.TotalTokens))
	}
	return resp.Choices[0].Message.Content, nil
}
