package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/bernsmp/zed-seo-tool/internal/config"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

type AnthropicProvider struct {
	client      anthropic.Client
	hasKey      bool
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicProvider disables the SDK's own retries; the gateway's policy owns them.
func NewAnthropicProvider(cfg config.Config, httpClient *http.Client, extra ...option.RequestOption) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.AnthropicAPIKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if cfg.LLMBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.LLMBaseURL))
	}
	opts = append(opts, extra...)
	return &AnthropicProvider{
		client:      anthropic.NewClient(opts...),
		hasKey:      cfg.AnthropicAPIKey != "",
		model:       cfg.LLMModel,
		maxTokens:   int64(cfg.LLMMaxTokens),
		temperature: cfg.LLMTemperature,
	}
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if !p.hasKey {
		return Response{}, fatalError("anthropic", 0, errors.New("api key is not configured"))
	}
	user := req.User
	if req.JSONMode {
		// No response_format on the Messages API; ask in-band instead.
		user += "\n\nRespond with JSON only."
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(p.temperature),
		System: []anthropic.TextBlockParam{
			{Text: req.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Response{}, &GatewayError{
				Kind:       classifyStatus(apiErr.StatusCode),
				Provider:   "anthropic",
				StatusCode: apiErr.StatusCode,
				Err:        err,
			}
		}
		return Response{}, classifyTransportError("anthropic", err)
	}

	usage := domain.LLMUsage{
		Calls:                    1,
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			return Response{Text: block.Text, Provider: "anthropic", Model: string(message.Model), Usage: usage}, nil
		}
	}
	return Response{Usage: usage}, transientError("anthropic", 0, fmt.Errorf("no text content in response"))
}
