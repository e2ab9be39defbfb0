package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bernsmp/zed-seo-tool/internal/config"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

// ChatCompletionsProvider speaks the OpenAI-style /chat/completions protocol,
// which OpenRouter also serves.
type ChatCompletionsProvider struct {
	name        string
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	headers     map[string]string
	client      *http.Client
}

func NewOpenRouterProvider(cfg config.Config, client *http.Client) *ChatCompletionsProvider {
	p := newChatCompletionsProvider("openrouter", cfg, cfg.OpenRouterAPIKey, client)
	if cfg.OpenRouterReferer != "" {
		p.headers["HTTP-Referer"] = cfg.OpenRouterReferer
	}
	if cfg.OpenRouterTitle != "" {
		p.headers["X-Title"] = cfg.OpenRouterTitle
	}
	return p
}

func NewOpenAIProvider(cfg config.Config, client *http.Client) *ChatCompletionsProvider {
	return newChatCompletionsProvider("openai", cfg, cfg.OpenAIAPIKey, client)
}

func newChatCompletionsProvider(name string, cfg config.Config, apiKey string, client *http.Client) *ChatCompletionsProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatCompletionsProvider{
		name:        name,
		baseURL:     strings.TrimRight(cfg.LLMBaseURL, "/"),
		apiKey:      apiKey,
		model:       cfg.LLMModel,
		temperature: cfg.LLMTemperature,
		maxTokens:   cfg.LLMMaxTokens,
		headers:     map[string]string{},
		client:      client,
	}
}

func (p *ChatCompletionsProvider) Name() string  { return p.name }
func (p *ChatCompletionsProvider) Model() string { return p.model }

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *chatError `json:"error"`
}

type chatError struct {
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code"`
}

// status returns the numeric error code OpenRouter embeds in 200 responses, or 0.
func (e *chatError) status() int {
	var n int
	if err := json.Unmarshal(e.Code, &n); err == nil {
		return n
	}
	return 0
}

func (p *ChatCompletionsProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p.apiKey == "" {
		return Response{}, fatalError(p.name, 0, errors.New("api key is not configured"))
	}

	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Response{}, fatalError(p.name, 0, fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fatalError(p.name, 0, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, classifyTransportError(p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, transientError(p.name, resp.StatusCode, fmt.Errorf("reading response: %w", err))
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := truncate(string(respBody), 512)
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return Response{}, &GatewayError{
			Kind:       classifyStatus(resp.StatusCode),
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Err:        errors.New(msg),
		}
	}
	if decodeErr != nil {
		return Response{}, transientError(p.name, resp.StatusCode, fmt.Errorf("parsing response: %w", decodeErr))
	}
	if parsed.Error != nil {
		code := parsed.Error.status()
		kind := KindTransient
		if code > 0 {
			kind = classifyStatus(code)
		}
		return Response{}, &GatewayError{Kind: kind, Provider: p.name, StatusCode: code, Err: errors.New(parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return Response{}, transientError(p.name, resp.StatusCode, errors.New("no choices in response"))
	}

	out := Response{
		Text:     parsed.Choices[0].Message.Content,
		Provider: p.name,
		Model:    parsed.Model,
		Usage:    domain.LLMUsage{Calls: 1},
	}
	if parsed.Usage != nil {
		out.Usage.InputTokens = parsed.Usage.PromptTokens
		out.Usage.OutputTokens = parsed.Usage.CompletionTokens
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("... [truncated, total_length=%d]", len(s))
}
