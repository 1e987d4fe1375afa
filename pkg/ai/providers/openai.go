package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"uigen/pkg/ai"
	"uigen/pkg/config"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

const (
	openAIDefaultTimeout = 60
	openAIProviderName   = "openai"
)

func init() {
	ai.RegisterProvider(ai.ProviderInfo{
		Type:        ai.ProviderOpenAI,
		Name:        "OpenAI-compatible",
		Description: "Any OpenAI-compatible chat completions endpoint (Gemini, OpenAI, OpenRouter, local gateways)",
	}, NewOpenAIProvider)
}

// OpenAIProvider implements the Provider interface against an OpenAI-compatible API.
type OpenAIProvider struct {
	client         openai.Client
	defaultModel   string
	defaultTimeout time.Duration
}

// NewOpenAIProvider creates a new OpenAI-compatible provider from config.
func NewOpenAIProvider(cfg ai.ProviderConfig) (ai.Provider, error) {
	return newOpenAIProviderWithHTTPClient(cfg.Upstream, &http.Client{})
}

func newOpenAIProviderWithHTTPClient(cfg config.UpstreamConfig, httpClient *http.Client) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api_key is required")
	}

	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = config.DefaultAPIURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = config.DefaultModel
	}

	timeout := cfg.APITimeoutSeconds
	if timeout <= 0 {
		timeout = openAIDefaultTimeout
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	// Retries are a caller concern; the SDK's built-in retry loop is disabled.
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(apiURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)

	slog.Debug("openai_provider_ready",
		"api_url", apiURL,
		"model", model,
		"timeout_seconds", timeout,
	)
	return &OpenAIProvider{
		client:         client,
		defaultModel:   model,
		defaultTimeout: time.Duration(timeout) * time.Second,
	}, nil
}

// CreateChatCompletion sends a non-streaming chat completion request.
func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, req ai.ChatRequest) (ai.ChatResponse, error) {
	params, err := p.buildChatParams(req)
	if err != nil {
		return ai.ChatResponse{}, err
	}

	callCtx, cancel := withTimeout(ctx, p.defaultTimeout)
	defer cancel()

	resp, err := p.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		return ai.ChatResponse{}, wrapOpenAIError(err)
	}

	out := ai.ChatResponse{Model: resp.Model}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

// CreateChatCompletionStream sends a streaming chat completion request.
func (p *OpenAIProvider) CreateChatCompletionStream(ctx context.Context, req ai.ChatRequest) (ai.ChatStream, error) {
	params, err := p.buildChatParams(req)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := withTimeout(ctx, p.defaultTimeout)
	stream := p.client.Chat.Completions.NewStreaming(callCtx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		cancel()
		return nil, wrapOpenAIError(err)
	}

	return &openAIStream{stream: stream, cancel: cancel}, nil
}

func (p *OpenAIProvider) buildChatParams(req ai.ChatRequest) (openai.ChatCompletionNewParams, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("messages are required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		param, err := toChatMessageParam(msg)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, param)
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}

	return params, nil
}

func toChatMessageParam(msg ai.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch strings.ToLower(strings.TrimSpace(msg.Role)) {
	case "system":
		return openai.SystemMessage(msg.Content), nil
	case "user":
		return openai.UserMessage(msg.Content), nil
	case "assistant":
		return openai.AssistantMessage(msg.Content), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role: %s", msg.Role)
	}
}

// wrapOpenAIError attaches the upstream HTTP status so callers can surface it.
func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ai.StatusError{
			Provider:   openAIProviderName,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return err
}

type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	cancel context.CancelFunc
}

func (s *openAIStream) Next() bool {
	return s.stream.Next()
}

func (s *openAIStream) Content() string {
	chunk := s.stream.Current()
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}

func (s *openAIStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return wrapOpenAIError(err)
	}
	return nil
}

func (s *openAIStream) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return s.stream.Close()
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	// Always cancelable so closing a stream abandons the upstream request.
	if _, hasDeadline := ctx.Deadline(); hasDeadline || timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Ensure interface compliance
var _ ai.Provider = (*OpenAIProvider)(nil)
