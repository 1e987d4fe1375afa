// Package gateway is the only caller of the upstream completion provider.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"uigen/pkg/ai"
	"uigen/pkg/failure"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

// Kind tags the shape of a Response.
type Kind int

const (
	Batched Kind = iota
	Streamed
)

func (k Kind) String() string {
	if k == Streamed {
		return "streamed"
	}
	return "batched"
}

// Request is one upstream call. Messages start with the system turn.
type Request struct {
	RequestID   string
	Route       string
	Model       string
	Messages    []ai.Message
	Temperature float64
	MaxTokens   int
	Streaming   bool
}

// Response is either a complete text (Batched) or a live fragment stream
// (Streamed). A Streamed response must be closed by its consumer.
type Response struct {
	Kind   Kind
	Text   string
	Stream ai.ChatStream
}

// ContentPolicy decides whether batched output is complete enough to forward.
type ContentPolicy struct {
	MinLength       int
	RequiredMarkers []string
}

// Check returns *failure.ContentIncomplete when text fails the policy.
func (p ContentPolicy) Check(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &failure.ContentIncomplete{Reason: "upstream returned empty text"}
	}
	if p.MinLength > 0 && len(trimmed) < p.MinLength {
		return &failure.ContentIncomplete{
			Reason: fmt.Sprintf("output is %d bytes, want at least %d", len(trimmed), p.MinLength),
		}
	}
	for _, marker := range p.RequiredMarkers {
		if marker != "" && !strings.Contains(text, marker) {
			return &failure.ContentIncomplete{Reason: fmt.Sprintf("output is missing %q", marker)}
		}
	}
	return nil
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithContentPolicy sets the policy applied to batched output.
func WithContentPolicy(policy ContentPolicy) Option {
	return func(g *Gateway) {
		g.policy = policy
	}
}

// WithLogger sets the logger used for failures.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithProviderName labels signals and logs with the provider name.
func WithProviderName(name string) Option {
	return func(g *Gateway) {
		g.providerName = name
	}
}

// Gateway owns model selection, sampling parameters and the batched vs
// streamed mode for every upstream call. It performs no retries.
type Gateway struct {
	provider     ai.Provider
	policy       ContentPolicy
	logger       *slog.Logger
	providerName string
	batched      pipz.Chainable[*call]
}

// call carries one batched request through the pipeline.
type call struct {
	req  ai.ChatRequest
	text string
}

// New creates a gateway around an injected provider.
func New(provider ai.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider:     provider,
		logger:       slog.Default(),
		providerName: "unknown",
	}
	for _, opt := range opts {
		opt(g)
	}

	upstream := pipz.Apply("upstream-call", func(ctx context.Context, c *call) (*call, error) {
		resp, err := g.provider.CreateChatCompletion(ctx, c.req)
		if err != nil {
			return c, err
		}
		c.text = resp.Content
		return c, nil
	})
	policy := pipz.Apply("content-policy", func(_ context.Context, c *call) (*call, error) {
		return c, g.policy.Check(c.text)
	})
	g.batched = pipz.NewSequence("batched-completion", upstream, policy)

	return g
}

// Complete issues exactly one upstream call for req.
func (g *Gateway) Complete(ctx context.Context, req Request) (Response, error) {
	kind := Batched
	if req.Streaming {
		kind = Streamed
	}

	capitan.Info(ctx, RequestStarted,
		RequestIDKey.Field(req.RequestID),
		RouteKey.Field(req.Route),
		ProviderKey.Field(g.providerName),
		ModelKey.Field(req.Model),
		ModeKey.Field(kind.String()),
		TemperatureKey.Field(req.Temperature),
	)
	start := time.Now()

	var (
		resp Response
		err  error
	)
	if kind == Streamed {
		resp, err = g.stream(ctx, req)
	} else {
		resp, err = g.batch(ctx, req)
	}
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		stage := "upstream"
		var contentErr *failure.ContentIncomplete
		if errors.As(err, &contentErr) {
			stage = "content_policy"
		}
		status, _ := ai.StatusCode(err)

		g.logger.Error("gateway_request_failed",
			"request_id", req.RequestID,
			"route", req.Route,
			"provider", g.providerName,
			"model", req.Model,
			"mode", kind.String(),
			"stage", stage,
			"status_code", status,
			"duration_ms", durationMs,
			"error", err.Error(),
		)
		capitan.Error(ctx, RequestFailed,
			RequestIDKey.Field(req.RequestID),
			RouteKey.Field(req.Route),
			ProviderKey.Field(g.providerName),
			ModelKey.Field(req.Model),
			ModeKey.Field(kind.String()),
			StageKey.Field(stage),
			StatusCodeKey.Field(status),
			ErrorKey.Field(err.Error()),
			DurationMsKey.Field(durationMs),
		)
		return Response{}, err
	}

	// For streamed requests completion means the stream is open.
	capitan.Info(ctx, RequestCompleted,
		RequestIDKey.Field(req.RequestID),
		RouteKey.Field(req.Route),
		ProviderKey.Field(g.providerName),
		ModelKey.Field(req.Model),
		ModeKey.Field(kind.String()),
		OutputLengthKey.Field(len(resp.Text)),
		DurationMsKey.Field(durationMs),
	)
	return resp, nil
}

func (g *Gateway) batch(ctx context.Context, req Request) (Response, error) {
	out, err := g.batched.Process(ctx, &call{req: chatRequest(req)})
	if err != nil {
		return Response{}, classify(ctx, unwrapPipeline(err))
	}
	return Response{Kind: Batched, Text: out.text}, nil
}

func (g *Gateway) stream(ctx context.Context, req Request) (Response, error) {
	stream, err := g.provider.CreateChatCompletionStream(ctx, chatRequest(req))
	if err != nil {
		return Response{}, classify(ctx, err)
	}
	return Response{Kind: Streamed, Stream: stream}, nil
}

// chatRequest copies req into a provider request so later changes to the
// caller's slice never reach the provider.
func chatRequest(req Request) ai.ChatRequest {
	out := ai.ChatRequest{
		Model:    req.Model,
		Messages: append([]ai.Message(nil), req.Messages...),
	}
	temperature := req.Temperature
	out.Temperature = &temperature
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		out.MaxTokens = &maxTokens
	}
	return out
}

// unwrapPipeline strips the pipz path wrapper so error text stays the
// provider's own.
func unwrapPipeline(err error) error {
	var pipeErr *pipz.Error[*call]
	if errors.As(err, &pipeErr) {
		if inner := errors.Unwrap(pipeErr); inner != nil {
			return inner
		}
	}
	return err
}

// classify maps provider errors onto the failure taxonomy.
func classify(ctx context.Context, err error) error {
	var contentErr *failure.ContentIncomplete
	if errors.As(err, &contentErr) {
		return contentErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &failure.Timeout{Err: err}
	}
	if status, ok := ai.StatusCode(err); ok {
		return &failure.UpstreamFailure{StatusCode: status, Err: err}
	}
	return &failure.UpstreamFailure{Err: err}
}
