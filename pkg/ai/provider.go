package ai

import "context"

// Message represents a single chat message for LLM requests.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatRequest defines the input to an LLM chat completion.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
}

// ChatResponse is a normalized response from an LLM.
type ChatResponse struct {
	Content      string
	Model        string
	FinishReason string
}

// ChatStream exposes a streaming response interface. Next blocks until the
// next fragment arrives or the stream ends; Close abandons the upstream call.
type ChatStream interface {
	Next() bool
	Content() string
	Err() error
	Close() error
}

// Provider defines the upstream chat-completion capability.
type Provider interface {
	CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error)
	CreateChatCompletionStream(ctx context.Context, req ChatRequest) (ChatStream, error)
}
