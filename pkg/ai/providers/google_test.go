package providers

import (
	"context"
	"errors"
	"iter"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"uigen/pkg/ai"
	"uigen/pkg/config"

	"google.golang.org/genai"
)

type stubGoogleModelsClient struct {
	generateResp *genai.GenerateContentResponse
	generateErr  error
	streamSeq    iter.Seq2[*genai.GenerateContentResponse, error]

	gotModel    string
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
}

func (s *stubGoogleModelsClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.gotModel = model
	s.gotContents = contents
	s.gotConfig = cfg
	return s.generateResp, s.generateErr
}

func (s *stubGoogleModelsClient) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	s.gotModel = model
	s.gotContents = contents
	s.gotConfig = cfg
	if s.streamSeq != nil {
		return s.streamSeq
	}
	return func(yield func(*genai.GenerateContentResponse, error) bool) {}
}

func googleTextResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Role: genai.RoleModel,
					Parts: []*genai.Part{
						{Text: text},
					},
				},
			},
		},
	}
}

func TestNewGoogleProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewGoogleProvider(ai.ProviderConfig{
		Type:     ai.ProviderGoogle,
		Upstream: config.UpstreamConfig{Provider: "google"},
	})
	if err == nil {
		t.Fatal("Expected error when Google API key is missing")
	}
}

func TestNewGoogleProvider_DefaultFallbacks(t *testing.T) {
	origNewClient := newGoogleClient
	defer func() {
		newGoogleClient = origNewClient
	}()

	var gotClientCfg *genai.ClientConfig
	newGoogleClient = func(ctx context.Context, cfg *genai.ClientConfig) (*genai.Client, error) {
		gotClientCfg = cfg
		return &genai.Client{}, nil
	}

	provider, err := NewGoogleProvider(ai.ProviderConfig{
		Type: ai.ProviderGoogle,
		Upstream: config.UpstreamConfig{
			Provider:          "google",
			APIKey:            "test-google-key",
			Model:             "",
			APITimeoutSeconds: 0,
		},
	})
	if err != nil {
		t.Fatalf("NewGoogleProvider() error: %v", err)
	}

	googleProvider, ok := provider.(*GoogleProvider)
	if !ok {
		t.Fatalf("Expected *GoogleProvider, got %T", provider)
	}
	if gotClientCfg == nil {
		t.Fatal("Expected Google client config to be captured")
	}
	if gotClientCfg.APIKey != "test-google-key" {
		t.Fatalf("Expected API key to be forwarded, got %q", gotClientCfg.APIKey)
	}
	if gotClientCfg.Backend != genai.BackendGeminiAPI {
		t.Fatalf("Expected BackendGeminiAPI, got %q", gotClientCfg.Backend)
	}
	if googleProvider.defaultModel != googleDefaultModel {
		t.Fatalf("Expected default model %q, got %q", googleDefaultModel, googleProvider.defaultModel)
	}
	if googleProvider.defaultTimeout != 60*time.Second {
		t.Fatalf("Expected default timeout 60s, got %s", googleProvider.defaultTimeout)
	}
}

func TestGoogleProvider_CreateChatCompletion_MapsMessages(t *testing.T) {
	stub := &stubGoogleModelsClient{
		generateResp: googleTextResponse("ok"),
	}
	provider := &GoogleProvider{
		models:       stub,
		defaultModel: "google-default",
	}

	temp := 0.2
	maxTokens := 42
	resp, err := provider.CreateChatCompletion(context.Background(), ai.ChatRequest{
		Messages: []ai.Message{
			{Role: "system", Content: "system prompt"},
			{Role: "system", Content: "catalog"},
			{Role: "user", Content: "user prompt"},
			{Role: "assistant", Content: "assistant prompt"},
			{Role: "user", Content: "follow up"},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion() error: %v", err)
	}

	if resp.Content != "ok" {
		t.Fatalf("Expected response content %q, got %q", "ok", resp.Content)
	}
	if resp.Model != "google-default" {
		t.Fatalf("Expected response model %q, got %q", "google-default", resp.Model)
	}
	if stub.gotModel != "google-default" {
		t.Fatalf("Expected default model to be used, got %q", stub.gotModel)
	}
	if len(stub.gotContents) != 3 {
		t.Fatalf("Expected 3 non-system messages, got %d", len(stub.gotContents))
	}

	if stub.gotContents[0].Role != genai.RoleUser {
		t.Fatalf("Expected first content role user, got %q", stub.gotContents[0].Role)
	}
	if stub.gotContents[1].Role != genai.RoleModel {
		t.Fatalf("Expected second content role model, got %q", stub.gotContents[1].Role)
	}
	if stub.gotContents[2].Role != genai.RoleUser {
		t.Fatalf("Expected third content role user, got %q", stub.gotContents[2].Role)
	}
	if stub.gotConfig == nil || stub.gotConfig.SystemInstruction == nil {
		t.Fatal("Expected system instruction to be set")
	}
	if len(stub.gotConfig.SystemInstruction.Parts) != 1 {
		t.Fatalf("Expected one system instruction part, got %d", len(stub.gotConfig.SystemInstruction.Parts))
	}
	if got := stub.gotConfig.SystemInstruction.Parts[0].Text; got != "system prompt\n\ncatalog" {
		t.Fatalf("Expected merged system prompt, got %q", got)
	}
	if stub.gotConfig.Temperature == nil {
		t.Fatal("Expected temperature to be set")
	}
	if stub.gotConfig.ThinkingConfig == nil {
		t.Fatal("Expected thinking config to be set")
	}
	if stub.gotConfig.ThinkingConfig.IncludeThoughts {
		t.Fatal("Expected IncludeThoughts=false")
	}
	if stub.gotConfig.ThinkingConfig.ThinkingBudget == nil {
		t.Fatal("Expected ThinkingBudget to be set")
	}
	if *stub.gotConfig.ThinkingConfig.ThinkingBudget != 0 {
		t.Fatalf("Expected ThinkingBudget=0, got %d", *stub.gotConfig.ThinkingConfig.ThinkingBudget)
	}
	if math.Abs(float64(*stub.gotConfig.Temperature)-0.2) > 0.0001 {
		t.Fatalf("Expected temperature override 0.2, got %f", *stub.gotConfig.Temperature)
	}
	if stub.gotConfig.MaxOutputTokens != 42 {
		t.Fatalf("Expected max output tokens 42, got %d", stub.gotConfig.MaxOutputTokens)
	}
}

func TestGoogleProvider_CreateChatCompletion_RejectsUnknownRole(t *testing.T) {
	stub := &stubGoogleModelsClient{generateResp: googleTextResponse("ok")}
	provider := &GoogleProvider{models: stub, defaultModel: "google-default"}

	_, err := provider.CreateChatCompletion(context.Background(), ai.ChatRequest{
		Messages: []ai.Message{{Role: "tool", Content: "x"}},
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported role") {
		t.Fatalf("Expected unsupported role error, got %v", err)
	}
	if stub.gotModel != "" {
		t.Fatal("Expected no upstream call for invalid request")
	}
}

func TestGoogleProvider_CreateChatCompletion_StatusError(t *testing.T) {
	stub := &stubGoogleModelsClient{
		generateErr: genai.APIError{Code: 429, Message: "quota", Status: "RESOURCE_EXHAUSTED"},
	}
	provider := &GoogleProvider{models: stub, defaultModel: "google-default"}

	_, err := provider.CreateChatCompletion(context.Background(), ai.ChatRequest{
		Messages: []ai.Message{{Role: "user", Content: "hello"}},
	})
	code, ok := ai.StatusCode(err)
	if !ok || code != 429 {
		t.Fatalf("Expected status 429, got %d (ok=%v, err=%v)", code, ok, err)
	}
}

func TestGoogleProvider_CreateChatCompletion_FiltersThoughtParts(t *testing.T) {
	stub := &stubGoogleModelsClient{
		generateResp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{
					Content: &genai.Content{
						Role: genai.RoleModel,
						Parts: []*genai.Part{
							{Text: "internal", Thought: true},
							{Text: "visible answer"},
						},
					},
				},
			},
		},
	}
	provider := &GoogleProvider{
		models:       stub,
		defaultModel: "google-default",
	}

	resp, err := provider.CreateChatCompletion(context.Background(), ai.ChatRequest{
		Messages: []ai.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion() error: %v", err)
	}
	if resp.Content != "visible answer" {
		t.Fatalf("Expected thought parts to be filtered, got %q", resp.Content)
	}
}

func TestGoogleProvider_CreateChatCompletion_NormalizesNonPositiveMaxTokens(t *testing.T) {
	stub := &stubGoogleModelsClient{
		generateResp: googleTextResponse("ok"),
	}
	provider := &GoogleProvider{
		models:       stub,
		defaultModel: "google-default",
	}

	zero := 0
	_, err := provider.CreateChatCompletion(context.Background(), ai.ChatRequest{
		Messages:  []ai.Message{{Role: "user", Content: "hello"}},
		MaxTokens: &zero,
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion() error: %v", err)
	}
	if stub.gotConfig == nil {
		t.Fatal("Expected request config to be captured")
	}
	if stub.gotConfig.MaxOutputTokens != 0 {
		t.Fatalf("Expected max output tokens to be unset (0), got %d", stub.gotConfig.MaxOutputTokens)
	}
}

func TestGoogleProvider_CreateChatCompletionStream(t *testing.T) {
	stub := &stubGoogleModelsClient{
		streamSeq: func(yield func(*genai.GenerateContentResponse, error) bool) {
			if !yield(googleTextResponse("Hello"), nil) {
				return
			}
			yield(googleTextResponse(" world"), nil)
		},
	}
	provider := &GoogleProvider{
		models:       stub,
		defaultModel: "google-default",
	}

	stream, err := provider.CreateChatCompletionStream(context.Background(), ai.ChatRequest{
		Messages: []ai.Message{{Role: "user", Content: "stream"}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletionStream() error: %v", err)
	}
	defer stream.Close()

	var output strings.Builder
	for stream.Next() {
		output.WriteString(stream.Content())
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("Unexpected stream error: %v", err)
	}
	if output.String() != "Hello world" {
		t.Fatalf("Expected stream output %q, got %q", "Hello world", output.String())
	}
}

func TestGoogleProvider_CreateChatCompletionStream_ForwardsChunksUnchanged(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
	}{
		{name: "indentation", chunks: []string{"  ", "  return x"}},
		{name: "repeated prefix", chunks: []string{"Hello", "Hello world"}},
		{name: "whitespace only", chunks: []string{"\n", "\n", "}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubGoogleModelsClient{
				streamSeq: func(yield func(*genai.GenerateContentResponse, error) bool) {
					for _, chunk := range tt.chunks {
						if !yield(googleTextResponse(chunk), nil) {
							return
						}
					}
				},
			}
			provider := &GoogleProvider{
				models:       stub,
				defaultModel: "google-default",
			}

			stream, err := provider.CreateChatCompletionStream(context.Background(), ai.ChatRequest{
				Messages: []ai.Message{{Role: "user", Content: "stream"}},
			})
			if err != nil {
				t.Fatalf("CreateChatCompletionStream() error: %v", err)
			}
			defer stream.Close()

			var got []string
			for stream.Next() {
				got = append(got, stream.Content())
			}
			if err := stream.Err(); err != nil {
				t.Fatalf("Unexpected stream error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.chunks) {
				t.Fatalf("Expected fragments %q, got %q", tt.chunks, got)
			}
		})
	}
}

func TestGoogleProvider_CreateChatCompletionStream_Error(t *testing.T) {
	streamErr := errors.New("stream failed")
	stub := &stubGoogleModelsClient{
		streamSeq: func(yield func(*genai.GenerateContentResponse, error) bool) {
			yield(nil, streamErr)
		},
	}
	provider := &GoogleProvider{
		models:       stub,
		defaultModel: "google-default",
	}

	stream, err := provider.CreateChatCompletionStream(context.Background(), ai.ChatRequest{
		Messages: []ai.Message{{Role: "user", Content: "stream"}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletionStream() error: %v", err)
	}
	defer stream.Close()

	if stream.Next() {
		t.Fatal("Expected Next() to return false when stream emits an error")
	}
	if err := stream.Err(); err == nil {
		t.Fatal("Expected stream error to be reported")
	}
}
