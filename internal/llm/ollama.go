package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaURL is the local Ollama server.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient talks to an Ollama server through its chat endpoint.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates an Ollama client. baseURL should be like
// "http://localhost:11434".
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing ollama url: %w", err)
	}
	return &OllamaClient{
		client: api.NewClient(u, &http.Client{Timeout: 120 * time.Second}),
		model:  model,
	}, nil
}

// Name returns the provider name.
func (o *OllamaClient) Name() string { return "ollama" }

// Complete sends a non-streaming chat request.
func (o *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	msgs := withSystem(req)
	chat := make([]api.Message, len(msgs))
	for i, m := range msgs {
		chat[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	model := o.model
	if req.Model != "" {
		model = req.Model
	}
	stream := false
	creq := &api.ChatRequest{
		Model:    model,
		Messages: chat,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.Temperature != nil {
		creq.Options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		creq.Options["num_predict"] = req.MaxTokens
	}

	var final api.ChatResponse
	var content strings.Builder
	err := o.client.Chat(ctx, creq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			final = resp
		}
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return nil, &ProviderError{Provider: o.Name(), Message: statusErr.ErrorMessage, Code: statusErr.StatusCode}
		}
		return nil, fmt.Errorf("ollama: %w", err)
	}

	return &CompletionResponse{
		Content:    content.String(),
		StopReason: final.DoneReason,
		Model:      model,
		Duration:   time.Since(start),
		Usage: Usage{
			InputTokens:  final.PromptEvalCount,
			OutputTokens: final.EvalCount,
		},
	}, nil
}
