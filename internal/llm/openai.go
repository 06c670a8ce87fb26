package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel matches the model the assistant has always used.
const DefaultOpenAIModel = "gpt-3.5-turbo"

// OpenAIClient talks to the OpenAI chat completions API, or to any
// compatible endpoint when a base URL is configured.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI client. An empty baseURL uses the public API.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// Name returns the provider name.
func (o *OpenAIClient) Name() string { return "openai" }

// Complete sends a chat completion request.
func (o *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	msgs := withSystem(req)
	chat := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		chat[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	model := o.model
	if req.Model != "" {
		model = req.Model
	}
	creq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  chat,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, o.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: o.Name(), Message: "empty chat response"}
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Model:      resp.Model,
		Duration:   time.Since(start),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (o *OpenAIClient) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: o.Name(), Message: apiErr.Message, Code: apiErr.HTTPStatusCode}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: o.Name(), Message: reqErr.Error(), Code: reqErr.HTTPStatusCode}
	}
	return fmt.Errorf("openai: %w", err)
}
