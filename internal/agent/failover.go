package agent

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/soyeahso/askbot/internal/llm"
	"github.com/soyeahso/askbot/internal/logging"
)

// FailoverClient wraps an LLM registry to try fallback providers on failure.
type FailoverClient struct {
	registry  *llm.Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

// NewFailoverClient creates a client that tries the primary model first,
// then falls back through the list on retryable errors (401, 429, 5xx).
func NewFailoverClient(registry *llm.Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("failover"),
	}
}

// Complete asks the primary model's provider and moves down the fallback
// list while failures are retryable. A model reference only selects a
// provider; the provider answers with its own configured model. The returned
// name is the provider that answered, or the last one tried.
func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, string, error) {
	provider := f.primary
	var lastErr error
	for i, model := range append([]string{f.primary}, f.fallbacks...) {
		client, err := f.registry.Resolve(model)
		if err != nil {
			f.log.Debug().Str("model", model).Err(err).Msg("unresolved model skipped")
			lastErr = err
			continue
		}
		provider = client.Name()

		resp, err := client.Complete(ctx, req)
		switch {
		case err == nil:
			if i > 0 {
				f.log.Info().Str("provider", provider).Int("attempt", i+1).Msg("answered by fallback")
			}
			return resp, provider, nil
		case !isRetryable(err):
			return nil, provider, err
		}
		f.log.Warn().Str("model", model).Str("provider", provider).Err(err).Msg("provider failed, trying next")
		lastErr = err
	}
	return nil, provider, lastErr
}

// retryableCodes are provider statuses worth handing to the next provider:
// auth failures (a fallback may hold other credentials), throttling and
// server-side errors.
var retryableCodes = []int{401, 403, 429, 500, 502, 503, 504, 529}

var retryableHints = []string{"overloaded", "rate limit", "capacity", "timeout"}

// isRetryable reports whether err should move on to the next provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) && slices.Contains(retryableCodes, pe.Code) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return slices.ContainsFunc(retryableHints, func(h string) bool { return strings.Contains(msg, h) })
}
