package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/domain"
	"github.com/soyeahso/askbot/internal/llm"
	"github.com/soyeahso/askbot/internal/logging"
)

// RunnerConfig configures the agent runner.
type RunnerConfig struct {
	Model         string
	Fallbacks     []string
	MaxTokens     int
	Temperature   *float64
	MaxIterations int
	ExtraPrompt   string
}

// RunnerConfigFrom maps the agent section of the config.
func RunnerConfigFrom(cfg config.AgentConfig) RunnerConfig {
	return RunnerConfig{
		Model:         cfg.Model,
		Fallbacks:     cfg.Fallbacks,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		MaxIterations: cfg.MaxIterations,
		ExtraPrompt:   cfg.ExtraPrompt,
	}
}

// Result is the outcome of one invocation.
type Result struct {
	Answer     string        `json:"answer"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model,omitempty"`
	Usage      llm.Usage     `json:"usage"`
	Iterations int           `json:"iterations"`
	ToolCalls  int           `json:"toolCalls"`
	Duration   time.Duration `json:"duration"`
}

// ErrNoAnswer means the model produced nothing but tool calls or whitespace.
var ErrNoAnswer = errors.New("model returned no answer")

// InvokeError carries the provider that failed.
type InvokeError struct {
	Provider string
	Err      error
}

func (e *InvokeError) Error() string { return e.Err.Error() }
func (e *InvokeError) Unwrap() error { return e.Err }

// Runner is the bounded reasoning loop: it calls the LLM, executes any tool
// calls it asks for, and feeds the results back until an answer is produced
// or the iteration budget runs out.
type Runner struct {
	cfg    RunnerConfig
	client *FailoverClient
	tools  *ToolRegistry
	log    *logging.Logger
}

// NewRunner creates an agent runner.
func NewRunner(cfg RunnerConfig, registry *llm.Registry, tools *ToolRegistry, log *logging.Logger) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = config.DefaultAgentIterations
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Runner{
		cfg:    cfg,
		client: NewFailoverClient(registry, cfg.Model, cfg.Fallbacks, log),
		tools:  tools,
		log:    log.Sub("agent"),
	}
}

// Invoke answers prompt given the prior conversation. History is read-only;
// intermediate tool rounds are not persisted.
func (r *Runner) Invoke(ctx context.Context, prompt string, history []domain.ChatTurn) (*Result, error) {
	start := time.Now()

	system := BuildSystemPrompt(PromptConfig{
		Tools:       r.tools.Definitions(),
		ExtraPrompt: r.cfg.ExtraPrompt,
	})

	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		msgs = append(msgs, messageFromTurn(t))
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})

	r.log.Debug().Int("historyLen", len(history)).Msg("invoking agent")

	var (
		finalResp *llm.CompletionResponse
		provider  string
		rounds    int
		toolCalls int
		exhausted bool
	)
	for rounds < r.cfg.MaxIterations {
		rounds++
		req := llm.CompletionRequest{
			System:      system,
			Messages:    msgs,
			MaxTokens:   r.cfg.MaxTokens,
			Temperature: r.cfg.Temperature,
		}

		resp, name, err := r.client.Complete(ctx, req)
		provider = name
		if err != nil {
			return nil, &InvokeError{Provider: provider, Err: fmt.Errorf("LLM completion: %w", err)}
		}
		finalResp = resp

		calls := extractToolCalls(resp.Content)
		if len(calls) == 0 {
			break
		}
		if rounds == r.cfg.MaxIterations {
			r.log.Warn().Int("iterations", rounds).Msg("tool budget exhausted")
			exhausted = true
			break
		}

		r.log.Info().Int("round", rounds).Int("calls", len(calls)).Msg("model requested tools")
		toolCalls += len(calls)
		msgs = append(msgs,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: r.runTools(ctx, calls)},
		)
	}

	if finalResp == nil {
		return nil, &InvokeError{Provider: provider, Err: fmt.Errorf("no response from LLM")}
	}

	answer := cleanAnswer(finalResp.Content, r.log)
	if answer == "" {
		err := ErrNoAnswer
		if exhausted {
			err = fmt.Errorf("%w: stopped after %d tool rounds", ErrNoAnswer, rounds)
		}
		return nil, &InvokeError{Provider: provider, Err: err}
	}

	r.log.Info().
		Str("provider", provider).
		Str("model", finalResp.Model).
		Int("iterations", rounds).
		Int("inputTokens", finalResp.Usage.InputTokens).
		Int("outputTokens", finalResp.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("response generated")

	return &Result{
		Answer:     answer,
		Provider:   provider,
		Model:      finalResp.Model,
		Usage:      finalResp.Usage,
		Iterations: rounds,
		ToolCalls:  toolCalls,
		Duration:   time.Since(start),
	}, nil
}

func messageFromTurn(t domain.ChatTurn) llm.Message {
	role := llm.RoleUser
	if t.Role == domain.RoleAI {
		role = llm.RoleAssistant
	}
	return llm.Message{Role: role, Content: t.Content}
}
