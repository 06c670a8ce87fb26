package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/askbot/internal/agent"
	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/domain"
	"github.com/soyeahso/askbot/internal/logging"
	"github.com/soyeahso/askbot/internal/metrics"
	"github.com/soyeahso/askbot/internal/store"
)

// Defaults for UserDetail.
const (
	DefaultSessionsLimit = 10
	DefaultMessagesLimit = 5
)

// History is the chat memory the service reads and writes.
type History interface {
	ReadAll(ctx context.Context, sessionID string) ([]domain.ChatTurn, error)
	ReadRecent(ctx context.Context, sessionID string, count int) ([]domain.ChatTurn, error)
	Append(ctx context.Context, sessionID string, turn domain.ChatTurn) error
	Info(ctx context.Context, sessionID string) (domain.SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
}

// Profiles is the profile store surface the service uses.
type Profiles interface {
	ContextSource
	Get(ctx context.Context, userID string) (domain.Profile, error)
	Update(ctx context.Context, userID string, upd domain.ProfileUpdate) (domain.Profile, error)
	Delete(ctx context.Context, userID string) (domain.DeleteResult, error)
	Sessions(ctx context.Context, userID string, limit int) ([]domain.Activity, error)
}

// Agent answers a prompt given the prior conversation.
type Agent interface {
	Invoke(ctx context.Context, prompt string, history []domain.ChatTurn) (*agent.Result, error)
}

// Auditor records finished exchanges.
type Auditor interface {
	Record(ctx context.Context, e store.AuditEntry) (int64, error)
}

// Config holds the service settings.
type Config struct {
	FallbackReply string
	AgentTimeout  time.Duration
}

// ConfigFrom maps the agent section of the config.
func ConfigFrom(cfg config.AgentConfig) Config {
	return Config{FallbackReply: cfg.FallbackReply, AgentTimeout: cfg.Timeout()}
}

// AskRequest is one inbound question.
type AskRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id,omitempty"`
}

// AskResponse is the envelope returned for every question, successful or
// not.
type AskResponse struct {
	Success         bool   `json:"success"`
	Question        string `json:"question"`
	Answer          string `json:"answer"`
	SessionID       string `json:"session_id"`
	UserContextUsed bool   `json:"user_context_used"`
	MemoryLength    int64  `json:"memory_length"`
	Error           string `json:"error,omitempty"`

	// Err is the typed failure behind Error, for status mapping.
	Err error `json:"-"`
}

// UserDetail is a profile with its activity log and latest messages.
type UserDetail struct {
	Success bool `json:"success"`
	domain.Profile
	Sessions       []domain.Activity `json:"sessions"`
	RecentMessages []domain.ChatTurn `json:"recent_messages"`
}

// Service answers questions and exposes the user views built on the stores.
type Service struct {
	cfg       Config
	history   History
	profiles  Profiles
	agent     Agent
	assembler *Assembler
	audit     Auditor
	metrics   *metrics.Metrics
	log       *logging.Logger
}

// NewService wires a Service.
func NewService(cfg Config, history History, profiles Profiles, ag Agent, log *logging.Logger) *Service {
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = config.DefaultFallbackReply
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = config.DefaultAgentTimeoutSec * time.Second
	}
	return &Service{
		cfg:       cfg,
		history:   history,
		profiles:  profiles,
		agent:     ag,
		assembler: NewAssembler(profiles, log),
		log:       log.Sub("assistant"),
	}
}

// WithAudit enables the exchange log.
func (s *Service) WithAudit(a Auditor) *Service {
	s.audit = a
	return s
}

// WithMetrics enables instrumentation.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Ask runs one exchange. It never returns a raw error: every failure is an
// envelope with Success false.
func (s *Service) Ask(ctx context.Context, req AskRequest) AskResponse {
	start := time.Now()
	question := strings.TrimSpace(req.Question)
	userID := strings.TrimSpace(req.UserID)

	resp := AskResponse{
		Question:  req.Question,
		SessionID: domain.SessionIDForUser(userID),
	}
	if question == "" {
		resp.Err = fmt.Errorf("%w: question is required", domain.ErrInvalidArgument)
		resp.Error = resp.Err.Error()
		s.metrics.ObserveAsk(metrics.OutcomeInvalid, time.Since(start))
		return resp
	}

	asm := s.assembler.Assemble(ctx, question, userID)
	resp.SessionID = asm.SessionID

	history, err := s.history.ReadAll(ctx, asm.SessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session", asm.SessionID).Msg("reading history, answering without memory")
		s.metrics.StoreError("read_history")
		history = nil
	}

	actx, cancel := context.WithTimeout(ctx, s.cfg.AgentTimeout)
	result, err := s.agent.Invoke(actx, asm.Prompt, history)
	cancel()
	if err != nil {
		agentErr := &domain.AgentError{Err: err}
		var ie *agent.InvokeError
		if errors.As(err, &ie) {
			agentErr.Provider = ie.Provider
		}
		s.log.Error().Err(err).Str("session", asm.SessionID).Msg("agent failed")
		s.metrics.AgentError(agentErr.Provider)
		s.metrics.ObserveAsk(metrics.OutcomeAgentError, time.Since(start))

		resp.Answer = s.cfg.FallbackReply
		resp.Err = agentErr
		resp.Error = agentErr.Error()
		s.recordAudit(ctx, req, userID, resp, time.Since(start))
		return resp
	}

	answer, prefs := parseAgentOutput(result.Answer)
	if len(prefs) > 0 && userID != "" {
		s.learnPreferences(ctx, userID, prefs)
	}

	// The original question is stored, not the context-prefixed prompt.
	if err := s.history.Append(ctx, asm.SessionID, domain.HumanTurn(question)); err != nil {
		s.log.Warn().Err(err).Str("session", asm.SessionID).Msg("saving question")
		s.metrics.StoreError("append")
	} else if err := s.history.Append(ctx, asm.SessionID, domain.AITurn(answer)); err != nil {
		s.log.Warn().Err(err).Str("session", asm.SessionID).Msg("saving answer")
		s.metrics.StoreError("append")
	} else if info, err := s.history.Info(ctx, asm.SessionID); err == nil {
		resp.MemoryLength = info.Length
	}

	resp.Success = true
	resp.Answer = answer
	resp.UserContextUsed = asm.Context != nil

	s.log.Info().
		Str("session", asm.SessionID).
		Bool("userContext", resp.UserContextUsed).
		Str("provider", result.Provider).
		Int("iterations", result.Iterations).
		Dur("duration", time.Since(start)).
		Msg("question answered")
	s.metrics.ObserveAsk(metrics.OutcomeSuccess, time.Since(start))
	s.recordAudit(ctx, req, userID, resp, time.Since(start))
	return resp
}

func (s *Service) learnPreferences(ctx context.Context, userID string, prefs map[string]any) {
	_, err := s.profiles.Update(ctx, userID, domain.ProfileUpdate{Preferences: prefs})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.log.Debug().Str("user", userID).Msg("no profile to store preferences on")
	case err != nil:
		s.log.Warn().Err(err).Str("user", userID).Msg("storing learned preferences")
	default:
		s.log.Debug().Str("user", userID).Int("count", len(prefs)).Msg("preferences learned")
	}
}

func (s *Service) recordAudit(ctx context.Context, req AskRequest, userID string, resp AskResponse, d time.Duration) {
	if s.audit == nil {
		return
	}
	_, err := s.audit.Record(ctx, store.AuditEntry{
		SessionID:  resp.SessionID,
		UserID:     userID,
		Question:   req.Question,
		Answer:     resp.Answer,
		Success:    resp.Success,
		Error:      resp.Error,
		DurationMs: d.Milliseconds(),
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("writing audit entry")
	}
}

// UserDetail returns the profile, its latest activity and the latest
// messages of the user's session. Messages that cannot be read are left
// out rather than failing the lookup.
func (s *Service) UserDetail(ctx context.Context, userID string, sessionsLimit, messagesLimit int) (UserDetail, error) {
	if sessionsLimit <= 0 {
		sessionsLimit = DefaultSessionsLimit
	}
	if messagesLimit <= 0 {
		messagesLimit = DefaultMessagesLimit
	}

	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return UserDetail{}, err
	}

	detail := UserDetail{Success: true, Profile: p}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		acts, err := s.profiles.Sessions(gctx, userID, sessionsLimit)
		if err != nil {
			return fmt.Errorf("user sessions: %w", err)
		}
		detail.Sessions = acts
		return nil
	})
	g.Go(func() error {
		turns, err := s.history.ReadRecent(gctx, domain.SessionIDForUser(userID), messagesLimit)
		if err != nil {
			s.log.Warn().Err(err).Str("user", userID).Msg("reading recent messages")
			return nil
		}
		for _, t := range turns {
			if t.Role.Valid() {
				detail.RecentMessages = append(detail.RecentMessages, t)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return UserDetail{}, err
	}

	if detail.Sessions == nil {
		detail.Sessions = []domain.Activity{}
	}
	if detail.RecentMessages == nil {
		detail.RecentMessages = []domain.ChatTurn{}
	}
	return detail, nil
}

// DeleteUser removes the profile and its activity log. With cascade it also
// deletes the chat history of the user's session.
func (s *Service) DeleteUser(ctx context.Context, userID string, cascade bool) (domain.DeleteResult, error) {
	res, err := s.profiles.Delete(ctx, userID)
	if err != nil {
		return res, err
	}
	if !cascade {
		return res, nil
	}

	deleted, err := s.history.DeleteSession(ctx, domain.SessionIDForUser(userID))
	if err != nil {
		return res, fmt.Errorf("delete history: %w", err)
	}
	res.HistoryDeleted = deleted
	return res, nil
}
