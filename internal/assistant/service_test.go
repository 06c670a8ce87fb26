package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/askbot/internal/agent"
	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/domain"
	"github.com/soyeahso/askbot/internal/llm"
	"github.com/soyeahso/askbot/internal/logging"
	"github.com/soyeahso/askbot/internal/memory"
	"github.com/soyeahso/askbot/internal/metrics"
	"github.com/soyeahso/askbot/internal/profile"
	"github.com/soyeahso/askbot/internal/store"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// recordingLLM captures every request and answers through reply.
type recordingLLM struct {
	mu    sync.Mutex
	reqs  []llm.CompletionRequest
	reply func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (r *recordingLLM) Name() string { return "mock" }

func (r *recordingLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.reply != nil {
		return r.reply(req)
	}
	return &llm.CompletionResponse{Content: `{"answer": "ok", "preferences": {}}`}, nil
}

func (r *recordingLLM) lastPrompt(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.reqs)
	msgs := r.reqs[len(r.reqs)-1].Messages
	return msgs[len(msgs)-1].Content
}

type fixture struct {
	svc      *Service
	llm      *recordingLLM
	history  *memory.Store
	profiles *profile.Store
	chatMR   *miniredis.Miniredis
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	chatMR := miniredis.RunT(t)
	profMR := miniredis.RunT(t)
	chat := redis.NewClient(&redis.Options{Addr: chatMR.Addr(), MaxRetries: -1})
	prof := redis.NewClient(&redis.Options{Addr: profMR.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		chat.Close()
		prof.Close()
	})

	cfg := config.Defaults()
	if policy != "" {
		cfg.Profiles.MissingProfile = policy
	}
	log := silentLog()

	history := memory.New(chat, cfg.Memory, log)
	profiles := profile.New(prof, cfg.Profiles, log)

	rec := &recordingLLM{}
	reg := llm.NewRegistry(log)
	reg.Register("mock", rec)
	runner := agent.NewRunner(agent.RunnerConfig{Model: "mock"}, reg, agent.NewToolRegistry(), log)

	svc := NewService(Config{AgentTimeout: 5 * time.Second}, history, profiles, runner, log)
	return &fixture{svc: svc, llm: rec, history: history, profiles: profiles, chatMR: chatMR}
}

func TestAskAnonymous(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	resp := f.svc.Ask(ctx, AskRequest{Question: "What is Go?"})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "ok", resp.Answer)
	assert.Equal(t, "What is Go?", resp.Question)
	assert.Equal(t, domain.DefaultSessionID, resp.SessionID)
	assert.False(t, resp.UserContextUsed)
	assert.Equal(t, int64(2), resp.MemoryLength)
	assert.Equal(t, "What is Go?", f.llm.lastPrompt(t))

	turns, err := f.history.ReadAll(ctx, domain.DefaultSessionID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, domain.HumanTurn("What is Go?").Role, turns[0].Role)
	assert.Equal(t, "What is Go?", turns[0].Content)
	assert.Equal(t, "ok", turns[1].Content)
}

func TestAskMissingUserPassesQuestionThrough(t *testing.T) {
	f := newFixture(t, config.MissingProfileCreate)
	ctx := context.Background()

	resp := f.svc.Ask(ctx, AskRequest{Question: "hi", UserID: "missing-user"})
	require.True(t, resp.Success)
	assert.False(t, resp.UserContextUsed)
	assert.Equal(t, "session_missing-user", resp.SessionID)
	assert.Equal(t, "hi", f.llm.lastPrompt(t))

	// The activity was still recorded, creating a stub profile.
	p, err := f.profiles.Get(ctx, "missing-user")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.SessionCount)
}

func TestAskMissingUserRejectPolicy(t *testing.T) {
	f := newFixture(t, config.MissingProfileReject)
	ctx := context.Background()

	resp := f.svc.Ask(ctx, AskRequest{Question: "hi", UserID: "ghost"})
	require.True(t, resp.Success)
	assert.False(t, resp.UserContextUsed)
	assert.Equal(t, "hi", f.llm.lastPrompt(t))

	_, err := f.profiles.Get(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAskWithUserContext(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.profiles.Create(ctx, domain.NewProfile{
		UserID:      "u1",
		Name:        "Ana",
		Preferences: map[string]any{"lang": "es"},
	})
	require.NoError(t, err)

	resp := f.svc.Ask(ctx, AskRequest{Question: "hi", UserID: "u1"})
	require.True(t, resp.Success)
	assert.True(t, resp.UserContextUsed)
	assert.Equal(t, "session_u1", resp.SessionID)

	want := "User context:\n" +
		"- Name: Ana\n" +
		"- ID: u1\n" +
		"- Total sessions: 0\n" +
		"- Preferences: {\"lang\":\"es\"}\n" +
		"\nUser question: hi"
	assert.Equal(t, want, f.llm.lastPrompt(t))

	// Memory keeps the bare question.
	turns, err := f.history.ReadAll(ctx, "session_u1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "hi", turns[0].Content)

	acts, err := f.profiles.Sessions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "session_u1", acts[0].SessionID)
	assert.Equal(t, "hi", acts[0].Question)
	assert.Equal(t, domain.ActivityTypeChat, acts[0].Type)
}

func TestAskFeedsHistoryToAgent(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	require.True(t, f.svc.Ask(ctx, AskRequest{Question: "first"}).Success)
	resp := f.svc.Ask(ctx, AskRequest{Question: "second"})
	require.True(t, resp.Success)
	assert.Equal(t, int64(4), resp.MemoryLength)

	f.llm.mu.Lock()
	defer f.llm.mu.Unlock()
	msgs := f.llm.reqs[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "first"}, msgs[0])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "ok"}, msgs[1])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "second"}, msgs[2])
}

func TestAskAgentError(t *testing.T) {
	f := newFixture(t, "")
	m := metrics.New("test")
	f.svc.WithMetrics(m)
	f.llm.reply = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errors.New("model exploded")
	}

	resp := f.svc.Ask(context.Background(), AskRequest{Question: "hi"})
	assert.False(t, resp.Success)
	assert.Equal(t, "hi", resp.Question)
	assert.Equal(t, config.DefaultFallbackReply, resp.Answer)
	assert.Contains(t, resp.Error, "model exploded")

	var agentErr *domain.AgentError
	require.ErrorAs(t, resp.Err, &agentErr)
	assert.Equal(t, "mock", agentErr.Provider)

	turns, err := f.history.ReadAll(context.Background(), domain.DefaultSessionID)
	require.NoError(t, err)
	assert.Empty(t, turns)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AskTotal.WithLabelValues(metrics.OutcomeAgentError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentErrors.WithLabelValues("mock")))
}

func TestAskInvalidQuestion(t *testing.T) {
	f := newFixture(t, "")

	resp := f.svc.Ask(context.Background(), AskRequest{Question: "   "})
	assert.False(t, resp.Success)
	assert.ErrorIs(t, resp.Err, domain.ErrInvalidArgument)
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, f.llm.reqs)
}

func TestAskHistoryUnavailableStillAnswers(t *testing.T) {
	f := newFixture(t, "")
	m := metrics.New("test")
	f.svc.WithMetrics(m)
	f.chatMR.Close()

	resp := f.svc.Ask(context.Background(), AskRequest{Question: "hi"})
	require.True(t, resp.Success)
	assert.Equal(t, "ok", resp.Answer)
	assert.Zero(t, resp.MemoryLength)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("read_history")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("append")))
}

func TestAskLearnsPreferences(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, err := f.profiles.Create(ctx, domain.NewProfile{
		UserID:      "u1",
		Preferences: map[string]any{"lang": "es"},
	})
	require.NoError(t, err)

	f.llm.reply = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{
			Content: "```json\n{\"answer\": \"Noted.\", \"preferences\": {\"favorite_food\": \"French\"}}\n```",
		}, nil
	}

	resp := f.svc.Ask(ctx, AskRequest{Question: "I love French food", UserID: "u1"})
	require.True(t, resp.Success)
	assert.Equal(t, "Noted.", resp.Answer)

	p, err := f.profiles.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lang": "es", "favorite_food": "French"}, p.Preferences)
}

func TestAskPlainTextAnswer(t *testing.T) {
	f := newFixture(t, "")
	f.llm.reply = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "Just text."}, nil
	}

	resp := f.svc.Ask(context.Background(), AskRequest{Question: "hi"})
	require.True(t, resp.Success)
	assert.Equal(t, "Just text.", resp.Answer)
}

func TestAskWritesAudit(t *testing.T) {
	f := newFixture(t, "")
	db, err := store.Open(":memory:", silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	f.svc.WithAudit(db)

	ctx := context.Background()
	f.svc.Ask(ctx, AskRequest{Question: "hi", UserID: "u9"})

	entries, err := db.Recent(ctx, "session_u9", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hi", entries[0].Question)
	assert.Equal(t, "ok", entries[0].Answer)
	assert.Equal(t, "u9", entries[0].UserID)
	assert.True(t, entries[0].Success)
}

func TestUserDetail(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, err := f.profiles.Create(ctx, domain.NewProfile{UserID: "u1", Name: "Ana"})
	require.NoError(t, err)

	for _, q := range []string{"one", "two", "three"} {
		require.True(t, f.svc.Ask(ctx, AskRequest{Question: q, UserID: "u1"}).Success)
	}

	detail, err := f.svc.UserDetail(ctx, "u1", 2, 3)
	require.NoError(t, err)
	assert.True(t, detail.Success)
	assert.Equal(t, "Ana", detail.Name)
	assert.Equal(t, int64(3), detail.SessionCount)
	require.Len(t, detail.Sessions, 2)
	assert.Equal(t, "three", detail.Sessions[0].Question)
	require.Len(t, detail.RecentMessages, 3)
	assert.Equal(t, "ok", detail.RecentMessages[0].Content)
	assert.Equal(t, "three", detail.RecentMessages[1].Content)
}

func TestUserDetailNotFound(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.svc.UserDetail(context.Background(), "nobody", 0, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserDetailMessagesDegrade(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, err := f.profiles.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)
	f.chatMR.Close()

	detail, err := f.svc.UserDetail(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, detail.RecentMessages)
	assert.NotNil(t, detail.Sessions)
}

func TestDeleteUserWithoutCascadeKeepsHistory(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, err := f.profiles.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)
	require.True(t, f.svc.Ask(ctx, AskRequest{Question: "hi", UserID: "u1"}).Success)

	res, err := f.svc.DeleteUser(ctx, "u1", false)
	require.NoError(t, err)
	assert.True(t, res.UserDeleted)
	assert.True(t, res.ActivityDeleted)
	assert.False(t, res.HistoryDeleted)
	assert.True(t, f.chatMR.Exists(memory.Key("session_u1")))
}

func TestDeleteUserCascade(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, err := f.profiles.Create(ctx, domain.NewProfile{UserID: "u1"})
	require.NoError(t, err)
	require.True(t, f.svc.Ask(ctx, AskRequest{Question: "hi", UserID: "u1"}).Success)

	res, err := f.svc.DeleteUser(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, res.UserDeleted)
	assert.True(t, res.HistoryDeleted)
	assert.False(t, f.chatMR.Exists(memory.Key("session_u1")))

	_, err = f.profiles.Get(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
