package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/askbot/internal/domain"
)

type fakeContextSource struct {
	uc          *domain.UserContext
	recordErr   error
	recorded    []domain.Activity
	contextAsks int
}

func (f *fakeContextSource) BuildContext(context.Context, string) *domain.UserContext {
	f.contextAsks++
	return f.uc
}

func (f *fakeContextSource) RecordActivity(_ context.Context, _ string, a domain.Activity) (domain.Activity, error) {
	f.recorded = append(f.recorded, a)
	return a, f.recordErr
}

func TestAssembleAnonymous(t *testing.T) {
	src := &fakeContextSource{}
	asm := NewAssembler(src, silentLog()).Assemble(context.Background(), "hello?", "")

	assert.Equal(t, "hello?", asm.Prompt)
	assert.Equal(t, domain.DefaultSessionID, asm.SessionID)
	assert.Nil(t, asm.Context)
	assert.Zero(t, src.contextAsks)
	assert.Empty(t, src.recorded)
}

func TestAssembleNilContextPassesThrough(t *testing.T) {
	src := &fakeContextSource{}
	asm := NewAssembler(src, silentLog()).Assemble(context.Background(), "hello?", "missing-user")

	assert.Equal(t, "hello?", asm.Prompt)
	assert.Nil(t, asm.Context)
	require.Len(t, src.recorded, 1)
	assert.Equal(t, "session_missing-user", src.recorded[0].SessionID)
}

func TestAssembleRecordFailureDoesNotBlock(t *testing.T) {
	src := &fakeContextSource{
		uc:        &domain.UserContext{UserID: "u1", Name: "Ana"},
		recordErr: errors.New("store down"),
	}
	asm := NewAssembler(src, silentLog()).Assemble(context.Background(), "q", "u1")

	require.NotNil(t, asm.Context)
	assert.Contains(t, asm.Prompt, "- Name: Ana\n")
	assert.Contains(t, asm.Prompt, "- Preferences: {}\n")
	assert.Contains(t, asm.Prompt, "User question: q")
}

func TestFormatPrompt(t *testing.T) {
	uc := &domain.UserContext{
		UserID:       "u7",
		Name:         "User",
		SessionCount: 12,
		Preferences:  map[string]any{"b": 2, "a": "x"},
	}
	want := "User context:\n- Name: User\n- ID: u7\n- Total sessions: 12\n- Preferences: {\"a\":\"x\",\"b\":2}\n\nUser question: why?"
	assert.Equal(t, want, FormatPrompt(uc, "why?"))
}

func TestParseAgentOutput(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		answer    string
		prefCount int
	}{
		{"object", `{"answer": "Paris.", "preferences": {"city": "Paris"}}`, "Paris.", 1},
		{"fenced", "```json\n{\"answer\": \"Hi.\", \"preferences\": {}}\n```", "Hi.", 0},
		{"bare fence", "```\n{\"answer\": \"Hi.\"}\n```", "Hi.", 0},
		{"wrapped in prose", "Sure! {\"answer\": \"42\", \"preferences\": {}} Hope that helps.", "42", 0},
		{"plain text", "  The answer is 42.  ", "The answer is 42.", 0},
		{"json without answer", `{"result": "x"}`, `{"result": "x"}`, 0},
		{"broken json", `{"answer": "x"`, `{"answer": "x"`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, prefs := parseAgentOutput(tt.in)
			assert.Equal(t, tt.answer, answer)
			assert.Len(t, prefs, tt.prefCount)
		})
	}
}
