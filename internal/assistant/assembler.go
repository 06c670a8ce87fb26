// Package assistant orchestrates one question: it folds the asker's profile
// into the prompt, hands the prompt and chat history to the agent, and
// writes the exchange back to memory.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/askbot/internal/domain"
	"github.com/soyeahso/askbot/internal/logging"
)

// ContextSource is the part of the profile store the assembler needs.
type ContextSource interface {
	BuildContext(ctx context.Context, userID string) *domain.UserContext
	RecordActivity(ctx context.Context, userID string, a domain.Activity) (domain.Activity, error)
}

// Assembly is the prompt handed to the agent and where it came from.
type Assembly struct {
	Prompt    string
	SessionID string
	Context   *domain.UserContext
}

// Assembler builds agent prompts from questions and user context.
type Assembler struct {
	profiles ContextSource
	log      *logging.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(profiles ContextSource, log *logging.Logger) *Assembler {
	return &Assembler{profiles: profiles, log: log.Sub("assembler")}
}

// Assemble resolves the session and, for a known user, prepends a context
// block to the question. An anonymous question, or one from a user without
// a profile, passes through unmodified. The activity entry is recorded
// either way; failing to record it does not block the question.
func (a *Assembler) Assemble(ctx context.Context, question, userID string) Assembly {
	out := Assembly{
		Prompt:    question,
		SessionID: domain.SessionIDForUser(userID),
	}
	if userID == "" {
		return out
	}

	uc := a.profiles.BuildContext(ctx, userID)

	_, err := a.profiles.RecordActivity(ctx, userID, domain.Activity{
		SessionID: out.SessionID,
		Question:  question,
		Type:      domain.ActivityTypeChat,
	})
	if err != nil {
		a.log.Warn().Err(err).Str("user", userID).Msg("recording activity")
	}

	if uc != nil {
		out.Context = uc
		out.Prompt = FormatPrompt(uc, question)
	}
	return out
}

// FormatPrompt renders the context block followed by the question.
func FormatPrompt(uc *domain.UserContext, question string) string {
	prefs := "{}"
	if len(uc.Preferences) > 0 {
		if b, err := json.Marshal(uc.Preferences); err == nil {
			prefs = string(b)
		}
	}

	var b strings.Builder
	b.WriteString("User context:\n")
	fmt.Fprintf(&b, "- Name: %s\n", uc.Name)
	fmt.Fprintf(&b, "- ID: %s\n", uc.UserID)
	fmt.Fprintf(&b, "- Total sessions: %d\n", uc.SessionCount)
	fmt.Fprintf(&b, "- Preferences: %s\n", prefs)
	b.WriteString("\nUser question: ")
	b.WriteString(question)
	return b.String()
}
