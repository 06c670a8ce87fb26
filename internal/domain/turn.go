// Package domain holds the records shared by the stores, the agent and the
// transports: chat turns, profiles, activity entries and the error taxonomy.
package domain

import (
	"fmt"
	"time"
)

// Role identifies who produced a chat turn.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleHuman || r == RoleAI
}

// ChatTurn is one message in a session log. Turns are immutable once written.
type ChatTurn struct {
	Role      Role      `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HumanTurn builds a turn spoken by the user.
func HumanTurn(content string) ChatTurn {
	return ChatTurn{Role: RoleHuman, Content: content, Timestamp: time.Now()}
}

// AITurn builds a turn produced by the agent.
func AITurn(content string) ChatTurn {
	return ChatTurn{Role: RoleAI, Content: content, Timestamp: time.Now()}
}

// DefaultSessionID is used for anonymous questions.
const DefaultSessionID = "default"

// SessionIDForUser derives the session id for a user. The link between a
// profile and its chat history exists only through this naming convention.
func SessionIDForUser(userID string) string {
	if userID == "" {
		return DefaultSessionID
	}
	return "session_" + userID
}

// SessionInfo is a diagnostic snapshot of one session log.
type SessionInfo struct {
	SessionID    string `json:"session_id"`
	Length       int64  `json:"length"`
	TTLRemaining int64  `json:"ttl_remaining_seconds"` // -1 when absent or without expiry
	MaxTurns     int    `json:"max_turns"`
	Key          string `json:"key"`
}

// timestampLayouts are accepted when reading stored records. Records written
// by older deployments carry naive ISO-8601 local times.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// FormatTimestamp renders t the way records are stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses a stored timestamp. An empty string yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
