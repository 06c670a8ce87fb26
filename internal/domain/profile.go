package domain

import "time"

// ActivityTypeChat marks an activity entry recorded for a question.
const ActivityTypeChat = "chat"

// Profile is the durable per-user record.
type Profile struct {
	UserID       string         `json:"user_id"`
	Name         string         `json:"name,omitempty"`
	Email        string         `json:"email,omitempty"`
	Preferences  map[string]any `json:"preferences"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActive   time.Time      `json:"last_active"`
	SessionCount int64          `json:"session_count"`
}

// NewProfile holds the fields accepted on registration.
type NewProfile struct {
	UserID      string         `json:"user_id"`
	Name        string         `json:"name,omitempty"`
	Email       string         `json:"email,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// ProfileUpdate is a partial update. Nil fields are left unchanged.
// Preferences merge key by key unless ReplacePreferences is set.
type ProfileUpdate struct {
	Name               *string        `json:"name,omitempty"`
	Email              *string        `json:"email,omitempty"`
	Preferences        map[string]any `json:"preferences,omitempty"`
	ReplacePreferences bool           `json:"replace_preferences,omitempty"`
}

// Empty reports whether the update changes no profile field.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.Preferences == nil && !u.ReplacePreferences
}

// Activity is one entry of a user's bounded, most-recent-first activity log.
type Activity struct {
	SessionID string    `json:"session_id"`
	Question  string    `json:"question,omitempty"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// UserContext is the derived summary handed to the agent.
type UserContext struct {
	UserID             string         `json:"user_id"`
	Name               string         `json:"name"`
	Preferences        map[string]any `json:"preferences"`
	SessionCount       int64          `json:"session_count"`
	RecentSessionCount int            `json:"recent_sessions"`
	LastActive         time.Time      `json:"last_active"`
	CreatedAt          time.Time      `json:"created_at"`
}

// DeleteResult reports which records a user deletion removed.
type DeleteResult struct {
	UserDeleted     bool `json:"user_deleted"`
	ActivityDeleted bool `json:"activity_deleted"`
	HistoryDeleted  bool `json:"history_deleted"`
}
