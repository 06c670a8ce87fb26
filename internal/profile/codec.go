package profile

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/soyeahso/askbot/internal/domain"
)

// Hash field names of user:{id}.
const (
	fieldUserID       = "user_id"
	fieldName         = "name"
	fieldEmail        = "email"
	fieldPreferences  = "preferences"
	fieldCreatedAt    = "created_at"
	fieldLastActive   = "last_active"
	fieldSessionCount = "session_count"
)

func encodePreferences(prefs map[string]any) (string, error) {
	if prefs == nil {
		prefs = map[string]any{}
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return "", fmt.Errorf("%w: preferences: %v", domain.ErrInvalidArgument, err)
	}
	return string(data), nil
}

// decodeProfile validates a user hash. Missing optional fields take their
// zero values; present but unparsable fields make the record malformed.
func decodeProfile(key string, h map[string]string) (domain.Profile, error) {
	malformed := func(err error) (domain.Profile, error) {
		return domain.Profile{}, &domain.MalformedRecordError{Key: key, Index: -1, Err: err}
	}

	p := domain.Profile{
		UserID:      h[fieldUserID],
		Name:        h[fieldName],
		Email:       h[fieldEmail],
		Preferences: map[string]any{},
	}
	if p.UserID == "" {
		return malformed(fmt.Errorf("missing %s", fieldUserID))
	}

	if raw := h[fieldPreferences]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Preferences); err != nil {
			return malformed(fmt.Errorf("%s: %w", fieldPreferences, err))
		}
		if p.Preferences == nil {
			p.Preferences = map[string]any{}
		}
	}

	var err error
	if p.CreatedAt, err = domain.ParseTimestamp(h[fieldCreatedAt]); err != nil {
		return malformed(fmt.Errorf("%s: %w", fieldCreatedAt, err))
	}
	if p.LastActive, err = domain.ParseTimestamp(h[fieldLastActive]); err != nil {
		return malformed(fmt.Errorf("%s: %w", fieldLastActive, err))
	}
	if raw := h[fieldSessionCount]; raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return malformed(fmt.Errorf("%s: invalid count %q", fieldSessionCount, raw))
		}
		p.SessionCount = n
	}
	return p, nil
}

// storedActivity is the wire shape of one user_sessions element.
type storedActivity struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question,omitempty"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func encodeActivity(a domain.Activity) (string, error) {
	data, err := json.Marshal(storedActivity{
		SessionID: a.SessionID,
		Question:  a.Question,
		Type:      a.Type,
		Timestamp: domain.FormatTimestamp(a.Timestamp),
	})
	if err != nil {
		return "", fmt.Errorf("encoding activity: %w", err)
	}
	return string(data), nil
}

func decodeActivity(raw string) (domain.Activity, error) {
	var sa storedActivity
	if err := json.Unmarshal([]byte(raw), &sa); err != nil {
		return domain.Activity{}, err
	}
	if sa.SessionID == "" {
		return domain.Activity{}, fmt.Errorf("missing session_id")
	}
	ts, err := domain.ParseTimestamp(sa.Timestamp)
	if err != nil {
		return domain.Activity{}, err
	}
	if sa.Type == "" {
		sa.Type = domain.ActivityTypeChat
	}
	return domain.Activity{SessionID: sa.SessionID, Question: sa.Question, Type: sa.Type, Timestamp: ts}, nil
}
