package memory

import (
	"encoding/json"
	"fmt"

	"github.com/soyeahso/askbot/internal/domain"
)

// storedTurn is the wire shape of one list element.
type storedTurn struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func encodeTurn(t domain.ChatTurn) (string, error) {
	data, err := json.Marshal(storedTurn{
		Type:      string(t.Role),
		Content:   t.Content,
		Timestamp: domain.FormatTimestamp(t.Timestamp),
	})
	if err != nil {
		return "", fmt.Errorf("encoding turn: %w", err)
	}
	return string(data), nil
}

func decodeTurn(raw string) (domain.ChatTurn, error) {
	var st storedTurn
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return domain.ChatTurn{}, err
	}
	role := domain.Role(st.Type)
	if !role.Valid() {
		return domain.ChatTurn{}, fmt.Errorf("unknown role %q", st.Type)
	}
	ts, err := domain.ParseTimestamp(st.Timestamp)
	if err != nil {
		return domain.ChatTurn{}, err
	}
	return domain.ChatTurn{Role: role, Content: st.Content, Timestamp: ts}, nil
}
