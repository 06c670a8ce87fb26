package assistant

import (
	"encoding/json"
	"strings"
)

// agentOutput is the JSON object the system prompt asks the agent for.
type agentOutput struct {
	Answer      *string        `json:"answer"`
	Preferences map[string]any `json:"preferences"`
}

// parseAgentOutput extracts the answer and any learned preferences from the
// agent's final text. Output that is not the expected object, fenced or
// not, is returned as the answer verbatim.
func parseAgentOutput(text string) (string, map[string]any) {
	trimmed := strings.TrimSpace(text)
	candidate := unfence(trimmed)

	if out, ok := decodeOutput(candidate); ok {
		return *out.Answer, out.Preferences
	}

	// Models sometimes wrap the object in a sentence.
	start, end := strings.Index(candidate, "{"), strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		if out, ok := decodeOutput(candidate[start : end+1]); ok {
			return *out.Answer, out.Preferences
		}
	}
	return trimmed, nil
}

func decodeOutput(s string) (agentOutput, bool) {
	var out agentOutput
	if err := json.Unmarshal([]byte(s), &out); err != nil || out.Answer == nil {
		return agentOutput{}, false
	}
	return out, true
}

// unfence strips a surrounding ``` or ```json fence.
func unfence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	body := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(body, '\n'); i >= 0 && !strings.ContainsAny(body[:i], "{[\"") {
		body = body[i+1:]
	}
	return strings.TrimSpace(body)
}
