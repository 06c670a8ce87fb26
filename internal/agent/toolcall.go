package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/soyeahso/askbot/internal/logging"
)

// toolRequest is one tool invocation asked for by the model.
type toolRequest struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// A tool request is a ```tool_call fence holding a single JSON object.
var toolFence = regexp.MustCompile("(?s)```tool_call\\s*\n(\\{.*?\\})\n\\s*```")

// Markup some models emit instead of the fenced form. Never executed, only
// removed from answers.
var strayMarkup = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`),
	regexp.MustCompile(`(?s)<(?:invoke|tool_call|tool_use)\b[^>]*>.*?</(?:invoke|tool_call|tool_use)>`),
}

// fenceLine is a code fence marker line with an optional info string.
var fenceLine = regexp.MustCompile("^\\s*```(\\w*)\\s*$")

// wholeJSONFence is an answer that is nothing but one fenced JSON block.
var wholeJSONFence = regexp.MustCompile("(?s)^```(?:json)?\\s*\n(\\{.*\\})\\s*\n```$")

// extractToolCalls returns the well-formed tool requests in text, in order.
// Fences with invalid JSON or no tool name are ignored.
func extractToolCalls(text string) []toolRequest {
	var reqs []toolRequest
	for _, m := range toolFence.FindAllStringSubmatch(text, -1) {
		var tr toolRequest
		if json.Unmarshal([]byte(m[1]), &tr) != nil || tr.Tool == "" {
			continue
		}
		reqs = append(reqs, tr)
	}
	return reqs
}

// runTools executes reqs sequentially and renders a single message reporting
// every outcome back to the model. Tool failures are reported, not returned.
func (r *Runner) runTools(ctx context.Context, reqs []toolRequest) string {
	var b strings.Builder
	b.WriteString("Tool results:\n")
	for _, tr := range reqs {
		out, err := r.callTool(ctx, tr)
		if err != nil {
			fmt.Fprintf(&b, "\n[%s] error: %v\n", tr.Tool, err)
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n%s\n", tr.Tool, out)
	}
	return b.String()
}

func (r *Runner) callTool(ctx context.Context, tr toolRequest) (string, error) {
	tool, ok := r.tools.Get(strings.ToLower(tr.Tool))
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", tr.Tool)
	}
	r.log.Debug().Str("tool", tr.Tool).RawJSON("input", rawOrNull(tr.Input)).Msg("calling tool")
	out, err := tool.Execute(ctx, string(tr.Input))
	if err != nil {
		r.log.Warn().Str("tool", tr.Tool).Err(err).Msg("tool failed")
	}
	return out, err
}

func rawOrNull(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}

// cleanAnswer removes tool-call fences, stray tool markup and unbalanced code
// fence markers from a final answer, then tidies blank lines. Balanced code
// blocks are kept. An answer that is only a fenced JSON object is unwrapped.
// log may be nil.
func cleanAnswer(text string, log *logging.Logger) string {
	out := toolFence.ReplaceAllString(text, "\n\n")
	for _, re := range strayMarkup {
		if log != nil {
			for _, m := range re.FindAllString(out, -1) {
				log.Debug().Str("markup", m).Msg("dropped tool markup from answer")
			}
		}
		out = re.ReplaceAllString(out, "\n\n")
	}
	out = collapseBlankLines(dropUnclosedFence(out))
	if m := wholeJSONFence.FindStringSubmatch(out); m != nil && json.Valid([]byte(m[1])) {
		return m[1]
	}
	return out
}

// dropUnclosedFence removes a fence opener that is never closed. Inside a
// block only a bare marker closes it, as in CommonMark.
func dropUnclosedFence(s string) string {
	lines := strings.Split(s, "\n")
	open := -1
	for i, l := range lines {
		m := fenceLine.FindStringSubmatch(l)
		switch {
		case m == nil:
		case open < 0:
			open = i
		case m[1] == "":
			open = -1
		}
	}
	if open < 0 {
		return s
	}
	return strings.Join(append(lines[:open:open], lines[open+1:]...), "\n")
}

// collapseBlankLines trims the text and keeps at most one blank line between
// paragraphs. Whitespace-only lines count as blank.
func collapseBlankLines(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := lines[:0]
	blank := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if !blank {
				kept = append(kept, "")
			}
			blank = true
			continue
		}
		blank = false
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}
