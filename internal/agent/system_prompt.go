package agent

import (
	"fmt"
	"strings"
	"time"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Tools       []ToolDef
	ExtraPrompt string
	Now         time.Time
}

// BuildSystemPrompt constructs the system prompt for the LLM.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}

	b.WriteString("You are a helpful assistant. Answer the user's question thoroughly and accurately, using tools when needed.\n\n")
	fmt.Fprintf(&b, "Current date: %s\n\n", now.Format("2006-01-02"))

	// Tool definitions
	if len(cfg.Tools) > 0 {
		b.WriteString("## Available Tools\n\n")
		b.WriteString("You can call tools by outputting a fenced code block with the language tag `tool_call`:\n\n")
		b.WriteString("```tool_call\n{\"tool\": \"tool_name\", \"input\": {\"param\": \"value\"}}\n```\n\n")
		b.WriteString("After a tool is executed, the result will be provided. You may call multiple tools before giving your final response.\n\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "### %s\n%s\n", t.Name, t.Description)
			if t.InputSchema != "" {
				fmt.Fprintf(&b, "Input schema: %s\n", t.InputSchema)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Output format\n\n")
	b.WriteString("Your final response must be a single JSON object with two keys:\n")
	b.WriteString("- \"answer\": your complete textual answer to the user.\n")
	b.WriteString("- \"preferences\": an object with any user preferences you identified (e.g. \"favorite_food\": \"French\"), or {} if none.\n\n")
	b.WriteString("Example:\n{\"answer\": \"Paris is the capital of France.\", \"preferences\": {\"city_of_interest\": \"Paris\"}}\n\n")
	b.WriteString("Return nothing but the JSON object.\n")

	if cfg.ExtraPrompt != "" {
		b.WriteString("\n")
		b.WriteString(cfg.ExtraPrompt)
		b.WriteString("\n")
	}

	return b.String()
}
