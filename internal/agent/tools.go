package agent

import (
	"context"
	"maps"
	"slices"
)

// Tool is a capability the model can call while answering. Execute receives
// the raw JSON input from the tool_call fence.
type Tool interface {
	Name() string
	Description() string
	InputSchema() string
	Execute(ctx context.Context, input string) (string, error)
}

// ToolDef describes a tool to the model.
type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"inputSchema"`
}

// ToolRegistry maps tool names to tools. It is populated at startup and
// read-only afterwards.
type ToolRegistry struct {
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: map[string]Tool{}}
}

// Register adds t, replacing any tool of the same name.
func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	return slices.Sorted(maps.Keys(r.tools))
}

// Definitions describes every tool in name order so the system prompt is
// stable across runs.
func (r *ToolRegistry) Definitions() []ToolDef {
	var defs []ToolDef
	for _, name := range r.Names() {
		t := r.tools[name]
		defs = append(defs, ToolDef{Name: name, Description: t.Description(), InputSchema: t.InputSchema()})
	}
	return defs
}
