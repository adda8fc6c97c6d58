// Package tools implements the core's file/search tool set: the
// function-call-named tools a TurnRunner dispatches through
// core.ToolDispatcher, as distinct from local_shell_call items which the
// Session routes straight through the SafetyGate and ExecutionRunner.
//
// Adapted from gentica's llm/tools/*.go (edit, view, write, glob, ls):
// each tool keeps the teacher's JSON-param-struct-plus-Run-method shape,
// generalized from the teacher's BaseTool interface (Name/Info/Run)
// into the narrower core.ToolDispatcher.Call(name, argsJSON) the spec's
// FunctionCallItem already carries.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"agentcore/internal/core"
)

// Tool is one named, JSON-parameterized capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Run(ctx context.Context, argsJSON string) (string, error)
}

// Registry implements core.ToolDispatcher over a fixed set of Tools,
// grounded on the teacher's pattern in llm/agent/agent.go's
// streamAndHandleEvents (`for _, availableTool := range a.config.Tools`
// linear lookup by name), generalized to a map since the registry here
// is shared across turns rather than rebuilt per agent config.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry returns a Registry containing the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Call implements core.ToolDispatcher.
func (r *Registry) Call(ctx context.Context, name, argsJSON string) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownTool, name)
	}
	return t.Run(ctx, argsJSON)
}

// Schemas returns a ToolSchemaLike for every registered tool, for
// building a CompletionRequest.
func (r *Registry) Schemas() []ToolSchemaLike {
	out := make([]ToolSchemaLike, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolSchemaLike{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return out
}

// ToolSchemaLike mirrors core.ToolSchema's shape as a separate type;
// callers convert at the wiring boundary (cmd/).
type ToolSchemaLike struct {
	Name        string
	Description string
	Parameters  map[string]any
}

func unmarshalParams(argsJSON string, v any) error {
	if argsJSON == "" {
		return nil
	}
	return json.Unmarshal([]byte(argsJSON), v)
}
