package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"agentcore/internal/core"
	"agentcore/internal/toolserver"
)

// ToolServer is the subset of toolserver.Manager a CombinedDispatcher
// needs, kept narrow so tests can fake it without spinning up real MCP
// connections.
type ToolServer interface {
	ParseToolName(name string) (server, tool string, ok bool)
	CallTool(ctx context.Context, server, tool string, args map[string]any) (toolserver.CallResult, error)
}

// CombinedDispatcher implements core.ToolDispatcher by trying the local
// Registry first, then falling back to the "server__tool" namespace
// convention against a connected ToolServer (spec §4.4's FunctionCall
// dispatch: built-ins and registry tools first, then
// parse_tool_name/call_tool).
type CombinedDispatcher struct {
	registry *Registry
	servers  ToolServer
}

// NewCombinedDispatcher returns a dispatcher trying registry before
// servers. servers may be nil, in which case only the registry is
// consulted.
func NewCombinedDispatcher(registry *Registry, servers ToolServer) *CombinedDispatcher {
	return &CombinedDispatcher{registry: registry, servers: servers}
}

// Call implements core.ToolDispatcher.
func (d *CombinedDispatcher) Call(ctx context.Context, name, argsJSON string) (string, error) {
	if d.registry != nil {
		if _, ok := d.registry.tools[name]; ok {
			return d.registry.Call(ctx, name, argsJSON)
		}
	}

	if d.servers == nil {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownTool, name)
	}
	server, tool, ok := d.servers.ParseToolName(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownTool, name)
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("tools: invalid arguments for %q: %w", name, err)
		}
	}

	result, err := d.servers.CallTool(ctx, server, tool, args)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", fmt.Errorf("tools: %s returned an error: %v", name, result.Content)
	}
	b, err := json.Marshal(result.Content)
	if err != nil {
		return "", fmt.Errorf("tools: failed to serialize result: %w", err)
	}
	return string(b), nil
}
