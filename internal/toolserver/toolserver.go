// Package toolserver implements the tool-server connection manager
// collaborator (spec §6): it connects to a set of configured MCP servers,
// lists their tools under a "server__tool" namespace, and dispatches
// calls to the right one.
//
// Grounded on kiosk404-echoryn's internal/hivemind/service/mcp/server.go
// MCPServer (connect/discover/close lifecycle, a status enum, and
// client.NewStdioMCPClient/NewSSEMCPClient transport selection), adapted
// from returning eino tool.BaseTool values into the spec's plain
// name/description/schema + CallToolResult shape so internal/core never
// needs to depend on mcp-go directly.
package toolserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"agentcore/internal/csync"
)

// ServerConfig names one MCP server to connect to, mirroring the
// teacher's ServerConfig (transport kind plus transport-specific fields).
type ServerConfig struct {
	Name      string
	Transport string // "stdio" or "sse"
	Command   string
	Args      []string
	Env       []string
	URL       string
}

// ToolInfo describes one tool exposed by a connected server, namespaced
// as "server__tool" per spec §4.4's parse_tool_name convention.
type ToolInfo struct {
	Server      string
	Tool        string
	Description string
	Schema      map[string]any
}

func namespacedName(server, tool string) string { return server + "__" + tool }

// CallResult mirrors the collaborator contract's CallToolResult (spec
// §6): content blocks plus an error flag and optional structured output.
type CallResult struct {
	Content    []string
	IsError    bool
	Structured map[string]any
}

type connectedServer struct {
	cfg    ServerConfig
	client client.MCPClient
	tools  map[string]mcp.Tool // keyed by bare tool name
}

// Manager is the tool-server connection manager: it owns one
// connectedServer per configured MCP server and exposes the aggregate
// tool list and dispatch the core's TurnRunner/Session need.
//
// servers is a csync.SyncMap rather than a plain map behind the mutex
// below: connect/ListAllTools/ParseToolName/CallTool can all run
// concurrently (several tool calls in flight across turns, plus the
// Dispatcher reading StartupErrors), and gentica's own registries
// (llm/agent/manager.go's AgentManager) use the same generic map for
// exactly that reason.
type Manager struct {
	servers *csync.SyncMap[string, *connectedServer]

	mu   sync.Mutex
	errs []error // startup errors, reported once by the Dispatcher after SessionConfigured
}

// NewManager returns an empty Manager; call Start to connect configured
// servers.
func NewManager() *Manager {
	return &Manager{servers: csync.NewSyncMap[string, *connectedServer]()}
}

// Start connects to every configured server, collecting (not returning)
// per-server failures: spec §4.1 requires startup errors to surface as
// non-fatal Error events emitted after SessionConfigured, not abort
// configuration.
func (m *Manager) Start(ctx context.Context, configs []ServerConfig) {
	for _, cfg := range configs {
		if err := m.connect(ctx, cfg); err != nil {
			slog.Error("toolserver: failed to start server", "server", cfg.Name, "error", err)
			m.mu.Lock()
			m.errs = append(m.errs, fmt.Errorf("tool server %q: %w", cfg.Name, err))
			m.mu.Unlock()
		}
	}
}

// StartupErrors returns and clears the accumulated per-server startup
// failures, for the Dispatcher to emit as Error events.
func (m *Manager) StartupErrors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := m.errs
	m.errs = nil
	return errs
}

func (m *Manager) connect(ctx context.Context, cfg ServerConfig) error {
	cli, err := createClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentcore", Version: "0.1.0"}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	listResp, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}

	tools := make(map[string]mcp.Tool, len(listResp.Tools))
	for _, t := range listResp.Tools {
		tools[t.Name] = t
	}

	m.servers.Set(cfg.Name, &connectedServer{cfg: cfg, client: cli, tools: tools})
	return nil
}

func createClient(cfg ServerConfig) (client.MCPClient, error) {
	switch cfg.Transport {
	case "stdio":
		return client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	case "sse":
		return client.NewSSEMCPClient(cfg.URL)
	default:
		return nil, fmt.Errorf("toolserver: unknown transport %q", cfg.Transport)
	}
}

// ListAllTools implements the §6 collaborator contract: the union of
// every connected server's tools, namespaced.
func (m *Manager) ListAllTools() []ToolInfo {
	var out []ToolInfo
	for name, srv := range m.servers.Seq2() {
		for toolName, t := range srv.tools {
			out = append(out, ToolInfo{
				Server:      name,
				Tool:        toolName,
				Description: t.Description,
				Schema:      schemaToMap(t),
			})
		}
	}
	return out
}

func schemaToMap(t mcp.Tool) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": t.InputSchema.Properties,
		"required":   t.InputSchema.Required,
	}
}

// ParseToolName splits a "server__tool" namespaced call name (spec §6's
// parse_tool_name), reporting ok=false if it doesn't match any connected
// server.
func (m *Manager) ParseToolName(name string) (server, tool string, ok bool) {
	for srvName, srv := range m.servers.Seq2() {
		prefix := srvName + "__"
		if strings.HasPrefix(name, prefix) {
			toolName := strings.TrimPrefix(name, prefix)
			if _, exists := srv.tools[toolName]; exists {
				return srvName, toolName, true
			}
		}
	}
	return "", "", false
}

// CallTool dispatches one call to the named server/tool (spec §6's
// call_tool).
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (CallResult, error) {
	srv, ok := m.servers.Get(server)
	if !ok {
		return CallResult{}, fmt.Errorf("toolserver: unknown server %q", server)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	resp, err := srv.client.CallTool(ctx, req)
	if err != nil {
		return CallResult{}, err
	}

	var content []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			content = append(content, tc.Text)
		}
	}
	return CallResult{Content: content, IsError: resp.IsError}, nil
}

// Close shuts down every connected server's client.
func (m *Manager) Close() {
	for name, srv := range m.servers.Seq2() {
		if err := srv.client.Close(); err != nil {
			slog.Warn("toolserver: close failed", "server", name, "error", err)
		}
	}
	m.servers = csync.NewSyncMap[string, *connectedServer]()
}
