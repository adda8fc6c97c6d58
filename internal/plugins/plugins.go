// Package plugins implements the plugin loader external collaborator
// (spec §6, "briefly"): given a config's plugin directory stack, it
// resolves each entry to a LoadedPlugin carrying the plugin's manifest
// name, effective skill roots, and effective MCP server map. It is
// feature-gated and, per spec, never imported by internal/core's turn
// path — callers (cmd/agentcore) consult it only to extend the tool
// server list and skill search path before a session starts.
//
// Translated (not transliterated) from plugins.rs: the manifest path,
// default skills directory name, and default MCP file name conventions
// carry over; the Rust RwLock-guarded per-cwd cache becomes a
// sync.Mutex-guarded map, and serde's Deserialize derives become plain
// encoding/json structs, in the idiom internal/config already uses for
// its own YAML/JSON config types.
package plugins

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"agentcore/internal/config"
)

const (
	manifestRelPath    = ".codex-plugin/plugin.json"
	defaultSkillsDir   = "skills"
	defaultMCPFileName = ".mcp.json"
)

// LoadedPlugin describes the outcome of resolving one configured plugin
// directory. Only Enabled && Error == "" plugins are "active" and
// contribute to PluginLoadOutcome's effective sets.
type LoadedPlugin struct {
	ConfigName   string
	ManifestName string
	Root         string
	Enabled      bool
	SkillRoots   []string
	MCPServers   map[string]config.MCPConfig
	Error        string
}

func (p LoadedPlugin) isActive() bool {
	return p.Enabled && p.Error == ""
}

// PluginLoadOutcome is the result of loading every configured plugin.
type PluginLoadOutcome struct {
	Plugins []LoadedPlugin
}

// EffectiveSkillRoots returns the deduplicated, sorted union of active
// plugins' skill roots.
func (o PluginLoadOutcome) EffectiveSkillRoots() []string {
	seen := make(map[string]struct{})
	var roots []string
	for _, p := range o.Plugins {
		if !p.isActive() {
			continue
		}
		for _, r := range p.SkillRoots {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			roots = append(roots, r)
		}
	}
	sort.Strings(roots)
	return roots
}

// EffectiveMCPServers returns the first-write-wins union of active
// plugins' MCP server maps, logging a warning on every later duplicate
// name (spec: "effective MCP server map is first-write-wins with a
// logged warning on a later duplicate key").
func (o PluginLoadOutcome) EffectiveMCPServers() map[string]config.MCPConfig {
	owner := make(map[string]string)
	out := make(map[string]config.MCPConfig)
	for _, p := range o.Plugins {
		if !p.isActive() {
			continue
		}
		for name, cfg := range p.MCPServers {
			if prev, ok := owner[name]; ok {
				slog.Warn("plugins: skipping duplicate plugin MCP server name",
					"plugin", p.ConfigName, "previous_plugin", prev, "server", name)
				continue
			}
			owner[name] = p.ConfigName
			out[name] = cfg
		}
	}
	return out
}

// Manager loads and caches plugin resolution per working directory, the
// way a long-lived host process avoids re-walking plugin directories on
// every ConfigureSession.
type Manager struct {
	mu        sync.Mutex
	cacheByCwd map[string]PluginLoadOutcome
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{cacheByCwd: make(map[string]PluginLoadOutcome)}
}

// PluginsForConfig resolves cfg.Plugins for cwd, gated by
// features.plugins (cfg.FeaturesPlugins). Not invoked from the turn
// path; callers consult it once before constructing a Session.
func (m *Manager) PluginsForConfig(cwd string, cfg *config.Config, featuresPluginsEnabled bool, forceReload bool) PluginLoadOutcome {
	if !featuresPluginsEnabled {
		m.mu.Lock()
		m.cacheByCwd[cwd] = PluginLoadOutcome{}
		m.mu.Unlock()
		return PluginLoadOutcome{}
	}

	if !forceReload {
		m.mu.Lock()
		cached, ok := m.cacheByCwd[cwd]
		m.mu.Unlock()
		if ok {
			return cached
		}
	}

	outcome := loadPlugins(cfg.Plugins)
	logLoadErrors(outcome)

	m.mu.Lock()
	m.cacheByCwd[cwd] = outcome
	m.mu.Unlock()
	return outcome
}

// ClearCache drops every cached per-cwd resolution.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheByCwd = make(map[string]PluginLoadOutcome)
}

func logLoadErrors(outcome PluginLoadOutcome) {
	for _, p := range outcome.Plugins {
		if p.Error != "" {
			slog.Warn("plugins: failed to load plugin", "plugin", p.ConfigName, "path", p.Root, "error", p.Error)
		}
	}
}

func loadPlugins(refs map[string]config.PluginRef) PluginLoadOutcome {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	seenMCPOwner := make(map[string]string)
	plugins := make([]LoadedPlugin, 0, len(names))
	for _, name := range names {
		p := loadPlugin(name, refs[name])
		for serverName := range p.MCPServers {
			if prev, ok := seenMCPOwner[serverName]; ok {
				slog.Warn("plugins: skipping duplicate plugin MCP server name",
					"plugin", name, "previous_plugin", prev, "server", serverName)
				continue
			}
			seenMCPOwner[serverName] = name
		}
		plugins = append(plugins, p)
	}
	return PluginLoadOutcome{Plugins: plugins}
}

func loadPlugin(configName string, ref config.PluginRef) LoadedPlugin {
	root := ref.Root
	p := LoadedPlugin{
		ConfigName: configName,
		Root:       root,
		Enabled:    ref.Enabled,
		MCPServers: map[string]config.MCPConfig{},
	}
	if !ref.Enabled {
		return p
	}

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		p.Error = "path does not exist or is not a directory"
		return p
	}

	manifestName, ok := loadManifestName(root)
	if !ok {
		p.Error = "missing or invalid .codex-plugin/plugin.json"
		return p
	}
	p.ManifestName = manifestName
	p.SkillRoots = defaultSkillRoots(root)
	p.MCPServers = loadMCPServers(root)
	return p
}

type pluginManifest struct {
	Name string `json:"name"`
}

func loadManifestName(root string) (string, bool) {
	path := filepath.Join(root, manifestRelPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	var manifest pluginManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		slog.Warn("plugins: failed to parse plugin manifest", "path", path, "error", err)
		return "", false
	}
	if manifest.Name == "" {
		return filepath.Base(root), true
	}
	return manifest.Name, true
}

func defaultSkillRoots(root string) []string {
	dir := filepath.Join(root, defaultSkillsDir)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return []string{dir}
	}
	return nil
}

type pluginMCPFile struct {
	MCPServers map[string]config.MCPConfig `json:"mcpServers"`
}

func loadMCPServers(root string) map[string]config.MCPConfig {
	path := filepath.Join(root, defaultMCPFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]config.MCPConfig{}
	}
	var file pluginMCPFile
	if err := json.Unmarshal(data, &file); err != nil {
		slog.Warn("plugins: failed to parse plugin MCP config", "path", path, "error", err)
		return map[string]config.MCPConfig{}
	}
	if file.MCPServers == nil {
		return map[string]config.MCPConfig{}
	}

	out := make(map[string]config.MCPConfig, len(file.MCPServers))
	for name, cfg := range file.MCPServers {
		out[name] = cfg
	}
	return out
}
