// Command agentcore wires the session core (internal/core) to its
// external collaborators — a configured model provider, a sandboxed
// executor, the local tool registry plus any configured MCP tool
// servers, the apply_patch runner, the rollout recorder, and the turn
// notifier — and drives one ConfigureSession + UserInput submission from
// CLI flags. It is a thin host: every decision of substance lives in
// internal/core.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/google/uuid"

	"agentcore/internal/config"
	"agentcore/internal/core"
	"agentcore/internal/notify"
	"agentcore/internal/patch"
	"agentcore/internal/plugins"
	"agentcore/internal/provider"
	"agentcore/internal/rollout"
	"agentcore/internal/sandbox"
	"agentcore/internal/tools"
	"agentcore/internal/toolserver"
)

func main() {
	configPath := flag.String("config", "agentcore.yaml", "path to the YAML config file")
	modelName := flag.String("model", "", "model key from the config's models map (defaults to the first entry)")
	cwd := flag.String("cwd", "", "working directory for the session (defaults to the current directory)")
	prompt := flag.String("prompt", "", "initial user message; if empty, read from stdin")
	resumePath := flag.String("resume", "", "session id of a prior rollout to resume (see the rollouts sqlite store)")
	featuresPlugins := flag.Bool("features.plugins", false, "enable the plugin loader")
	flag.Parse()

	if err := run(*configPath, *modelName, *cwd, *prompt, *resumePath, *featuresPlugins); err != nil {
		fmt.Fprintln(os.Stderr, "agentcore:", err)
		os.Exit(1)
	}
}

func run(configPath, modelName, cwd, prompt, resumePath string, featuresPluginsEnabled bool) error {
	// 1. Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.SetupLog(filepath.Join(filepath.Dir(configPath), "agentcore.log"), cfg.Debug); err != nil {
		slog.Warn("agentcore: falling back to default logger", "error", err)
	}

	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve cwd: %w", err)
		}
		cwd = wd
	}
	if !filepath.IsAbs(cwd) {
		return fmt.Errorf("cwd must be absolute, got %q", cwd)
	}

	modelCfg, err := selectModel(cfg, modelName)
	if err != nil {
		return err
	}

	// 2. Resolve plugins (feature-gated, never on the turn path).
	pluginMgr := plugins.NewManager()
	pluginOutcome := pluginMgr.PluginsForConfig(cwd, cfg, featuresPluginsEnabled, false)
	mcpConfigs := mergeMCPConfigs(cfg.MCP, pluginOutcome.EffectiveMCPServers())

	// 3. Build the model client and catalog entry.
	catalog := provider.NewCatalog()
	catalog.Register(modelCfg.Provider.Type, modelCfg.Model)
	client := provider.New(providerKind(modelCfg.Provider.Type), provider.ClientOptions{
		APIKey:      modelCfg.Provider.APIKey,
		BaseURL:     modelCfg.Provider.BaseURL,
		Model:       modelCfg.Model.ID,
		ExtraParams: modelCfg.Provider.ExtraParams,
		Debug:       cfg.Debug,
	})
	slog.Info("agentcore: model selected",
		"model", modelCfg.Model.ID,
		"context_window", catalog.ContextWindow(modelCfg.Provider.Type, modelCfg.Model.ID, modelCfg.MaxTokens))

	// 4. Connect tool servers (local registry + any configured MCP servers).
	registry := tools.NewRegistry(
		tools.NewEditTool(cwd),
		tools.NewViewTool(cwd),
		tools.NewWriteTool(cwd),
		tools.NewGlobTool(cwd),
		tools.NewLsTool(cwd),
		tools.NewFetchTool(),
	)
	toolMgr := toolserver.NewManager()
	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	toolMgr.Start(startCtx, toServerConfigs(mcpConfigs))
	cancelStart()
	toolServerStartupErrors := toolMgr.StartupErrors()
	for _, startErr := range toolServerStartupErrors {
		slog.Error("agentcore: tool server failed to start", "error", startErr)
	}
	defer toolMgr.Close()

	dispatcher := tools.NewCombinedDispatcher(registry, toolMgr)

	// 5. Rollout recorder (sqlite store, append-only transcript).
	rolloutDir := filepath.Join(filepath.Dir(configPath), ".agentcore", "rollouts")
	if err := os.MkdirAll(rolloutDir, 0o755); err != nil {
		return fmt.Errorf("create rollout dir: %w", err)
	}
	store, err := rollout.Open(rolloutDir)
	if err != nil {
		return fmt.Errorf("open rollout store: %w", err)
	}
	defer store.Close()

	// 6. Wire the Session: sandbox, apply_patch runner, notifier.
	sandboxExec := sandbox.New([]string{cwd})
	patchRunner := patch.NewRunner()
	notifier := notify.New(cfg.NotifyCommand())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	newSession := func(events chan core.Event) *core.Session {
		sess := core.NewSession(client, sandboxExec, dispatcher, events)
		sess.SetApplyPatchRunner(patchRunner)
		return sess
	}
	d := core.NewDispatcher(newSession)
	d.SetHistoryStore(store)
	d.SetRolloutLoader(rolloutLoader{store})

	// Every Submission gets its own id, minted fresh per Op: the
	// Dispatcher now drives a single Session for the process's whole
	// lifetime (spec §2), so submission ids exist purely to correlate
	// each Op with its own Events, not to select a Session.
	submit := func(op core.Op) string {
		id := core.NextSubmissionID()
		d.Submit(core.Submission{ID: id, Op: op})
		return id
	}

	promptText, err := resolvePromptText(prompt)
	if err != nil {
		return err
	}
	userInstructions := ""
	items := []core.ResponseItem{userMessage(promptText)}
	rolloutSessionID := uuid.NewString()
	recorder, err := store.NewRecorder(ctx, rolloutSessionID, cwd, userInstructions)
	if err != nil {
		return fmt.Errorf("start rollout recorder: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range d.Events() {
			logEvent(ev)
			if ev.Msg.Kind == core.EventSessionConfigured {
				for _, startErr := range toolServerStartupErrors {
					d.PostEvent(core.Event{ID: ev.ID, Msg: core.EventMsg{Kind: core.EventError, Error: &core.ErrorMsg{Message: startErr.Error()}}})
				}
				continue
			}
			if ev.Msg.Kind != core.EventTaskComplete {
				continue
			}
			sess := d.SessionFor()
			if sess == nil {
				continue
			}
			if err := recorder.RecordItems(ctx, sess.History().Contents()); err != nil {
				slog.Warn("agentcore: rollout recorder failed", "error", err)
			}
			var lastMessage *string
			if ev.Msg.TaskComplete != nil {
				lastMessage = ev.Msg.TaskComplete.LastAgentMessage
			}
			notifier.NotifyTurnComplete(context.Background(), rolloutSessionID, []string{userInstructions}, lastMessage)
			cancel()
		}
	}()
	go d.Run(ctx)

	submit(core.Op{
		Kind: core.OpConfigureSession,
		ConfigureSession: &core.ConfigureSessionParams{
			Provider:         providerKind(modelCfg.Provider.Type),
			Model:            modelCfg.Model.ID,
			ReasoningEffort:  modelCfg.ReasoningEffort,
			UserInstructions: userInstructions,
			ApprovalPolicy:   core.ApprovalOnRequest,
			SandboxPolicy:    core.SandboxPolicy{Kind: core.SandboxWorkspaceWrite, WritableRoots: []string{cwd}},
			Notify:           cfg.NotifyCommand(),
			Cwd:              cwd,
			ResumePath:       resumePath,
		},
	})

	submit(core.Op{Kind: core.OpUserInput, UserInput: &core.UserInputParams{Items: items}})

	<-done
	return recorder.Shutdown(context.Background())
}

func selectModel(cfg *config.Config, name string) (config.ModelConfig, error) {
	if name != "" {
		m, ok := cfg.ModelByName(name)
		if !ok {
			return config.ModelConfig{}, fmt.Errorf("no model named %q in config", name)
		}
		return m, nil
	}
	for _, m := range cfg.Models {
		return m, nil
	}
	return config.ModelConfig{}, fmt.Errorf("config has no models configured")
}

func providerKind(t catwalk.Type) string {
	switch t {
	case catwalk.TypeAnthropic:
		return "anthropic"
	case catwalk.TypeGemini:
		return "gemini"
	case catwalk.TypeOpenAI:
		return "openai"
	default:
		return "openai-compat"
	}
}

func mergeMCPConfigs(configured map[string]config.MCPConfig, fromPlugins map[string]config.MCPConfig) map[string]config.MCPConfig {
	out := make(map[string]config.MCPConfig, len(configured)+len(fromPlugins))
	for name, c := range configured {
		out[name] = c
	}
	for name, c := range fromPlugins {
		if _, exists := out[name]; exists {
			continue
		}
		out[name] = c
	}
	return out
}

func toServerConfigs(mcp map[string]config.MCPConfig) []toolserver.ServerConfig {
	out := make([]toolserver.ServerConfig, 0, len(mcp))
	for name, c := range mcp {
		if c.Disabled {
			continue
		}
		transport := "stdio"
		if c.Type == config.MCPSSE || c.Type == config.MCPHTTP {
			transport = "sse"
		}
		out = append(out, toolserver.ServerConfig{
			Name:      name,
			Transport: transport,
			Command:   c.Command,
			Args:      c.Args,
			URL:       c.URL,
		})
	}
	return out
}

// resolvePromptText returns the initial user message text: the -prompt
// flag if given, otherwise one line read from stdin. Resuming a prior
// session's history is handled separately, inside ConfigureSession (spec
// §4.1 resume), so this never needs to see resumePath.
func resolvePromptText(prompt string) (string, error) {
	if prompt != "" {
		return prompt, nil
	}
	return readStdinPrompt()
}

// rolloutLoader adapts *rollout.Store to core.RolloutLoader, resolving a
// ConfigureSession's ResumePath to the prior session's recorded items.
type rolloutLoader struct {
	store *rollout.Store
}

func (r rolloutLoader) LoadRollout(ctx context.Context, resumePath string) ([]core.ResponseItem, error) {
	_, saved, err := r.store.Resume(ctx, resumePath)
	if err != nil {
		return nil, err
	}
	return saved.Items, nil
}

func readStdinPrompt() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	return strings.TrimRight(line, "\n"), nil
}

func userMessage(text string) core.ResponseItem {
	return core.ResponseItem{
		Kind: core.ItemMessage,
		Message: &core.MessageItem{
			Role:    core.RoleUser,
			Content: []core.ContentPart{{Kind: core.ContentInputText, Text: text}},
		},
	}
}

func logEvent(ev core.Event) {
	switch ev.Msg.Kind {
	case core.EventError:
		slog.Error("agentcore: event", "sub_id", ev.ID, "kind", ev.Msg.Kind, "message", ev.Msg.Error.Message)
	case core.EventAgentMessage:
		fmt.Println(ev.Msg.AgentMessage.Text)
	default:
		slog.Debug("agentcore: event", "sub_id", ev.ID, "kind", ev.Msg.Kind)
	}
}
