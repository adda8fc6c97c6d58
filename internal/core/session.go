package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// SessionConfig is the subset of ConfigureSessionParams a Session keeps
// for the lifetime of a conversation.
type SessionConfig struct {
	ID                     string
	HistoryLogID           string
	Provider               string
	Model                  string
	ReasoningEffort        string
	ReasoningSummary       string
	UserInstructions       string
	BaseInstructionsOverride string
	ApprovalPolicy         ApprovalPolicy
	SandboxPolicy          SandboxPolicy
	DisableResponseStorage bool
	Notify                 []string
	Cwd                    string
	ShowRawAgentReasoning  bool
	WritableRoots          []string
	ShellEnvPolicy         ShellEnvPolicy
	UserShell              string
}

// Session holds everything shared across the turns of one conversation:
// configuration, history, the safety gate and approval registry, and the
// single currently-active AgentTask (if any).
//
// Grounded on gentica's SimpleSessionService (llm/session.go) for the
// shape of session state (id, title-equivalent config, accumulated
// cost/tokens), generalized into an owned mutable struct rather than a
// map-backed service, since the core's Session is a single live object
// the Dispatcher routes every Submission for one conversation through.
// The three-mutex split (config/history/task) mirrors gentica's
// agent struct's stateMutex/requestMutex/queueMutex split in
// llm/agent/agent.go, so reconfiguration, history reads, and task
// lifecycle never contend on one lock.
type Session struct {
	configMu sync.RWMutex
	config   SessionConfig

	history *ConversationHistory
	gate    *SafetyGate
	approvals *ApprovalRegistry

	taskMu      sync.Mutex
	activeTask  *AgentTask

	taskRunnerMu sync.Mutex
	taskRunner   TaskRunner

	events   chan Event

	client   ModelClient
	sandbox  Sandbox
	runner   *ExecutionRunner
	tools    ToolDispatcher
	patch    ApplyPatchRunner

	diffMu sync.Mutex
	diff   *TurnDiffTracker
}

// ToolDispatcher executes a function-call item against the registered
// tool set, returning its textual result (spec §4.4). Implemented by
// internal/tools.CombinedDispatcher.
type ToolDispatcher interface {
	Call(ctx context.Context, name, argsJSON string) (string, error)
}

// ErrUnknownTool is the sentinel a ToolDispatcher returns when name
// matches neither a registered tool nor any connected tool server's
// "server__tool" namespace, so executeFunctionCall can tell an unknown
// call (spec §4.4: "unsupported call: <name>") apart from a genuine
// execution failure (reported to the model as a normal error content).
var ErrUnknownTool = errors.New("core: unknown tool")

// NewSession constructs a Session in its initial (unconfigured) state.
// events is the Dispatcher's outbound event channel; the Session writes
// every Event it produces there, tagged with the originating submission
// id by the caller.
func NewSession(client ModelClient, sandbox Sandbox, tools ToolDispatcher, events chan Event) *Session {
	return &Session{
		history:   NewConversationHistory(),
		gate:      NewSafetyGate(),
		approvals: NewApprovalRegistry(),
		client:    client,
		sandbox:   sandbox,
		tools:     tools,
		runner:    NewExecutionRunner(sandbox),
		events:    events,
		diff:      NewTurnDiffTracker(),
	}
}

// SetApplyPatchRunner installs the apply_patch collaborator. Left nil,
// apply_patch commands are simply treated as plain shell commands (no
// structured classification), which keeps the Session usable in tests
// that don't care about patch handling.
func (s *Session) SetApplyPatchRunner(r ApplyPatchRunner) {
	s.patch = r
}

// resetDiffTracker starts a fresh TurnDiffTracker for a new AgentTask
// (spec §3: "one per AgentTask").
func (s *Session) resetDiffTracker() {
	s.diffMu.Lock()
	defer s.diffMu.Unlock()
	s.diff = NewTurnDiffTracker()
}

func (s *Session) diffTracker() *TurnDiffTracker {
	s.diffMu.Lock()
	defer s.diffMu.Unlock()
	return s.diff
}

// Configure applies a ConfigureSession operation (spec §4.1 step 1,
// §6's ConfigureSession). If a task is active it is interrupted first,
// since reconfiguration implies starting fresh (invariant: "at most one
// active task").
func (s *Session) Configure(ctx context.Context, subID string, p *ConfigureSessionParams) Event {
	s.InterruptActiveTask()

	cfg := SessionConfig{
		ID:                     uuid.NewString(),
		HistoryLogID:           newHistoryLogID(),
		Provider:               p.Provider,
		Model:                  p.Model,
		ReasoningEffort:        p.ReasoningEffort,
		ReasoningSummary:       p.ReasoningSummary,
		UserInstructions:       p.UserInstructions,
		BaseInstructionsOverride: p.BaseInstructionsOverride,
		ApprovalPolicy:         p.ApprovalPolicy,
		SandboxPolicy:          p.SandboxPolicy,
		DisableResponseStorage: p.DisableResponseStorage,
		Notify:                 p.Notify,
		Cwd:                    p.Cwd,
		ShowRawAgentReasoning:  p.ShowRawAgentReasoning,
		WritableRoots:          GetWritableRoots(p.Cwd, p.WritableRoots),
		ShellEnvPolicy:         p.ShellEnvPolicy,
		UserShell:              p.UserShell,
	}

	s.configMu.Lock()
	s.config = cfg
	s.configMu.Unlock()

	slog.Info("core: session configured", "session_id", cfg.ID, "model", cfg.Model, "provider", cfg.Provider)

	return Event{
		ID: subID,
		Msg: EventMsg{
			Kind: EventSessionConfigured,
			SessionConfigured: &SessionConfiguredMsg{
				SessionID:         cfg.ID,
				Model:             cfg.Model,
				HistoryLogID:      cfg.HistoryLogID,
				HistoryEntryCount: s.history.Len(),
			},
		},
	}
}

// Config returns a copy of the current session configuration.
func (s *Session) Config() SessionConfig {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config
}

// emit pushes ev onto the Session's outbound event channel, tagged with
// subID, respecting ctx cancellation so a shutting-down Dispatcher never
// blocks forever on a full channel.
func (s *Session) emit(ctx context.Context, subID string, msg EventMsg) {
	ev := Event{ID: subID, Msg: msg}
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// HasActiveTask reports whether a task is currently running.
func (s *Session) HasActiveTask() bool {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	return s.activeTask != nil
}

// StartTask starts a new AgentTask if none is active, or queues items on
// the active one otherwise (spec §4.2's "at most one active task").
// started reports whether a new task was actually launched.
func (s *Session) StartTask(ctx context.Context, subID string, items []ResponseInputItem, run func(ctx context.Context, subID string, items []ResponseInputItem) error) (started bool) {
	s.taskMu.Lock()
	if s.activeTask != nil {
		s.activeTask.QueueInput(items)
		s.taskMu.Unlock()
		return false
	}

	s.resetDiffTracker()
	task := NewAgentTask(ctx, func(taskCtx context.Context) error {
		return run(taskCtx, subID, items)
	})
	s.activeTask = task
	s.taskMu.Unlock()

	s.emit(ctx, subID, EventMsg{Kind: EventTaskStarted})

	go s.awaitTask(ctx, subID, task)
	return true
}

// awaitTask watches task to completion, emits TaskComplete/Error, then
// clears activeTask and starts a follow-up task for anything queued
// while it ran.
func (s *Session) awaitTask(ctx context.Context, subID string, task *AgentTask) {
	<-task.Done()

	err := task.Err()
	s.taskMu.Lock()
	if s.activeTask == task {
		s.activeTask = nil
	}
	pending := task.DrainPendingInput()
	s.taskMu.Unlock()

	// The success path's TaskComplete (with the last agent message) is
	// emitted by the run function itself, which alone knows the turn
	// loop's result; here we only need to cover the paths that never get
	// that far. A cancelled task reports the synthetic " Turn interrupted"
	// Error spec §4.1 names, not a TaskComplete — invariant 5's two
	// consecutive Interrupts yield exactly one such Error.
	switch {
	case errors.Is(err, ErrTaskCancelled):
		s.emit(ctx, subID, EventMsg{Kind: EventError, Error: &ErrorMsg{Message: " Turn interrupted"}})
	case err != nil:
		s.emit(ctx, subID, EventMsg{Kind: EventError, Error: &ErrorMsg{Message: err.Error()}})
	}

	if len(pending) == 0 {
		return
	}
	var merged []ResponseInputItem
	for _, items := range pending {
		merged = append(merged, items...)
	}
	s.StartTask(ctx, NextSubmissionID(), merged, s.runQueuedFollowUp)
}

// runQueuedFollowUp is the run function awaitTask uses for a follow-up
// task. Session itself does not know how to drive a TurnRunner loop, only
// how to sequence AgentTasks, so this forwards to the TaskRunner the
// Dispatcher installs via SetTaskRunner while handling ConfigureSession;
// with none installed it does nothing.
func (s *Session) runQueuedFollowUp(ctx context.Context, subID string, items []ResponseInputItem) error {
	s.taskRunnerMu.Lock()
	fn := s.taskRunner
	s.taskRunnerMu.Unlock()
	if fn != nil {
		return fn(ctx, subID, items)
	}
	return nil
}

// TaskRunner drives the TurnRunner loop for one AgentTask invocation. Set
// once by the Dispatcher via SetTaskRunner.
type TaskRunner func(ctx context.Context, subID string, items []ResponseInputItem) error

// SetTaskRunner installs the function runQueuedFollowUp invokes to
// actually run a follow-up task's turn loop. Exists to break the import cycle that would
// otherwise form between Session and the Dispatcher-owned TurnRunner
// wiring.
func (s *Session) SetTaskRunner(fn TaskRunner) {
	s.taskRunnerMu.Lock()
	defer s.taskRunnerMu.Unlock()
	s.taskRunner = fn
}

// InterruptActiveTask cancels the active task, if any, and clears all
// pending approvals and pending input (spec §4.2's Interrupt operation,
// §5's cancellation semantics (c)/(d)). Draining pending input here,
// rather than leaving it for awaitTask, ensures an interrupted task never
// spawns a follow-up task from input queued before the interrupt.
func (s *Session) InterruptActiveTask() {
	s.taskMu.Lock()
	task := s.activeTask
	s.taskMu.Unlock()
	if task != nil {
		task.Interrupt()
		task.DrainPendingInput()
	}
	s.approvals.Clear()
}

// History returns the Session's conversation history.
func (s *Session) History() *ConversationHistory {
	return s.history
}

// Gate returns the Session's SafetyGate.
func (s *Session) Gate() *SafetyGate {
	return s.gate
}

// Approvals returns the Session's ApprovalRegistry.
func (s *Session) Approvals() *ApprovalRegistry {
	return s.approvals
}

// ExecuteItem implements ToolExecutor for the TurnRunner: routes a
// function call to the tool registry and a local shell call through the
// SafetyGate and ExecutionRunner, requesting approval when needed. subID
// is the owning task's submission id; every exec/patch/approval event
// this call (and anything it calls) emits is tagged with it, so the
// whole chain of events for one tool call lines up under the same
// sub_id as the turn's TaskStarted/TaskComplete (spec §5).
func (s *Session) ExecuteItem(ctx context.Context, subID string, item ResponseItem) (*ResponseInputItem, error) {
	switch item.Kind {
	case ItemFunctionCall:
		return s.executeFunctionCall(ctx, subID, item)
	case ItemLocalShellCall:
		return s.executeLocalShellCall(ctx, subID, item)
	default:
		return nil, nil
	}
}

// Built-in function-call names handled by the Session rather than the
// tool registry (spec §4.4's handle_response_item dispatch table):
// "container.exec" and "shell" run through the SafetyGate/ExecutionRunner
// pipeline; "update_plan" is acknowledged directly.
const (
	toolNameContainerExec = "container.exec"
	toolNameShell         = "shell"
	toolNameUpdatePlan    = "update_plan"
)

func (s *Session) executeFunctionCall(ctx context.Context, subID string, item ResponseItem) (*ResponseInputItem, error) {
	fc := item.FunctionCall
	if fc == nil {
		return nil, errors.New("core: function_call item missing payload")
	}

	switch fc.Name {
	case toolNameContainerExec, toolNameShell:
		params, err := ParseShellToolCallParams(fc.Args)
		if err != nil {
			out := NewFunctionCallOutput(fc.CallID, "failed to parse function arguments: "+err.Error(), nil)
			return &out, nil
		}
		return s.runShellOrPatch(ctx, subID, fc.CallID, params)

	case toolNameUpdatePlan:
		// The plan handler is an external collaborator (spec §4.4); with
		// none configured we just acknowledge receipt so the model can
		// continue, matching the "no response needed beyond success" shape
		// of the other built-ins that have nothing further to report.
		out := NewFunctionCallOutput(fc.CallID, "plan updated", boolPtr(true))
		return &out, nil

	default:
		out, err := s.tools.Call(ctx, fc.Name, fc.Args)
		if errors.Is(err, ErrUnknownTool) {
			resp := NewFunctionCallOutput(fc.CallID, "unsupported call: "+fc.Name, nil)
			return &resp, nil
		}
		if err != nil {
			resp := NewFunctionCallOutput(fc.CallID, "error: "+err.Error(), boolPtr(false))
			return &resp, nil
		}
		success := true
		resp := NewFunctionCallOutput(fc.CallID, out, &success)
		return &resp, nil
	}
}

func (s *Session) executeLocalShellCall(ctx context.Context, subID string, item ResponseItem) (*ResponseInputItem, error) {
	call := item.LocalShellCall
	if call == nil {
		return nil, errors.New("core: local_shell_call item missing payload")
	}
	callID := firstNonEmpty(call.CallID, call.ID)
	if callID == "" {
		out := NewFunctionCallOutput("", "LocalShellCall without call_id or id", nil)
		return &out, nil
	}

	cfg := s.Config()
	params := ExecParams{
		Command:   call.Action.Command,
		Cwd:       firstNonEmpty(call.Action.Cwd, cfg.Cwd),
		TimeoutMS: call.Action.Timeout,
	}
	return s.runShellOrPatch(ctx, subID, callID, params)
}

// runShellOrPatch implements spec §4.5 end to end: classify the command
// as apply_patch or plain exec, consult the SafetyGate, ask the user if
// needed, run it, and translate the result into a FunctionCallOutput.
// Shared by the "shell"/"container.exec" FunctionCall path and the
// LocalShellCall path, which differ only in how their ExecParams were
// constructed.
func (s *Session) runShellOrPatch(ctx context.Context, subID, callID string, params ExecParams) (*ResponseInputItem, error) {
	cfg := s.Config()
	if params.Cwd == "" {
		params.Cwd = cfg.Cwd
	}

	if s.patch != nil {
		outcome := s.patch.Classify(params.Command)
		switch outcome.Kind {
		case ApplyPatchCorrectnessError:
			out := NewFunctionCallOutput(callID, "error: "+outcome.Err.Error(), nil)
			return &out, nil
		case ApplyPatchBody:
			return s.runApplyPatch(ctx, subID, callID, params, outcome)
		case ApplyPatchShellParseError, ApplyPatchNotApplyPatch:
			// fall through to plain exec
		}
	}
	return s.runPlainExec(ctx, subID, callID, params)
}

func (s *Session) runApplyPatch(ctx context.Context, subID, callID string, params ExecParams, outcome ApplyPatchOutcome) (*ResponseInputItem, error) {
	cfg := s.Config()

	if !s.gate.IsApproved(params.Command) {
		decision := s.gate.AssessSafetyForUntrustedCommand(cfg.ApprovalPolicy, cfg.SandboxPolicy, params.WithEscalatedPermissions)
		if decision.Kind == SafetyAskUser {
			s.emit(ctx, subID, EventMsg{
				Kind: EventApplyPatchApprovalRequest,
				ApplyPatchApprovalRequest: &ApplyPatchApprovalRequestMsg{
					CallID:  callID,
					Changes: outcome.Changes,
					Reason:  decision.Reason,
				},
			})
			ch := s.approvals.Register(subID)
			switch Await(ch) {
			case DecisionApprovedForSession:
				s.gate.Approve(params.Command)
			case DecisionApproved:
			default:
				out := NewFunctionCallOutput(callID, "exec command rejected by user", nil)
				return &out, nil
			}
		}
	}

	s.emit(ctx, subID, EventMsg{Kind: EventPatchApplyBegin, ExecCommandBegin: &ExecCommandBeginMsg{CallID: callID, Command: params.Command, Cwd: params.Cwd}})

	diff, err := s.patch.Apply(params.Cwd, params.Command)

	s.emit(ctx, subID, EventMsg{Kind: EventPatchApplyEnd, ExecCommandEnd: &ExecCommandEndMsg{CallID: callID, ExitCode: exitCodeFor(err)}})

	if diff != "" {
		s.diffTracker().Add(diff)
	}
	if full := s.diffTracker().UnifiedDiff(); full != "" {
		s.emit(ctx, subID, EventMsg{Kind: EventTurnDiff, TurnDiff: &TurnDiffMsg{UnifiedDiff: full}})
	}

	if err != nil {
		out := NewFunctionCallOutput(callID, "error: "+err.Error(), nil)
		return &out, nil
	}
	success := true
	out := NewFunctionCallOutput(callID, "patch applied successfully", &success)
	return &out, nil
}

func exitCodeFor(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

func (s *Session) runPlainExec(ctx context.Context, subID, callID string, params ExecParams) (*ResponseInputItem, error) {
	cfg := s.Config()

	decision := s.gate.AssessCommandSafety(params.Command, cfg.ApprovalPolicy, cfg.SandboxPolicy, params.WithEscalatedPermissions)
	switch decision.Kind {
	case SafetyReject:
		out := NewFunctionCallOutput(callID, decision.Reason, nil)
		return &out, nil
	case SafetyAskUser:
		s.emit(ctx, subID, EventMsg{
			Kind: EventExecApprovalRequest,
			ExecApprovalRequest: &ExecApprovalRequestMsg{
				CallID:  callID,
				Command: params.Command,
				Cwd:     params.Cwd,
				Reason:  decision.Reason,
			},
		})
		ch := s.approvals.Register(subID)
		switch Await(ch) {
		case DecisionApprovedForSession:
			s.gate.Approve(params.Command)
		case DecisionApproved:
		default:
			out := NewFunctionCallOutput(callID, "exec command rejected by user", nil)
			return &out, nil
		}
	}

	s.emit(ctx, subID, EventMsg{
		Kind: EventExecCommandBegin,
		ExecCommandBegin: &ExecCommandBeginMsg{
			CallID:  callID,
			Command: params.Command,
			Cwd:     params.Cwd,
		},
	})

	result, err := s.runner.Run(ctx, params, decision.Sandbox)
	if err != nil && decision.Sandbox != SandboxTypeNone {
		return s.handleSandboxError(ctx, subID, callID, params, decision, result, err), nil
	}

	s.emit(ctx, subID, EventMsg{
		Kind: EventExecCommandEnd,
		ExecCommandEnd: &ExecCommandEndMsg{
			CallID:   callID,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			Duration: result.Duration.Seconds(),
			ExitCode: result.ExitCode,
		},
	})

	out := formatExecOutput(result)
	resp := NewFunctionCallOutput(callID, out, boolPtr(result.ExitCode == 0 && !result.TimedOut))
	return &resp, nil
}

// handleSandboxError implements spec §4.6: a sandboxed command that
// failed because of the sandbox (not because the command itself was
// wrong) is either reported directly (Never/OnRequest policies, or a
// Timeout), or retried unsandboxed after the user approves.
func (s *Session) handleSandboxError(ctx context.Context, subID, callID string, params ExecParams, decision SafetyDecision, result ExecResult, runErr error) *ResponseInputItem {
	cfg := s.Config()

	if result.TimedOut {
		out := NewFunctionCallOutput(callID, "command timed out after "+formatMillis(params.TimeoutMS)+" milliseconds", boolPtr(false))
		return &out
	}
	if cfg.ApprovalPolicy == ApprovalNever || cfg.ApprovalPolicy == ApprovalOnRequest {
		out := NewFunctionCallOutput(callID, "failed in sandbox "+string(decision.Sandbox)+" with execution error: "+errString(runErr), boolPtr(false))
		return &out
	}

	s.emit(ctx, subID, EventMsg{Kind: EventBackgroundEvent, BackgroundEvent: &TextMsg{Text: "Execution failed: " + errString(runErr)}})

	s.emit(ctx, subID, EventMsg{
		Kind: EventExecApprovalRequest,
		ExecApprovalRequest: &ExecApprovalRequestMsg{
			CallID:  callID,
			Command: params.Command,
			Cwd:     params.Cwd,
			Reason:  "command failed; retry without sandbox?",
		},
	})
	ch := s.approvals.Register(subID)
	decisionMade := Await(ch)
	switch decisionMade {
	case DecisionApproved, DecisionApprovedForSession:
		// Both branches add to approved_commands in the escalation retry
		// path; preserved per DESIGN.md's Open Question decision.
		s.gate.Approve(params.Command)
		s.emit(ctx, subID, EventMsg{Kind: EventBackgroundEvent, BackgroundEvent: &TextMsg{Text: "retrying command without sandbox"}})
		retried, rerr := s.runner.Run(ctx, params, SandboxTypeNone)
		if rerr != nil {
			out := NewFunctionCallOutput(callID, "execution error: "+rerr.Error(), nil)
			return &out
		}
		s.gate.Approve(params.Command)
		s.emit(ctx, subID, EventMsg{
			Kind: EventExecCommandEnd,
			ExecCommandEnd: &ExecCommandEndMsg{
				CallID:   callID,
				Stdout:   retried.Stdout,
				Stderr:   retried.Stderr,
				Duration: retried.Duration.Seconds(),
				ExitCode: retried.ExitCode,
			},
		})
		out := formatExecOutput(retried)
		resp := NewFunctionCallOutput(callID, out, boolPtr(retried.ExitCode == 0))
		return &resp
	default:
		out := NewFunctionCallOutput(callID, "exec command rejected by user", nil)
		return &out
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func formatMillis(ms int) string {
	if ms <= 0 {
		ms = int(execDefaultTimeout.Milliseconds())
	}
	return itoa(ms)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func boolPtr(b bool) *bool { return &b }
