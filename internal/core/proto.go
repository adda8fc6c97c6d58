// Package core implements the agent session core: the Dispatcher, Session,
// AgentTask, TurnRunner, SafetyGate and ExecutionRunner that together drive
// a multi-turn conversation with a model, dispatch tool calls, and mediate
// user approvals.
package core

import (
	"fmt"
	"sync/atomic"
)

// Submission is one message from the UI to the core, consumed exactly once
// by the Dispatcher.
type Submission struct {
	ID string
	Op Op
}

// Op is the sum type of operations a Submission can carry. Exactly one
// field is meaningful for a given OpKind.
type OpKind string

const (
	OpConfigureSession       OpKind = "configure_session"
	OpUserInput              OpKind = "user_input"
	OpInterrupt              OpKind = "interrupt"
	OpExecApproval           OpKind = "exec_approval"
	OpPatchApproval          OpKind = "patch_approval"
	OpAddToHistory           OpKind = "add_to_history"
	OpGetHistoryEntryRequest OpKind = "get_history_entry_request"
	OpCompact                OpKind = "compact"
	OpShutdown               OpKind = "shutdown"
)

type Op struct {
	Kind OpKind

	ConfigureSession *ConfigureSessionParams
	UserInput        *UserInputParams
	ExecApproval     *ApprovalParams
	PatchApproval    *ApprovalParams
	AddToHistory     *AddToHistoryParams
	GetHistoryEntry  *GetHistoryEntryParams
}

// ConfigureSessionParams mirrors spec §6's ConfigureSession operation.
type ConfigureSessionParams struct {
	Provider                string
	Model                   string
	ReasoningEffort         string
	ReasoningSummary        string
	UserInstructions        string
	BaseInstructionsOverride string
	ApprovalPolicy          ApprovalPolicy
	SandboxPolicy           SandboxPolicy
	DisableResponseStorage  bool
	Notify                  []string
	Cwd                     string
	ResumePath              string
	ShowRawAgentReasoning   bool
	WritableRoots           []string
	ShellEnvPolicy          ShellEnvPolicy
	UserShell               string
}

// UserInputParams carries the items a user submitted for the current or a
// new turn.
type UserInputParams struct {
	Items []ResponseInputItem
}

// Decision is the user's answer to a pending approval request.
type Decision string

const (
	DecisionApproved           Decision = "approved"
	DecisionApprovedForSession Decision = "approved_for_session"
	DecisionDenied             Decision = "denied"
	DecisionAbort              Decision = "abort"
)

// ApprovalParams answers a pending ExecApprovalRequest/ApplyPatchApprovalRequest.
type ApprovalParams struct {
	ID       string
	Decision Decision
}

// AddToHistoryParams appends a raw text entry to the persistent history store.
type AddToHistoryParams struct {
	Text string
}

// GetHistoryEntryParams looks up one entry of the persistent history file.
type GetHistoryEntryParams struct {
	Offset int
	LogID  string
}

// Event is one message from the core back to the UI. Its ID echoes the
// originating Submission's ID.
type Event struct {
	ID  string
	Msg EventMsg
}

type EventKind string

const (
	EventSessionConfigured          EventKind = "session_configured"
	EventTaskStarted                EventKind = "task_started"
	EventTaskComplete               EventKind = "task_complete"
	EventError                      EventKind = "error"
	EventAgentMessage               EventKind = "agent_message"
	EventAgentMessageDelta          EventKind = "agent_message_delta"
	EventAgentReasoning             EventKind = "agent_reasoning"
	EventAgentReasoningDelta        EventKind = "agent_reasoning_delta"
	EventAgentReasoningRawContent      EventKind = "agent_reasoning_raw_content"
	EventAgentReasoningRawContentDelta EventKind = "agent_reasoning_raw_content_delta"
	EventExecCommandBegin           EventKind = "exec_command_begin"
	EventExecCommandEnd             EventKind = "exec_command_end"
	EventExecApprovalRequest        EventKind = "exec_approval_request"
	EventApplyPatchApprovalRequest  EventKind = "apply_patch_approval_request"
	EventPatchApplyBegin            EventKind = "patch_apply_begin"
	EventPatchApplyEnd              EventKind = "patch_apply_end"
	EventTurnDiff                   EventKind = "turn_diff"
	EventBackgroundEvent            EventKind = "background_event"
	EventTokenCount                 EventKind = "token_count"
	EventGetHistoryEntryResponse    EventKind = "get_history_entry_response"
	EventShutdownComplete           EventKind = "shutdown_complete"
)

// EventMsg is the sum type of event payloads. Only the field matching Kind
// is populated.
type EventMsg struct {
	Kind EventKind

	SessionConfigured         *SessionConfiguredMsg
	TaskComplete              *TaskCompleteMsg
	Error                     *ErrorMsg
	AgentMessage              *TextMsg
	AgentMessageDelta         *TextMsg
	AgentReasoning            *TextMsg
	AgentReasoningDelta       *TextMsg
	AgentReasoningRawContent  *TextMsg
	AgentReasoningRawContentDelta *TextMsg
	ExecCommandBegin          *ExecCommandBeginMsg
	ExecCommandEnd            *ExecCommandEndMsg
	ExecApprovalRequest       *ExecApprovalRequestMsg
	ApplyPatchApprovalRequest *ApplyPatchApprovalRequestMsg
	TurnDiff                  *TurnDiffMsg
	BackgroundEvent           *TextMsg
	TokenCount                *TokenCountMsg
	GetHistoryEntryResponse   *GetHistoryEntryResponseMsg
}

type SessionConfiguredMsg struct {
	SessionID        string
	Model            string
	HistoryLogID     string
	HistoryEntryCount int
}

type TaskCompleteMsg struct {
	LastAgentMessage *string
}

type ErrorMsg struct {
	Message string
}

type TextMsg struct {
	Text string
}

type ExecCommandBeginMsg struct {
	CallID    string
	Command   []string
	Cwd       string
	ParsedCmd string
}

type ExecCommandEndMsg struct {
	CallID   string
	Stdout   string
	Stderr   string
	Duration float64
	ExitCode int
}

type ExecApprovalRequestMsg struct {
	CallID  string
	Command []string
	Cwd     string
	Reason  string
}

type ApplyPatchApprovalRequestMsg struct {
	CallID  string
	Changes string
	Reason  string
}

type TurnDiffMsg struct {
	UnifiedDiff string
}

type TokenCountMsg struct {
	InputTokens  int64
	OutputTokens int64
}

type GetHistoryEntryResponseMsg struct {
	Offset int
	LogID  string
	Entry  *string
}

// submissionCounter is a process-wide monotonic counter used to mint
// submission ids.
var submissionCounter uint64

// NextSubmissionID returns a monotonically increasing submission id of the
// form "core-N". Session uses it for the follow-up task it starts for
// queued input; hosts may also use it to mint ids for their own
// submissions.
func NextSubmissionID() string {
	n := atomic.AddUint64(&submissionCounter, 1)
	return fmt.Sprintf("core-%d", n)
}
