package core

// ResponseItem is the sum type over model conversation items (spec §3).
// Only the field named by Kind is populated.
type ItemKind string

const (
	ItemMessage           ItemKind = "message"
	ItemReasoning         ItemKind = "reasoning"
	ItemFunctionCall      ItemKind = "function_call"
	ItemLocalShellCall    ItemKind = "local_shell_call"
	ItemFunctionCallOutput ItemKind = "function_call_output"
	ItemOther             ItemKind = "other"
)

type ResponseItem struct {
	Kind ItemKind

	Message            *MessageItem
	Reasoning          *ReasoningItem
	FunctionCall       *FunctionCallItem
	LocalShellCall     *LocalShellCallItem
	FunctionCallOutput *FunctionCallOutputItem
}

// Role distinguishes assistant vs. user/tool content in a Message item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type ContentPartKind string

const (
	ContentOutputText ContentPartKind = "output_text"
	ContentInputText  ContentPartKind = "input_text"
)

type ContentPart struct {
	Kind ContentPartKind
	Text string
}

type MessageItem struct {
	Role    Role
	Content []ContentPart
}

type ReasoningItem struct {
	Summary   []string
	Content   *string
	Encrypted *string
}

type FunctionCallItem struct {
	Name   string
	Args   string
	CallID string
}

// LocalShellAction captures the embedded action of a LocalShellCall item,
// used to synthesize ShellToolCallParams (spec §4.4).
type LocalShellAction struct {
	Command []string
	Cwd     string
	Timeout int
}

type LocalShellCallItem struct {
	CallID string
	ID     string
	Action LocalShellAction
}

type FunctionCallOutputItem struct {
	CallID  string
	Content string
	Success *bool
}

// NewFunctionCallOutput is a convenience constructor mirroring the common
// shape returned from handle_response_item.
func NewFunctionCallOutput(callID, content string, success *bool) ResponseInputItem {
	return ResponseInputItem{
		Kind: ItemFunctionCallOutput,
		FunctionCallOutput: &FunctionCallOutputItem{
			CallID:  callID,
			Content: content,
			Success: success,
		},
	}
}

// ResponseInputItem is the type handle_response_item returns: either a
// fresh ResponseItem to feed back to the model (almost always a
// FunctionCallOutput), or nothing.
type ResponseInputItem = ResponseItem

// ProcessedResponseItem pairs an item consumed from the model stream with
// the (possibly nil) response the core produced for it.
type ProcessedResponseItem struct {
	Item     ResponseItem
	Response *ResponseInputItem
}
