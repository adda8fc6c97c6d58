package core

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// StreamEventKind is the sum type of events a ModelClient emits while
// streaming one turn's completion (spec §4.3).
type StreamEventKind string

const (
	StreamContentDelta   StreamEventKind = "content_delta"
	StreamReasoningDelta StreamEventKind = "reasoning_delta"
	StreamItem           StreamEventKind = "item"
	StreamTokenCount     StreamEventKind = "token_count"
	StreamComplete       StreamEventKind = "complete"
	StreamError          StreamEventKind = "error"
)

// StreamEvent is one unit pushed over a ModelClient's stream.
type StreamEvent struct {
	Kind   StreamEventKind
	Delta  string
	Item   *ResponseItem
	Tokens *TokenCountMsg
	Err    error
}

// CompletionRequest is what the TurnRunner sends the ModelClient for one
// turn attempt (spec §4.3 step 2).
type CompletionRequest struct {
	Model                    string
	Instructions             string
	Input                    []ResponseItem
	ReasoningEffort          string
	ReasoningSummary         string
	ToolSchemas              []ToolSchema
}

// ToolSchema describes one callable tool's name/parameters for the model
// (provider-agnostic; the concrete JSON schema lives in internal/tools).
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ModelClient streams one completion for a CompletionRequest. Concrete
// adapters (Anthropic/OpenAI/Gemini/OpenAI-compatible) live in
// internal/provider.
//
// Grounded on gentica's llm/agent/agent.go LLMProvider interface
// (StreamResponse returning <-chan ProviderEvent), generalized from
// message.Message history to the spec's ResponseItem sum type and from a
// fixed provider-event enum to the richer StreamEvent set the spec's
// EventMsg kinds require (reasoning deltas, raw content, token counts).
type ModelClient interface {
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

// RetryPolicy controls the TurnRunner's retry-with-backoff behavior for
// stream errors (spec §4.3 step 2's "retry-capable streaming").
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors gentica's provider clients (not shown in the
// retrieved slice but implied by CostPer1M fields tracking real API
// usage): a handful of attempts with capped exponential backoff plus
// jitter, so a transient 5xx doesn't burn the whole turn.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	d := float64(policy.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(policy.MaxDelay) {
		d = float64(policy.MaxDelay)
	}
	jitter := 1 + (rand.Float64()-0.5)*0.2
	return time.Duration(d * jitter)
}

// ToolExecutor dispatches one ResponseItem carrying a function call or
// local shell call and returns the ResponseInputItem to feed back to the
// model. Implemented by Session, which wires in the SafetyGate,
// ExecutionRunner and the tool registry. subID is the submission id of
// the task this turn belongs to, threaded through so every
// exec/patch/approval event the executor emits along the way (spec §3's
// Event model, §5's "per sub_id, TaskStarted precedes any other event
// with that id") is tagged with the same id as the turn's own events,
// not a disconnected one.
type ToolExecutor interface {
	ExecuteItem(ctx context.Context, subID string, item ResponseItem) (*ResponseInputItem, error)
}

// DiffTracker reports the accumulated unified diff across a task's
// apply_patch calls so far. Implemented by Session's TurnDiffTracker.
type DiffTracker interface {
	UnifiedDiff() string
}

// TurnRunner drives one turn of the conversation: send the current
// history plus tool schemas to the model, stream its response, emit
// events for each delta/item, dispatch any tool calls it requests, and
// report the resulting ProcessedResponseItems back to the AgentTask.
//
// Grounded on gentica's streamAndHandleEvents/processEvent pair in
// llm/agent/agent.go: the per-event switch dispatching content/thinking
// deltas and tool-call start/delta/stop events, and the per-tool-call
// goroutine+select-on-ctx.Done() cancellation pattern. Generalized to the
// spec's richer ResponseItem set (local shell calls alongside function
// calls) and to retry the stream itself rather than only the tool calls.
type TurnRunner struct {
	client   ModelClient
	executor ToolExecutor
	retry    RetryPolicy
	emit     func(EventMsg)
	diff     DiffTracker
}

// NewTurnRunner returns a TurnRunner. emit is called for every event the
// turn itself produces (deltas, assistant messages, reasoning summaries,
// token counts, the terminal TurnDiff); it is the Session's hook into the
// Dispatcher's event queue. Tool begin/end events are emitted by the
// ToolExecutor, not through emit. diff may be nil, in which case no
// terminal TurnDiff is ever emitted.
func NewTurnRunner(client ModelClient, executor ToolExecutor, retry RetryPolicy, emit func(EventMsg), diff DiffTracker) *TurnRunner {
	return &TurnRunner{client: client, executor: executor, retry: retry, emit: emit, diff: diff}
}

// TurnResult is what RunTurn returns once the model has finished
// responding and all of its tool calls (if any) have been resolved.
type TurnResult struct {
	Items       []ProcessedResponseItem
	TokenUsage  *TokenCountMsg
	NeedsAnotherTurn bool
}

var errStreamRetryable = errors.New("core: retryable stream error")

// RunTurn executes one model round-trip, retrying the stream on
// transient errors, and dispatches any tool calls the model requests.
// NeedsAnotherTurn is true when the model asked for a tool and thus
// expects its output fed back in a follow-up turn (spec §4.4). subID is
// forwarded to every tool call the turn dispatches, so exec/patch/
// approval events it emits carry the same submission id as the turn's
// own events.
func (t *TurnRunner) RunTurn(ctx context.Context, subID string, req CompletionRequest) (TurnResult, error) {
	var lastErr error
	for attempt := 0; attempt < t.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return TurnResult{}, ctx.Err()
			case <-time.After(backoffDelay(t.retry, attempt)):
			}
			slog.Warn("core: retrying turn stream", "attempt", attempt, "error", lastErr)
		}

		result, err := t.runOnce(ctx, subID, req)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, errStreamRetryable) {
			return TurnResult{}, err
		}
		lastErr = err
	}
	return TurnResult{}, lastErr
}

func (t *TurnRunner) runOnce(ctx context.Context, subID string, req CompletionRequest) (TurnResult, error) {
	stream, err := t.client.Stream(ctx, req)
	if err != nil {
		return TurnResult{}, errStreamError(err)
	}

	var items []ProcessedResponseItem
	var tokens *TokenCountMsg
	needsAnotherTurn := false

	for ev := range stream {
		switch ev.Kind {
		case StreamContentDelta:
			t.emit(EventMsg{Kind: EventAgentMessageDelta, AgentMessageDelta: &TextMsg{Text: ev.Delta}})
		case StreamReasoningDelta:
			t.emit(EventMsg{Kind: EventAgentReasoningDelta, AgentReasoningDelta: &TextMsg{Text: ev.Delta}})
		case StreamTokenCount:
			tokens = ev.Tokens
			t.emit(EventMsg{Kind: EventTokenCount, TokenCount: ev.Tokens})
		case StreamItem:
			if ev.Item == nil {
				continue
			}
			processed, more, err := t.dispatchItem(ctx, subID, *ev.Item)
			if err != nil {
				return TurnResult{}, err
			}
			items = append(items, processed)
			if more {
				needsAnotherTurn = true
			}
		case StreamError:
			select {
			case <-ctx.Done():
				return TurnResult{}, ctx.Err()
			default:
			}
			return TurnResult{}, errStreamError(ev.Err)
		case StreamComplete:
			// spec §4.3: "Completed{token_usage?} → … then if the tracker is
			// non-empty, emit TurnDiff" — the terminal diff for the turn,
			// distinct from the per-apply_patch-call TurnDiff the executor
			// emits as each call completes.
			if t.diff != nil {
				if diff := t.diff.UnifiedDiff(); diff != "" {
					t.emit(EventMsg{Kind: EventTurnDiff, TurnDiff: &TurnDiffMsg{UnifiedDiff: diff}})
				}
			}
		}
	}

	return TurnResult{Items: items, TokenUsage: tokens, NeedsAnotherTurn: needsAnotherTurn}, nil
}

func errStreamError(err error) error {
	return errors.Join(errStreamRetryable, err)
}

// callIDOf reports the call id of a function_call/local_shell_call item,
// and whether item is one of those kinds at all.
func callIDOf(item ResponseItem) (id string, isCall bool) {
	switch item.Kind {
	case ItemFunctionCall:
		if item.FunctionCall != nil {
			return item.FunctionCall.CallID, true
		}
	case ItemLocalShellCall:
		if item.LocalShellCall != nil {
			return firstNonEmpty(item.LocalShellCall.CallID, item.LocalShellCall.ID), true
		}
	}
	return "", false
}

// reconcileAbortedCalls implements spec §4.3's per-turn scan: compute
// completed_call_ids from the function_call_output items already in
// history, find missing_calls (function_call/local_shell_call items with
// no matching output — e.g. a call whose executor goroutine was
// abandoned by dispatchItem's ctx.Done() path on interruption), and
// return a synthetic aborted FunctionCallOutput for each one, in the
// order their calls appear. The caller appends these to history before
// building the turn's CompletionRequest.Input, so the model never sees a
// dangling call with no output.
func reconcileAbortedCalls(items []ResponseItem) []ResponseInputItem {
	completed := make(map[string]bool)
	for _, it := range items {
		if it.Kind == ItemFunctionCallOutput && it.FunctionCallOutput != nil {
			completed[it.FunctionCallOutput.CallID] = true
		}
	}

	var synthetic []ResponseInputItem
	for _, it := range items {
		id, isCall := callIDOf(it)
		if !isCall || id == "" || completed[id] {
			continue
		}
		synthetic = append(synthetic, NewFunctionCallOutput(id, "aborted", boolPtr(false)))
		completed[id] = true
	}
	return synthetic
}

// dispatchItem runs a tool in its own goroutine so a context cancellation
// can abandon it without blocking the turn loop, exactly mirroring
// agent.go's per-tool-call resultChan/select pattern.
func (t *TurnRunner) dispatchItem(ctx context.Context, subID string, item ResponseItem) (ProcessedResponseItem, bool, error) {
	if item.Kind != ItemFunctionCall && item.Kind != ItemLocalShellCall {
		t.emitItemEvent(item)
		return ProcessedResponseItem{Item: item}, false, nil
	}

	type execResult struct {
		resp *ResponseInputItem
		err  error
	}
	resultChan := make(chan execResult, 1)
	go func() {
		resp, err := t.executor.ExecuteItem(ctx, subID, item)
		resultChan <- execResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return ProcessedResponseItem{Item: item}, false, ctx.Err()
	case r := <-resultChan:
		if r.err != nil {
			return ProcessedResponseItem{}, false, r.err
		}
		return ProcessedResponseItem{Item: item, Response: r.resp}, true, nil
	}
}

func (t *TurnRunner) emitItemEvent(item ResponseItem) {
	switch item.Kind {
	case ItemMessage:
		if item.Message == nil || item.Message.Role != RoleAssistant {
			return
		}
		for _, part := range item.Message.Content {
			if part.Kind == ContentOutputText {
				t.emit(EventMsg{Kind: EventAgentMessage, AgentMessage: &TextMsg{Text: part.Text}})
			}
		}
	case ItemReasoning:
		if item.Reasoning == nil {
			return
		}
		for _, s := range item.Reasoning.Summary {
			t.emit(EventMsg{Kind: EventAgentReasoning, AgentReasoning: &TextMsg{Text: s}})
		}
	}
}
