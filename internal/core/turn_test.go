package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTurnRunnerPlainAssistantReply(t *testing.T) {
	t.Parallel()
	client := newFakeModelClient([]StreamEvent{assistantReplyEvent("hi there")})
	executor := &fakeToolExecutor{}
	var emitted []EventMsg
	runner := NewTurnRunner(client, executor, DefaultRetryPolicy, func(msg EventMsg) { emitted = append(emitted, msg) }, nil)

	result, err := runner.RunTurn(context.Background(), "sub-1", CompletionRequest{Model: "m"})
	require.NoError(t, err)
	require.False(t, result.NeedsAnotherTurn)
	require.Len(t, result.Items, 1)

	require.Len(t, emitted, 1)
	require.Equal(t, EventAgentMessage, emitted[0].Kind)
	require.Equal(t, "hi there", emitted[0].AgentMessage.Text)
}

func TestTurnRunnerDispatchesFunctionCall(t *testing.T) {
	t.Parallel()
	client := newFakeModelClient([]StreamEvent{functionCallEvent("shell", `{"command":["echo","hi"]}`, "call-1")})
	resp := NewFunctionCallOutput("call-1", "hi\n", boolPtr(true))
	executor := &fakeToolExecutor{response: &resp}
	runner := NewTurnRunner(client, executor, DefaultRetryPolicy, func(EventMsg) {}, nil)

	result, err := runner.RunTurn(context.Background(), "sub-1", CompletionRequest{Model: "m"})
	require.NoError(t, err)
	require.True(t, result.NeedsAnotherTurn, "a dispatched function call means the model expects a follow-up turn")
	require.Len(t, result.Items, 1)
	require.NotNil(t, result.Items[0].Response)
	require.Equal(t, "hi\n", result.Items[0].Response.FunctionCallOutput.Content)
	require.Len(t, executor.items, 1)
	require.Equal(t, []string{"sub-1"}, executor.subIDs, "the turn's submission id must be threaded through to the executor")
}

func TestTurnRunnerRetriesOnRetryableStreamError(t *testing.T) {
	t.Parallel()

	client := &streamErrorThenOKClient{
		errOnAttempts: 2,
		ok:            []StreamEvent{assistantReplyEvent("recovered")},
	}
	executor := &fakeToolExecutor{}
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	runner := NewTurnRunner(client, executor, policy, func(EventMsg) {}, nil)

	result, err := runner.RunTurn(context.Background(), "sub-1", CompletionRequest{Model: "m"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, 3, client.calls, "should have retried twice before succeeding on the third attempt")
}

func TestTurnRunnerGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	client := &streamErrorThenOKClient{errOnAttempts: 99}
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	runner := NewTurnRunner(client, &fakeToolExecutor{}, policy, func(EventMsg) {}, nil)

	_, err := runner.RunTurn(context.Background(), "sub-1", CompletionRequest{Model: "m"})
	require.Error(t, err)
	require.Equal(t, 3, client.calls)
}

func TestTurnRunnerToolExecutionErrorFailsImmediately(t *testing.T) {
	t.Parallel()
	client := newFakeModelClient([]StreamEvent{functionCallEvent("shell", `{"command":["echo","hi"]}`, "call-1")})
	executor := &fakeToolExecutor{err: errors.New("boom")}
	runner := NewTurnRunner(client, executor, DefaultRetryPolicy, func(EventMsg) {}, nil)

	_, err := runner.RunTurn(context.Background(), "sub-1", CompletionRequest{Model: "m"})
	require.Error(t, err)
	require.Equal(t, 1, client.calls, "a tool-execution error is not a retryable stream error")
}

func TestTurnRunnerDispatchItemAbandonedOnCancellation(t *testing.T) {
	t.Parallel()
	client := newFakeModelClient([]StreamEvent{functionCallEvent("shell", `{"command":["sleep","10"]}`, "call-1")})
	executor := &fakeToolExecutor{block: make(chan struct{})}
	runner := NewTurnRunner(client, executor, DefaultRetryPolicy, func(EventMsg) {}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := runner.RunTurn(ctx, "sub-1", CompletionRequest{Model: "m"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTurnRunnerEmitsTerminalTurnDiffWhenTrackerNonEmpty(t *testing.T) {
	t.Parallel()
	client := newFakeModelClient([]StreamEvent{assistantReplyEvent("done"), {Kind: StreamComplete}})
	executor := &fakeToolExecutor{}
	var emitted []EventMsg
	diff := fakeDiffTracker{unified: "--- a\n+++ b\n"}
	runner := NewTurnRunner(client, executor, DefaultRetryPolicy, func(msg EventMsg) { emitted = append(emitted, msg) }, diff)

	_, err := runner.RunTurn(context.Background(), "sub-1", CompletionRequest{Model: "m"})
	require.NoError(t, err)

	var diffEvents int
	for _, msg := range emitted {
		if msg.Kind == EventTurnDiff {
			diffEvents++
			require.Equal(t, diff.unified, msg.TurnDiff.UnifiedDiff)
		}
	}
	require.Equal(t, 1, diffEvents, "a non-empty diff tracker must produce exactly one terminal TurnDiff per turn")
}

func TestTurnRunnerSkipsTurnDiffWhenTrackerEmpty(t *testing.T) {
	t.Parallel()
	client := newFakeModelClient([]StreamEvent{assistantReplyEvent("done")})
	var emitted []EventMsg
	runner := NewTurnRunner(client, &fakeToolExecutor{}, DefaultRetryPolicy, func(msg EventMsg) { emitted = append(emitted, msg) }, fakeDiffTracker{})

	_, err := runner.RunTurn(context.Background(), "sub-1", CompletionRequest{Model: "m"})
	require.NoError(t, err)

	for _, msg := range emitted {
		require.NotEqual(t, EventTurnDiff, msg.Kind)
	}
}

type fakeDiffTracker struct {
	unified string
}

func (f fakeDiffTracker) UnifiedDiff() string { return f.unified }

// TestReconcileAbortedCallsSynthesizesOutputForMissingCalls covers spec
// §4.3's completed_call_ids/missing_calls scan and testable invariant 3:
// a function_call with no matching function_call_output (e.g. one whose
// executor goroutine was abandoned on interruption) gets a synthetic
// aborted output; a call that already has an output does not.
func TestReconcileAbortedCallsSynthesizesOutputForMissingCalls(t *testing.T) {
	t.Parallel()
	history := []ResponseItem{
		{Kind: ItemFunctionCall, FunctionCall: &FunctionCallItem{Name: "shell", Args: `{}`, CallID: "call-done"}},
		NewFunctionCallOutput("call-done", "ok", boolPtr(true)),
		{Kind: ItemFunctionCall, FunctionCall: &FunctionCallItem{Name: "shell", Args: `{}`, CallID: "call-missing"}},
	}

	synthetic := reconcileAbortedCalls(history)
	require.Len(t, synthetic, 1)
	require.Equal(t, "call-missing", synthetic[0].FunctionCallOutput.CallID)
	require.Equal(t, "aborted", synthetic[0].FunctionCallOutput.Content)
	require.False(t, *synthetic[0].FunctionCallOutput.Success)
}

func TestReconcileAbortedCallsNoMissingCallsIsNoop(t *testing.T) {
	t.Parallel()
	history := []ResponseItem{
		*functionCallEvent("shell", `{}`, "call-1").Item,
		NewFunctionCallOutput("call-1", "ok", boolPtr(true)),
	}
	require.Empty(t, reconcileAbortedCalls(history))
}

// streamErrorThenOKClient emits a StreamError event for its first
// errOnAttempts calls, then succeeds with ok.
type streamErrorThenOKClient struct {
	errOnAttempts int
	ok            []StreamEvent
	calls         int
}

func (c *streamErrorThenOKClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	c.calls++
	if c.calls <= c.errOnAttempts {
		ch := make(chan StreamEvent, 1)
		ch <- StreamEvent{Kind: StreamError, Err: errors.New("transient")}
		close(ch)
		return ch, nil
	}
	ch := make(chan StreamEvent, len(c.ok))
	for _, ev := range c.ok {
		ch <- ev
	}
	close(ch)
	return ch, nil
}
