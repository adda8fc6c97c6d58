package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDispatcher(client ModelClient, sandbox Sandbox, tools ToolDispatcher) *Dispatcher {
	newSession := func(events chan Event) *Session {
		return NewSession(client, sandbox, tools, events)
	}
	return NewDispatcher(newSession)
}

func configureAndRun(t *testing.T, d *Dispatcher, cwd string) (ctx context.Context, cancel context.CancelFunc) {
	t.Helper()
	ctx, cancel = context.WithCancel(context.Background())
	go d.Run(ctx)
	d.Submit(Submission{ID: "cfg-1", Op: Op{
		Kind: OpConfigureSession,
		ConfigureSession: &ConfigureSessionParams{
			Model: "test-model", Cwd: cwd,
			ApprovalPolicy: ApprovalOnRequest,
			SandboxPolicy:  SandboxPolicy{Kind: SandboxWorkspaceWrite},
		},
	}})
	return ctx, cancel
}

// TestDispatcherPlainReply covers spec scenario S1: a plain assistant
// message produces a TaskComplete for the submission with that message as
// last_agent_message.
func TestDispatcherPlainReply(t *testing.T) {
	t.Parallel()
	client := newFakeModelClient([]StreamEvent{assistantReplyEvent("hello!")})
	d := newTestDispatcher(client, &fakeSandbox{}, newFakeToolDispatcher())
	_, cancel := configureAndRun(t, d, t.TempDir())
	defer cancel()

	requireEventKind(t, d, EventSessionConfigured)

	d.Submit(Submission{ID: "sub-1", Op: Op{Kind: OpUserInput, UserInput: &UserInputParams{
		Items: []ResponseInputItem{textContentItem(RoleUser, "hi")},
	}}})

	ev := requireEventKind(t, d, EventTaskComplete)
	require.Equal(t, "sub-1", ev.ID)
	require.NotNil(t, ev.Msg.TaskComplete.LastAgentMessage)
	require.Equal(t, "hello!", *ev.Msg.TaskComplete.LastAgentMessage)
}

// TestDispatcherConfigureSessionCarriesOverHistory covers invariant 10: a
// second ConfigureSession carries the prior session's history into the
// replacement Session.
func TestDispatcherConfigureSessionCarriesOverHistory(t *testing.T) {
	t.Parallel()
	client := newFakeModelClient([]StreamEvent{assistantReplyEvent("first")})
	d := newTestDispatcher(client, &fakeSandbox{}, newFakeToolDispatcher())
	cwd := t.TempDir()
	_, cancel := configureAndRun(t, d, cwd)
	defer cancel()
	requireEventKind(t, d, EventSessionConfigured)

	d.Submit(Submission{ID: "sub-1", Op: Op{Kind: OpUserInput, UserInput: &UserInputParams{
		Items: []ResponseInputItem{textContentItem(RoleUser, "hi")},
	}}})
	requireEventKind(t, d, EventTaskComplete)

	before := d.SessionFor().History().Len()
	require.Greater(t, before, 0)

	d.Submit(Submission{ID: "cfg-2", Op: Op{
		Kind: OpConfigureSession,
		ConfigureSession: &ConfigureSessionParams{Model: "test-model", Cwd: cwd, ApprovalPolicy: ApprovalOnRequest},
	}})
	requireEventKind(t, d, EventSessionConfigured)

	require.Equal(t, before, d.SessionFor().History().Len())
}

// TestDispatcherConfigureSessionRejectsRelativeCwd covers spec §4.1/§7: a
// non-absolute cwd is fatal for the dispatcher.
func TestDispatcherConfigureSessionRejectsRelativeCwd(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(nil, &fakeSandbox{}, newFakeToolDispatcher())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(Submission{ID: "cfg-1", Op: Op{
		Kind:             OpConfigureSession,
		ConfigureSession: &ConfigureSessionParams{Model: "m", Cwd: "relative/path"},
	}})

	ev := requireEventKind(t, d, EventError)
	require.Contains(t, ev.Msg.Error.Message, "cwd must be absolute")

	select {
	case _, ok := <-d.Events():
		require.False(t, ok, "a fatal ConfigureSession error must stop the dispatch loop")
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after a fatal ConfigureSession error")
	}
}

// TestDispatcherInterruptEmitsTurnInterruptedError covers spec scenario
// S4: interrupting an in-flight task yields a " Turn interrupted" Error.
func TestDispatcherInterruptEmitsTurnInterruptedError(t *testing.T) {
	t.Parallel()
	blocking := newBlockingModelClient()
	d := newTestDispatcher(blocking, &fakeSandbox{}, newFakeToolDispatcher())
	_, cancel := configureAndRun(t, d, t.TempDir())
	defer cancel()
	requireEventKind(t, d, EventSessionConfigured)

	d.Submit(Submission{ID: "sub-1", Op: Op{Kind: OpUserInput, UserInput: &UserInputParams{
		Items: []ResponseInputItem{textContentItem(RoleUser, "hi")},
	}}})
	requireEventKind(t, d, EventTaskStarted)
	<-blocking.started

	d.Submit(Submission{ID: "sub-2", Op: Op{Kind: OpInterrupt}})

	ev := requireEventKind(t, d, EventError)
	require.Equal(t, " Turn interrupted", ev.Msg.Error.Message)
}

// TestDispatcherGetHistoryEntryWithoutStoreRepliesEmpty covers the
// no-HistoryStore-installed fallback: a GetHistoryEntryRequest still gets
// answered, just with no entry.
func TestDispatcherGetHistoryEntryWithoutStoreRepliesEmpty(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(newFakeModelClient(), &fakeSandbox{}, newFakeToolDispatcher())
	_, cancel := configureAndRun(t, d, t.TempDir())
	defer cancel()
	requireEventKind(t, d, EventSessionConfigured)

	d.Submit(Submission{ID: "sub-1", Op: Op{Kind: OpGetHistoryEntryRequest, GetHistoryEntry: &GetHistoryEntryParams{Offset: 0}}})

	ev := requireEventKind(t, d, EventGetHistoryEntryResponse)
	require.Nil(t, ev.Msg.GetHistoryEntryResponse.Entry)
}

// TestDispatcherQueuedInputStartsFollowUpTurn covers spec §4.2 step 3a: a
// UserInput submitted while a task is busy is queued, then drives a
// follow-up turn once the first completes — this exercises
// Session.SetTaskRunner, which the Dispatcher must wire during
// ConfigureSession for the queued path to do anything at all.
func TestDispatcherQueuedInputStartsFollowUpTurn(t *testing.T) {
	t.Parallel()
	blocking := newBlockingModelClient()
	d := newTestDispatcher(blocking, &fakeSandbox{}, newFakeToolDispatcher())
	_, cancel := configureAndRun(t, d, t.TempDir())
	defer cancel()
	requireEventKind(t, d, EventSessionConfigured)

	d.Submit(Submission{ID: "sub-1", Op: Op{Kind: OpUserInput, UserInput: &UserInputParams{
		Items: []ResponseInputItem{textContentItem(RoleUser, "first")},
	}}})
	requireEventKind(t, d, EventTaskStarted)
	<-blocking.started

	d.Submit(Submission{ID: "sub-2", Op: Op{Kind: OpUserInput, UserInput: &UserInputParams{
		Items: []ResponseInputItem{textContentItem(RoleUser, "queued")},
	}}})

	blocking.finish(assistantReplyEvent("first reply"))
	requireEventKindMatching(t, d, EventTaskComplete, func(ev Event) bool { return ev.ID == "sub-1" })

	blocking.finish(assistantReplyEvent("second reply"))
	ev := requireEventKindMatching(t, d, EventTaskComplete, func(ev Event) bool {
		return ev.Msg.TaskComplete.LastAgentMessage != nil && *ev.Msg.TaskComplete.LastAgentMessage == "second reply"
	})
	require.NotEqual(t, "sub-1", ev.ID, "the follow-up turn runs under its own submission id")
}

func requireEventKind(t *testing.T, d *Dispatcher, kind EventKind) Event {
	t.Helper()
	return requireEventKindMatching(t, d, kind, func(Event) bool { return true })
}

func requireEventKindMatching(t *testing.T, d *Dispatcher, kind EventKind, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-d.Events():
			if !ok {
				t.Fatalf("event channel closed before seeing kind %s", kind)
			}
			if ev.Msg.Kind == kind && match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %s", kind)
		}
	}
}

// TestDispatcherConfigureSessionResumesHistoryBeforeConfigured covers
// spec §4.1 resume and invariant 4: a ConfigureSession with a ResumePath
// loads the prior session's recorded items into history before
// SessionConfigured is emitted, so HistoryEntryCount reflects them and no
// new input is needed to observe the restored history.
func TestDispatcherConfigureSessionResumesHistoryBeforeConfigured(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(nil, &fakeSandbox{}, newFakeToolDispatcher())
	loader := fakeRolloutLoader{items: []ResponseItem{
		textContentItem(RoleUser, "earlier question"),
		textContentItem(RoleAssistant, "earlier answer"),
	}}
	d.SetRolloutLoader(loader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(Submission{ID: "cfg-1", Op: Op{
		Kind: OpConfigureSession,
		ConfigureSession: &ConfigureSessionParams{
			Model: "test-model", Cwd: t.TempDir(),
			ApprovalPolicy: ApprovalOnRequest,
			SandboxPolicy:  SandboxPolicy{Kind: SandboxWorkspaceWrite},
			ResumePath:     "prior-session-id",
		},
	}})

	ev := requireEventKind(t, d, EventSessionConfigured)
	require.Equal(t, 2, ev.Msg.SessionConfigured.HistoryEntryCount)
	require.Equal(t, 2, d.SessionFor().History().Len())
}

// TestDispatcherConfigureSessionResumeErrorIsFatal covers the failure
// path: a ResumePath that the RolloutLoader can't resolve stops the
// dispatcher, matching the other fatal ConfigureSession errors.
func TestDispatcherConfigureSessionResumeErrorIsFatal(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(nil, &fakeSandbox{}, newFakeToolDispatcher())
	d.SetRolloutLoader(fakeRolloutLoader{err: errors.New("no such session")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(Submission{ID: "cfg-1", Op: Op{
		Kind: OpConfigureSession,
		ConfigureSession: &ConfigureSessionParams{
			Model: "test-model", Cwd: t.TempDir(), ResumePath: "missing",
		},
	}})

	ev := requireEventKind(t, d, EventError)
	require.Contains(t, ev.Msg.Error.Message, "no such session")

	select {
	case _, ok := <-d.Events():
		require.False(t, ok, "a failed resume must stop the dispatch loop")
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after a failed resume")
	}
}

type fakeRolloutLoader struct {
	items []ResponseItem
	err   error
}

func (f fakeRolloutLoader) LoadRollout(ctx context.Context, resumePath string) ([]ResponseItem, error) {
	return f.items, f.err
}

// blockingModelClient lets a test observe that a turn has started (so it
// can submit an Interrupt or a queued UserInput mid-turn) before choosing
// what the model "replies" with, via two channels only — no shared mutable
// state to race on.
type blockingModelClient struct {
	started chan struct{}
	respond chan []StreamEvent
}

func newBlockingModelClient() *blockingModelClient {
	return &blockingModelClient{started: make(chan struct{}, 8), respond: make(chan []StreamEvent)}
}

func (c *blockingModelClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	c.started <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case events := <-c.respond:
		ch := make(chan StreamEvent, len(events))
		for _, ev := range events {
			ch <- ev
		}
		close(ch)
		return ch, nil
	}
}

// finish unblocks the currently-waiting Stream call with events as its
// result.
func (c *blockingModelClient) finish(events ...StreamEvent) {
	c.respond <- events
}
