package core

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// HistoryStore is the persisted-history-file collaborator (spec §6): an
// opaque, append-only text log keyed by log id and offset, backing
// AddToHistory and GetHistoryEntryRequest. Concrete implementation lives
// in internal/rollout (Store.AddHistoryEntry/GetHistoryEntry).
type HistoryStore interface {
	AddHistoryEntry(ctx context.Context, logID, text string) error
	GetHistoryEntry(ctx context.Context, logID string, offset int) (text string, ok bool, err error)
}

// RolloutLoader resolves a ConfigureSession's ResumePath to the prior
// session's recorded items (spec §4.1 resume, invariant 4: "history
// equals the prior session's recorded items before any new input").
// Concrete implementation lives in internal/rollout, backed by
// Store.Resume.
type RolloutLoader interface {
	LoadRollout(ctx context.Context, resumePath string) ([]ResponseItem, error)
}

// Dispatcher is the submission loop: a single long-lived component
// driving one per-session Session object (spec §2). It owns the inbound
// Submission queue and outbound Event queue, routes each Submission's Op
// to the current Session, and forwards the Session's Events back out
// tagged with the originating submission id (spec §4.1).
//
// Grounded on gentica's AgentManager (llm/agent/manager.go) for the
// submission-consuming-goroutine-over-a-channel shape, but deliberately
// narrowed from its csync.Map[id]Service registry (gentica runs many
// agents per process) down to the single *Session the spec's Dispatcher
// actually owns: "a single long-lived Dispatcher driving a per-session
// Session object" (spec §2). ConfigureSession replaces that one Session
// wholesale, carrying over the cloneable subset (history, approved
// commands) from whatever Session preceded it (spec §3, invariant 10).
type Dispatcher struct {
	mu      sync.Mutex
	session *Session

	submissions chan Submission
	events      chan Event

	newSession func(events chan Event) *Session

	historyStore  HistoryStore
	rolloutLoader RolloutLoader
}

// NewDispatcher returns a Dispatcher with no Session yet; one is created
// on the first ConfigureSession, via newSession. newSession is handed the
// Dispatcher's own outbound event channel, so every Event a Session emits
// directly (ExecCommandBegin/End, approval requests, TurnDiff,
// BackgroundEvent, …) flows through the same queue as the events the
// Dispatcher forwards itself — there is only ever one outbound queue
// (spec §5: "a single unbounded output queue").
func NewDispatcher(newSession func(events chan Event) *Session) *Dispatcher {
	return &Dispatcher{
		submissions: make(chan Submission, 64),
		events:      make(chan Event, 64),
		newSession:  newSession,
	}
}

// SetHistoryStore installs the persisted-history-file collaborator.
// Without one, AddToHistory is a no-op and GetHistoryEntryRequest always
// replies with no entry — acceptable for callers that don't need history
// search (e.g. tests).
func (d *Dispatcher) SetHistoryStore(store HistoryStore) {
	d.historyStore = store
}

// SetRolloutLoader installs the collaborator that resolves a
// ConfigureSession's ResumePath to the prior session's recorded items.
// Without one, a non-empty ResumePath is logged and ignored, and nothing
// is resumed.
func (d *Dispatcher) SetRolloutLoader(loader RolloutLoader) {
	d.rolloutLoader = loader
}

// Submit enqueues a Submission for processing. The submission queue holds
// 64 entries; Submit blocks while it is full, until Run takes one off.
func (d *Dispatcher) Submit(sub Submission) {
	d.submissions <- sub
}

// Events returns the Dispatcher's outbound event channel.
func (d *Dispatcher) Events() <-chan Event {
	return d.events
}

// PostEvent pushes ev directly onto the outbound event queue, for host
// wiring that needs to surface an externally-observed condition (e.g. a
// tool-server startup failure, spec §4.1: "non-fatal Error events emitted
// after the SessionConfigured event") without it going through a Session.
func (d *Dispatcher) PostEvent(ev Event) {
	d.events <- ev
}

// Run consumes Submissions until ctx is cancelled or Shutdown is
// processed. Each Submission is handled synchronously by the dispatch
// loop except for UserInput, which starts or queues onto an AgentTask
// running on its own goroutine — matching spec §4.1's requirement that
// Interrupt/ExecApproval/PatchApproval submissions are never blocked
// behind a long-running turn. A process-wide cancellation (ctx.Done())
// is spec §4.1's "cancellation signal while idle": abort any active
// task, then stop.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.events)
	for {
		select {
		case <-ctx.Done():
			d.interruptCurrent()
			return
		case sub, ok := <-d.submissions:
			if !ok {
				return
			}
			if d.handle(ctx, sub) {
				return
			}
		}
	}
}

func (d *Dispatcher) current() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *Dispatcher) interruptCurrent() {
	if sess := d.current(); sess != nil {
		sess.InterruptActiveTask()
	}
}

// handle dispatches one Submission and reports whether the Dispatcher
// should stop (OpShutdown, or a fatal ConfigureSession error per spec
// §4.1/§7 "non-absolute cwd ... is fatal for the dispatcher").
func (d *Dispatcher) handle(ctx context.Context, sub Submission) bool {
	if sub.Op.Kind == OpConfigureSession {
		return d.handleConfigureSession(ctx, sub)
	}

	sess := d.current()
	if sess == nil {
		d.events <- Event{ID: sub.ID, Msg: EventMsg{Kind: EventError, Error: &ErrorMsg{Message: "No session initialized, ignoring op " + string(sub.Op.Kind)}}}
		return false
	}

	switch sub.Op.Kind {
	case OpUserInput:
		if sub.Op.UserInput == nil {
			return false
		}
		sess.StartTask(ctx, sub.ID, sub.Op.UserInput.Items, func(taskCtx context.Context, subID string, items []ResponseInputItem) error {
			return d.runTurnLoop(taskCtx, sess, subID, items)
		})

	case OpInterrupt:
		sess.InterruptActiveTask()

	case OpExecApproval:
		if sub.Op.ExecApproval != nil {
			sess.Approvals().Resolve(sub.Op.ExecApproval.ID, sub.Op.ExecApproval.Decision)
		}

	case OpPatchApproval:
		if sub.Op.PatchApproval != nil {
			sess.Approvals().Resolve(sub.Op.PatchApproval.ID, sub.Op.PatchApproval.Decision)
		}

	case OpAddToHistory:
		if sub.Op.AddToHistory != nil {
			d.addToHistory(ctx, sess, sub.Op.AddToHistory.Text)
		}

	case OpGetHistoryEntryRequest:
		req := GetHistoryEntryParams{}
		if sub.Op.GetHistoryEntry != nil {
			req = *sub.Op.GetHistoryEntry
		}
		go d.lookupHistoryEntry(ctx, sess, sub.ID, req)

	case OpCompact:
		sess.StartTask(ctx, sub.ID, nil, func(taskCtx context.Context, subID string, _ []ResponseInputItem) error {
			return d.runCompact(taskCtx, sess, subID)
		})

	case OpShutdown:
		d.shutdown(ctx, sub.ID)
		return true

	default:
		slog.Warn("core: unhandled op kind", "kind", sub.Op.Kind)
	}
	return false
}

// handleConfigureSession implements spec §4.1's ConfigureSession branch:
// validate cwd is absolute (fatal otherwise), abort and carry over the
// cloneable subset of any existing Session, construct the replacement,
// and emit SessionConfigured.
func (d *Dispatcher) handleConfigureSession(ctx context.Context, sub Submission) bool {
	p := sub.Op.ConfigureSession
	if p == nil || !filepath.IsAbs(p.Cwd) {
		cwd := ""
		if p != nil {
			cwd = p.Cwd
		}
		d.events <- Event{ID: sub.ID, Msg: EventMsg{Kind: EventError, Error: &ErrorMsg{Message: "cwd must be absolute, got " + cwd}}}
		return true
	}

	prev := d.current()
	var priorHistory []ResponseItem
	var priorApproved [][]string
	if prev != nil {
		prev.InterruptActiveTask()
		priorHistory = prev.History().Contents()
		priorApproved = prev.Gate().ApprovedCommands()
	}

	sess := d.newSession(d.events)

	if p.ResumePath != "" && d.rolloutLoader == nil {
		slog.Warn("core: resume requested but no rollout loader is configured", "resume_path", p.ResumePath)
	} else if p.ResumePath != "" {
		resumed, err := d.rolloutLoader.LoadRollout(ctx, p.ResumePath)
		if err != nil {
			d.events <- Event{ID: sub.ID, Msg: EventMsg{Kind: EventError, Error: &ErrorMsg{Message: "resume " + p.ResumePath + ": " + err.Error()}}}
			return true
		}
		if len(resumed) > 0 {
			sess.History().Append(resumed...)
		}
	}
	if len(priorHistory) > 0 {
		sess.History().Append(priorHistory...)
	}
	if len(priorApproved) > 0 {
		sess.Gate().SetApprovedCommands(priorApproved)
	}
	// Input queued on an AgentTask that finishes mid-flight is replayed
	// through runQueuedFollowUp (session.go's awaitTask), which only knows
	// how to call back into whatever TaskRunner is installed here — Session
	// can't build a turn loop itself without importing the Dispatcher.
	sess.SetTaskRunner(func(taskCtx context.Context, subID string, items []ResponseInputItem) error {
		return d.runTurnLoop(taskCtx, sess, subID, items)
	})

	ev := sess.Configure(ctx, sub.ID, p)

	d.mu.Lock()
	d.session = sess
	d.mu.Unlock()

	d.events <- ev
	return false
}

func (d *Dispatcher) shutdown(ctx context.Context, subID string) {
	d.interruptCurrent()
	d.events <- Event{ID: subID, Msg: EventMsg{Kind: EventShutdownComplete}}
}

func (d *Dispatcher) addToHistory(ctx context.Context, sess *Session, text string) {
	if d.historyStore == nil {
		return
	}
	logID := sess.Config().HistoryLogID
	if err := d.historyStore.AddHistoryEntry(ctx, logID, text); err != nil {
		slog.Warn("core: add_to_history failed", "error", err)
	}
}

// lookupHistoryEntry runs the (potentially blocking) history-file lookup
// off the dispatch loop's goroutine, per spec §4.1: "run the file lookup
// on a blocking executor; reply with GetHistoryEntryResponse".
func (d *Dispatcher) lookupHistoryEntry(ctx context.Context, sess *Session, subID string, req GetHistoryEntryParams) {
	logID := req.LogID
	if logID == "" {
		logID = sess.Config().HistoryLogID
	}

	resp := &GetHistoryEntryResponseMsg{Offset: req.Offset, LogID: logID}
	if d.historyStore != nil {
		if text, ok, err := d.historyStore.GetHistoryEntry(ctx, logID, req.Offset); err != nil {
			slog.Warn("core: get_history_entry failed", "error", err)
		} else if ok {
			resp.Entry = &text
		}
	}

	select {
	case d.events <- Event{ID: subID, Msg: EventMsg{Kind: EventGetHistoryEntryResponse, GetHistoryEntryResponse: resp}}:
	case <-ctx.Done():
	}
}

// SessionFor exposes the current Session, if any. Used by wiring code
// (cmd/) that needs access after ConfigureSession has run, e.g. to read
// back final history for a rollout flush.
func (d *Dispatcher) SessionFor() *Session {
	return d.current()
}

func newHistoryLogID() string {
	return uuid.NewString()
}

// runTurnLoop drives a Session's AgentTask: append the submitted items to
// history, then keep calling TurnRunner.RunTurn, appending each turn's
// items and model output back into history, until the model stops
// requesting tools (spec §4.3-§4.4: a turn loop that feeds tool outputs
// back as new input until FinishReasonEndTurn-equivalent).
func (d *Dispatcher) runTurnLoop(ctx context.Context, sess *Session, subID string, items []ResponseInputItem) error {
	sess.History().Append(items...)

	turnRunner := NewTurnRunner(sess.client, sess, DefaultRetryPolicy, func(msg EventMsg) {
		select {
		case d.events <- Event{ID: subID, Msg: msg}:
		case <-ctx.Done():
		}
	}, sess.diffTracker())

	cfg := sess.Config()
	var lastMessage *string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if aborted := reconcileAbortedCalls(sess.History().Contents()); len(aborted) > 0 {
			sess.History().Append(aborted...)
		}

		req := CompletionRequest{
			Model:            cfg.Model,
			Instructions:     cfg.UserInstructions,
			Input:            sess.History().Contents(),
			ReasoningEffort:  cfg.ReasoningEffort,
			ReasoningSummary: cfg.ReasoningSummary,
		}
		if cfg.BaseInstructionsOverride != "" {
			req.Instructions = cfg.BaseInstructionsOverride
		}

		result, err := turnRunner.RunTurn(ctx, subID, req)
		if err != nil {
			return err
		}

		for _, pi := range result.Items {
			sess.History().Append(pi.Item)
			if pi.Response != nil {
				sess.History().Append(*pi.Response)
			}
			if pi.Item.Kind == ItemMessage && pi.Item.Message != nil && pi.Item.Message.Role == RoleAssistant {
				for _, part := range pi.Item.Message.Content {
					if part.Kind == ContentOutputText {
						text := part.Text
						lastMessage = &text
					}
				}
			}
		}

		if !result.NeedsAnotherTurn {
			break
		}
	}

	d.events <- Event{ID: subID, Msg: EventMsg{Kind: EventTaskComplete, TaskComplete: &TaskCompleteMsg{LastAgentMessage: lastMessage}}}
	return nil
}
