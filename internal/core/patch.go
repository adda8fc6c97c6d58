package core

import (
	"strings"
	"sync"
)

// ApplyPatchOutcomeKind classifies what happened when the core tried to
// interpret a shell command as an apply_patch body (spec §4.5 step 1).
type ApplyPatchOutcomeKind string

const (
	ApplyPatchNotApplyPatch    ApplyPatchOutcomeKind = "not_apply_patch"
	ApplyPatchShellParseError  ApplyPatchOutcomeKind = "shell_parse_error"
	ApplyPatchCorrectnessError ApplyPatchOutcomeKind = "correctness_error"
	ApplyPatchBody             ApplyPatchOutcomeKind = "body"
)

// ApplyPatchOutcome is the result of classifying one command (spec §4.5
// step 1's four-way branch).
type ApplyPatchOutcome struct {
	Kind    ApplyPatchOutcomeKind
	Changes string // human-readable summary shown in the approval request
	Err     error
}

// ApplyPatchRunner is the patch-parsing/application collaborator (out of
// scope per spec §1, supplied concretely here by internal/patch). It
// parses a command into a patch body and applies it, returning the
// unified diff of the effective change.
type ApplyPatchRunner interface {
	// Classify inspects command and reports whether it is an apply_patch
	// invocation, and if so whether its body parses.
	Classify(command []string) ApplyPatchOutcome
	// Apply runs the already-classified patch body under cwd and returns
	// the unified diff of what it changed.
	Apply(cwd string, command []string) (unifiedDiff string, err error)
}

// TurnDiffTracker accumulates the unified diff across every apply_patch
// call within one AgentTask (spec §3's TurnDiffTracker: "deterministic
// concatenation of per-patch effective changes").
type TurnDiffTracker struct {
	mu    sync.Mutex
	parts []string
}

// NewTurnDiffTracker returns an empty tracker, one per AgentTask.
func NewTurnDiffTracker() *TurnDiffTracker {
	return &TurnDiffTracker{}
}

// Add records one patch's unified diff.
func (t *TurnDiffTracker) Add(diff string) {
	if diff == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parts = append(t.parts, diff)
}

// UnifiedDiff returns the deterministic concatenation of every diff
// recorded so far, or "" if none were.
func (t *TurnDiffTracker) UnifiedDiff() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.parts, "")
}

// Reset clears the tracker for reuse across AgentTasks.
func (t *TurnDiffTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parts = nil
}
