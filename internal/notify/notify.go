// Package notify implements the notifier collaborator (spec §6): an
// optional external command spawned, detached, on turn completion with a
// JSON payload describing the finished turn. Failures are logged only —
// the notifier never participates in turn success/failure.
//
// Grounded on the teacher's process-spawning idiom in
// llm/agent/agent.go (slog around an exec.Command, errors never
// propagated back into the turn loop), generalized from the teacher's
// in-process callback hooks to an actual subprocess since this spec's
// notifier is explicitly "a vector of command+args" run out-of-process.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
)

// TurnCompletePayload is appended, JSON-encoded, as the last argument to
// the notifier command (spec §6: `{type:"agent-turn-complete", turn_id,
// input_messages, last_assistant_message?}`).
type TurnCompletePayload struct {
	Type                string   `json:"type"`
	TurnID              string   `json:"turn_id"`
	InputMessages       []string `json:"input_messages"`
	LastAssistantMessage *string `json:"last_assistant_message,omitempty"`
}

// Notifier spawns the configured command, detached, once per completed
// turn. A nil or empty Command makes every call a no-op, so callers can
// hold a Notifier unconditionally instead of branching on configuration.
type Notifier struct {
	Command []string
}

// New returns a Notifier for the given command+args vector. An empty
// vector disables notification.
func New(command []string) *Notifier {
	return &Notifier{Command: command}
}

// NotifyTurnComplete spawns the notifier command with the turn-complete
// payload appended as its final argument. It never blocks the caller on
// the spawned process's lifetime, and never returns an error: per spec
// §7, "notifier spawn failures: logged; never abort the turn."
func (n *Notifier) NotifyTurnComplete(ctx context.Context, turnID string, inputMessages []string, lastAssistantMessage *string) {
	if n == nil || len(n.Command) == 0 {
		return
	}

	payload := TurnCompletePayload{
		Type:                 "agent-turn-complete",
		TurnID:               turnID,
		InputMessages:        inputMessages,
		LastAssistantMessage: lastAssistantMessage,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		slog.Error("notify: failed to encode turn-complete payload", "turn_id", turnID, "error", err)
		return
	}

	args := append([]string{}, n.Command[1:]...)
	args = append(args, string(b))
	cmd := exec.CommandContext(context.WithoutCancel(ctx), n.Command[0], args...)

	if err := cmd.Start(); err != nil {
		slog.Error("notify: failed to spawn notifier", "turn_id", turnID, "command", n.Command[0], "error", err)
		return
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Warn("notify: notifier command exited with error", "turn_id", turnID, "error", err)
		}
	}()
}

// String renders the command vector for logging/diagnostics.
func (n *Notifier) String() string {
	if n == nil || len(n.Command) == 0 {
		return "<none>"
	}
	return fmt.Sprintf("%v", n.Command)
}
