package core

import "context"

// compactInstructions is the base_instructions_override a CompactTask
// sends instead of the session's normal instructions (spec §4.7: "a
// single prompt containing (history + synthetic user input) with
// base_instructions_override = compact_instructions, no tools, no
// environment context").
const compactInstructions = "You are summarizing a conversation so it can continue with a much shorter history. Produce a concise summary that preserves every fact, decision, and open question the assistant will still need. Reply with the summary only, no preamble."

// compactTriggerText is the synthetic user input appended before the
// summarization turn (spec §4.1's Compact op: "inject compact-trigger
// input").
const compactTriggerText = "Please summarize our conversation so far."

// runCompact implements CompactTask (spec §4.7): issue a single
// summarization turn with no tools and no environment context, drain it
// to completion, then collapse history to the last message and report
// completion without a last_agent_message — the compact turn's own
// summary text is not surfaced as an assistant message; the "Compact
// task completed" notice is.
//
// Grounded on gentica's SummaryMessageID truncation in
// llm/agent/agent.go's processGeneration (msgs = msgs[summaryMsgIndex:]),
// generalized from "replay history starting at a marker message" to
// "replace history outright with the freshly produced summary", since the
// core has no persisted message store to re-slice — ConversationHistory
// is in-memory only and TruncateToLastN is the equivalent primitive.
func (d *Dispatcher) runCompact(ctx context.Context, sess *Session, subID string) error {
	sess.History().Append(ResponseItem{
		Kind: ItemMessage,
		Message: &MessageItem{
			Role:    RoleUser,
			Content: []ContentPart{{Kind: ContentInputText, Text: compactTriggerText}},
		},
	})

	turnRunner := NewTurnRunner(sess.client, sess, DefaultRetryPolicy, func(msg EventMsg) {
		// The summary only goes into history; it is not surfaced as
		// assistant message events.
		if msg.Kind == EventAgentMessage || msg.Kind == EventAgentMessageDelta {
			return
		}
		select {
		case d.events <- Event{ID: subID, Msg: msg}:
		case <-ctx.Done():
		}
	}, sess.diffTracker())

	if aborted := reconcileAbortedCalls(sess.History().Contents()); len(aborted) > 0 {
		sess.History().Append(aborted...)
	}

	cfg := sess.Config()
	req := CompletionRequest{
		Model:        cfg.Model,
		Instructions: compactInstructions,
		Input:        sess.History().Contents(),
	}

	result, err := turnRunner.RunTurn(ctx, subID, req)
	if err != nil {
		return err
	}

	var summary string
	for _, pi := range result.Items {
		if pi.Item.Kind != ItemMessage || pi.Item.Message == nil || pi.Item.Message.Role != RoleAssistant {
			continue
		}
		for _, part := range pi.Item.Message.Content {
			if part.Kind == ContentOutputText {
				summary += part.Text
			}
		}
	}

	if summary != "" {
		sess.History().Append(ResponseItem{
			Kind: ItemMessage,
			Message: &MessageItem{
				Role:    RoleAssistant,
				Content: []ContentPart{{Kind: ContentOutputText, Text: summary}},
			},
		})
	}
	sess.History().TruncateToLastN(1)

	d.events <- Event{ID: subID, Msg: EventMsg{Kind: EventAgentMessage, AgentMessage: &TextMsg{Text: "Compact task completed"}}}
	d.events <- Event{ID: subID, Msg: EventMsg{Kind: EventTaskComplete, TaskComplete: &TaskCompleteMsg{}}}
	return nil
}
