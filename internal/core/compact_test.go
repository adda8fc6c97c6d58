package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDispatcherCompactSummarizesAndCollapsesHistory covers spec §4.7: a
// Compact op runs a no-tools summarization turn, replaces history with
// just the produced summary, and reports completion via a dedicated
// AgentMessage rather than TaskComplete.last_agent_message.
func TestDispatcherCompactSummarizesAndCollapsesHistory(t *testing.T) {
	t.Parallel()
	client := newFakeModelClient(
		[]StreamEvent{assistantReplyEvent("first reply")},
		[]StreamEvent{assistantReplyEvent("conversation summary")},
	)
	d := newTestDispatcher(client, &fakeSandbox{}, newFakeToolDispatcher())
	_, cancel := configureAndRun(t, d, t.TempDir())
	defer cancel()
	requireEventKind(t, d, EventSessionConfigured)

	d.Submit(Submission{ID: "sub-1", Op: Op{Kind: OpUserInput, UserInput: &UserInputParams{
		Items: []ResponseInputItem{textContentItem(RoleUser, "long conversation")},
	}}})
	requireEventKind(t, d, EventTaskComplete)
	require.Greater(t, d.SessionFor().History().Len(), 0)

	d.Submit(Submission{ID: "sub-2", Op: Op{Kind: OpCompact}})

	msg := requireEventKind(t, d, EventAgentMessage)
	require.Equal(t, "Compact task completed", msg.Msg.AgentMessage.Text)

	done := requireEventKind(t, d, EventTaskComplete)
	require.Nil(t, done.Msg.TaskComplete.LastAgentMessage, "a compact task reports no last_agent_message")

	contents := d.SessionFor().History().Contents()
	require.Len(t, contents, 1, "history must collapse to just the summary message")
	require.Equal(t, "conversation summary", contents[0].Message.Content[0].Text)
}

func TestRunCompactWithEmptySummaryStillCollapsesHistory(t *testing.T) {
	t.Parallel()
	client := newFakeModelClient([]StreamEvent{})
	events := make(chan Event, 64)
	sess := NewSession(client, &fakeSandbox{}, newFakeToolDispatcher(), events)
	sess.Configure(context.Background(), "cfg", &ConfigureSessionParams{Model: "m", Cwd: t.TempDir()})
	sess.History().Append(textContentItem(RoleUser, "a"), textContentItem(RoleAssistant, "b"))

	d := &Dispatcher{events: events}
	err := d.runCompact(context.Background(), sess, "sub-1")
	require.NoError(t, err)

	contents := sess.History().Contents()
	require.Len(t, contents, 1, "with no summary text the trigger message itself is what remains after TruncateToLastN(1)")
}
