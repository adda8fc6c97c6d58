package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationHistoryAppendAndContents(t *testing.T) {
	t.Parallel()
	h := NewConversationHistory()
	require.Equal(t, 0, h.Len())

	h.Append(textContentItem(RoleUser, "hi"), textContentItem(RoleAssistant, "hello"))
	require.Equal(t, 2, h.Len())

	contents := h.Contents()
	require.Len(t, contents, 2)
	contents[0].Message.Content[0].Text = "mutated"
	require.Equal(t, "hi", h.Contents()[0].Message.Content[0].Text, "Contents must return a copy, not the backing slice")
}

func TestConversationHistoryClone(t *testing.T) {
	t.Parallel()
	h := NewConversationHistory()
	h.Append(textContentItem(RoleUser, "one"))

	clone := h.Clone()
	h.Append(textContentItem(RoleUser, "two"))

	require.Equal(t, 1, clone.Len(), "clone must not observe appends made after it was taken")
	require.Equal(t, 2, h.Len())
}

func TestConversationHistoryTruncateToLastN(t *testing.T) {
	t.Parallel()

	t.Run("keeps last n", func(t *testing.T) {
		h := NewConversationHistory()
		h.Append(textContentItem(RoleUser, "a"), textContentItem(RoleUser, "b"), textContentItem(RoleUser, "c"))
		h.TruncateToLastN(1)
		contents := h.Contents()
		require.Len(t, contents, 1)
		require.Equal(t, "c", contents[0].Message.Content[0].Text)
	})

	t.Run("n larger than length is a no-op", func(t *testing.T) {
		h := NewConversationHistory()
		h.Append(textContentItem(RoleUser, "a"))
		h.TruncateToLastN(5)
		require.Equal(t, 1, h.Len())
	})

	t.Run("n <= 0 clears", func(t *testing.T) {
		h := NewConversationHistory()
		h.Append(textContentItem(RoleUser, "a"))
		h.TruncateToLastN(0)
		require.Equal(t, 0, h.Len())
	})
}
