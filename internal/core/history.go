package core

import "sync"

// ConversationHistory is an append-only, by-value-cloneable list of
// ResponseItems. It is owned by the Session and carried across session
// reconfiguration (spec §3).
//
// Grounded on gentica's msgHistory accumulation pattern in
// llm/agent/agent.go's processGeneration (append-only slice threaded
// through the turn loop), generalized into an explicit owned type so the
// Session can clone it on ConfigureSession without aliasing the old
// Session's backing array.
type ConversationHistory struct {
	mu    sync.Mutex
	items []ResponseItem
}

// NewConversationHistory returns an empty history.
func NewConversationHistory() *ConversationHistory {
	return &ConversationHistory{}
}

// Append adds items to the end of the history.
func (h *ConversationHistory) Append(items ...ResponseItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, items...)
}

// Contents returns a copy of the current history, safe to use after the
// call returns without holding the lock.
func (h *ConversationHistory) Contents() []ResponseItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ResponseItem, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of items currently recorded.
func (h *ConversationHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Clone returns a new ConversationHistory holding a copy of this one's
// items; the clone shares neither backing array nor lock with h.
func (h *ConversationHistory) Clone() *ConversationHistory {
	return &ConversationHistory{items: h.Contents()}
}

// TruncateToLastN keeps only the last n items (used by CompactTask to
// collapse history to the final message after summarization).
func (h *ConversationHistory) TruncateToLastN(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 {
		h.items = nil
		return
	}
	if len(h.items) <= n {
		return
	}
	h.items = append([]ResponseItem(nil), h.items[len(h.items)-n:]...)
}
