package chatsync

// NotificationAccumulator buffers streamed messages that arrive for
// conversations other than the active one and exposes per-conversation
// unread counts. Entries accumulate until their conversation becomes the
// active selection, at which point Clear removes them atomically.
//
// NotificationAccumulator is not goroutine-safe; the engine serializes
// access.
type NotificationAccumulator struct {
	entries []NotificationEntry
}

func NewNotificationAccumulator() *NotificationAccumulator {
	return &NotificationAccumulator{}
}

// Add appends one entry for an unseen inbound message. Messages without a
// conversation reference are dropped.
func (n *NotificationAccumulator) Add(msg Message) bool {
	convID := msg.ConversationID()
	if convID == "" {
		return false
	}
	n.entries = append(n.entries, NotificationEntry{ConversationID: convID, Message: msg})
	return true
}

// UnreadCountFor returns the number of buffered entries for a conversation.
func (n *NotificationAccumulator) UnreadCountFor(conversationID string) int {
	count := 0
	for _, e := range n.entries {
		if e.ConversationID == conversationID {
			count++
		}
	}
	return count
}

// Clear removes all entries for a conversation. It must be invoked exactly
// when that conversation becomes the active selection; calling it for a
// conversation with no entries is a no-op.
func (n *NotificationAccumulator) Clear(conversationID string) {
	if len(n.entries) == 0 {
		return
	}
	kept := n.entries[:0]
	for _, e := range n.entries {
		if e.ConversationID != conversationID {
			kept = append(kept, e)
		}
	}
	n.entries = kept
}

// Total returns the number of buffered entries across all conversations.
func (n *NotificationAccumulator) Total() int { return len(n.entries) }

// Entries returns a copy of the buffered entries in arrival order.
func (n *NotificationAccumulator) Entries() []NotificationEntry {
	if len(n.entries) == 0 {
		return nil
	}
	out := make([]NotificationEntry, len(n.entries))
	copy(out, n.entries)
	return out
}
