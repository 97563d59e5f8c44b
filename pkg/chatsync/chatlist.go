package chatsync

import (
	"sort"
	"time"
)

// ChatListReconciler maintains the set of conversations and their
// latest-message summaries for a conversation-list view. The collection is
// kept sorted descending by UpdatedAt so the most recently active
// conversation sorts first, and UpdatedAt never regresses.
//
// ChatListReconciler is not goroutine-safe; the engine serializes access.
type ChatListReconciler struct {
	order []*Conversation
	byID  map[string]*Conversation
}

func NewChatListReconciler() *ChatListReconciler {
	return &ChatListReconciler{byID: map[string]*Conversation{}}
}

// Replace installs a freshly listed conversation collection, typically from
// a REST chat list load, and sorts it by latest activity.
func (r *ChatListReconciler) Replace(conversations []Conversation) {
	r.order = make([]*Conversation, 0, len(conversations))
	r.byID = make(map[string]*Conversation, len(conversations))
	for i := range conversations {
		conv := conversations[i]
		if conv.ID == "" {
			continue
		}
		if _, dup := r.byID[conv.ID]; dup {
			continue
		}
		c := &conv
		r.order = append(r.order, c)
		r.byID[conv.ID] = c
	}
	r.resort()
}

// OnConversationCreated inserts a new conversation at the head of the list.
// Inserting an already known conversation is a no-op.
func (r *ChatListReconciler) OnConversationCreated(conv Conversation) {
	if conv.ID == "" {
		return
	}
	if _, ok := r.byID[conv.ID]; ok {
		return
	}
	c := &conv
	r.order = append([]*Conversation{c}, r.order...)
	r.byID[conv.ID] = c
}

// OnMessageCommitted updates the matching conversation's latest message and
// activity timestamp, then re-sorts the collection. It is called for both
// self-sent and peer-received messages. A message for an unknown
// conversation inserts the conversation embedded in the message, so threads
// discovered over the stream appear in the list without a full reload.
func (r *ChatListReconciler) OnMessageCommitted(msg Message) {
	convID := msg.ConversationID()
	if convID == "" {
		return
	}
	conv, ok := r.byID[convID]
	if !ok {
		if msg.Chat == nil {
			return
		}
		created := *msg.Chat
		r.OnConversationCreated(created)
		conv = r.byID[convID]
	}

	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	// UpdatedAt is monotonically non-decreasing: a late-arriving older
	// message must not push the conversation down the list.
	if !at.Before(conv.UpdatedAt) {
		m := msg
		conv.LatestMessage = &m
		conv.UpdatedAt = at
	}
	r.resort()
}

// Get returns the conversation with the given id.
func (r *ChatListReconciler) Get(conversationID string) (Conversation, bool) {
	conv, ok := r.byID[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return *conv, true
}

// Len returns the number of conversations.
func (r *ChatListReconciler) Len() int { return len(r.order) }

// Conversations returns a copy of the collection, head first.
func (r *ChatListReconciler) Conversations() []Conversation {
	if len(r.order) == 0 {
		return nil
	}
	out := make([]Conversation, 0, len(r.order))
	for _, c := range r.order {
		out = append(out, *c)
	}
	return out
}

func (r *ChatListReconciler) resort() {
	sort.SliceStable(r.order, func(i, j int) bool {
		return r.order[i].UpdatedAt.After(r.order[j].UpdatedAt)
	})
}
