package chatsync

import (
	"sort"

	"github.com/google/uuid"
)

// MessageStore holds the ordered message history of the currently active
// conversation. At most one history is materialized at a time; switching
// conversations discards the previous list and triggers a fresh load.
//
// The store tolerates the race between a REST history load and streamed
// arrivals for the same conversation: arrivals are appended immediately and
// the load result is merged by message id rather than applied wholesale.
// A load completion for a conversation that is no longer active, or for a
// superseded load token, is discarded.
//
// MessageStore is not goroutine-safe; the engine serializes access.
type MessageStore struct {
	activeID  string
	loading   bool
	loadToken string
	messages  []Message
	byID      map[string]struct{}
}

func NewMessageStore() *MessageStore {
	return &MessageStore{byID: map[string]struct{}{}}
}

// SwitchActive makes conversationID the active conversation, discards the
// previous in-memory list and returns a load token that must accompany the
// matching CompleteLoad call.
func (s *MessageStore) SwitchActive(conversationID string) string {
	s.activeID = conversationID
	s.messages = nil
	s.byID = map[string]struct{}{}
	s.loading = conversationID != ""
	s.loadToken = ""
	if s.loading {
		s.loadToken = uuid.NewString()
	}
	return s.loadToken
}

// Append adds msg to the tail if it belongs to the active conversation and
// its id is not already present. It reports whether the store changed.
// Appending for a different conversation is a no-op; routing such messages
// to the notification accumulator is the caller's responsibility.
func (s *MessageStore) Append(msg Message) bool {
	if s.activeID == "" || msg.ConversationID() != s.activeID {
		return false
	}
	if msg.ID != "" {
		if _, dup := s.byID[msg.ID]; dup {
			return false
		}
		s.byID[msg.ID] = struct{}{}
	}
	s.messages = append(s.messages, msg)
	return true
}

// CompleteLoad merges a finished history load into the store. History is
// merged with already-appended streamed messages by id, and the result is
// sorted ascending by CreatedAt. Stale completions return ErrStaleResponse
// and leave the store untouched.
func (s *MessageStore) CompleteLoad(conversationID, token string, history []Message) error {
	if conversationID != s.activeID || token == "" || token != s.loadToken {
		return ErrStaleResponse
	}
	for _, msg := range history {
		if msg.ID != "" {
			if _, dup := s.byID[msg.ID]; dup {
				continue
			}
			s.byID[msg.ID] = struct{}{}
		}
		s.messages = append(s.messages, msg)
	}
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
	s.loading = false
	s.loadToken = ""
	return nil
}

// FailLoad clears the loading state for a failed load. Stale failures are
// ignored.
func (s *MessageStore) FailLoad(conversationID, token string) {
	if conversationID != s.activeID || token == "" || token != s.loadToken {
		return
	}
	s.loading = false
	s.loadToken = ""
}

// ActiveID returns the active conversation id, or "" when none is selected.
func (s *MessageStore) ActiveID() string { return s.activeID }

// Loading reports whether a history load is pending for the active
// conversation.
func (s *MessageStore) Loading() bool { return s.loading }

// Len returns the number of materialized messages.
func (s *MessageStore) Len() int { return len(s.messages) }

// Messages returns a copy of the active conversation's ordered history.
func (s *MessageStore) Messages() []Message {
	if len(s.messages) == 0 {
		return nil
	}
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}
