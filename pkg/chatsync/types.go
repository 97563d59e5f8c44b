package chatsync

import (
	"time"
)

// Identity is an authenticated chat user. Exactly one identity is "self"
// per session; peers carry an empty Token.
type Identity struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"profilePicture,omitempty"`
	Token     string `json:"token,omitempty"`
}

// MessageKind discriminates message payloads.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
)

// Message is an immutable chat message. The backing store assigns the ID at
// creation time; a client-composed message has no ID until the store
// acknowledges it.
type Message struct {
	ID        string        `json:"_id"`
	Sender    Identity      `json:"sender"`
	Kind      MessageKind   `json:"messageType"`
	Content   string        `json:"content"`
	FileURL   string        `json:"fileUrl,omitempty"`
	Chat      *Conversation `json:"chat,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ConversationID returns the id of the conversation the message belongs to,
// or "" when the wire payload carried no conversation reference.
func (m Message) ConversationID() string {
	if m.Chat == nil {
		return ""
	}
	return m.Chat.ID
}

// Conversation is a one-to-one or group thread. LatestMessage and UpdatedAt
// are maintained by the chat list reconciler; the participant set is
// immutable after creation.
type Conversation struct {
	ID            string     `json:"_id"`
	Name          string     `json:"chatName"`
	IsGroup       bool       `json:"isGroupChat"`
	Participants  []Identity `json:"users"`
	LatestMessage *Message   `json:"latestMessage,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt,omitempty"`
}

// Peer returns the participant that is not selfID. For group conversations
// there is no single peer and the zero Identity is returned.
func (c Conversation) Peer(selfID string) (Identity, bool) {
	if c.IsGroup {
		return Identity{}, false
	}
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p, true
		}
	}
	return Identity{}, false
}

// DisplayName resolves the name shown for the conversation: the group name,
// or the peer's name for one-to-one threads.
func (c Conversation) DisplayName(selfID string) string {
	if c.IsGroup {
		return c.Name
	}
	if peer, ok := c.Peer(selfID); ok {
		return peer.Name
	}
	return c.Name
}

// NotificationEntry is one buffered unseen message for a non-active
// conversation.
type NotificationEntry struct {
	ConversationID string
	Message        Message
}

// TypingState is the ephemeral "peer is typing" display state for a
// conversation. It self-expires and is never persisted.
type TypingState struct {
	ConversationID string
	FromID         string
	ExpiresAt      time.Time
}

// ChannelState is the transport channel lifecycle state.
type ChannelState int32

const (
	ChannelClosed ChannelState = iota
	ChannelConnecting
	ChannelOpen
)

func (s ChannelState) String() string {
	switch s {
	case ChannelClosed:
		return "closed"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	default:
		return "unknown"
	}
}
