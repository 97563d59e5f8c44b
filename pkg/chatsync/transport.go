package chatsync

import "context"

// Event is an inbound streamed channel event. The set is closed: presence
// snapshots, message arrivals and typing signals.
type Event interface {
	isEvent()
}

// PresenceSnapshotEvent carries a full replacement set of online user ids.
// The transport delivers snapshots, not deltas.
type PresenceSnapshotEvent struct {
	UserIDs []string
}

// MessageArrivedEvent carries a peer message with its embedded conversation.
type MessageArrivedEvent struct {
	Message Message
}

// TypingEvent signals that FromID is typing in ConversationID.
type TypingEvent struct {
	ConversationID string
	FromID         string
}

func (PresenceSnapshotEvent) isEvent() {}
func (MessageArrivedEvent) isEvent()   {}
func (TypingEvent) isEvent()           {}

// Transport is a bidirectional streamed event connection bound to one user
// identity. Lifecycle: Closed -> Connecting -> Open -> Closed. Close is
// valid from any state and idempotent. While open, inbound events are
// delivered on Events(); the channel is closed when the transport shuts
// down for good.
type Transport interface {
	// Open dials the channel and announces the identity to the server side
	// so presence tracking includes it. It returns once the channel is open
	// or the dial failed.
	Open(ctx context.Context, self Identity) error
	// Close tears the channel down. Safe to call from any state, any
	// number of times.
	Close() error
	// Events returns the inbound event stream.
	Events() <-chan Event
	// State reports the current channel lifecycle state.
	State() ChannelState
	// SendMessage relays a store-acknowledged message to the target peer.
	SendMessage(ctx context.Context, msg Message, toID string) error
	// SendTyping relays a typing-start signal for a conversation.
	SendTyping(ctx context.Context, conversationID, fromID, toID string) error
}
