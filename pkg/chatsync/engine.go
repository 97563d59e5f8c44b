package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func newFrameID() string { return uuid.NewString() }

// Backend is the REST backing store consumed by the engine. Calls carry the
// session's bearer credential; failures are reported to the initiating
// caller and never retried internally.
type Backend interface {
	ListChats(ctx context.Context) ([]Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	AccessChat(ctx context.Context, userID string) (Conversation, error)
	CreateGroup(ctx context.Context, name string, userIDs []string) (Conversation, error)
	SendMessage(ctx context.Context, req SendMessageRequest) (Message, error)
	SearchUsers(ctx context.Context, query string) ([]Identity, error)
}

// SendMessageRequest is the payload persisted through the backing store.
type SendMessageRequest struct {
	Content        string      `json:"content"`
	ConversationID string      `json:"chatId"`
	Kind           MessageKind `json:"messageType"`
	FileURL        string      `json:"fileUrl,omitempty"`
}

// StateFrame is a state-change notification published by the engine for
// external views (conversation list, unread badges, presence dots).
type StateFrame struct {
	Type    string    `json:"type"`
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// State frame types published by the engine.
const (
	FramePresenceChanged    = "presence-changed"
	FrameMessageAppended    = "message-appended"
	FrameHistoryLoaded      = "history-loaded"
	FrameUnreadChanged      = "unread-changed"
	FrameConversationUpdate = "conversation-updated"
	FrameTypingChanged      = "typing-changed"
)

// StatePublisher receives engine state frames. Publishing is best-effort;
// the engine ignores publish failures beyond logging them.
type StatePublisher interface {
	PublishState(ctx context.Context, frame StateFrame) error
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Backend      Backend
	Publisher    StatePublisher // optional
	TypingWindow time.Duration  // zero means DefaultTypingWindow
	Clock        func() time.Time
	Logger       zerolog.Logger
}

// Engine is the real-time session synchronization core. It owns the live
// channel's consumer loop, merges streamed events with REST-loaded state,
// tracks unread notifications per conversation and keeps the conversation
// list's latest-activity ordering correct.
//
// All mutations to the presence tracker, message store, notification
// accumulator and chat list are serialized through one mutex: the single
// logical event timeline. REST calls run outside the lock so a pending
// history load never blocks event routing.
type Engine struct {
	log     zerolog.Logger
	backend Backend
	pub     StatePublisher
	clock   func() time.Time

	mu        sync.Mutex
	self      Identity
	transport Transport
	presence  *PresenceTracker
	store     *MessageStore
	notify    *NotificationAccumulator
	chatlist  *ChatListReconciler
	typing    *TypingDebouncer

	presenceSeq uint64
	consumeStop context.CancelFunc
	consumeDone chan struct{}
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, errors.New("engine backend is nil")
	}
	return &Engine{
		log:      cfg.Logger.With().Str("component", "chatsync").Logger(),
		backend:  cfg.Backend,
		pub:      cfg.Publisher,
		clock:    cfg.Clock,
		presence: NewPresenceTracker(),
		store:    NewMessageStore(),
		notify:   NewNotificationAccumulator(),
		chatlist: NewChatListReconciler(),
		typing:   NewTypingDebouncer(cfg.TypingWindow, cfg.Clock),
	}, nil
}

// bindSession installs the session identity and transport. The session
// manager calls this on login, before starting the consumer loop.
func (e *Engine) bindSession(self Identity, transport Transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.self = self
	e.transport = transport
}

// resetSession drops all per-session state. The session manager calls this
// on logout, after the channel is closed.
func (e *Engine) resetSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.self = Identity{}
	e.transport = nil
	e.presence = NewPresenceTracker()
	e.store = NewMessageStore()
	e.notify = NewNotificationAccumulator()
	e.chatlist = NewChatListReconciler()
	e.typing = NewTypingDebouncer(e.typing.Window(), e.clock)
	e.presenceSeq = 0
}

// startConsuming launches the channel consumer loop. It returns immediately;
// the loop ends when the transport's event channel closes or ctx is done.
func (e *Engine) startConsuming(ctx context.Context, transport Transport) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.mu.Lock()
	e.consumeStop = cancel
	e.consumeDone = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		events := transport.Events()
		for {
			select {
			case <-loopCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					e.log.Debug().Msg("transport event stream closed")
					return
				}
				e.HandleEvent(loopCtx, ev)
			}
		}
	}()
}

// stopConsuming halts the consumer loop and waits for it to drain.
func (e *Engine) stopConsuming() {
	e.mu.Lock()
	stop := e.consumeStop
	done := e.consumeDone
	e.consumeStop = nil
	e.consumeDone = nil
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
	if done != nil {
		<-done
	}
}

// HandleEvent applies one inbound channel event to the session timeline.
// For any inbound message exactly one of the message store and the
// notification accumulator gains an entry, never both.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) {
	e.mu.Lock()
	switch event := ev.(type) {
	case PresenceSnapshotEvent:
		e.presenceSeq++
		applied := e.presence.OnSnapshot(e.presenceSeq, event.UserIDs)
		e.mu.Unlock()
		if applied {
			e.publish(ctx, FramePresenceChanged, map[string]any{"online": event.UserIDs})
		}
		return

	case MessageArrivedEvent:
		msg := event.Message
		convID := msg.ConversationID()
		if convID == "" {
			e.mu.Unlock()
			e.log.Warn().Str("message_id", msg.ID).Msg("dropping message without conversation")
			return
		}
		e.chatlist.OnMessageCommitted(msg)
		if convID == e.store.ActiveID() {
			appended := e.store.Append(msg)
			e.mu.Unlock()
			if !appended {
				// Redelivered id; absorbed as a no-op.
				e.log.Debug().Str("message_id", msg.ID).Msg("duplicate message absorbed")
				return
			}
			e.publish(ctx, FrameMessageAppended, msg)
		} else {
			e.notify.Add(msg)
			unread := e.notify.UnreadCountFor(convID)
			e.mu.Unlock()
			e.publish(ctx, FrameUnreadChanged, map[string]any{"conversationId": convID, "unread": unread})
		}
		e.publish(ctx, FrameConversationUpdate, map[string]any{"conversationId": convID})
		return

	case TypingEvent:
		e.typing.OnPeerTyping(event.ConversationID, event.FromID)
		e.mu.Unlock()
		e.publish(ctx, FrameTypingChanged, map[string]any{
			"conversationId": event.ConversationID,
			"fromId":         event.FromID,
			"typing":         true,
		})
		return

	default:
		e.mu.Unlock()
	}
}

// SelectConversation makes conversationID the active selection: clears its
// notification entries, discards the previous history and loads the new
// one from the backing store. A response that arrives after the selection
// changed again is discarded silently.
func (e *Engine) SelectConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		e.mu.Lock()
		e.store.SwitchActive("")
		e.mu.Unlock()
		return nil
	}

	e.mu.Lock()
	e.notify.Clear(conversationID)
	token := e.store.SwitchActive(conversationID)
	e.mu.Unlock()
	e.publish(ctx, FrameUnreadChanged, map[string]any{"conversationId": conversationID, "unread": 0})

	history, err := e.backend.Messages(ctx, conversationID)
	if err != nil {
		e.mu.Lock()
		e.store.FailLoad(conversationID, token)
		e.mu.Unlock()
		return errors.Wrap(err, "load history")
	}

	e.mu.Lock()
	mergeErr := e.store.CompleteLoad(conversationID, token, history)
	count := e.store.Len()
	e.mu.Unlock()
	if mergeErr != nil {
		// The user switched away while the load was in flight.
		e.log.Debug().Str("conversation_id", conversationID).Msg("discarding stale history load")
		return nil
	}
	e.publish(ctx, FrameHistoryLoaded, map[string]any{"conversationId": conversationID, "count": count})
	return nil
}

// SendMessage persists a message through the backing store, appends the
// acknowledged copy to the active history, updates the chat list and relays
// the message over the channel to the peer.
func (e *Engine) SendMessage(ctx context.Context, req SendMessageRequest) (Message, error) {
	e.mu.Lock()
	self := e.self
	e.mu.Unlock()
	if self.ID == "" {
		return Message{}, ErrNotLoggedIn
	}
	if req.Kind == "" {
		req.Kind = KindText
	}

	msg, err := e.backend.SendMessage(ctx, req)
	if err != nil {
		return Message{}, errors.Wrap(err, "send message")
	}

	e.mu.Lock()
	appended := e.store.Append(msg)
	e.chatlist.OnMessageCommitted(msg)
	conv, known := e.chatlist.Get(msg.ConversationID())
	transport := e.transport
	e.mu.Unlock()

	// Sending into a non-active conversation materializes nothing locally,
	// so no append frame goes out for it.
	if appended {
		e.publish(ctx, FrameMessageAppended, msg)
	}
	e.publish(ctx, FrameConversationUpdate, map[string]any{"conversationId": msg.ConversationID()})

	if transport != nil && transport.State() == ChannelOpen {
		toID := ""
		if known {
			if peer, ok := conv.Peer(self.ID); ok {
				toID = peer.ID
			}
		}
		if err := transport.SendMessage(ctx, msg, toID); err != nil {
			// The store already holds the message; live relay is best effort.
			e.log.Warn().Err(err).Str("message_id", msg.ID).Msg("channel relay failed")
		}
	}
	return msg, nil
}

// NotifyLocalTyping records a local keystroke and, at most once per rolling
// window, relays a typing-start to the conversation's peer.
func (e *Engine) NotifyLocalTyping(ctx context.Context, conversationID string) {
	e.mu.Lock()
	emit := e.typing.NotifyLocalActivity(conversationID)
	self := e.self
	conv, known := e.chatlist.Get(conversationID)
	transport := e.transport
	e.mu.Unlock()

	if !emit || transport == nil || transport.State() != ChannelOpen {
		return
	}
	toID := ""
	if known {
		if peer, ok := conv.Peer(self.ID); ok {
			toID = peer.ID
		}
	}
	if err := transport.SendTyping(ctx, conversationID, self.ID, toID); err != nil {
		e.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("typing relay failed")
	}
}

// RefreshChats reloads the conversation list from the backing store.
func (e *Engine) RefreshChats(ctx context.Context) error {
	chats, err := e.backend.ListChats(ctx)
	if err != nil {
		return errors.Wrap(err, "list chats")
	}
	e.mu.Lock()
	e.chatlist.Replace(chats)
	e.mu.Unlock()
	e.publish(ctx, FrameConversationUpdate, map[string]any{"count": len(chats)})
	return nil
}

// CreateDirectChat creates or accesses the one-to-one conversation with
// userID and inserts it at the head of the list when new.
func (e *Engine) CreateDirectChat(ctx context.Context, userID string) (Conversation, error) {
	conv, err := e.backend.AccessChat(ctx, userID)
	if err != nil {
		return Conversation{}, errors.Wrap(err, "access chat")
	}
	e.mu.Lock()
	e.chatlist.OnConversationCreated(conv)
	e.mu.Unlock()
	e.publish(ctx, FrameConversationUpdate, map[string]any{"conversationId": conv.ID})
	return conv, nil
}

// CreateGroupChat creates a group conversation and inserts it at the head
// of the list.
func (e *Engine) CreateGroupChat(ctx context.Context, name string, userIDs []string) (Conversation, error) {
	conv, err := e.backend.CreateGroup(ctx, name, userIDs)
	if err != nil {
		return Conversation{}, errors.Wrap(err, "create group")
	}
	e.mu.Lock()
	e.chatlist.OnConversationCreated(conv)
	e.mu.Unlock()
	e.publish(ctx, FrameConversationUpdate, map[string]any{"conversationId": conv.ID})
	return conv, nil
}

// SearchUsers queries the backing store's identity search.
func (e *Engine) SearchUsers(ctx context.Context, query string) ([]Identity, error) {
	users, err := e.backend.SearchUsers(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "search users")
	}
	return users, nil
}

// Self returns the session identity.
func (e *Engine) Self() Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// Conversations returns the chat list, most recently active first.
func (e *Engine) Conversations() []Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chatlist.Conversations()
}

// ActiveConversationID returns the active conversation id, or "".
func (e *Engine) ActiveConversationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ActiveID()
}

// Messages returns the active conversation's ordered history.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Messages()
}

// UnreadCountFor returns the buffered unread count for a conversation.
func (e *Engine) UnreadCountFor(conversationID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notify.UnreadCountFor(conversationID)
}

// IsOnline reports whether a user is in the last presence snapshot.
func (e *Engine) IsOnline(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presence.IsOnline(userID)
}

// OnlineUsers returns the last presence snapshot.
func (e *Engine) OnlineUsers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presence.Online()
}

// IsPeerTyping reports whether the peer-typing indicator for a conversation
// is live.
func (e *Engine) IsPeerTyping(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typing.IsPeerTyping(conversationID)
}

func (e *Engine) publish(ctx context.Context, frameType string, payload any) {
	if e.pub == nil {
		return
	}
	frame := StateFrame{
		Type:    frameType,
		ID:      frameType + ":" + newFrameID(),
		At:      time.Now(),
		Payload: payload,
	}
	if err := e.pub.PublishState(ctx, frame); err != nil {
		e.log.Debug().Err(err).Str("frame_type", frameType).Msg("state publish failed")
	}
}
