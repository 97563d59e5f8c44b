// Package wstransport implements the streamed chat channel over a
// websocket. Frames are JSON envelopes of the form {"event": ..., "data":
// ...}; inbound events are online-users, receive-message and typing,
// outbound events are add-user, send-message and typing.
package wstransport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/openline-chat/openline/pkg/chatsync"
)

// Inbound and outbound event names on the wire.
const (
	eventOnlineUsers    = "online-users"
	eventReceiveMessage = "receive-message"
	eventTyping         = "typing"
	eventAddUser        = "add-user"
	eventSendMessage    = "send-message"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	eventBufferSize         = 64
)

// Config describes a websocket channel.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	Reconnect        ReconnectPolicy
	Dialer           *websocket.Dialer // optional override, mainly for tests
	Logger           zerolog.Logger
}

// Channel is a chatsync.Transport over a websocket connection. It follows
// the Closed -> Connecting -> Open -> Closed lifecycle, announces the
// session identity after each successful dial and reconnects with
// exponential backoff until Close is called.
type Channel struct {
	cfg    Config
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	state   chatsync.ChannelState
	conn    *websocket.Conn
	self    chatsync.Identity
	started bool

	events     chan chatsync.Event
	done       chan struct{}
	closeOnce  sync.Once
	eventsOnce sync.Once
}

var _ chatsync.Transport = &Channel{}

func New(cfg Config) (*Channel, error) {
	if cfg.URL == "" {
		return nil, errors.New("websocket URL is empty")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		timeout := cfg.HandshakeTimeout
		if timeout <= 0 {
			timeout = defaultHandshakeTimeout
		}
		dialer = &websocket.Dialer{HandshakeTimeout: timeout}
	}
	return &Channel{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "wstransport").Logger(),
		dialer: dialer,
		state:  chatsync.ChannelClosed,
		events: make(chan chatsync.Event, eventBufferSize),
		done:   make(chan struct{}),
	}, nil
}

// Open dials the channel, announces the identity and starts the read loop.
func (c *Channel) Open(ctx context.Context, self chatsync.Identity) error {
	c.mu.Lock()
	select {
	case <-c.done:
		// Close was already called; the events channel is gone for good and
		// a read loop must never come up again.
		c.mu.Unlock()
		return errors.New("channel is shut down")
	default:
	}
	if c.state != chatsync.ChannelClosed || c.started {
		c.mu.Unlock()
		return errors.New("channel is not closed")
	}
	c.state = chatsync.ChannelConnecting
	c.self = self
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = chatsync.ChannelClosed
		c.mu.Unlock()
		return errors.Wrap(err, "dial channel")
	}

	c.mu.Lock()
	c.conn = conn
	c.state = chatsync.ChannelOpen
	c.started = true
	c.mu.Unlock()

	if err := c.announce(); err != nil {
		_ = c.Close()
		return errors.Wrap(err, "announce identity")
	}

	go c.run()
	c.log.Info().Str("url", c.cfg.URL).Str("user_id", self.ID).Msg("channel open")
	return nil
}

// Close tears the channel down. Valid from any state, idempotent, always
// ends in Closed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	started := c.started
	c.state = chatsync.ChannelClosed
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	// The run goroutine owns the events channel; close it here only when
	// the loop never started.
	if !started {
		c.drainAndCloseEvents()
	}
	return nil
}

// Events returns the inbound event stream. It is closed when the channel
// shuts down for good.
func (c *Channel) Events() <-chan chatsync.Event { return c.events }

// State reports the channel lifecycle state.
func (c *Channel) State() chatsync.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendMessage relays a store-acknowledged message to the target peer.
func (c *Channel) SendMessage(_ context.Context, msg chatsync.Message, toID string) error {
	payload := struct {
		chatsync.Message
		ReceiverID string `json:"receiverId,omitempty"`
	}{Message: msg, ReceiverID: toID}
	return c.send(eventSendMessage, payload)
}

// SendTyping relays a typing-start signal for a conversation.
func (c *Channel) SendTyping(_ context.Context, conversationID, fromID, toID string) error {
	payload := typingPayload{ChatID: conversationID, UserID: fromID, ReceiverID: toID}
	return c.send(eventTyping, payload)
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type typingPayload struct {
	ChatID     string `json:"chatId"`
	UserID     string `json:"userId"`
	ReceiverID string `json:"receiverId,omitempty"`
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// announce tells the server side which identity this channel belongs to so
// presence tracking includes it.
func (c *Channel) announce() error {
	c.mu.Lock()
	self := c.self
	c.mu.Unlock()
	return c.send(eventAddUser, self.ID)
}

func (c *Channel) send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "encode %s payload", event)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != chatsync.ChannelOpen || c.conn == nil {
		return chatsync.ErrTransportUnavailable
	}
	if err := c.conn.WriteJSON(envelope{Event: event, Data: raw}); err != nil {
		return errors.Wrapf(err, "write %s frame", event)
	}
	return nil
}

// run reads frames until the connection drops, then reconnects per policy.
// It owns the events channel and closes it when the channel is done.
func (c *Channel) run() {
	defer c.drainAndCloseEvents()
	for {
		c.readLoop()
		select {
		case <-c.done:
			return
		default:
		}
		if !c.reconnect() {
			return
		}
	}
}

func (c *Channel) readLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug().Err(err).Msg("channel read ended")
			}
			return
		}
		ev, ok := c.decode(data)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) decode(data []byte) (chatsync.Event, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn().Err(err).Msg("dropping undecodable frame")
		return nil, false
	}
	switch env.Event {
	case eventOnlineUsers:
		var ids []string
		if err := json.Unmarshal(env.Data, &ids); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed presence snapshot")
			return nil, false
		}
		return chatsync.PresenceSnapshotEvent{UserIDs: ids}, true
	case eventReceiveMessage:
		var msg chatsync.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed message frame")
			return nil, false
		}
		return chatsync.MessageArrivedEvent{Message: msg}, true
	case eventTyping:
		var p typingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed typing frame")
			return nil, false
		}
		return chatsync.TypingEvent{ConversationID: p.ChatID, FromID: p.UserID}, true
	default:
		c.log.Debug().Str("event", env.Event).Msg("ignoring unknown frame")
		return nil, false
	}
}

// reconnect re-dials with backoff until it succeeds, the policy gives up or
// Close is called. It reports whether the channel is open again.
func (c *Channel) reconnect() bool {
	policy := c.cfg.Reconnect.withDefaults()
	if !policy.Enabled {
		c.mu.Lock()
		c.state = chatsync.ChannelClosed
		c.mu.Unlock()
		return false
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = chatsync.ChannelConnecting
	c.mu.Unlock()

	for attempt := 0; policy.MaxAttempts <= 0 || attempt < policy.MaxAttempts; attempt++ {
		delay := policy.Delay(attempt)
		c.log.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("channel reconnecting")
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		timeout := c.dialer.HandshakeTimeout
		if timeout <= 0 {
			timeout = defaultHandshakeTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.log.Debug().Err(err).Int("attempt", attempt+1).Msg("reconnect dial failed")
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.state = chatsync.ChannelOpen
		c.mu.Unlock()
		if err := c.announce(); err != nil {
			c.log.Debug().Err(err).Msg("re-announce failed")
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.state = chatsync.ChannelConnecting
			c.mu.Unlock()
			continue
		}
		c.log.Info().Msg("channel reconnected")
		return true
	}

	c.mu.Lock()
	c.state = chatsync.ChannelClosed
	c.mu.Unlock()
	return false
}

func (c *Channel) drainAndCloseEvents() {
	c.closeOnce.Do(func() { close(c.done) })
	c.eventsOnce.Do(func() { close(c.events) })
}
