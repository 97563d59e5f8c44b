package chatsync

import "time"

// DefaultTypingWindow is the rolling window for outbound typing emission
// and the lifetime of an inbound peer-typing indicator.
const DefaultTypingWindow = 3 * time.Second

// TypingDebouncer converts local keystroke bursts into a rate-limited
// outgoing typing signal and an expiring "peer is typing" display state.
//
// The outbound side is a leading-edge, trailing-expiry debounce: the first
// keystroke in a quiet period emits immediately and suppresses further
// emissions until the window has elapsed with no new keystrokes. Suppression
// compares a stored window-end timestamp against the clock read at call
// time; there is no captured flag that can go stale across rapid key
// sequences.
//
// TypingDebouncer is not goroutine-safe; the engine serializes access.
type TypingDebouncer struct {
	window       time.Duration
	now          func() time.Time
	lastActivity map[string]time.Time
	peers        map[string]TypingState
}

// NewTypingDebouncer builds a debouncer with the given rolling window. A
// non-positive window falls back to DefaultTypingWindow. The clock function
// is injectable for tests; nil means time.Now, whose readings carry a
// monotonic component.
func NewTypingDebouncer(window time.Duration, now func() time.Time) *TypingDebouncer {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	if now == nil {
		now = time.Now
	}
	return &TypingDebouncer{
		window:       window,
		now:          now,
		lastActivity: map[string]time.Time{},
		peers:        map[string]TypingState{},
	}
}

// Window returns the configured rolling window.
func (d *TypingDebouncer) Window() time.Duration { return d.window }

// NotifyLocalActivity records a local keystroke for a conversation and
// reports whether an outbound typing-start should be emitted now. At most
// one emission happens per rolling window; every keystroke extends the
// quiet period required before the next emission.
func (d *TypingDebouncer) NotifyLocalActivity(conversationID string) bool {
	now := d.now()
	last, seen := d.lastActivity[conversationID]
	d.lastActivity[conversationID] = now
	if !seen {
		return true
	}
	return now.Sub(last) >= d.window
}

// OnPeerTyping records an inbound typing event, arming the display state
// for one window from now.
func (d *TypingDebouncer) OnPeerTyping(conversationID, fromID string) {
	d.peers[conversationID] = TypingState{
		ConversationID: conversationID,
		FromID:         fromID,
		ExpiresAt:      d.now().Add(d.window),
	}
}

// IsPeerTyping reports whether the peer-typing indicator for a conversation
// is still live. Expiry is evaluated against the clock at call time, so the
// indicator clears itself independent of further events.
func (d *TypingDebouncer) IsPeerTyping(conversationID string) bool {
	state, ok := d.peers[conversationID]
	if !ok {
		return false
	}
	if d.now().Before(state.ExpiresAt) {
		return true
	}
	delete(d.peers, conversationID)
	return false
}

// PeerTyping returns the live typing state for a conversation, if any.
func (d *TypingDebouncer) PeerTyping(conversationID string) (TypingState, bool) {
	if !d.IsPeerTyping(conversationID) {
		return TypingState{}, false
	}
	return d.peers[conversationID], true
}

// Sweep prunes expired peer indicators and stale local-activity records.
// Correctness does not depend on it; it bounds memory on long sessions.
func (d *TypingDebouncer) Sweep() {
	now := d.now()
	for id, state := range d.peers {
		if !now.Before(state.ExpiresAt) {
			delete(d.peers, id)
		}
	}
	for id, last := range d.lastActivity {
		if now.Sub(last) >= d.window {
			delete(d.lastActivity, id)
		}
	}
}
