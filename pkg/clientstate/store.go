// Package clientstate persists the small amount of client-side state the
// engine consults at startup: the session identity/token under a fixed key
// and the theme preference. Conversation history is never persisted here;
// the sync engine is rebuilt from the backing store on each session.
package clientstate

import (
	"context"

	"github.com/openline-chat/openline/pkg/chatsync"
)

// Fixed storage keys, matching the original client's storage layout.
const (
	KeySession = "session"
	KeyTheme   = "themeMode"
)

// Store is the persisted client state surface. Session save/load/clear is
// wired to the session manager's login/logout transitions; the theme is an
// unrelated preference kept alongside it.
type Store interface {
	chatsync.SessionStore
	LoadSession(ctx context.Context) (chatsync.Identity, bool, error)
	SaveTheme(ctx context.Context, mode string) error
	LoadTheme(ctx context.Context) (string, bool, error)
	Close() error
}
