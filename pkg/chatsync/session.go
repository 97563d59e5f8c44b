package chatsync

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// SessionStore persists the session identity under a fixed key so a client
// restart can resume without re-authenticating. Implementations live
// outside the core (see the clientstate package).
type SessionStore interface {
	SaveSession(ctx context.Context, self Identity) error
	ClearSession(ctx context.Context) error
}

// TransportFactory builds the streamed channel for a session identity.
type TransportFactory func(self Identity) Transport

// SessionManagerConfig wires the session manager's collaborators. Sessions
// and Transport are optional: without a transport factory the engine runs
// REST-only, without a store nothing is persisted.
type SessionManagerConfig struct {
	Engine    *Engine
	Transport TransportFactory
	Sessions  SessionStore
	Logger    zerolog.Logger
}

// SessionManager owns the authenticated identity and its lifecycle. Login
// opens the transport channel exactly once; Logout closes any open channel
// before clearing identity state. There are no retries here: failures are
// reported to the caller.
type SessionManager struct {
	log       zerolog.Logger
	engine    *Engine
	buildT    TransportFactory
	sessions  SessionStore
	transport Transport
	loggedIn  bool
}

func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if cfg.Engine == nil {
		return nil, errors.New("session manager engine is nil")
	}
	return &SessionManager{
		log:      cfg.Logger.With().Str("component", "session").Logger(),
		engine:   cfg.Engine,
		buildT:   cfg.Transport,
		sessions: cfg.Sessions,
	}, nil
}

// Login establishes a session for self. Calling Login while already logged
// in first performs an implicit Logout. When the channel cannot be opened
// the session still comes up in REST-only mode and ErrTransportUnavailable
// is returned so the caller can surface the degradation.
func (m *SessionManager) Login(ctx context.Context, self Identity) error {
	if self.ID == "" || self.Token == "" {
		return errors.New("login requires an identity with id and token")
	}
	if m.loggedIn {
		if err := m.Logout(ctx); err != nil {
			return errors.Wrap(err, "implicit logout")
		}
	}

	if m.sessions != nil {
		if err := m.sessions.SaveSession(ctx, self); err != nil {
			return errors.Wrap(err, "persist session")
		}
	}

	m.loggedIn = true
	if m.buildT == nil {
		m.engine.bindSession(self, nil)
		m.log.Info().Str("user_id", self.ID).Msg("logged in without live channel")
		return nil
	}

	transport := m.buildT(self)
	if transport == nil {
		m.engine.bindSession(self, nil)
		m.log.Warn().Str("user_id", self.ID).Msg("no channel available, running REST-only")
		return ErrTransportUnavailable
	}
	if err := transport.Open(ctx, self); err != nil {
		m.engine.bindSession(self, nil)
		m.log.Warn().Err(err).Str("user_id", self.ID).Msg("channel open failed, running REST-only")
		return errors.Wrap(ErrTransportUnavailable, err.Error())
	}
	m.transport = transport
	m.engine.bindSession(self, transport)
	m.engine.startConsuming(ctx, transport)
	m.log.Info().Str("user_id", self.ID).Str("channel", transport.State().String()).Msg("logged in")
	return nil
}

// Logout closes the open channel, clears the persisted session and resets
// all per-session engine state. Logging out while not logged in is a no-op.
func (m *SessionManager) Logout(ctx context.Context) error {
	if !m.loggedIn {
		return nil
	}
	m.engine.stopConsuming()
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.log.Warn().Err(err).Msg("channel close failed")
		}
		m.transport = nil
	}
	var clearErr error
	if m.sessions != nil {
		clearErr = m.sessions.ClearSession(ctx)
	}
	m.engine.resetSession()
	m.loggedIn = false
	m.log.Info().Msg("logged out")
	if clearErr != nil {
		return errors.Wrap(clearErr, "clear persisted session")
	}
	return nil
}

// Disconnect closes the live channel without ending the session: the
// persisted identity survives, so a restarted client can resume without
// re-authenticating. The engine keeps serving REST-backed state.
func (m *SessionManager) Disconnect() {
	if !m.loggedIn {
		return
	}
	m.engine.stopConsuming()
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.log.Warn().Err(err).Msg("channel close failed")
		}
		m.transport = nil
	}
	m.log.Info().Msg("channel disconnected")
}

// LoggedIn reports whether a session is established.
func (m *SessionManager) LoggedIn() bool { return m.loggedIn }
