package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSessionStore struct {
	saved   []Identity
	cleared int
	saveErr error
}

func (s *fakeSessionStore) SaveSession(_ context.Context, self Identity) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, self)
	return nil
}

func (s *fakeSessionStore) ClearSession(context.Context) error {
	s.cleared++
	return nil
}

func newSessionManagerForTest(t *testing.T, factory TransportFactory, store SessionStore) (*SessionManager, *Engine) {
	t.Helper()
	e, err := NewEngine(EngineConfig{Backend: newFakeBackend(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	m, err := NewSessionManager(SessionManagerConfig{
		Engine:    e,
		Transport: factory,
		Sessions:  store,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return m, e
}

func TestSessionManager_LoginRequiresIdentity(t *testing.T) {
	m, _ := newSessionManagerForTest(t, nil, nil)
	require.Error(t, m.Login(context.Background(), Identity{ID: "u1"}))
	require.Error(t, m.Login(context.Background(), Identity{Token: "tok"}))
	require.False(t, m.LoggedIn())
}

func TestSessionManager_LoginWithoutFactoryRunsRestOnly(t *testing.T) {
	store := &fakeSessionStore{}
	m, e := newSessionManagerForTest(t, nil, store)

	require.NoError(t, m.Login(context.Background(), Identity{ID: "u1", Token: "tok"}))
	require.True(t, m.LoggedIn())
	require.Equal(t, "u1", e.Self().ID)
	require.Len(t, store.saved, 1)
}

func TestSessionManager_LoginSurvivesChannelFailure(t *testing.T) {
	// A dead channel degrades the session to REST-only instead of failing
	// the login.
	ft := newFakeTransport()
	ft.openErr = errors.New("dial tcp: connection refused")
	m, e := newSessionManagerForTest(t, func(Identity) Transport { return ft }, nil)

	err := m.Login(context.Background(), Identity{ID: "u1", Token: "tok"})
	require.ErrorIs(t, err, ErrTransportUnavailable)
	require.True(t, m.LoggedIn())
	require.Equal(t, "u1", e.Self().ID)
}

func TestSessionManager_LoginToleratesNilTransport(t *testing.T) {
	m, _ := newSessionManagerForTest(t, func(Identity) Transport { return nil }, nil)

	err := m.Login(context.Background(), Identity{ID: "u1", Token: "tok"})
	require.ErrorIs(t, err, ErrTransportUnavailable)
	require.True(t, m.LoggedIn())
}

func TestSessionManager_LoginStartsEventConsumption(t *testing.T) {
	ft := newFakeTransport()
	m, e := newSessionManagerForTest(t, func(Identity) Transport { return ft }, nil)

	require.NoError(t, m.Login(context.Background(), Identity{ID: "u1", Token: "tok"}))

	ft.events <- PresenceSnapshotEvent{UserIDs: []string{"u2"}}
	require.Eventually(t, func() bool { return e.IsOnline("u2") },
		time.Second, 5*time.Millisecond)

	require.NoError(t, m.Logout(context.Background()))
}

func TestSessionManager_SecondLoginImpliesLogout(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	transports := []*fakeTransport{first, second}
	store := &fakeSessionStore{}
	m, e := newSessionManagerForTest(t, func(Identity) Transport {
		next := transports[0]
		transports = transports[1:]
		return next
	}, store)

	require.NoError(t, m.Login(context.Background(), Identity{ID: "u1", Token: "tok"}))
	require.NoError(t, m.Login(context.Background(), Identity{ID: "u2", Token: "tok2"}))

	require.True(t, m.LoggedIn())
	require.Equal(t, "u2", e.Self().ID)
	require.GreaterOrEqual(t, first.closes, 1, "previous channel must be closed")
	require.Len(t, store.saved, 2)
	require.Equal(t, 1, store.cleared, "implicit logout clears the old session")

	require.NoError(t, m.Logout(context.Background()))
}

func TestSessionManager_LogoutResetsEngineState(t *testing.T) {
	ft := newFakeTransport()
	store := &fakeSessionStore{}
	m, e := newSessionManagerForTest(t, func(Identity) Transport { return ft }, store)

	ctx := context.Background()
	require.NoError(t, m.Login(ctx, Identity{ID: "u1", Token: "tok"}))
	e.HandleEvent(ctx, PresenceSnapshotEvent{UserIDs: []string{"u2"}})
	require.True(t, e.IsOnline("u2"))

	require.NoError(t, m.Logout(ctx))
	require.False(t, m.LoggedIn())
	require.Empty(t, e.Self().ID)
	require.False(t, e.IsOnline("u2"))
	require.Equal(t, 1, store.cleared)
	require.GreaterOrEqual(t, ft.closes, 1)

	// Logging out twice is a no-op.
	require.NoError(t, m.Logout(ctx))
	require.Equal(t, 1, store.cleared)
}

func TestSessionManager_DisconnectKeepsSession(t *testing.T) {
	ft := newFakeTransport()
	store := &fakeSessionStore{}
	m, e := newSessionManagerForTest(t, func(Identity) Transport { return ft }, store)

	require.NoError(t, m.Login(context.Background(), Identity{ID: "u1", Token: "tok"}))
	m.Disconnect()

	require.True(t, m.LoggedIn(), "disconnect ends the channel, not the session")
	require.Equal(t, "u1", e.Self().ID)
	require.Zero(t, store.cleared, "the persisted session survives for resume")
	require.GreaterOrEqual(t, ft.closes, 1)
}

func TestSessionManager_LoginFailsWhenSessionCannotPersist(t *testing.T) {
	store := &fakeSessionStore{saveErr: errors.New("disk full")}
	m, _ := newSessionManagerForTest(t, nil, store)

	require.Error(t, m.Login(context.Background(), Identity{ID: "u1", Token: "tok"}))
	require.False(t, m.LoggedIn())
}
