package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func storeMsg(id, convID string, at time.Time) Message {
	return Message{
		ID:        id,
		Kind:      KindText,
		Content:   "m-" + id,
		Chat:      &Conversation{ID: convID},
		CreatedAt: at,
	}
}

func TestMessageStore_CompleteLoadSortsAscending(t *testing.T) {
	s := NewMessageStore()
	token := s.SwitchActive("c1")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	history := []Message{
		storeMsg("m3", "c1", base.Add(2*time.Second)),
		storeMsg("m1", "c1", base),
		storeMsg("m2", "c1", base.Add(time.Second)),
	}
	require.NoError(t, s.CompleteLoad("c1", token, history))
	require.False(t, s.Loading())

	got := s.Messages()
	require.Len(t, got, 3)
	require.Equal(t, "m1", got[0].ID)
	require.Equal(t, "m2", got[1].ID)
	require.Equal(t, "m3", got[2].ID)
}

func TestMessageStore_AppendDeduplicatesByID(t *testing.T) {
	s := NewMessageStore()
	token := s.SwitchActive("c1")
	require.NoError(t, s.CompleteLoad("c1", token, nil))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, s.Append(storeMsg("m1", "c1", at)))
	before := s.Len()
	require.False(t, s.Append(storeMsg("m1", "c1", at)))
	require.Equal(t, before, s.Len())
}

func TestMessageStore_AppendIgnoresOtherConversations(t *testing.T) {
	s := NewMessageStore()
	token := s.SwitchActive("c1")
	require.NoError(t, s.CompleteLoad("c1", token, nil))

	require.False(t, s.Append(storeMsg("m1", "c2", time.Now())))
	require.Zero(t, s.Len())
}

func TestMessageStore_StreamedArrivalMergesWithPendingLoad(t *testing.T) {
	s := NewMessageStore()
	token := s.SwitchActive("c1")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// A streamed message lands before the history response resolves.
	require.True(t, s.Append(storeMsg("m3", "c1", base.Add(2*time.Second))))
	require.True(t, s.Loading())

	history := []Message{
		storeMsg("m1", "c1", base),
		storeMsg("m2", "c1", base.Add(time.Second)),
		storeMsg("m3", "c1", base.Add(2*time.Second)), // already streamed in
	}
	require.NoError(t, s.CompleteLoad("c1", token, history))

	got := s.Messages()
	require.Len(t, got, 3)
	require.Equal(t, []string{"m1", "m2", "m3"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestMessageStore_StaleLoadIsDiscarded(t *testing.T) {
	s := NewMessageStore()
	tokenC1 := s.SwitchActive("c1")
	tokenC2 := s.SwitchActive("c2")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := s.CompleteLoad("c1", tokenC1, []Message{storeMsg("m1", "c1", base)})
	require.ErrorIs(t, err, ErrStaleResponse)
	require.Equal(t, "c2", s.ActiveID())
	require.Zero(t, s.Len())

	require.NoError(t, s.CompleteLoad("c2", tokenC2, []Message{storeMsg("m9", "c2", base)}))
	require.Equal(t, 1, s.Len())
}

func TestMessageStore_ReloadSameConversationSupersedesToken(t *testing.T) {
	s := NewMessageStore()
	first := s.SwitchActive("c1")
	second := s.SwitchActive("c1")
	require.NotEqual(t, first, second)

	err := s.CompleteLoad("c1", first, nil)
	require.ErrorIs(t, err, ErrStaleResponse)
	require.NoError(t, s.CompleteLoad("c1", second, nil))
}

func TestMessageStore_FailLoadClearsPendingState(t *testing.T) {
	s := NewMessageStore()
	token := s.SwitchActive("c1")
	require.True(t, s.Loading())

	s.FailLoad("c1", token)
	require.False(t, s.Loading())

	// A stale failure leaves the current load untouched.
	fresh := s.SwitchActive("c1")
	s.FailLoad("c1", token)
	require.True(t, s.Loading())
	require.NoError(t, s.CompleteLoad("c1", fresh, nil))
}
