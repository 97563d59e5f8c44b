package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listConv(id string, updatedAt time.Time) Conversation {
	return Conversation{ID: id, Name: "conv-" + id, UpdatedAt: updatedAt}
}

func TestChatListReconciler_ReplaceSortsByActivity(t *testing.T) {
	r := NewChatListReconciler()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r.Replace([]Conversation{
		listConv("c1", base),
		listConv("c3", base.Add(2*time.Hour)),
		listConv("c2", base.Add(time.Hour)),
	})

	got := r.Conversations()
	require.Len(t, got, 3)
	require.Equal(t, "c3", got[0].ID)
	require.Equal(t, "c2", got[1].ID)
	require.Equal(t, "c1", got[2].ID)
}

func TestChatListReconciler_OnMessageCommittedMovesConversationToHead(t *testing.T) {
	r := NewChatListReconciler()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.Replace([]Conversation{
		listConv("c1", base.Add(time.Hour)),
		listConv("c2", base),
	})

	msg := storeMsg("m1", "c2", base.Add(2*time.Hour))
	r.OnMessageCommitted(msg)

	got := r.Conversations()
	require.Equal(t, "c2", got[0].ID)
	require.NotNil(t, got[0].LatestMessage)
	require.Equal(t, "m1", got[0].LatestMessage.ID)
	// Head-to-tail the collection stays sorted descending by activity.
	for i := 1; i < len(got); i++ {
		require.False(t, got[i-1].UpdatedAt.Before(got[i].UpdatedAt))
	}
}

func TestChatListReconciler_UpdatedAtNeverRegresses(t *testing.T) {
	r := NewChatListReconciler()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.Replace([]Conversation{listConv("c1", base.Add(time.Hour))})

	// A late-arriving older message must not push the conversation down.
	r.OnMessageCommitted(storeMsg("old", "c1", base))

	got := r.Conversations()
	require.Equal(t, base.Add(time.Hour), got[0].UpdatedAt)
	require.Nil(t, got[0].LatestMessage)
}

func TestChatListReconciler_OnConversationCreatedInsertsAtHead(t *testing.T) {
	r := NewChatListReconciler()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.Replace([]Conversation{listConv("c1", base)})

	r.OnConversationCreated(listConv("c2", time.Time{}))
	require.Equal(t, "c2", r.Conversations()[0].ID)
	require.Equal(t, 2, r.Len())

	// Re-creating a known conversation is a no-op.
	r.OnConversationCreated(listConv("c2", time.Time{}))
	require.Equal(t, 2, r.Len())
}

func TestChatListReconciler_StreamDiscoveredConversationIsInserted(t *testing.T) {
	r := NewChatListReconciler()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := Message{
		ID:        "m1",
		Chat:      &Conversation{ID: "c9", Name: "fresh thread"},
		CreatedAt: base,
	}
	r.OnMessageCommitted(msg)

	got, ok := r.Get("c9")
	require.True(t, ok)
	require.Equal(t, "fresh thread", got.Name)
	require.NotNil(t, got.LatestMessage)
	require.Equal(t, base, got.UpdatedAt)
}
