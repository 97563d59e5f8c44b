package chatsync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresenceTracker_SnapshotReplacesEntireSet(t *testing.T) {
	p := NewPresenceTracker()
	require.True(t, p.OnSnapshot(1, []string{"u1", "u2"}))
	require.True(t, p.IsOnline("u1"))
	require.True(t, p.IsOnline("u2"))

	require.True(t, p.OnSnapshot(2, []string{"u3"}))
	require.False(t, p.IsOnline("u1"))
	require.False(t, p.IsOnline("u2"))
	require.True(t, p.IsOnline("u3"))
	require.Len(t, p.Online(), 1)
}

func TestPresenceTracker_RejectsStaleSnapshots(t *testing.T) {
	p := NewPresenceTracker()
	require.True(t, p.OnSnapshot(5, []string{"u1"}))
	require.False(t, p.OnSnapshot(5, []string{"u2"}))
	require.False(t, p.OnSnapshot(3, []string{"u2"}))
	require.True(t, p.IsOnline("u1"))
	require.EqualValues(t, 5, p.LastSeq())
}

func TestPresenceTracker_EmptySnapshotClearsSet(t *testing.T) {
	p := NewPresenceTracker()
	require.True(t, p.OnSnapshot(1, []string{"u1"}))
	require.True(t, p.OnSnapshot(2, nil))
	require.False(t, p.IsOnline("u1"))
	require.Empty(t, p.Online())
}
