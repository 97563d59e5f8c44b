package statebus

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/openline-chat/openline/pkg/chatsync"
)

func TestTopicForUser(t *testing.T) {
	require.Equal(t, "chat:state:u1", TopicForUser("u1"))
}

func TestBus_InMemoryRoundTrip(t *testing.T) {
	bus, err := New(Settings{}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := TopicForUser("u1")
	msgs, err := bus.Subscribe(ctx, topic)
	require.NoError(t, err)

	pub, err := NewFramePublisher(bus, topic)
	require.NoError(t, err)

	sent := chatsync.StateFrame{
		Type:    chatsync.FrameUnreadChanged,
		ID:      "unread-changed:1",
		At:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload: map[string]any{"conversationId": "c1", "unread": float64(2)},
	}
	require.NoError(t, pub.PublishState(ctx, sent))

	select {
	case msg := <-msgs:
		got, err := DecodeFrame(msg)
		require.NoError(t, err)
		msg.Ack()
		require.Equal(t, sent.Type, got.Type)
		require.Equal(t, sent.ID, got.ID)
		require.Equal(t, sent.Payload, got.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("frame never arrived")
	}
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	bus, err := New(Settings{}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otherMsgs, err := bus.Subscribe(ctx, TopicForUser("other"))
	require.NoError(t, err)

	pub, err := NewFramePublisher(bus, TopicForUser("u1"))
	require.NoError(t, err)
	require.NoError(t, pub.PublishState(ctx, chatsync.StateFrame{Type: chatsync.FramePresenceChanged, ID: "p:1"}))

	select {
	case msg := <-otherMsgs:
		t.Fatalf("frame leaked across topics: %s", msg.UUID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_SubscribeValidatesTopic(t *testing.T) {
	bus, err := New(Settings{}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	_, err = bus.Subscribe(context.Background(), "")
	require.Error(t, err)
}

func TestBus_RedisRequiresAddress(t *testing.T) {
	_, err := New(Settings{RedisEnabled: true}, zerolog.Nop())
	require.Error(t, err)
}

func TestFramePublisher_Validation(t *testing.T) {
	bus, err := New(Settings{}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	_, err = NewFramePublisher(nil, "topic")
	require.Error(t, err)
	_, err = NewFramePublisher(bus, "")
	require.Error(t, err)
}

func TestDecodeFrame_RejectsMalformedPayload(t *testing.T) {
	_, err := DecodeFrame(nil)
	require.Error(t, err)
}

func TestBus_CloseIsIdempotentForGoChannel(t *testing.T) {
	bus, err := New(Settings{}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, bus.Close())
}
