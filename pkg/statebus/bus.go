// Package statebus fans engine state frames out to external views. The
// default backend is an in-process gochannel pub/sub; a Redis Streams
// backend can be enabled so several processes can observe one session.
package statebus

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Settings selects and configures the bus backend.
type Settings struct {
	RedisEnabled bool   `yaml:"redisEnabled"`
	Addr         string `yaml:"addr"`
	Group        string `yaml:"group"`
	Consumer     string `yaml:"consumer"`
}

// TopicForUser computes the per-session state topic.
func TopicForUser(userID string) string { return "chat:state:" + userID }

// Bus owns a watermill publisher/subscriber pair.
type Bus struct {
	pub          message.Publisher
	sub          message.Subscriber
	redisEnabled bool
	addr         string
}

// New builds a Bus from settings: Redis Streams when enabled, otherwise an
// in-memory gochannel pub/sub.
func New(s Settings, log zerolog.Logger) (*Bus, error) {
	logger := NewWatermillLogger(log)

	if !s.RedisEnabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return &Bus{pub: ch, sub: ch}, nil
	}

	if s.Addr == "" {
		return nil, errors.New("redis state bus requires an address")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build redis subscriber")
	}
	return &Bus{pub: pub, sub: sub, redisEnabled: true, addr: s.Addr}, nil
}

// Publisher returns the bus publisher.
func (b *Bus) Publisher() message.Publisher {
	if b == nil {
		return nil
	}
	return b.pub
}

// Subscribe returns the message stream for a topic. With the Redis backend
// the consumer group is created at the stream tail first, so a fresh
// subscriber does not replay the full history.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if b == nil || b.sub == nil {
		return nil, errors.New("state bus is not initialized")
	}
	if topic == "" {
		return nil, errors.New("topic is empty")
	}
	if b.redisEnabled {
		if err := EnsureGroupAtTail(ctx, b.addr, topic, "views"); err != nil {
			return nil, errors.Wrap(err, "ensure consumer group")
		}
	}
	return b.sub.Subscribe(ctx, topic)
}

// Close shuts both halves down.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var first error
	if b.pub != nil {
		if err := b.pub.Close(); err != nil {
			first = err
		}
	}
	if b.sub != nil {
		if closer, ok := b.sub.(interface{ Close() error }); ok {
			if sameBackend(b.pub, b.sub) {
				return first
			}
			if err := closer.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func sameBackend(pub message.Publisher, sub message.Subscriber) bool {
	p, ok := pub.(*gochannel.GoChannel)
	if !ok {
		return false
	}
	s, ok := sub.(*gochannel.GoChannel)
	return ok && p == s
}

// EnsureGroupAtTail creates the consumer group for a stream at the tail ($)
// if it does not exist, preventing a full historical replay on first
// subscribe.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP means the group already exists.
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	return nil
}
