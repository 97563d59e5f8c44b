package statebus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/openline-chat/openline/pkg/chatsync"
)

// FramePublisher binds a bus topic to the engine's StatePublisher contract.
type FramePublisher struct {
	bus   *Bus
	topic string
}

var _ chatsync.StatePublisher = &FramePublisher{}

func NewFramePublisher(bus *Bus, topic string) (*FramePublisher, error) {
	if bus == nil {
		return nil, errors.New("frame publisher bus is nil")
	}
	if topic == "" {
		return nil, errors.New("frame publisher topic is empty")
	}
	return &FramePublisher{bus: bus, topic: topic}, nil
}

// PublishState encodes the frame as JSON and publishes it on the bound
// topic.
func (p *FramePublisher) PublishState(_ context.Context, frame chatsync.StateFrame) error {
	if p == nil || p.bus == nil || p.bus.Publisher() == nil {
		return errors.New("frame publisher is not initialized")
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return errors.Wrap(err, "encode state frame")
	}
	msg := message.NewMessage(frame.ID, payload)
	return p.bus.Publisher().Publish(p.topic, msg)
}

// DecodeFrame parses a bus message back into a state frame.
func DecodeFrame(msg *message.Message) (chatsync.StateFrame, error) {
	if msg == nil {
		return chatsync.StateFrame{}, errors.New("message is nil")
	}
	var frame chatsync.StateFrame
	if err := json.Unmarshal(msg.Payload, &frame); err != nil {
		return chatsync.StateFrame{}, errors.Wrap(err, "decode state frame")
	}
	return frame, nil
}
