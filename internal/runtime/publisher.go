package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/apilog/internal/runtime/errors"
	"github.com/drblury/apilog/internal/runtime/events"
	idspkg "github.com/drblury/apilog/internal/runtime/ids"
	metadatapkg "github.com/drblury/apilog/internal/runtime/metadata"
)

// Producer emits API lifecycle events onto the bus.
type Producer interface {
	PublishEvent(ctx context.Context, event events.Event, metadata metadatapkg.Metadata) error
}

// NewEventMessage encodes the event in its wire form and wraps it in a
// Watermill message carrying the event_kind header. The message ID is a
// ULID stamped with the event timestamp.
func NewEventMessage(event events.Event, metadata metadatapkg.Metadata) (*message.Message, error) {
	payload, err := events.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := message.NewMessage(idspkg.NewAt(event.Timestamp), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadata.With(metadatapkg.KeyEventKind, event.Kind.String()))
	return msg, nil
}

// PublishEvent publishes the event to the topic of its kind.
func PublishEvent(ctx context.Context, publisher message.Publisher, event events.Event, metadata metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	topic := event.Kind.Topic()
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	msg, err := NewEventMessage(event, metadata)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// EventPublisher adapts a message.Publisher to Producer.
type EventPublisher struct {
	Publisher message.Publisher
}

func (p EventPublisher) PublishEvent(ctx context.Context, event events.Event, metadata metadatapkg.Metadata) error {
	return PublishEvent(ctx, p.Publisher, event, metadata)
}
