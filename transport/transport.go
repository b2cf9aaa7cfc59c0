// Package transport builds the message bus the ingestion consumer reads from.
// Each broker lives in its own sub-package and registers a Builder with the
// registry under the name used by the pubsub_system setting.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines the publisher and subscriber produced by a builder.
// The consumer only needs the subscriber; the publisher serves producers
// such as the load generator.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both sides, subscriber first so in-flight deliveries stop
// before the publisher goes away. Shared pub/subs are closed once.
func (t Transport) Close() error {
	var firstErr error
	if t.Subscriber != nil {
		firstErr = t.Subscriber.Close()
	}
	if t.Publisher != nil && !sameInstance(t.Publisher, t.Subscriber) {
		if err := t.Publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClosePublisher closes the publisher unless it is also the subscriber,
// which its owner closes separately.
func (t Transport) ClosePublisher() error {
	if t.Publisher == nil || sameInstance(t.Publisher, t.Subscriber) {
		return nil
	}
	return t.Publisher.Close()
}

func sameInstance(pub message.Publisher, sub message.Subscriber) bool {
	if sub == nil {
		return false
	}
	s, ok := sub.(message.Publisher)
	return ok && s == pub
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports read. It lets transports depend on
// an interface instead of the full config package.
type Config interface {
	GetPubSubSystem() string

	// Shared by the brokers that have consumer groups or client names.
	GetConsumerGroup() string
	GetClientID() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaInitialOffset() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Starter is implemented by subscribers that only begin receiving once every
// topic has been subscribed, such as the HTTP transport's listener.
type Starter interface {
	Start(ctx context.Context) error
}
