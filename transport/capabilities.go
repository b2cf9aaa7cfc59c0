package transport

// Capabilities describes the delivery guarantees of a transport backend.
type Capabilities struct {
	// SupportsOrdering indicates messages within a partition/queue arrive in order.
	SupportsOrdering bool

	// SupportsAck indicates the broker waits for an explicit ack before it
	// considers a message consumed. Without it a crash can lose messages.
	SupportsAck bool

	// SupportsNack indicates the broker can redeliver a rejected message.
	SupportsNack bool

	// SupportsConsumerGroups indicates several processes can share the
	// topics, each message going to one of them.
	SupportsConsumerGroups bool

	// SupportsPartitioning indicates the transport supports message partitioning.
	SupportsPartitioning bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	Name string
}

// SupportsAtLeastOnce reports whether an unacked message survives a
// consumer crash and is delivered again.
func (c Capabilities) SupportsAtLeastOnce() bool {
	return c.SupportsAck
}

// SupportsReliableDelivery returns true if the transport supports ack and nack.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsOrdering:       true,
		SupportsTracing:        true,
		SupportsAck:            true,
		SupportsNack:           false,
		SupportsConsumerGroups: true,
		SupportsPartitioning:   true,
		MaxMessageSize:         1048576, // broker default
	}

	RabbitMQCapabilities = Capabilities{
		Name:                   "rabbitmq",
		SupportsOrdering:       true,
		SupportsTracing:        true,
		SupportsAck:            true,
		SupportsNack:           true,
		SupportsConsumerGroups: true,
	}

	NATSCapabilities = Capabilities{
		Name:                   "nats",
		SupportsTracing:        true,
		SupportsConsumerGroups: true,
		MaxMessageSize:         1048576,
	}

	AWSCapabilities = Capabilities{
		Name:                   "aws",
		SupportsTracing:        true,
		SupportsAck:            true,
		SupportsNack:           true,
		SupportsConsumerGroups: true,
		MaxMessageSize:         262144, // 256KB
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}
)

// GetCapabilities returns the capabilities for a transport by name from the
// default registry. Unknown transports get a zero value carrying the name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
