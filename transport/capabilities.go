package transport

// Capabilities describes how a broker behaves as a task queue.
type Capabilities struct {
	Name string

	// SharedConsumption means instances of one provider split the task topic
	// between them instead of each receiving every task.
	SharedConsumption bool

	// SupportsAck and SupportsNack report explicit acknowledgement. Without
	// both, a task whose result never got published may be lost.
	SupportsAck  bool
	SupportsNack bool

	SupportsOrdering bool
	SupportsTracing  bool

	// MaxMessageSize is the largest payload in bytes (0 = unlimited or unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once delivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in brokers.
var (
	ChannelCapabilities = Capabilities{
		Name:              "channel",
		SharedConsumption: false,
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsOrdering:  true,
	}

	KafkaCapabilities = Capabilities{
		Name:              "kafka",
		SharedConsumption: true,
		SupportsAck:       true,
		SupportsNack:      false,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		MaxMessageSize:    1048576, // broker default
	}

	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SharedConsumption: true,
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
	}

	NATSCapabilities = Capabilities{
		Name:              "nats",
		SharedConsumption: true,
		SupportsTracing:   true,
		MaxMessageSize:    1048576, // server default
	}

	AWSCapabilities = Capabilities{
		Name:              "aws",
		SharedConsumption: true,
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsTracing:   true,
		MaxMessageSize:    262144,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
// Unknown names yield a Capabilities with only Name set.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
