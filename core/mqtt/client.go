package mqtt

// Handler receives a message delivered on a subscribed topic.
type Handler func(topic string, payload []byte)

// Client is the minimal broker connection used by the dispatch bridge.
type Client interface {
	// Publish sends payload on topic. kind selects the configured QoS.
	Publish(kind, topic string, payload []byte) error

	// Subscribe registers h for topic. Subscriptions survive reconnects.
	Subscribe(kind, topic string, h Handler) error

	Disconnect()
}
