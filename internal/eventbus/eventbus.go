// Package eventbus fans engine events out to the journal, the metrics
// collector and the MQTT bridge.
package eventbus

// Event is any value passed on the bus. Engine events implement
// interface{ Type() string }.
type Event = any

// EventBus implements a simple publish/subscribe event bus.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Bus is the untyped bus used between the engine and its consumers.
type Bus = TypedBus[Event]

// New creates a new Bus.
func New(opts ...Option) *Bus { return NewTyped[Event](opts...) }

var _ EventBus = (*Bus)(nil)
