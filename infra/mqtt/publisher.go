package mqtt

import (
	"fmt"
	"strings"
	"sync"

	coremqtt "github.com/kilianp07/orderdispatch/core/mqtt"
)

// Client mirrors the core mqtt.Client interface.
type Client = coremqtt.Client

// Message is a payload recorded by MockClient.
type Message struct {
	Topic   string
	Payload []byte
}

// MockClient is an in-process broker used in tests.
type MockClient struct {
	Messages []Message
	FailAll  bool
	subs     map[string]coremqtt.Handler
	mu       sync.Mutex
}

// NewMockClient creates a new MockClient.
func NewMockClient() *MockClient {
	return &MockClient{subs: make(map[string]coremqtt.Handler)}
}

// Publish records the message or returns an error if configured to fail.
func (m *MockClient) Publish(_, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return fmt.Errorf("publish failed")
	}
	m.Messages = append(m.Messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// Subscribe stores h for topic.
func (m *MockClient) Subscribe(_, topic string, h coremqtt.Handler) error {
	m.mu.Lock()
	m.subs[topic] = h
	m.mu.Unlock()
	return nil
}

// Deliver simulates a broker message on topic and reports whether a
// subscription matched.
func (m *MockClient) Deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	var h coremqtt.Handler
	for pattern, sub := range m.subs {
		if matches(pattern, topic) {
			h = sub
			break
		}
	}
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(topic, payload)
	return true
}

// Published returns a copy of the recorded messages.
func (m *MockClient) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Messages...)
}

// Disconnect is a no-op.
func (m *MockClient) Disconnect() {}

func matches(pattern, topic string) bool {
	ps, ts := strings.Split(pattern, "/"), strings.Split(topic, "/")
	if len(ps) != len(ts) {
		return false
	}
	for i := range ps {
		if ps[i] != "+" && ps[i] != ts[i] {
			return false
		}
	}
	return true
}
