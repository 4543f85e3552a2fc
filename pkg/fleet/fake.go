package fleet

import (
	"sync"
)

// Fake is an in-memory Transport for tests and bench development. Published
// payloads are recorded, inbound messages are injected by hand, and the
// connection can be cut and restored at will.
type Fake struct {
	mu        sync.Mutex
	connected bool
	published []Message
	topics    []string
	messages  chan Message
}

// NewFake creates a disconnected fake transport.
func NewFake() *Fake {
	return &Fake{
		messages: make(chan Message, DefaultBufferSize),
	}
}

// Connect marks the transport connected.
func (f *Fake) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

// Close marks the transport disconnected.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

// SetConnected flips the link state without touching subscriptions,
// simulating a broker drop and recovery.
func (f *Fake) SetConnected(up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = up
}

// Publish records the payload, or fails when disconnected.
func (f *Fake) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return ErrNotConnected
	}
	f.published = append(f.published, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// Subscribe records the topics.
func (f *Fake) Subscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return ErrNotConnected
	}
	f.topics = append(f.topics, topics...)
	return nil
}

// Messages returns the inbound channel.
func (f *Fake) Messages() <-chan Message {
	return f.messages
}

// IsConnected reports the simulated link state.
func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Inject delivers an inbound message as if it arrived from the broker.
func (f *Fake) Inject(topic string, payload []byte) {
	f.messages <- Message{Topic: topic, Payload: payload}
}

// Published returns a copy of everything published so far.
func (f *Fake) Published() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.published))
	copy(out, f.published)
	return out
}

// PublishedTo returns the payloads published to one topic.
func (f *Fake) PublishedTo(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, m := range f.published {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}
