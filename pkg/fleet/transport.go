// Package fleet keeps this node consistent with the rest of the
// installation: it requests and applies runtime configuration pushed by the
// central controller and publishes the node's contact state, all over the
// shared pub/sub channel.
package fleet

import "fmt"

// Topics on the installation's messaging channel. Names are fixed by the
// central controller.
const (
	// TopicContact carries each node's contact state for the controller and
	// the lighting system.
	TopicContact = "missing_link/contact"
	// TopicConfigRequest asks the controller to (re)send the fleet config.
	TopicConfigRequest = "missing_link/config/request"
	// TopicConfigResponse carries the fleet-wide directory document.
	TopicConfigResponse = "missing_link/config/response"

	settingsPrefix = "missing_link/settings/"
)

// SettingsTopic returns the per-node runtime settings topic for a statue.
func SettingsTopic(statue string) string {
	return settingsPrefix + statue
}

// Message is one inbound pub/sub delivery.
type Message struct {
	Topic   string
	Payload []byte
}

// Transport is the messaging channel boundary. Implementations must not
// block: Publish on a dead connection fails fast, and inbound messages are
// dropped rather than queued without bound.
type Transport interface {
	Connect() error
	Close() error
	Publish(topic string, payload []byte) error
	Subscribe(topics ...string) error
	Messages() <-chan Message
	IsConnected() bool
}

// Ensure both implementations satisfy Transport.
var (
	_ Transport = (*MQTT)(nil)
	_ Transport = (*Fake)(nil)
)

// ErrNotConnected is returned by Publish and Subscribe on a disconnected
// transport.
var ErrNotConnected = fmt.Errorf("transport not connected")
