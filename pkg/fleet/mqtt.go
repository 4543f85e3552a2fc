package fleet

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBufferSize is the inbound message channel depth.
	DefaultBufferSize = 16

	connectTimeout = 5 * time.Second
	maxConnectWait = 30 * time.Second
)

// MQTT is the broker-backed Transport. Reconnection after a drop is the
// client library's business; the initial connect retries with exponential
// backoff so a node booting before the broker still comes up.
type MQTT struct {
	log    logrus.FieldLogger
	broker string
	client mqtt.Client

	mu        sync.Mutex
	topics    []string
	messages  chan Message
	connected bool
}

// NewMQTT creates an MQTT transport for the given broker URL. The client id
// carries the statue name plus a random suffix so a restarted node never
// collides with its own stale session.
func NewMQTT(log logrus.FieldLogger, brokerURL, statue string) *MQTT {
	t := &MQTT{
		log:      log.WithField("component", "mqtt"),
		broker:   brokerURL,
		messages: make(chan Message, DefaultBufferSize),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(fmt.Sprintf("firstcontact-%s-%s", statue, uuid.NewString()[:8])).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.log.WithError(err).Warn("connection lost")
		})

	t.client = mqtt.NewClient(opts)
	return t
}

// Connect dials the broker, retrying with backoff until it answers or the
// retry window runs out.
func (t *MQTT) Connect() error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxConnectWait

	err := backoff.Retry(func() error {
		token := t.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			t.log.WithError(err).Debug("connect attempt failed")
			return err
		}
		return nil
	}, bo)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", t.broker, err)
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

// Close disconnects from the broker.
func (t *MQTT) Close() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()

	t.client.Disconnect(250)
	return nil
}

// Publish sends a payload. Fails fast when disconnected; the caller decides
// whether that is worth more than a log line.
func (t *MQTT) Publish(topic string, payload []byte) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}
	token := t.client.Publish(topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers topics. Subscriptions are replayed on every reconnect.
func (t *MQTT) Subscribe(topics ...string) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}

	t.mu.Lock()
	t.topics = append(t.topics, topics...)
	t.mu.Unlock()

	return t.subscribe(topics)
}

// Messages returns the inbound delivery channel.
func (t *MQTT) Messages() <-chan Message {
	return t.messages
}

// IsConnected reports whether the broker link is up.
func (t *MQTT) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && t.client.IsConnectionOpen()
}

func (t *MQTT) onConnect(mqtt.Client) {
	t.mu.Lock()
	t.connected = true
	topics := append([]string(nil), t.topics...)
	t.mu.Unlock()

	if len(topics) > 0 {
		if err := t.subscribe(topics); err != nil {
			t.log.WithError(err).Warn("resubscribe failed")
		}
	}
}

func (t *MQTT) subscribe(topics []string) error {
	for _, topic := range topics {
		token := t.client.Subscribe(topic, 0, t.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// onMessage runs on the client library's network goroutine. It hands the
// delivery to the main loop and drops it if the loop is too far behind;
// config pushes are re-requestable, never worth blocking the network path.
func (t *MQTT) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg := Message{Topic: m.Topic(), Payload: append([]byte(nil), m.Payload()...)}
	select {
	case t.messages <- msg:
	default:
		t.log.WithField("topic", m.Topic()).Warn("inbound queue full, dropping message")
	}
}
