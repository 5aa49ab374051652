package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrLinkDown = errors.New("mesh link down")

// LinkEvents are invoked by a Link from its own goroutines.
type LinkEvents struct {
	OnConnect        func()
	OnConnectionLost func(err error)
}

// Link is the broker connection a Node talks through.
type Link interface {
	Connect(ctx context.Context, events LinkEvents) error
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Connected() bool
	Close()
}

type MQTTConfig struct {
	Broker   string
	ClientId string
	Username string
	Password string
	// Will is published retained on WillTopic by the broker when the
	// client disappears without disconnecting.
	WillTopic   string
	Will        []byte
	QoS         byte
	WaitTimeout time.Duration
}

// MQTTLink is a Link over an MQTT broker on the local network segment.
type MQTTLink struct {
	mu     sync.RWMutex
	config MQTTConfig
	client mqtt.Client
}

func NewMQTTLink(config MQTTConfig) *MQTTLink {
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = 5 * time.Second
	}

	return &MQTTLink{
		config: config,
	}
}

func (l *MQTTLink) Connect(ctx context.Context, events LinkEvents) error {
	opts := mqtt.NewClientOptions().
		AddBroker(l.config.Broker).
		SetClientID(l.config.ClientId).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			if events.OnConnect != nil {
				events.OnConnect()
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if events.OnConnectionLost != nil {
				events.OnConnectionLost(err)
			}
		})

	if l.config.Username != "" {
		opts.SetUsername(l.config.Username).SetPassword(l.config.Password)
	}

	if l.config.WillTopic != "" {
		opts.SetBinaryWill(l.config.WillTopic, l.config.Will, l.config.QoS, true)
	}

	client := mqtt.NewClient(opts)

	l.mu.Lock()
	l.client = client
	l.mu.Unlock()

	// With connect retry enabled the token only completes once the broker
	// is reached, so a timeout leaves the client retrying in the background.
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect: %w", ctx.Err())
	}

	return nil
}

func (l *MQTTLink) Publish(topic string, payload []byte, retained bool) error {
	client := l.connectedClient()
	if client == nil {
		return ErrLinkDown
	}

	token := client.Publish(topic, l.config.QoS, retained, payload)
	if !token.WaitTimeout(l.config.WaitTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}

	return token.Error()
}

func (l *MQTTLink) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	client := l.connectedClient()
	if client == nil {
		return ErrLinkDown
	}

	token := client.Subscribe(topic, l.config.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(l.config.WaitTimeout) {
		return fmt.Errorf("mqtt subscribe %s: timeout", topic)
	}

	return token.Error()
}

func (l *MQTTLink) Connected() bool {
	return l.connectedClient() != nil
}

func (l *MQTTLink) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil {
		l.client.Disconnect(250)
		l.client = nil
	}
}

func (l *MQTTLink) connectedClient() mqtt.Client {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.client == nil || !l.client.IsConnectionOpen() {
		return nil
	}

	return l.client
}
