// Package mqtt mirrors accessory characteristics to an MQTT broker and routes
// set commands from the broker back into the write handlers.
package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

var (
	ErrDisabled         = errors.New("mqtt: disabled in configuration")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: not connected")
	ErrPublishTimeout   = errors.New("mqtt: publish timeout")
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second
	disconnectQuiesce     = 1000 // milliseconds
)

// Config selects the broker.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	ClientID string
	Username string
	Password string
	Prefix   string
	QoS      byte
}

// MessageHandler receives an inbound message.
type MessageHandler func(topic string, payload []byte)

// Conn is the broker connection used by the mirror.
type Conn interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Close() error
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is a paho-backed Conn. Subscriptions are restored on reconnect.
type Client struct {
	client pahomqtt.Client
	status string

	mu   sync.RWMutex
	subs map[string]subscription
}

// Connect dials the broker. The availability topic <prefix>/status carries
// "online" while connected and "offline" as the last will.
func Connect(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	c := &Client{
		status: cfg.Prefix + "/status",
		subs:   make(map[string]subscription),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWill(c.status, "offline", 1, true)

	opts.SetOnConnectHandler(func(pc pahomqtt.Client) {
		c.restore(pc)
		pc.Publish(c.status, 1, true, "online")
		log.Info().Str("broker", cfg.Host).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

func (c *Client) restore(pc pahomqtt.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for topic, sub := range c.subs {
		pc.Subscribe(topic, sub.qos, wrap(sub.handler))
	}
}

func wrap(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("MQTT handler panicked")
			}
		}()
		h(msg.Topic(), msg.Payload())
	}
}

// Publish sends a message and waits for the broker acknowledgement.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	return token.Error()
}

// Subscribe registers a handler; it is re-subscribed after reconnects.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, wrap(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("mqtt: subscribe %s: timeout", topic)
	}
	return token.Error()
}

// Close publishes the offline status and disconnects.
func (c *Client) Close() error {
	if c.client.IsConnectionOpen() {
		c.client.Publish(c.status, 1, true, "offline").WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	return nil
}
