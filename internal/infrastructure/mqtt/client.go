package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
)

// Client is the bridge's connection to the MQTT broker.
//
// It owns the paho client, remembers subscriptions so they survive a
// reconnect, and keeps the retained bridge status topic current (online on
// every connect, offline via LWT or graceful Close).
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected atomic.Bool

	// hooks guards the optional callbacks and logger.
	hooks        sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one inbound message. The topic has wildcards
// expanded. A returned error is logged and does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and blocks until the session is established or
// defaultConnectTimeout elapses (ErrConnectionFailed).
//
// The LWT on {prefix}/bridge/status is registered before dialling.
// Reconnects are handled by paho; each one restores subscriptions and
// republishes the online status.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.TopicPrefix),
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("mqtt reconnecting", "broker", brokerURL(cfg))
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark connected now so
	// callers can publish as soon as Connect returns.
	c.connected.Store(true)

	return c, nil
}

func (c *Client) connectionUp() {
	c.connected.Store(true)
	c.restoreSubscriptions()

	payload := buildStatusPayload(StatusOnline, c.cfg.Broker.ClientID, "")
	c.client.Publish(c.topics.BridgeStatus(), byte(c.cfg.QoS), true, payload)

	c.hooks.RLock()
	callback := c.onConnect
	c.hooks.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) connectionDown(err error) {
	c.connected.Store(false)

	c.hooks.RLock()
	callback := c.onDisconnect
	c.hooks.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions replays every remembered subscription. Failures are
// logged; paho will trigger another attempt on the next reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		go func(topic string) {
			if err := waitToken(token, ErrSubscribeFailed); err != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("mqtt resubscribe failed", "topic", topic, "error", err)
				}
			}
		}(sub.topic)
	}
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// Close publishes a retained offline status with reason
// "graceful_shutdown" and disconnects. Subscribers can tell a clean stop
// from a crash, which is reported by the LWT instead.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		payload := buildStatusPayload(StatusOffline, c.cfg.Broker.ClientID, "graceful_shutdown")
		c.client.Publish(c.topics.BridgeStatus(), byte(c.cfg.QoS), true, payload).
			WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)

	return nil
}

// HealthCheck reports ErrNotConnected when the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect registers a callback run after the initial connect and
// every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.hooks.Lock()
	c.onConnect = callback
	c.hooks.Unlock()
}

// SetOnDisconnect registers a callback run when the connection drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.hooks.Lock()
	c.onDisconnect = callback
	c.hooks.Unlock()
}

// SetLogger sets the logger for handler failures and reconnect notices.
// Without one they are silent.
func (c *Client) SetLogger(logger Logger) {
	c.hooks.Lock()
	c.logger = logger
	c.hooks.Unlock()
}

func (c *Client) getLogger() Logger {
	c.hooks.RLock()
	defer c.hooks.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, recovering panics so one bad
// payload cannot kill the delivery goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("mqtt handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
