package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sherine-k/simulated-city/pkg/config"
)

// DefaultConnectTimeout bounds the wait for the first broker connection.
const DefaultConnectTimeout = 30 * time.Second

// MessageHandler is called for each message received on a subscribed
// topic. It runs on paho's receive goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// Client is a broker connection with remembered subscriptions.
type Client struct {
	cfg      config.MQTTConfig
	clientID string
	cm       *autopaho.ConnectionManager
	log      *logrus.Entry

	mu       sync.RWMutex
	handlers []MessageHandler
	filters  map[string]byte
}

// BrokerURL builds the broker address from host, port and the TLS flag.
func BrokerURL(cfg config.MQTTConfig) (*url.URL, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mqtt host is empty")
	}
	scheme := "mqtt"
	if cfg.TLS {
		scheme = "mqtts"
	}
	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}, nil
}

// ClientID returns <prefix>-<suffix>-<8 hex chars>. The random tail keeps
// concurrent tools from kicking each other off the broker.
func ClientID(prefix, suffix string) string {
	tail := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, suffix, tail} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

// Connect dials the broker and waits up to DefaultConnectTimeout for the
// first connection. The returned client keeps reconnecting in the
// background until Disconnect is called or ctx is cancelled.
func Connect(ctx context.Context, cfg config.MQTTConfig, suffix string) (*Client, error) {
	brokerURL, err := BrokerURL(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		clientID: ClientID(cfg.ClientIDPrefix, suffix),
		filters:  make(map[string]byte),
	}
	c.log = logrus.WithFields(logrus.Fields{
		"broker":    brokerURL.String(),
		"client_id": c.clientID,
	})

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     uint16(cfg.KeepAliveSec),
		CleanStartOnInitialConnection: true,
		ConnectUsername:               cfg.Username,
		ConnectPassword:               []byte(cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.log.Info("mqtt connected to broker")
			c.resubscribe(ctx, cm)
		},
		OnConnectError: func(err error) {
			c.log.WithError(err).Warn("mqtt connection error")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.dispatch(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				c.log.WithError(err).Warn("mqtt client error")
			},
		},
	}
	if cfg.TLS {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.Host,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		_ = cm.Disconnect(context.Background())
		return nil, fmt.Errorf("mqtt connect to %s: %w", brokerURL, err)
	}
	return c, nil
}

// ID returns the MQTT client identifier.
func (c *Client) ID() string {
	return c.clientID
}

// Publish sends payload to topic and, for QoS 1 and above, waits for the
// broker's acknowledgement.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	resp, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
	if err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		return fmt.Errorf("mqtt publish %s: broker rejected with reason code %d", topic, resp.ReasonCode)
	}
	return nil
}

// OnMessage registers a handler for messages on any subscribed topic.
func (c *Client) OnMessage(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Subscribe subscribes to filter now and after every reconnect.
func (c *Client) Subscribe(ctx context.Context, filter string, qos byte) error {
	c.mu.Lock()
	c.filters[filter] = qos
	c.mu.Unlock()

	if _, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: qos}},
	}); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", filter, err)
	}
	c.log.WithField("filter", filter).Debug("mqtt subscribed")
	return nil
}

// Disconnect closes the connection and stops reconnecting.
func (c *Client) Disconnect(ctx context.Context) error {
	if c == nil || c.cm == nil {
		return nil
	}
	if err := c.cm.Disconnect(ctx); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	c.log.Info("mqtt disconnected")
	return nil
}

func (c *Client) dispatch(topic string, payload []byte) {
	c.mu.RLock()
	handlers := c.handlers
	c.mu.RUnlock()
	for _, h := range handlers {
		h(topic, payload)
	}
}

func (c *Client) resubscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	c.mu.RLock()
	subs := make([]paho.SubscribeOptions, 0, len(c.filters))
	for filter, qos := range c.filters {
		subs = append(subs, paho.SubscribeOptions{Topic: filter, QoS: qos})
	}
	c.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	go func() {
		if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
			c.log.WithError(err).Warn("mqtt re-subscribe failed")
		}
	}()
}
