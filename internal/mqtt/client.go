// Package mqtt publishes branch change notifications to an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/AaronLay10/DialogStudio/internal/events"
)

const opTimeout = 10 * time.Second

// ErrNotConnected is returned by Ping while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt not connected")

// conn is the part of paho.Client the package uses.
type conn interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Options configures the broker connection.
type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Client wraps the Paho MQTT client.
type Client struct {
	client conn
	opts   Options
	logger *zap.Logger
	mu     sync.Mutex
}

// BrokerURL returns the MQTT broker URL from env or default.
func BrokerURL() string {
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	return "tcp://localhost:1883"
}

// NewClient creates a new MQTT client but does not connect.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.BrokerURL == "" {
		opts.BrokerURL = BrokerURL()
	}
	if opts.ClientID == "" {
		opts.ClientID = "dialogstudio"
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "dialogstudio"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	po := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("mqtt connected", zap.String("broker", opts.BrokerURL))
			_, _ = events.Emit("info", "mqtt.connected", "", map[string]interface{}{"broker": opts.BrokerURL})
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", zap.String("broker", opts.BrokerURL), zap.Error(err))
			_, _ = events.Emit("warn", "mqtt.disconnected", err.Error(), map[string]interface{}{"broker": opts.BrokerURL})
		})
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	return newClient(paho.NewClient(po), opts, logger)
}

func newClient(c conn, opts Options, logger *zap.Logger) *Client {
	return &Client{client: c, opts: opts, logger: logger}
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(opTimeout) {
		return &ConnectTimeoutError{}
	}
	return token.Error()
}

// Publish sends payload to topic and waits for the broker to accept it.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.opts.QoS, false, payload)
	if !token.WaitTimeout(opTimeout) {
		return &PublishTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Ping reports broker connectivity for readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// PublishTimeoutError indicates a publish was not acknowledged in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}

// StartWithRetry attempts to connect, logging errors but not failing.
// Paho keeps retrying in the background. Returns true if connected.
func (c *Client) StartWithRetry() bool {
	if err := c.Connect(); err != nil {
		c.logger.Warn("mqtt connect failed, retrying in background",
			zap.String("broker", c.opts.BrokerURL), zap.Error(err))
		return false
	}
	return true
}
