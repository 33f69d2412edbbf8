package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/kjstillabower/wx-station-poller/internal/models"
)

// MQTT defaults.
const (
	DefaultMQTTPort     = 1883
	DefaultMQTTTopic    = "wx/station/latest"
	DefaultMQTTClientID = "wx-station-poller"
)

var errMQTTStopped = errors.New("mqtt client stopped")

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker   string
	Port     int
	ClientID string
	Topic    string
	QoS      byte
	Username string
	Password string
}

func (c MQTTConfig) withDefaults() MQTTConfig {
	if c.Port <= 0 {
		c.Port = DefaultMQTTPort
	}
	if c.ClientID == "" {
		c.ClientID = DefaultMQTTClientID
	}
	if c.Topic == "" {
		c.Topic = DefaultMQTTTopic
	}
	if c.QoS > 2 {
		c.QoS = 1
	}
	return c
}

// mqttClient is the subset of mqtt.Client the publisher uses.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// MQTT publishes each record as a retained message, so a subscriber that
// connects later still gets current conditions immediately.
type MQTT struct {
	client mqttClient
	cfg    MQTTConfig
	logger *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMQTT builds an MQTT publisher with auto-reconnect. Call Connect before publishing.
func NewMQTT(cfg MQTTConfig, logger *zap.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("publish: mqtt broker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.Broker), zap.Int("port", cfg.Port))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	return newMQTT(mqtt.NewClient(opts), cfg, logger), nil
}

func newMQTT(client mqttClient, cfg MQTTConfig, logger *zap.Logger) *MQTT {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTT{client: client, cfg: cfg, logger: logger, stopCh: make(chan struct{})}
}

// Connect waits for the initial broker connection, honouring ctx and Close.
// With connect-retry enabled the client keeps trying in the background.
func (m *MQTT) Connect(ctx context.Context) error {
	select {
	case <-m.stopCh:
		return errMQTTStopped
	default:
	}
	if m.client.IsConnected() {
		return nil
	}

	token := m.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return errMQTTStopped
		default:
		}
	}
}

// Name implements Publisher.
func (m *MQTT) Name() string { return "mqtt" }

// Publish sends the record for r to the configured topic as a retained message.
func (m *MQTT) Publish(ctx context.Context, r models.Reading) error {
	if !m.client.IsConnected() {
		return errors.New("mqtt client not connected")
	}
	payload, err := r.MarshalJSON()
	if err != nil {
		return err
	}

	token := m.client.Publish(m.cfg.Topic, m.cfg.QoS, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", m.cfg.Topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.cfg.Topic, err)
	}
	m.logger.Debug("published reading", zap.String("topic", m.cfg.Topic))
	return nil
}

// Close disconnects from the broker. Safe to call more than once.
func (m *MQTT) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.client.Disconnect(250)
	})
}
