package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

type MQTTConfig struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	// TopicPrefix precedes the feed key; Adafruit IO uses "<user>/feeds/".
	TopicPrefix string
}

// MQTT publishes data points as JSON to "<prefix><feed>/json".
type MQTT struct {
	client    mqtt.Client
	cfg       MQTTConfig
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMQTT(cfg MQTTConfig, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MQTT{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

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

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		m.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	m.client = mqtt.NewClient(opts)
	return m
}

// Connect waits for the initial connection, honouring ctx and Close.
func (m *MQTT) Connect(ctx context.Context) error {
	select {
	case <-m.stopCh:
		return fmt.Errorf("mqtt sink stopped")
	default:
	}

	if m.IsConnected() {
		return nil
	}

	token := m.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// The connect handler runs asynchronously; do not wait for it.
			m.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			m.client.Disconnect(0)
			return ctx.Err()
		case <-m.stopCh:
			return fmt.Errorf("mqtt sink stopped")
		default:
		}
	}
}

// Topic returns the topic feedKey is published to.
func (m *MQTT) Topic(feedKey string) string {
	return m.cfg.TopicPrefix + feedKey + "/json"
}

func (m *MQTT) Send(ctx context.Context, feedKey, value string, loc *Location) error {
	if !m.IsConnected() {
		return fmt.Errorf("send %s: mqtt client not connected", feedKey)
	}

	data, err := json.Marshal(dataPoint(value, loc))
	if err != nil {
		return fmt.Errorf("marshal data point: %w", err)
	}

	topic := m.Topic(feedKey)
	token := m.client.Publish(topic, 1, false, data)

	wait := publishTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < wait {
		wait = time.Until(dl)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		m.logger.Error("failed to publish feed value", "topic", topic, "error", err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	m.logger.Debug("published feed value", "topic", topic, "value", value)
	return nil
}

func (m *MQTT) IsConnected() bool {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	return connected && m.client.IsConnected()
}

// Close stops the sink and disconnects. Safe to call more than once.
func (m *MQTT) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.client != nil {
		m.client.Disconnect(250)
	}
	m.setConnected(false)
	m.logger.Info("mqtt disconnected")
	return nil
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}
