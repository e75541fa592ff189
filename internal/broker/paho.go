package broker

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"co2mon/internal/config"
)

// pahoTransport adapts the paho client to the Transport contract.
// Automatic reconnection and retry stay off: the state machine in this
// package owns the reconnect policy.
type pahoTransport struct {
	client         mqtt.Client
	connectTimeout time.Duration
	publishTimeout time.Duration
}

// NewPahoTransport builds the MQTT session described by cfg.
func NewPahoTransport(cfg config.Config, log *slog.Logger) Transport {
	log = log.With("subsys", "mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.BrokerHost, cfg.BrokerPort))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	// Session settings
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Keepalive / timeouts
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Debug("session up", "broker", cfg.BrokerHost, "port", cfg.BrokerPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("session lost", "error", err)
	})

	return &pahoTransport{
		client:         mqtt.NewClient(opts),
		connectTimeout: cfg.ConnectTimeout,
		publishTimeout: cfg.PublishTimeout,
	}
}

func (t *pahoTransport) Connect() error {
	if t.client.IsConnectionOpen() {
		return nil
	}
	token := t.client.Connect()
	if !token.WaitTimeout(t.connectTimeout) {
		return fmt.Errorf("mqtt connect: %w", ErrConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (t *pahoTransport) Publish(topic string, payload []byte) error {
	// QoS 0: the token completes once the packet hits the wire.
	token := t.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(t.publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (t *pahoTransport) Connected() bool {
	return t.client.IsConnectionOpen()
}

func (t *pahoTransport) Close() {
	t.client.Disconnect(250)
}
