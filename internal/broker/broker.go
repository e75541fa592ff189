// Package broker maintains the connection state machine to the MQTT
// broker and publishes device records to it.
//
// Reconnection is lazy: the link is (re)established at the point of a
// publish attempt, never in the background. Delivery is at-most-once;
// a record that cannot be sent is dropped and logged, not queued.
package broker

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"co2mon/internal/config"
	"co2mon/internal/telemetry"
)

// State is the client's view of the broker link.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Reason classifies the last connect or publish failure.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUnreachable
	ReasonTimeout
	ReasonBadProtocol
	ReasonIDRejected
	ReasonServerUnavailable
	ReasonBadCredentials
	ReasonNotAuthorized
	ReasonPublishFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUnreachable:
		return "unreachable"
	case ReasonTimeout:
		return "timeout"
	case ReasonBadProtocol:
		return "bad-protocol"
	case ReasonIDRejected:
		return "id-rejected"
	case ReasonServerUnavailable:
		return "server-unavailable"
	case ReasonBadCredentials:
		return "bad-credentials"
	case ReasonNotAuthorized:
		return "not-authorized"
	case ReasonPublishFailed:
		return "publish-failed"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ErrConnectTimeout marks a connect handshake that did not finish
// within the configured window.
var ErrConnectTimeout = errors.New("connect timeout")

// Transport is the wire-level MQTT session the state machine drives.
type Transport interface {
	// Connect performs one synchronous handshake attempt.
	Connect() error
	// Publish sends one payload to a topic, at most once.
	Publish(topic string, payload []byte) error
	// Connected reports whether the session is currently open.
	Connected() bool
	// Close tears the session down.
	Close()
}

// Client is the publish-side state machine. It is not goroutine-safe;
// the scheduler owns it and calls it from a single goroutine.
type Client struct {
	tr  Transport
	log *slog.Logger

	dataTopic    string
	statusTopic  string
	announcement string

	state  State
	reason Reason
}

// New builds a client over tr. The announcement is published to the
// status topic once per successful (re)connect.
func New(cfg config.Config, tr Transport, announcement string, log *slog.Logger) *Client {
	return &Client{
		tr:           tr,
		log:          log.With("subsys", "broker"),
		dataTopic:    cfg.DataTopic,
		statusTopic:  cfg.StatusTopic,
		announcement: announcement,
	}
}

// State returns the current link state.
func (c *Client) State() State { return c.state }

// Reason returns the classification of the most recent failure.
func (c *Client) Reason() Reason { return c.reason }

// EnsureConnected is a no-op while the link is up. Otherwise it runs
// one synchronous connect attempt and, on success, announces the
// device on the status topic.
func (c *Client) EnsureConnected() error {
	if c.state == StateConnected && c.tr.Connected() {
		return nil
	}
	if c.state == StateConnected {
		c.log.Warn("link lost since last publish")
	}

	c.state = StateConnecting
	if err := c.tr.Connect(); err != nil {
		c.state = StateDisconnected
		c.reason = classify(err)
		c.log.Warn("connect failed", "reason", c.reason.String(), "error", err)
		return fmt.Errorf("connect: %w", err)
	}

	c.state = StateConnected
	c.reason = ReasonNone
	c.log.Info("connected")
	c.announce()
	return nil
}

// Publish delivers one record to the data topic, connecting first if
// needed. A record that cannot be encoded or delivered is dropped; the
// caller sees the error but nothing is queued for retry.
func (c *Client) Publish(rec telemetry.Record) error {
	if err := c.EnsureConnected(); err != nil {
		c.log.Warn("record dropped", "record", rec.Name, "reason", c.reason.String())
		return fmt.Errorf("drop %s: %w", rec.Name, err)
	}

	payload, err := rec.Encode()
	if err != nil {
		c.log.Error("record rejected", "record", rec.Name, "error", err)
		return err
	}

	if err := c.tr.Publish(c.dataTopic, payload); err != nil {
		c.state = StateDisconnected
		c.reason = ReasonPublishFailed
		c.log.Warn("publish failed", "record", rec.Name, "topic", c.dataTopic, "error", err)
		return fmt.Errorf("publish %s: %w", rec.Name, err)
	}

	c.log.Debug("published", "record", rec.Name, "topic", c.dataTopic, "bytes", len(payload))
	return nil
}

// Close tears down the transport session.
func (c *Client) Close() {
	c.tr.Close()
	c.state = StateDisconnected
	c.log.Info("closed")
}

// announce is best-effort: a failed announcement is logged but does
// not demote the fresh connection.
func (c *Client) announce() {
	if c.announcement == "" {
		return
	}
	if err := c.tr.Publish(c.statusTopic, []byte(c.announcement)); err != nil {
		c.log.Warn("announcement failed", "topic", c.statusTopic, "error", err)
		return
	}
	c.log.Info("announced", "topic", c.statusTopic)
}

// classify maps transport errors onto the reason codes the CONNACK
// return codes define, falling back to unreachable for dial errors.
func classify(err error) Reason {
	switch {
	case errors.Is(err, ErrConnectTimeout):
		return ReasonTimeout
	case errors.Is(err, packets.ErrorRefusedBadProtocolVersion):
		return ReasonBadProtocol
	case errors.Is(err, packets.ErrorRefusedIDRejected):
		return ReasonIDRejected
	case errors.Is(err, packets.ErrorRefusedServerUnavailable):
		return ReasonServerUnavailable
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword):
		return ReasonBadCredentials
	case errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return ReasonNotAuthorized
	default:
		return ReasonUnreachable
	}
}
