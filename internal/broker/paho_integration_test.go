package broker

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"

	"co2mon/internal/config"
	"co2mon/internal/telemetry"
)

const (
	itUsername = "co2-sensor"
	itPassword = "pineapple"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func itConfig(t *testing.T, addr string) config.Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return config.Config{
		BrokerHost:     host,
		BrokerPort:     port,
		ClientID:       "co2-sensor-values",
		Username:       itUsername,
		Password:       itPassword,
		DataTopic:      "domoticz/in",
		StatusTopic:    "outTopic",
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

func startBroker(t *testing.T, addr string) *mochi.Server {
	t.Helper()
	ledger := &auth.Ledger{
		Auth: auth.AuthRules{
			{
				Username: auth.RString(itUsername),
				Password: auth.RString(itPassword),
				Allow:    true,
			},
		},
	}

	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		Address: addr,
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })
	return server
}

// subscribe attaches an observer client collecting payloads per topic.
func subscribe(t *testing.T, addr string, topics ...string) map[string]chan string {
	t.Helper()
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + addr)
	opts.SetClientID("it-observer")
	opts.SetUsername(itUsername)
	opts.SetPassword(itPassword)

	sub := mqtt.NewClient(opts)
	token := sub.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { sub.Disconnect(100) })

	out := make(map[string]chan string, len(topics))
	for _, topic := range topics {
		ch := make(chan string, 4)
		out[topic] = ch
		token := sub.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
			ch <- string(m.Payload())
		})
		require.True(t, token.WaitTimeout(5*time.Second))
		require.NoError(t, token.Error())
	}
	return out
}

func recv(t *testing.T, ch chan string, what string) string {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(5 * time.Second):
		t.Fatalf("%s not delivered", what)
		return ""
	}
}

func TestPublishAgainstEmbeddedBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded broker test in short mode")
	}

	addr := freeAddr(t)
	startBroker(t, addr)
	topics := subscribe(t, addr, "domoticz/in", "outTopic")

	cfg := itConfig(t, addr)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(cfg, NewPahoTransport(cfg, log), "co2-sensor online", log)
	t.Cleanup(c.Close)

	require.NoError(t, c.Publish(telemetry.NewTempHumRecord(5, 21.3, 45.0)))
	require.Equal(t, StateConnected, c.State())

	require.Equal(t, "co2-sensor online", recv(t, topics["outTopic"], "announcement"))
	require.JSONEq(t,
		`{"command":"udevice","idx":5,"nvalue":0,"svalue":"21.3;45;1"}`,
		recv(t, topics["domoticz/in"], "temp+hum record"))

	require.NoError(t, c.Publish(telemetry.NewCO2Record(7, 512)))
	require.JSONEq(t,
		`{"command":"udevice","idx":7,"nvalue":512,"svalue":""}`,
		recv(t, topics["domoticz/in"], "co2 record"))
}

func TestConnectRefusedWithoutBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded broker test in short mode")
	}

	// Nothing listens on addr: the handshake must fail fast and the
	// record must be dropped without retry.
	cfg := itConfig(t, freeAddr(t))
	cfg.ConnectTimeout = 2 * time.Second
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(cfg, NewPahoTransport(cfg, log), "co2-sensor online", log)
	t.Cleanup(c.Close)

	require.Error(t, c.Publish(telemetry.NewCO2Record(7, 512)))
	require.Equal(t, StateDisconnected, c.State())
	require.Equal(t, ReasonUnreachable, c.Reason())
}
