package simulator

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestServer(t *testing.T, telemetryRate time.Duration) (*Server, string) {
	server := NewServer(Options{
		Plant: PlantOptions{
			TimeConstant:       150 * time.Millisecond,
			MaxVelocity:        60,
			WheelCircumference: 20,
			TicksPerRevolution: 360,
		},
		TelemetryRate: telemetryRate,
	})
	httpServer := httptest.NewServer(server.CreateWebserver())
	t.Cleanup(httpServer.Close)
	return server, "ws" + strings.TrimPrefix(httpServer.URL, "http") + WebsocketPath
}

func dial(t *testing.T, url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Parse(string(data))
	require.NoError(t, err)
	return msg
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmd protocol.Command) {
	err := conn.WriteMessage(websocket.TextMessage, []byte(cmd.String()))
	require.NoError(t, err)
}

func TestServer_Welcome(t *testing.T) {
	// GIVEN
	server, url := createTestServer(t, time.Second)

	// WHEN
	first := dial(t, url)

	// THEN
	assert.Equal(t, protocol.Welcome{ClientId: 1}, readMessage(t, first))
	assert.Equal(t, protocol.Control{ControllingClientId: 0}, readMessage(t, first))

	// WHEN
	second := dial(t, url)

	// THEN
	assert.Equal(t, protocol.Welcome{ClientId: 2}, readMessage(t, second))
	assert.Equal(t, protocol.Control{ControllingClientId: 0}, readMessage(t, second))
	assert.Eventually(t, func() bool { return server.ClientCount() == 2 }, time.Second, 10*time.Millisecond)
}

func TestServer_ControlOwnership(t *testing.T) {
	// GIVEN
	_, url := createTestServer(t, time.Second)
	owner := dial(t, url)
	readMessage(t, owner)
	readMessage(t, owner)
	other := dial(t, url)
	readMessage(t, other)
	readMessage(t, other)

	// WHEN
	sendCommand(t, owner, protocol.RequestControl())

	// THEN
	assert.Equal(t, protocol.Control{ControllingClientId: 1}, readMessage(t, owner))
	assert.Equal(t, protocol.Control{ControllingClientId: 1}, readMessage(t, other))

	// WHEN
	sendCommand(t, other, protocol.Velocity(10))

	// THEN
	rejected, ok := readMessage(t, other).(protocol.Log)
	assert.True(t, ok)
	assert.Contains(t, rejected.Message, "rejected")

	// WHEN
	sendCommand(t, other, protocol.ConfigGet())

	// THEN
	assert.IsType(t, protocol.ConfigData{}, readMessage(t, other))

	// WHEN
	sendCommand(t, owner, protocol.Velocity(10))

	// THEN
	assert.Equal(t, protocol.CommandAck{Command: "VELOCITY", Value: "10.0"}, readMessage(t, owner))

	// WHEN
	_ = owner.Close()

	// THEN
	assert.Equal(t, protocol.Control{ControllingClientId: 0}, readMessage(t, other))
}

func TestServer_MalformedCommand(t *testing.T) {
	// GIVEN
	_, url := createTestServer(t, time.Second)
	conn := dial(t, url)
	readMessage(t, conn)
	readMessage(t, conn)

	// WHEN
	err := conn.WriteMessage(websocket.TextMessage, []byte("velocity:10"))
	require.NoError(t, err)

	// THEN
	msg, ok := readMessage(t, conn).(protocol.Log)
	assert.True(t, ok)
	assert.Contains(t, msg.Message, "malformed command")
}

func TestServer_AutotuneRun(t *testing.T) {
	// GIVEN
	server, url := createTestServer(t, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.RunSimulation(ctx) }()

	client := transport.NewClient(transport.Options{URL: url})
	sequencer := autotune.NewSequencer(client, autotune.Options{
		SettleDelay:   100 * time.Millisecond,
		WatchdogGrace: 300 * time.Millisecond,
	})
	client.OnMessage(func(msg protocol.Message) {
		if telemetry, ok := msg.(protocol.Telemetry); ok {
			sequencer.HandleTelemetry(telemetry.Tuple())
		}
	})
	finished := make(chan autotune.Event, 1)
	sequencer.AddListener(func(event autotune.Event) {
		if event.Finished() {
			finished <- event
		}
	})
	go func() { _ = client.Run(ctx) }()
	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)

	// WHEN
	err := sequencer.Start(autotune.RunConfig{
		TargetVelocity: 20,
		Motor:          autotune.MotorAverage,
		Duration:       time.Second,
		Aggressiveness: 1,
	})
	require.NoError(t, err)

	// THEN
	var event autotune.Event
	select {
	case event = <-finished:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "autotune run did not finish")
	}
	assert.Equal(t, autotune.PhaseCompleted, event.Phase)
	require.NotNil(t, event.Result)
	assert.GreaterOrEqual(t, event.Result.SampleCount, autotune.MinSamples)
	// open loop feedforward of the default configuration undershoots the target
	assert.InDelta(t, 80.0/215.0*60.0, event.Result.SteadyStateVelocity, 1.5)
	assert.GreaterOrEqual(t, event.Result.Kp, autotune.KpMin)
	assert.LessOrEqual(t, event.Result.Kp, autotune.KpMax)
}
