package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRobot accepts websocket connections, greets every client and records received text frames
type fakeRobot struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	received []string
	conns    []*websocket.Conn
	accepted chan *websocket.Conn
}

func newFakeRobot(t *testing.T) *fakeRobot {
	robot := &fakeRobot{accepted: make(chan *websocket.Conn, 10)}
	robot.server = httptest.NewServer(http.HandlerFunc(robot.handle))
	t.Cleanup(robot.server.Close)
	return robot
}

func (r *fakeRobot) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws"
}

func (r *fakeRobot) handle(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns = append(r.conns, conn)
	clientId := len(r.conns)
	r.mu.Unlock()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(protocol.Welcome{ClientId: uint32(clientId)}.Encode()))
	r.accepted <- conn

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.mu.Lock()
		r.received = append(r.received, string(data))
		r.mu.Unlock()
	}
}

func (r *fakeRobot) Received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.received...)
}

func newTestClient(url string) *Client {
	return NewClient(Options{
		URL:             url,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
	})
}

func TestClient_SendWithoutConnection(t *testing.T) {
	// GIVEN
	client := newTestClient("ws://127.0.0.1:1/ws")

	// WHEN
	err := client.Send(protocol.Velocity(10))

	// THEN
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, client.Connected())
}

func TestClient_ReceivesAndSends(t *testing.T) {
	// GIVEN
	robot := newFakeRobot(t)
	client := newTestClient(robot.url())

	messages := make(chan protocol.Message, 10)
	client.OnMessage(func(msg protocol.Message) {
		messages <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	// WHEN
	conn := <-robot.accepted
	velocity := 12.5
	_ = conn.WriteMessage(websocket.TextMessage, []byte(protocol.Telemetry{
		Left:       protocol.WheelTelemetry{Velocity: velocity},
		Right:      protocol.WheelTelemetry{Velocity: velocity},
		MotorLeft:  &velocity,
		MotorRight: &velocity,
	}.Encode()))
	_ = conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(protocol.Control{ControllingClientId: 1}.Encode()))

	// THEN
	welcome := <-messages
	assert.Equal(t, protocol.Welcome{ClientId: 1}, welcome)
	telemetry := <-messages
	require.IsType(t, protocol.Telemetry{}, telemetry)
	assert.Equal(t, 12.5, telemetry.(protocol.Telemetry).Left.Velocity)
	control := <-messages
	assert.Equal(t, protocol.Control{ControllingClientId: 1}, control)

	id, ok := client.ClientId()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), id)
	assert.True(t, client.HasControl())

	// WHEN
	require.NoError(t, client.Send(protocol.Velocity(20)))
	require.NoError(t, client.SendText("PID_ENABLE:true"))

	// THEN
	assert.Eventually(t, func() bool {
		return len(robot.Received()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"VELOCITY:20.0", "PID_ENABLE:true"}, robot.Received())

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, client.Connected())
}

func TestClient_ReconnectsAfterConnectionLoss(t *testing.T) {
	// GIVEN
	robot := newFakeRobot(t)
	client := newTestClient(robot.url())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()
	first := <-robot.accepted

	// WHEN
	_ = first.Close()

	// THEN
	select {
	case <-robot.accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not reconnect")
	}
	assert.Eventually(t, func() bool {
		id, ok := client.ClientId()
		return ok && id == 2
	}, time.Second, 10*time.Millisecond)
}

func TestClient_ConnectGivesUp(t *testing.T) {
	// GIVEN
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	client := NewClient(Options{
		URL:             url,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		MaxElapsedTime:  50 * time.Millisecond,
	})

	// WHEN
	err := client.Connect(context.Background())

	// THEN
	assert.Error(t, err)
	assert.False(t, client.Connected())
}

func TestClient_ConnectCancelled(t *testing.T) {
	// GIVEN
	client := newTestClient("ws://127.0.0.1:1/ws")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN
	err := client.Connect(ctx)

	// THEN
	assert.ErrorIs(t, err, context.Canceled)
}
