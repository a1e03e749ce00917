package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/protocol"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { <-t.done; return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  interface{}
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	err       error
	messages  []published
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.err == nil
	return completedToken(c.err)
}

func (c *fakeClient) Disconnect(_ uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic, qos, retained, payload})
	return completedToken(nil)
}

func (c *fakeClient) Messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published{}, c.messages...)
}

func TestPublisher_Topic(t *testing.T) {
	tests := []struct {
		prefix   string
		expected string
	}{
		{"", "telemetry"},
		{"drivetune", "drivetune/telemetry"},
		{"robots/lab/", "robots/lab/telemetry"},
		{"/drivetune", "drivetune/telemetry"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			publisher := newPublisher(&fakeClient{}, Options{TopicPrefix: tt.prefix})
			assert.Equal(t, tt.expected, publisher.Topic(TopicTelemetry))
		})
	}
}

func TestPublisher_Connect(t *testing.T) {
	// GIVEN
	c := &fakeClient{err: errors.New("not authorized")}
	publisher := newPublisher(c, Options{Broker: "tcp://broker:1883"})

	// WHEN
	err := publisher.Connect()

	// THEN
	assert.EqualError(t, err, "connecting to MQTT broker tcp://broker:1883: not authorized")
}

func TestPublisher_PublishTelemetry(t *testing.T) {
	// GIVEN
	c := &fakeClient{}
	publisher := newPublisher(c, Options{TopicPrefix: "drivetune", Qos: 1})
	telemetry := protocol.Telemetry{Left: protocol.WheelTelemetry{Velocity: 12.5}}

	// WHEN
	publisher.PublishTelemetry(telemetry)

	// THEN
	assert.Empty(t, c.Messages())

	// WHEN
	assert.NoError(t, publisher.Connect())
	publisher.PublishTelemetry(telemetry)

	// THEN
	messages := c.Messages()
	assert.Len(t, messages, 1)
	assert.Equal(t, "drivetune/telemetry", messages[0].topic)
	assert.Equal(t, byte(1), messages[0].qos)
	assert.False(t, messages[0].retained)
	assert.Equal(t, telemetry.Encode(), messages[0].payload)
}

func TestPublisher_PublishResult(t *testing.T) {
	// GIVEN
	c := &fakeClient{}
	publisher := newPublisher(c, Options{TopicPrefix: "drivetune"})
	timestamp := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return timestamp }
	config := autotune.RunConfig{TargetVelocity: 20, Motor: autotune.MotorAverage, Duration: 3 * time.Second, Aggressiveness: 1}
	result := &autotune.AnalysisResult{Gains: autotune.Gains{Kp: 1.2, Ki: 0.4, Kd: 0.05}, Aggressiveness: 1}

	// WHEN
	err := publisher.PublishResult(config, result)

	// THEN
	assert.NoError(t, err)
	messages := c.Messages()
	assert.Len(t, messages, 1)
	assert.Equal(t, "drivetune/autotune/result", messages[0].topic)
	assert.True(t, messages[0].retained)

	var payload ResultPayload
	assert.NoError(t, json.Unmarshal(messages[0].payload.([]byte), &payload))
	assert.True(t, timestamp.Equal(payload.Timestamp))
	assert.Equal(t, config, payload.Config)
	assert.Equal(t, 1.2, payload.Result.Kp)
}

func TestPublisher_OnEvent(t *testing.T) {
	// GIVEN
	c := &fakeClient{}
	publisher := newPublisher(c, Options{})
	result := &autotune.AnalysisResult{Gains: autotune.Gains{Kp: 1}}

	// WHEN
	publisher.OnEvent(autotune.Event{Phase: autotune.PhaseMeasuring})
	publisher.OnEvent(autotune.Event{Phase: autotune.PhaseAborted})
	publisher.OnEvent(autotune.Event{Phase: autotune.PhaseCompleted, Result: result})

	// THEN
	assert.Eventually(t, func() bool { return len(c.Messages()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, TopicAutotuneResult, c.Messages()[0].topic)
}
