package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func telemetry(left, right float64) protocol.Telemetry {
	return protocol.Telemetry{
		Left:  protocol.WheelTelemetry{Velocity: left, Count: 100},
		Right: protocol.WheelTelemetry{Velocity: right, Count: 120},
	}
}

func TestTelemetryMonitor_NoTelemetry(t *testing.T) {
	// GIVEN
	m := NewTelemetryMonitor(4)

	// WHEN
	_, ok := m.Latest()

	// THEN
	assert.False(t, ok)
	assert.True(t, m.Stale(time.Hour))
}

func TestTelemetryMonitor_FirstReadingFillsWindow(t *testing.T) {
	// GIVEN
	m := NewTelemetryMonitor(4)

	// WHEN
	m.Handle(telemetry(10, 12))

	// THEN
	snapshot, ok := m.Latest()
	assert.True(t, ok)
	assert.Equal(t, 10.0, snapshot.Left.AvgVelocity)
	assert.Equal(t, 12.0, snapshot.Right.MaxVelocity)
	assert.Equal(t, 10.0, snapshot.Left.MovingAvg)
	assert.Equal(t, int64(120), snapshot.Right.Count)
	assert.Nil(t, snapshot.Left.Pwm)
	assert.Equal(t, uint64(1), snapshot.TelemetryCount)
}

func TestTelemetryMonitor_RollingWindow(t *testing.T) {
	// GIVEN
	m := NewTelemetryMonitor(4)
	m.Handle(telemetry(0, 0))

	// WHEN
	for _, v := range []float64{4, 8, 12, 16} {
		m.Handle(telemetry(v, -v))
	}

	// THEN
	snapshot, _ := m.Latest()
	assert.Equal(t, 16.0, snapshot.Left.Velocity)
	assert.InDelta(t, 10.0, snapshot.Left.AvgVelocity, 1e-9)
	assert.Equal(t, 16.0, snapshot.Left.MaxVelocity)
	assert.Equal(t, -4.0, snapshot.Right.MaxVelocity)
	assert.Equal(t, uint64(5), snapshot.TelemetryCount)
}

func TestTelemetryMonitor_Pwm(t *testing.T) {
	// GIVEN
	m := NewTelemetryMonitor(2)
	left, right := 120.0, -80.0
	msg := telemetry(5, 5)
	msg.MotorLeft = &left
	msg.MotorRight = &right

	// WHEN
	m.Handle(msg)

	// THEN
	snapshot, _ := m.Latest()
	assert.Equal(t, 120.0, *snapshot.Left.Pwm)
	assert.Equal(t, -80.0, *snapshot.Right.Pwm)
}

func TestTelemetryMonitor_VelocityErrors(t *testing.T) {
	// GIVEN
	m := NewTelemetryMonitor(2)

	// WHEN
	m.Handle(protocol.VelocityError{Left: 1.5, Right: -0.5, PidEnabled: true})
	m.Handle(protocol.VelocityError{Left: 0.5, Right: 0.25, PidEnabled: true})
	m.Handle(protocol.Log{Message: "ignored"})

	// THEN
	snapshot, ok := m.Latest()
	assert.False(t, ok)
	assert.Equal(t, uint64(2), snapshot.VelocityErrorCount)
	assert.Equal(t, 0.25, snapshot.LastVelocityError.Right)
}

func TestTelemetryMonitor_Stale(t *testing.T) {
	// GIVEN
	now := time.Unix(1000, 0)
	m := NewTelemetryMonitor(2)
	m.now = func() time.Time { return now }
	m.Handle(telemetry(1, 1))

	// WHEN
	now = now.Add(2 * time.Second)

	// THEN
	assert.False(t, m.Stale(3*time.Second))
	assert.True(t, m.Stale(time.Second))
}

func TestTelemetryMonitor_Run(t *testing.T) {
	// GIVEN
	m := NewTelemetryMonitor(2)
	m.Handle(telemetry(3, 4))
	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan Snapshot, 1)

	// WHEN
	done := make(chan error)
	go func() {
		done <- m.Run(ctx, time.Millisecond, func(snapshot Snapshot) {
			select {
			case received <- snapshot:
			default:
			}
		})
	}()
	snapshot := <-received
	cancel()

	// THEN
	assert.Equal(t, 4.0, snapshot.Right.Velocity)
	assert.NoError(t, <-done)
}
