package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/asecurityteam/rolling"
	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/util"
)

// WheelStats summarizes the recent telemetry of a single wheel
type WheelStats struct {
	Velocity    float64 `json:"velocity"`
	AvgVelocity float64 `json:"avgVelocity"`
	MaxVelocity float64 `json:"maxVelocity"`
	// exponential moving average over the rolling window size
	MovingAvg float64  `json:"movingAvg"`
	Pwm       *float64 `json:"pwm,omitempty"`
	Count     int64    `json:"count"`
	Distance  float64  `json:"distance"`
	Rpm       float64  `json:"rpm"`
}

// Snapshot is a consistent view of the latest robot state
type Snapshot struct {
	Telemetry  protocol.Telemetry `json:"telemetry"`
	ReceivedAt time.Time          `json:"receivedAt"`
	Left       WheelStats         `json:"left"`
	Right      WheelStats         `json:"right"`

	TelemetryCount     uint64                  `json:"telemetryCount"`
	VelocityErrorCount uint64                  `json:"velocityErrorCount"`
	LastVelocityError  *protocol.VelocityError `json:"lastVelocityError,omitempty"`
}

// TelemetryMonitor keeps the latest telemetry of the robot and rolling statistics per wheel
type TelemetryMonitor struct {
	mu         sync.RWMutex
	windowSize int
	now        func() time.Time

	left  *rolling.PointPolicy
	right *rolling.PointPolicy

	snapshot Snapshot
	received bool
}

func NewTelemetryMonitor(windowSize int) *TelemetryMonitor {
	if windowSize <= 0 {
		windowSize = 1
	}
	return &TelemetryMonitor{
		windowSize: windowSize,
		now:        time.Now,
		left:       util.CreateRollingWindow(windowSize),
		right:      util.CreateRollingWindow(windowSize),
	}
}

// Handle consumes an inbound message, everything except telemetry and velocity errors is ignored
func (m *TelemetryMonitor) Handle(msg protocol.Message) {
	switch msg := msg.(type) {
	case protocol.Telemetry:
		m.update(msg)
	case protocol.VelocityError:
		m.mu.Lock()
		defer m.mu.Unlock()
		m.snapshot.VelocityErrorCount++
		velocityError := msg
		m.snapshot.LastVelocityError = &velocityError
	}
}

func (m *TelemetryMonitor) update(telemetry protocol.Telemetry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.received {
		// start the averages at the first reading instead of 0
		util.FillWindow(m.left, m.windowSize, telemetry.Left.Velocity)
		util.FillWindow(m.right, m.windowSize, telemetry.Right.Velocity)
		m.snapshot.Left.MovingAvg = telemetry.Left.Velocity
		m.snapshot.Right.MovingAvg = telemetry.Right.Velocity
		m.received = true
	} else {
		m.left.Append(telemetry.Left.Velocity)
		m.right.Append(telemetry.Right.Velocity)
	}

	m.snapshot.Telemetry = telemetry
	m.snapshot.ReceivedAt = m.now()
	m.snapshot.TelemetryCount++
	m.snapshot.Left = m.wheelStats(m.snapshot.Left, telemetry.Left, m.left, telemetry.MotorLeft)
	m.snapshot.Right = m.wheelStats(m.snapshot.Right, telemetry.Right, m.right, telemetry.MotorRight)
}

func (m *TelemetryMonitor) wheelStats(last WheelStats, wheel protocol.WheelTelemetry, window *rolling.PointPolicy, pwm *float64) WheelStats {
	return WheelStats{
		Velocity:    wheel.Velocity,
		AvgVelocity: util.GetWindowAvg(window),
		MaxVelocity: util.GetWindowMax(window),
		MovingAvg:   util.UpdateSimpleMovingAvg(last.MovingAvg, m.windowSize, wheel.Velocity),
		Pwm:         pwm,
		Count:       wheel.Count,
		Distance:    wheel.Distance,
		Rpm:         wheel.Rpm,
	}
}

// Latest returns the current snapshot, false if no telemetry has been received yet
func (m *TelemetryMonitor) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot, m.received
}

// Stale reports whether no telemetry has been received within the given duration
func (m *TelemetryMonitor) Stale(maxAge time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.received || m.now().Sub(m.snapshot.ReceivedAt) > maxAge
}

// Run calls the given function with the latest snapshot at the given rate until the context is done
func (m *TelemetryMonitor) Run(ctx context.Context, rate time.Duration, f func(snapshot Snapshot)) error {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if snapshot, ok := m.Latest(); ok {
				f(snapshot)
			}
		}
	}
}
