package protocol

import "math"

// WheelTelemetry holds the encoder readings of a single wheel
type WheelTelemetry struct {
	Count       int64   `json:"count"`
	Revolutions float64 `json:"revolutions"`
	Distance    float64 `json:"distance"`
	Velocity    float64 `json:"velocity"`
	Rpm         float64 `json:"rpm"`
}

// Telemetry is the periodic state broadcast of the robot controller
type Telemetry struct {
	Left  WheelTelemetry `json:"left"`
	Right WheelTelemetry `json:"right"`

	Battery *float64 `json:"battery,omitempty"`
	// signed motor output in PWM units (-255..255)
	MotorLeft  *float64 `json:"motorLeft,omitempty"`
	MotorRight *float64 `json:"motorRight,omitempty"`

	LeftVelocityError  *float64 `json:"leftVelError,omitempty"`
	RightVelocityError *float64 `json:"rightVelError,omitempty"`
}

// Tuple is the reduced form of a telemetry message used by the autotuner
type Tuple struct {
	LeftVelocity  float64
	RightVelocity float64
	HasPwm        bool
	LeftPwm       float64
	RightPwm      float64
}

// AbsPwm returns the mean absolute motor output, if known
func (t Tuple) AbsPwm() (float64, bool) {
	if !t.HasPwm {
		return 0, false
	}
	return (math.Abs(t.LeftPwm) + math.Abs(t.RightPwm)) / 2.0, true
}

// Tuple reduces the telemetry to velocities and (if both are present) motor PWM values
func (t Telemetry) Tuple() Tuple {
	tuple := Tuple{
		LeftVelocity:  t.Left.Velocity,
		RightVelocity: t.Right.Velocity,
	}
	if t.MotorLeft != nil && t.MotorRight != nil {
		tuple.HasPwm = true
		tuple.LeftPwm = *t.MotorLeft
		tuple.RightPwm = *t.MotorRight
	}
	return tuple
}
