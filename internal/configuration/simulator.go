package configuration

import "time"

type SimulatorConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	TelemetryRate time.Duration `json:"telemetryRate"`
	// first order lag of the wheel velocity
	TimeConstant time.Duration `json:"timeConstant"`
	// cm/s at full PWM
	MaxVelocity float64 `json:"maxVelocity"`
	// standard deviation of the velocity measurement noise, cm/s
	Noise float64 `json:"noise"`

	WheelCircumference float64 `json:"wheelCircumference"`
	TicksPerRevolution int     `json:"ticksPerRevolution"`
}
