package configuration

import (
	"time"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/calibration"
)

type RobotConfig struct {
	// websocket endpoint of the robot controller, e.g. ws://192.168.4.1/ws
	Url              string          `json:"url"`
	HandshakeTimeout time.Duration   `json:"handshakeTimeout"`
	RequestControl   DefaultTrueBool `json:"requestControl"`
	Reconnect        ReconnectConfig `json:"reconnect"`
}

type ReconnectConfig struct {
	InitialInterval time.Duration `json:"initialInterval"`
	MaxInterval     time.Duration `json:"maxInterval"`
	// 0 retries forever
	MaxElapsedTime time.Duration `json:"maxElapsedTime"`
}

type AutotuneConfig struct {
	TargetVelocity float64                `json:"targetVelocity"`
	Motor          autotune.MotorSelector `json:"motor"`
	Duration       time.Duration          `json:"duration"`
	Aggressiveness float64                `json:"aggressiveness"`

	SettleDelay   time.Duration `json:"settleDelay"`
	WatchdogGrace time.Duration `json:"watchdogGrace"`
	SaturationPwm float64       `json:"saturationPwm"`

	// send the resulting gains to the robot once a run completed
	ApplyGains bool `json:"applyGains"`
}

func (c AutotuneConfig) RunConfig() autotune.RunConfig {
	return autotune.RunConfig{
		TargetVelocity: c.TargetVelocity,
		Motor:          c.Motor,
		Duration:       c.Duration,
		Aggressiveness: c.Aggressiveness,
	}
}

func (c AutotuneConfig) Options() autotune.Options {
	return autotune.Options{
		SettleDelay:   c.SettleDelay,
		WatchdogGrace: c.WatchdogGrace,
		SaturationPwm: c.SaturationPwm,
	}
}

type CalibrationConfig struct {
	Motor    calibration.Motor `json:"motor"`
	StartPwm int               `json:"startPwm"`
	EndPwm   int               `json:"endPwm"`
	StepSize int               `json:"stepSize"`
	HoldTime time.Duration     `json:"holdTime"`
}

func (c CalibrationConfig) Request() calibration.Request {
	return calibration.Request{
		Motor:    c.Motor,
		StartPwm: c.StartPwm,
		EndPwm:   c.EndPwm,
		StepSize: c.StepSize,
		HoldTime: c.HoldTime,
	}
}

type MonitorConfig struct {
	RollingWindowSize int `json:"rollingWindowSize"`
}
