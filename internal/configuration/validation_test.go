package configuration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func createValidConfig(t *testing.T) Configuration {
	config, err := Decode(createViper())
	assert.NoError(t, err)
	return config
}

func TestValidateRobotUrlScheme(t *testing.T) {
	// GIVEN
	config := createValidConfig(t)
	config.Robot.Url = "http://192.168.4.1/ws"

	// WHEN
	err := validateConfig(&config)

	// THEN
	assert.EqualError(t, err, "robot: unsupported url scheme 'http', use one of: [ws wss]")
}

func TestValidateRobotUrlMissingHost(t *testing.T) {
	// GIVEN
	config := createValidConfig(t)
	config.Robot.Url = "ws:///ws"

	// WHEN
	err := validateConfig(&config)

	// THEN
	assert.EqualError(t, err, "robot: url 'ws:///ws' is missing a host")
}

func TestValidateReconnectIntervals(t *testing.T) {
	// GIVEN
	config := createValidConfig(t)
	config.Robot.Reconnect.MaxInterval = config.Robot.Reconnect.InitialInterval / 2

	// WHEN
	err := validateConfig(&config)

	// THEN
	assert.ErrorContains(t, err, "invalid reconnect intervals")
}

func TestValidateAutotune(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(config *AutotuneConfig)
		contains string
	}{
		{"zero duration", func(c *AutotuneConfig) { c.Duration = 0 }, "duration must be positive"},
		{"zero aggressiveness", func(c *AutotuneConfig) { c.Aggressiveness = 0 }, "aggressiveness must be a positive number"},
		{"unknown motor", func(c *AutotuneConfig) { c.Motor = "front" }, "unknown motor"},
		{"saturation above pwm range", func(c *AutotuneConfig) { c.SaturationPwm = 300 }, "saturationPwm must be in (0, 255]"},
		{"negative settle delay", func(c *AutotuneConfig) { c.SettleDelay = -1 }, "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN
			config := createValidConfig(t)
			tt.modify(&config.Autotune)

			// WHEN
			err := validateConfig(&config)

			// THEN
			assert.ErrorContains(t, err, "autotune: ")
			assert.ErrorContains(t, err, tt.contains)
		})
	}
}

func TestValidateCalibrationRange(t *testing.T) {
	// GIVEN
	config := createValidConfig(t)
	config.Calibration.StartPwm = 200
	config.Calibration.EndPwm = 100

	// WHEN
	err := validateConfig(&config)

	// THEN
	assert.EqualError(t, err, "calibration: invalid PWM range 200..100, expected 0 <= start <= end <= 255")
}

func TestValidateSharedPort(t *testing.T) {
	// GIVEN
	config := createValidConfig(t)
	config.Api.Enabled = true
	config.Statistics.Enabled = true
	config.Statistics.Port = config.Api.Port

	// WHEN
	err := validateConfig(&config)

	// THEN
	assert.EqualError(t, err, "api and statistics cannot share port 9101")
}

func TestValidateDisabledServersIgnorePort(t *testing.T) {
	// GIVEN
	config := createValidConfig(t)
	config.Api.Port = -1

	// WHEN
	err := validateConfig(&config)

	// THEN
	assert.NoError(t, err)
}

func TestValidateMqtt(t *testing.T) {
	// GIVEN
	config := createValidConfig(t)
	config.Mqtt.Enabled = true
	config.Mqtt.Broker = "http://broker:1883"

	// WHEN
	err := validateConfig(&config)

	// THEN
	assert.ErrorContains(t, err, "mqtt: unsupported broker scheme 'http'")

	// WHEN
	config.Mqtt.Broker = "tcp://broker:1883"
	config.Mqtt.Qos = 3
	err = validateConfig(&config)

	// THEN
	assert.EqualError(t, err, "mqtt: qos must be 0, 1 or 2, got 3")
}

func TestValidateSimulator(t *testing.T) {
	// GIVEN
	config := createValidConfig(t)
	config.Simulator.MaxVelocity = 0

	// WHEN
	err := validateConfig(&config)

	// THEN
	assert.EqualError(t, err, "simulator: maxVelocity must be positive, got 0")
}
