package configuration

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/calibration"
	"github.com/drivetune/drivetune/internal/ui"
	"golang.org/x/exp/slices"
)

var (
	robotSchemes = []string{"ws", "wss"}
	mqttSchemes  = []string{"tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts"}
)

func Validate() error {
	return validateConfig(&CurrentConfig)
}

func validateConfig(config *Configuration) error {
	err := validateRobot(config.Robot)
	if err != nil {
		return err
	}
	err = validateAutotune(config.Autotune)
	if err != nil {
		return err
	}
	err = validateCalibration(config.Calibration)
	if err != nil {
		return err
	}
	if config.Monitor.RollingWindowSize <= 0 {
		return fmt.Errorf("monitor: rollingWindowSize must be positive, got %d", config.Monitor.RollingWindowSize)
	}
	err = validateServers(config)
	if err != nil {
		return err
	}
	err = validateMqtt(config.Mqtt)
	if err != nil {
		return err
	}
	return validateSimulator(config.Simulator)
}

func validateRobot(config RobotConfig) error {
	u, err := url.Parse(config.Url)
	if err != nil {
		return fmt.Errorf("robot: invalid url '%s': %w", config.Url, err)
	}
	if !slices.Contains(robotSchemes, u.Scheme) {
		return fmt.Errorf("robot: unsupported url scheme '%s', use one of: %v", u.Scheme, robotSchemes)
	}
	if u.Host == "" {
		return fmt.Errorf("robot: url '%s' is missing a host", config.Url)
	}
	if config.HandshakeTimeout <= 0 {
		return errors.New("robot: handshakeTimeout must be positive")
	}
	reconnect := config.Reconnect
	if reconnect.InitialInterval <= 0 || reconnect.MaxInterval < reconnect.InitialInterval {
		return fmt.Errorf("robot: invalid reconnect intervals %s..%s", reconnect.InitialInterval, reconnect.MaxInterval)
	}
	if reconnect.MaxElapsedTime < 0 {
		return errors.New("robot: reconnect maxElapsedTime must not be negative")
	}
	return nil
}

func validateAutotune(config AutotuneConfig) error {
	if err := config.RunConfig().Validate(); err != nil {
		return fmt.Errorf("autotune: %w", err)
	}
	if config.SaturationPwm <= 0 || config.SaturationPwm > calibration.MaxPwm {
		return fmt.Errorf("autotune: saturationPwm must be in (0, %d], got %v", calibration.MaxPwm, config.SaturationPwm)
	}
	if config.SettleDelay < 0 || config.WatchdogGrace < 0 {
		return errors.New("autotune: settleDelay and watchdogGrace must not be negative")
	}
	if config.SaturationPwm < autotune.DefaultSaturationPwm {
		ui.Warning("autotune: saturationPwm %v is below the default of %v, runs may abort early", config.SaturationPwm, autotune.DefaultSaturationPwm)
	}
	return nil
}

func validateCalibration(config CalibrationConfig) error {
	if err := config.Request().Validate(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	return nil
}

func validatePort(section string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s: invalid port %d", section, port)
	}
	return nil
}

func validateServers(config *Configuration) error {
	if config.Api.Enabled {
		if err := validatePort("api", config.Api.Port); err != nil {
			return err
		}
	}
	if config.Statistics.Enabled {
		if err := validatePort("statistics", config.Statistics.Port); err != nil {
			return err
		}
	}
	if config.Api.Enabled && config.Statistics.Enabled && config.Api.Port == config.Statistics.Port {
		return fmt.Errorf("api and statistics cannot share port %d", config.Api.Port)
	}
	return nil
}

func validateMqtt(config MqttConfig) error {
	if !config.Enabled {
		return nil
	}
	u, err := url.Parse(config.Broker)
	if err != nil {
		return fmt.Errorf("mqtt: invalid broker '%s': %w", config.Broker, err)
	}
	if !slices.Contains(mqttSchemes, u.Scheme) {
		return fmt.Errorf("mqtt: unsupported broker scheme '%s', use one of: %v", u.Scheme, mqttSchemes)
	}
	if config.ClientId == "" {
		return errors.New("mqtt: clientId must not be empty")
	}
	if config.Qos > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", config.Qos)
	}
	return nil
}

func validateSimulator(config SimulatorConfig) error {
	if err := validatePort("simulator", config.Port); err != nil {
		return err
	}
	if config.TelemetryRate <= 0 || config.TimeConstant <= 0 {
		return errors.New("simulator: telemetryRate and timeConstant must be positive")
	}
	if config.MaxVelocity <= 0 {
		return fmt.Errorf("simulator: maxVelocity must be positive, got %v", config.MaxVelocity)
	}
	if config.Noise < 0 {
		return fmt.Errorf("simulator: noise must not be negative, got %v", config.Noise)
	}
	if config.WheelCircumference <= 0 || config.TicksPerRevolution <= 0 {
		return errors.New("simulator: wheelCircumference and ticksPerRevolution must be positive")
	}
	return nil
}
