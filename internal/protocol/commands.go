package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/drivetune/drivetune/internal/util"
)

// Names of the commands understood by the robot controller
const (
	CommandVelocity         = "VELOCITY"
	CommandPidEnable        = "PID_ENABLE"
	CommandPidGains         = "PID_GAINS"
	CommandMotors           = "MOTORS"
	CommandFeedforwardGain  = "FF_GAIN"
	CommandDeadzone         = "DEADZONE"
	CommandPolyVelToPwm     = "POLY_VEL2PWM"
	CommandPolyPwmToVel     = "POLY_PWM2VEL"
	CommandPolyEnable       = "POLY_ENABLE"
	CommandStartCalibration = "START_CALIBRATION"
	CommandStopCalibration  = "STOP_CALIBRATION"
	CommandConfigGet        = "CONFIG_GET"
	CommandConfigSet        = "CONFIG_SET"
	CommandConfigReset      = "CONFIG_RESET"
	CommandJoystick         = "JOYSTICK"
	CommandRequestControl   = "REQUEST_CONTROL"
	CommandReleaseControl   = "RELEASE_CONTROL"
	CommandReset            = "RESET"
)

// PolynomialDegree is the only polynomial degree supported by the controller
const PolynomialDegree = 3

var ErrMalformedCommand = errors.New("malformed command")

// Command is a single outbound text command, e.g. "VELOCITY:20.0"
type Command struct {
	Name    string
	Payload string
}

// String returns the wire representation of the command
func (c Command) String() string {
	if len(c.Payload) <= 0 {
		return c.Name
	}
	return c.Name + ":" + c.Payload
}

// Args splits the payload into its comma separated arguments
func (c Command) Args() []string {
	if len(c.Payload) <= 0 {
		return nil
	}
	return strings.Split(c.Payload, ",")
}

// FloatArgs parses all arguments as floats, expecting exactly n of them
func (c Command) FloatArgs(n int) ([]float64, error) {
	args := c.Args()
	if len(args) != n {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrMalformedCommand, c.Name, n, len(args))
	}
	result := make([]float64, n)
	for i, arg := range args {
		value, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s argument %d: %v", ErrMalformedCommand, c.Name, i, err)
		}
		result[i] = value
	}
	return result, nil
}

// ParseCommand parses the wire representation of a command
func ParseCommand(raw string) (Command, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) <= 0 {
		return Command{}, fmt.Errorf("%w: empty", ErrMalformedCommand)
	}
	name, payload, _ := strings.Cut(raw, ":")
	if len(name) <= 0 || strings.ToUpper(name) != name {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformedCommand, raw)
	}
	return Command{Name: name, Payload: payload}, nil
}

func formatFloat(value float64, precision int) string {
	return strconv.FormatFloat(value, 'f', precision, 64)
}

// Velocity commands the target velocity (cm/s) of both wheels, 0 stops.
func Velocity(cmPerSecond float64) Command {
	if cmPerSecond == 0 {
		return Command{Name: CommandVelocity, Payload: "0"}
	}
	return Command{Name: CommandVelocity, Payload: formatFloat(cmPerSecond, 1)}
}

// PidEnable toggles the closed velocity loop of the controller
func PidEnable(enabled bool) Command {
	return Command{Name: CommandPidEnable, Payload: strconv.FormatBool(enabled)}
}

// PidGains pushes new gains to the controller
func PidGains(kp, ki, kd float64) Command {
	return Command{Name: CommandPidGains, Payload: fmt.Sprintf("%s,%s,%s", formatFloat(kp, 3), formatFloat(ki, 3), formatFloat(kd, 3))}
}

// Motors applies open loop power to both motors, each clamped to [-1, 1]
func Motors(left, right float64) Command {
	left = util.CoerceFinite(left, -1, 1)
	right = util.CoerceFinite(right, -1, 1)
	return Command{Name: CommandMotors, Payload: formatFloat(left, 2) + "," + formatFloat(right, 2)}
}

func FeedforwardGain(gain float64) Command {
	return Command{Name: CommandFeedforwardGain, Payload: formatFloat(gain, 2)}
}

func Deadzone(pwm int) Command {
	return Command{Name: CommandDeadzone, Payload: strconv.Itoa(pwm)}
}

func polynomial(name string, coefficients [4]float64) Command {
	parts := []string{strconv.Itoa(PolynomialDegree)}
	for _, c := range coefficients {
		parts = append(parts, strconv.FormatFloat(c, 'g', -1, 64))
	}
	return Command{Name: name, Payload: strings.Join(parts, ",")}
}

// PolyVelToPwm configures the cubic velocity -> PWM mapping (a0 + a1*v + a2*v^2 + a3*v^3)
func PolyVelToPwm(coefficients [4]float64) Command {
	return polynomial(CommandPolyVelToPwm, coefficients)
}

// PolyPwmToVel configures the cubic PWM -> velocity mapping (b0 + b1*p + b2*p^2 + b3*p^3)
func PolyPwmToVel(coefficients [4]float64) Command {
	return polynomial(CommandPolyPwmToVel, coefficients)
}

func PolyEnable(enabled bool) Command {
	return Command{Name: CommandPolyEnable, Payload: strconv.FormatBool(enabled)}
}

// StartCalibration starts a PWM sweep on the given motor ("left", "right" or "both")
func StartCalibration(motor string, startPwm, endPwm, stepSize, holdTimeMs int) Command {
	return Command{
		Name:    CommandStartCalibration,
		Payload: fmt.Sprintf("%s,%d,%d,%d,%d", motor, startPwm, endPwm, stepSize, holdTimeMs),
	}
}

func StopCalibration() Command {
	return Command{Name: CommandStopCalibration}
}

func ConfigGet() Command {
	return Command{Name: CommandConfigGet}
}

func ConfigSet(config RobotConfig) (Command, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return Command{}, err
	}
	return Command{Name: CommandConfigSet, Payload: string(data)}, nil
}

func ConfigReset() Command {
	return Command{Name: CommandConfigReset}
}

// Joystick sends a joystick position, x turns and y drives forward, both in [-1, 1]
func Joystick(x, y float64) Command {
	x = util.CoerceFinite(x, -1, 1)
	y = util.CoerceFinite(y, -1, 1)
	return Command{Name: CommandJoystick, Payload: formatFloat(x, 2) + "," + formatFloat(y, 2)}
}

func RequestControl() Command {
	return Command{Name: CommandRequestControl}
}

func ReleaseControl() Command {
	return Command{Name: CommandReleaseControl}
}

func Reset() Command {
	return Command{Name: CommandReset}
}
