package simulator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/drivetune/drivetune/internal/protocol"
)

// sweep is a running calibration, stepping the PWM of one or both motors
type sweep struct {
	motor    string
	pwm      int
	start    int
	end      int
	step     int
	hold     time.Duration
	held     time.Duration
	steps    int
	recorded int
}

func parseSweep(cmd protocol.Command) (*sweep, error) {
	args := cmd.Args()
	if len(args) != 5 {
		return nil, fmt.Errorf("%w: %s expects 5 arguments, got %d", protocol.ErrMalformedCommand, cmd.Name, len(args))
	}
	motor := strings.ToLower(strings.TrimSpace(args[0]))
	if motor != "left" && motor != "right" && motor != "both" {
		return nil, fmt.Errorf("%w: unknown motor '%s'", protocol.ErrMalformedCommand, args[0])
	}
	values := make([]int, 4)
	for i, arg := range args[1:] {
		value, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return nil, fmt.Errorf("%w: %s argument %d: %v", protocol.ErrMalformedCommand, cmd.Name, i+1, err)
		}
		values[i] = value
	}
	start, end, step, hold := values[0], values[1], values[2], values[3]
	if start < 0 || end > maxPwm || start > end || step <= 0 || hold <= 0 {
		return nil, fmt.Errorf("%w: invalid calibration range %d..%d step %d hold %d", protocol.ErrMalformedCommand, start, end, step, hold)
	}
	return &sweep{
		motor: motor,
		pwm:   start,
		start: start,
		end:   end,
		step:  step,
		hold:  time.Duration(hold) * time.Millisecond,
		steps: (end-start)/step + 1,
	}, nil
}

func (s *sweep) apply(plant *Plant) {
	power := float64(s.pwm) / maxPwm
	switch s.motor {
	case "left":
		plant.SetPower(power, 0)
	case "right":
		plant.SetPower(0, power)
	default:
		plant.SetPower(power, power)
	}
}

// advance returns the messages produced by holding the current PWM for dt more
func (s *sweep) advance(plant *Plant, dt time.Duration) (messages []protocol.Message, finished bool) {
	s.held += dt
	if s.held < s.hold {
		return nil, false
	}

	s.recorded++
	messages = append(messages,
		protocol.CalibrationPoint{
			Pwm:           s.pwm,
			LeftVelocity:  math.Round(plant.left.measured*100) / 100,
			RightVelocity: math.Round(plant.right.measured*100) / 100,
		},
		protocol.CalibrationProgress{
			Text:    fmt.Sprintf("Step %d/%d PWM %d (%d%%)", s.recorded, s.steps, s.pwm, s.recorded*100/s.steps),
			Percent: s.recorded * 100 / s.steps,
		},
	)

	s.pwm += s.step
	if s.pwm > s.end {
		plant.Stop()
		return append(messages, protocol.CalibrationComplete{}), true
	}
	s.held = 0
	s.apply(plant)
	return messages, false
}

// Controller emulates the firmware of the robot controller on top of a Plant
type Controller struct {
	mu    sync.Mutex
	plant *Plant
	sweep *sweep
}

func NewController(plant *Plant) *Controller {
	return &Controller{plant: plant}
}

func ack(cmd protocol.Command) protocol.CommandAck {
	return protocol.CommandAck{Command: cmd.Name, Value: cmd.Payload}
}

func parseBool(cmd protocol.Command) (bool, error) {
	value, err := strconv.ParseBool(strings.TrimSpace(cmd.Payload))
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", protocol.ErrMalformedCommand, cmd, err)
	}
	return value, nil
}

func parsePolynomial(cmd protocol.Command) ([4]float64, error) {
	var result [4]float64
	values, err := cmd.FloatArgs(protocol.PolynomialDegree + 2)
	if err != nil {
		return result, err
	}
	if int(values[0]) != protocol.PolynomialDegree {
		return result, fmt.Errorf("%w: unsupported polynomial degree %v", protocol.ErrMalformedCommand, values[0])
	}
	copy(result[:], values[1:])
	return result, nil
}

// Handle executes a command and returns the replies for the sending client
func (c *Controller) Handle(cmd protocol.Command) ([]protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	config := c.plant.Config()
	switch cmd.Name {
	case protocol.CommandVelocity:
		values, err := cmd.FloatArgs(1)
		if err != nil {
			return nil, err
		}
		c.sweep = nil
		c.plant.SetVelocity(values[0])
		return []protocol.Message{ack(cmd)}, nil

	case protocol.CommandMotors:
		values, err := cmd.FloatArgs(2)
		if err != nil {
			return nil, err
		}
		c.sweep = nil
		c.plant.SetPower(values[0], values[1])
		return []protocol.Message{ack(cmd)}, nil

	case protocol.CommandJoystick:
		values, err := cmd.FloatArgs(2)
		if err != nil {
			return nil, err
		}
		x, y := values[0], values[1]
		c.sweep = nil
		c.plant.SetPower(y+x, y-x)
		return nil, nil

	case protocol.CommandPidEnable:
		enabled, err := parseBool(cmd)
		if err != nil {
			return nil, err
		}
		config.PidEnabled = enabled

	case protocol.CommandPidGains:
		values, err := cmd.FloatArgs(3)
		if err != nil {
			return nil, err
		}
		config.PidKp, config.PidKi, config.PidKd = values[0], values[1], values[2]

	case protocol.CommandFeedforwardGain:
		values, err := cmd.FloatArgs(1)
		if err != nil {
			return nil, err
		}
		config.FeedforwardGain = values[0]

	case protocol.CommandDeadzone:
		values, err := cmd.FloatArgs(1)
		if err != nil {
			return nil, err
		}
		config.DeadzonePwm = values[0]

	case protocol.CommandPolyVelToPwm:
		coefficients, err := parsePolynomial(cmd)
		if err != nil {
			return nil, err
		}
		config.VelToPwmA0, config.VelToPwmA1, config.VelToPwmA2, config.VelToPwmA3 = coefficients[0], coefficients[1], coefficients[2], coefficients[3]

	case protocol.CommandPolyPwmToVel:
		coefficients, err := parsePolynomial(cmd)
		if err != nil {
			return nil, err
		}
		config.PwmToVelB0, config.PwmToVelB1, config.PwmToVelB2, config.PwmToVelB3 = coefficients[0], coefficients[1], coefficients[2], coefficients[3]

	case protocol.CommandPolyEnable:
		enabled, err := parseBool(cmd)
		if err != nil {
			return nil, err
		}
		config.PolynomialEnabled = enabled

	case protocol.CommandStartCalibration:
		s, err := parseSweep(cmd)
		if err != nil {
			return nil, err
		}
		c.sweep = s
		s.apply(c.plant)
		return []protocol.Message{protocol.CalibrationProgress{
			Text:    fmt.Sprintf("Calibration started: %s motor, %d steps (0%%)", s.motor, s.steps),
			Percent: 0,
		}}, nil

	case protocol.CommandStopCalibration:
		c.sweep = nil
		c.plant.Stop()
		return []protocol.Message{protocol.Log{Message: "Calibration stopped"}}, nil

	case protocol.CommandConfigGet:
		return []protocol.Message{protocol.ConfigData{Config: config}}, nil

	case protocol.CommandConfigSet:
		var updated protocol.RobotConfig
		if err := json.Unmarshal([]byte(cmd.Payload), &updated); err != nil {
			return []protocol.Message{protocol.ConfigError{Reason: err.Error()}}, nil
		}
		c.plant.SetConfig(updated)
		return []protocol.Message{protocol.ConfigSaved{}}, nil

	case protocol.CommandConfigReset:
		c.plant.SetConfig(protocol.DefaultRobotConfig())
		return []protocol.Message{protocol.ConfigResetReply{}}, nil

	case protocol.CommandReset:
		c.sweep = nil
		c.plant.Reset()
		return []protocol.Message{protocol.Log{Message: "Controller reset"}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown command %s", protocol.ErrMalformedCommand, cmd.Name)
	}

	// remaining commands only change the configuration
	c.plant.SetConfig(config)
	return []protocol.Message{ack(cmd)}, nil
}

// Tick advances the simulation and returns the messages broadcast to all clients
func (c *Controller) Tick(dt time.Duration) []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.plant.Step(dt)

	var messages []protocol.Message
	if c.sweep != nil {
		sweepMessages, finished := c.sweep.advance(c.plant, dt)
		messages = append(messages, sweepMessages...)
		if finished {
			c.sweep = nil
		}
	}

	messages = append(messages, c.plant.Telemetry())
	if velocityError, ok := c.plant.VelocityError(); ok {
		messages = append(messages, velocityError)
	}
	return messages
}

// Calibrating reports whether a calibration sweep is in progress
func (c *Controller) Calibrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweep != nil
}
