package simulator

import (
	"math"
	"math/rand"
	"time"

	"github.com/drivetune/drivetune/internal/calibration"
	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/util"
)

const (
	maxPwm = 255.0
	// PWM below which the simulated motors do not turn at all
	physicalDeadzone = 40.0
)

type PlantOptions struct {
	TimeConstant       time.Duration
	MaxVelocity        float64
	Noise              float64
	WheelCircumference float64
	TicksPerRevolution int
	Seed               int64
}

type driveMode int

const (
	modeIdle driveMode = iota
	modeVelocity
	modeMotors
)

type wheel struct {
	velocity float64
	measured float64
	pwm      float64
	// open loop output in [-1, 1] when driven by MOTORS or JOYSTICK
	power    float64
	ticks    float64
	distance float64
	pid      *util.PidLoop
}

// steadyStateVelocity is the velocity a motor reaches when driven with the given PWM forever
func (p *Plant) steadyStateVelocity(pwm float64) float64 {
	magnitude := math.Abs(pwm)
	if magnitude <= physicalDeadzone {
		return 0
	}
	velocity := (magnitude - physicalDeadzone) / (maxPwm - physicalDeadzone) * p.options.MaxVelocity
	return math.Copysign(velocity, pwm)
}

// Plant is a first order model of the two drive motors and the controller firmware
type Plant struct {
	options PlantOptions
	rng     *rand.Rand

	config protocol.RobotConfig
	mode   driveMode
	target float64

	left  wheel
	right wheel
}

func NewPlant(options PlantOptions) *Plant {
	config := protocol.DefaultRobotConfig()
	p := &Plant{
		options: options,
		rng:     rand.New(rand.NewSource(options.Seed)),
		config:  config,
	}
	p.left.pid = util.NewPidLoop(config.PidKp, config.PidKi, config.PidKd, -maxPwm, maxPwm)
	p.right.pid = util.NewPidLoop(config.PidKp, config.PidKi, config.PidKd, -maxPwm, maxPwm)
	return p
}

func (p *Plant) Config() protocol.RobotConfig {
	return p.config
}

func (p *Plant) SetConfig(config protocol.RobotConfig) {
	p.config = config
	p.left.pid.SetGains(config.PidKp, config.PidKi, config.PidKd)
	p.right.pid.SetGains(config.PidKp, config.PidKi, config.PidKd)
}

// SetVelocity enables the velocity controller, 0 stops both motors
func (p *Plant) SetVelocity(target float64) {
	if target == 0 {
		p.Stop()
		return
	}
	if p.mode != modeVelocity {
		p.left.pid.Reset()
		p.right.pid.Reset()
	}
	p.mode = modeVelocity
	p.target = target
}

// SetPower drives the motors open loop, each in [-1, 1]
func (p *Plant) SetPower(left, right float64) {
	p.mode = modeMotors
	p.left.power = util.CoerceFinite(left, -1, 1)
	p.right.power = util.CoerceFinite(right, -1, 1)
}

func (p *Plant) Stop() {
	p.mode = modeIdle
	p.target = 0
	p.left.power = 0
	p.right.power = 0
}

// velocityPwm is the output of the firmware velocity controller for one wheel
func (p *Plant) velocityPwm(w *wheel, dt time.Duration) float64 {
	var feedForward float64
	if p.config.PolynomialEnabled {
		feedForward = math.Copysign(calibration.Evaluate(p.config.VelToPwm(), math.Abs(p.target)), p.target)
	} else {
		feedForward = math.Copysign(p.config.DeadzonePwm+p.config.FeedforwardGain*math.Abs(p.target), p.target)
	}
	if !p.config.PidEnabled {
		return feedForward
	}
	return feedForward + w.pid.Advance(p.target, w.measured, dt)
}

// Step advances the simulation by dt
func (p *Plant) Step(dt time.Duration) {
	for _, w := range []*wheel{&p.left, &p.right} {
		switch p.mode {
		case modeVelocity:
			w.pwm = p.velocityPwm(w, dt)
		case modeMotors:
			w.pwm = w.power * maxPwm
		default:
			w.pwm = 0
		}
		w.pwm = util.CoerceFinite(w.pwm, -maxPwm, maxPwm)

		factor := 1.0
		if p.options.TimeConstant > 0 {
			factor = math.Min(1, dt.Seconds()/p.options.TimeConstant.Seconds())
		}
		w.velocity += (p.steadyStateVelocity(w.pwm) - w.velocity) * factor

		w.measured = w.velocity
		if p.options.Noise > 0 && w.velocity != 0 {
			w.measured += p.rng.NormFloat64() * p.options.Noise
		}

		travelled := w.velocity * dt.Seconds()
		w.distance += travelled
		if p.options.WheelCircumference > 0 {
			w.ticks += travelled / p.options.WheelCircumference * float64(p.options.TicksPerRevolution)
		}
	}
}

func (p *Plant) wheelTelemetry(w *wheel) protocol.WheelTelemetry {
	telemetry := protocol.WheelTelemetry{
		Count:    int64(math.Round(w.ticks)),
		Distance: w.distance,
		Velocity: w.measured,
	}
	if p.options.WheelCircumference > 0 {
		telemetry.Revolutions = w.distance / p.options.WheelCircumference
		telemetry.Rpm = w.measured / p.options.WheelCircumference * 60
	}
	return telemetry
}

// Telemetry reports the current state the way the controller broadcasts it
func (p *Plant) Telemetry() protocol.Telemetry {
	leftPwm := math.Round(p.left.pwm)
	rightPwm := math.Round(p.right.pwm)
	telemetry := protocol.Telemetry{
		Left:       p.wheelTelemetry(&p.left),
		Right:      p.wheelTelemetry(&p.right),
		MotorLeft:  &leftPwm,
		MotorRight: &rightPwm,
	}
	if p.mode == modeVelocity {
		leftError := p.target - p.left.measured
		rightError := p.target - p.right.measured
		telemetry.LeftVelocityError = &leftError
		telemetry.RightVelocityError = &rightError
	}
	return telemetry
}

// VelocityError is reported while the velocity controller is active
func (p *Plant) VelocityError() (protocol.VelocityError, bool) {
	if p.mode != modeVelocity {
		return protocol.VelocityError{}, false
	}
	return protocol.VelocityError{
		Left:       p.target - p.left.measured,
		Right:      p.target - p.right.measured,
		PidEnabled: p.config.PidEnabled,
	}, true
}

// Reset stops the motors and clears the odometry
func (p *Plant) Reset() {
	p.Stop()
	for _, w := range []*wheel{&p.left, &p.right} {
		w.velocity = 0
		w.measured = 0
		w.pwm = 0
		w.ticks = 0
		w.distance = 0
		w.pid.Reset()
	}
}
