package calibration

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/drivetune/drivetune/internal/protocol"
)

// Point is a single measured PWM to velocity pair
type Point = protocol.CalibrationPoint

type Motor string

const (
	MotorLeft  Motor = "left"
	MotorRight Motor = "right"
	MotorBoth  Motor = "both"
)

const MaxPwm = 255

func ParseMotor(value string) (Motor, error) {
	motor := Motor(strings.ToLower(strings.TrimSpace(value)))
	switch motor {
	case MotorLeft, MotorRight, MotorBoth:
		return motor, nil
	}
	return "", fmt.Errorf("unknown motor '%s', expected one of left, right, both", value)
}

// UnmarshalText decodes an empty text to the zero motor, Request.Validate rejects it
func (m *Motor) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*m = ""
		return nil
	}
	motor, err := ParseMotor(string(text))
	if err != nil {
		return err
	}
	*m = motor
	return nil
}

// velocity selects the measured velocity of the given motor, both averages the two wheels
func (m Motor) velocity(point Point) float64 {
	switch m {
	case MotorLeft:
		return point.LeftVelocity
	case MotorRight:
		return point.RightVelocity
	default:
		return (point.LeftVelocity + point.RightVelocity) / 2.0
	}
}

// Request describes a PWM sweep performed by the robot
type Request struct {
	Motor    Motor
	StartPwm int
	EndPwm   int
	StepSize int
	HoldTime time.Duration
}

func DefaultRequest() Request {
	return Request{
		Motor:    MotorBoth,
		StartPwm: 0,
		EndPwm:   MaxPwm,
		StepSize: 5,
		HoldTime: 500 * time.Millisecond,
	}
}

func (r Request) Validate() error {
	if _, err := ParseMotor(string(r.Motor)); err != nil {
		return err
	}
	if r.StartPwm < 0 || r.EndPwm > MaxPwm || r.StartPwm > r.EndPwm {
		return fmt.Errorf("invalid PWM range %d..%d, expected 0 <= start <= end <= %d", r.StartPwm, r.EndPwm, MaxPwm)
	}
	if r.StepSize <= 0 {
		return fmt.Errorf("step size must be positive, got %d", r.StepSize)
	}
	if r.HoldTime <= 0 {
		return fmt.Errorf("hold time must be positive, got %s", r.HoldTime)
	}
	return nil
}

// Steps is the number of PWM values visited by the sweep
func (r Request) Steps() int {
	return (r.EndPwm-r.StartPwm)/r.StepSize + 1
}

// EstimatedDuration is the minimal time the robot needs for the sweep
func (r Request) EstimatedDuration() time.Duration {
	return time.Duration(r.Steps()) * r.HoldTime
}

func (r Request) Command() protocol.Command {
	return protocol.StartCalibration(string(r.Motor), r.StartPwm, r.EndPwm, r.StepSize, int(r.HoldTime.Milliseconds()))
}

// Session collects the results of a single calibration sweep
type Session struct {
	mu sync.Mutex

	request  Request
	points   []Point
	progress protocol.CalibrationProgress
	running  bool
	complete bool

	done chan struct{}
}

func NewSession(request Request) (*Session, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		request:  request,
		points:   []Point{},
		progress: protocol.CalibrationProgress{Percent: -1},
		running:  true,
		done:     make(chan struct{}),
	}, nil
}

func (s *Session) Request() Request {
	return s.request
}

// Handle consumes calibration messages of the robot and reports whether the message was used
func (s *Session) Handle(msg protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}

	switch m := msg.(type) {
	case protocol.CalibrationPoint:
		s.points = append(s.points, m)
	case protocol.CalibrationProgress:
		s.progress = m
	case protocol.CalibrationComplete:
		s.complete = true
		s.finish()
	default:
		return false
	}
	return true
}

// Stop ends the session without waiting for the robot to complete the sweep
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.finish()
	}
}

func (s *Session) finish() {
	s.running = false
	close(s.done)
}

// Done is closed once the sweep completed or was stopped
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Complete reports whether the robot finished the whole sweep
func (s *Session) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

func (s *Session) Progress() protocol.CalibrationProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Session) Points() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Point{}, s.points...)
}
