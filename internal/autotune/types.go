package autotune

import (
	"fmt"
	"strings"
	"time"

	"github.com/drivetune/drivetune/internal/util"
)

// Sample is a single velocity observation of a step response
type Sample struct {
	// milliseconds since the step was applied
	Time float64 `json:"time"`
	// cm/s
	Velocity float64 `json:"velocity"`
}

type MotorSelector string

const (
	MotorLeft    MotorSelector = "left"
	MotorRight   MotorSelector = "right"
	MotorAverage MotorSelector = "average"
)

var MotorSelectors = []MotorSelector{MotorLeft, MotorRight, MotorAverage}

func ParseMotorSelector(value string) (MotorSelector, error) {
	selector := MotorSelector(strings.ToLower(strings.TrimSpace(value)))
	switch selector {
	case MotorLeft, MotorRight, MotorAverage:
		return selector, nil
	case "both", "avg":
		return MotorAverage, nil
	}
	return "", fmt.Errorf("unknown motor selector '%s', expected one of %v", value, MotorSelectors)
}

// UnmarshalText decodes an empty text to the zero selector, RunConfig.Validate rejects it
func (m *MotorSelector) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*m = ""
		return nil
	}
	selector, err := ParseMotorSelector(string(text))
	if err != nil {
		return err
	}
	*m = selector
	return nil
}

// Select picks the monitored velocity from a pair of wheel velocities
func (m MotorSelector) Select(left, right float64) float64 {
	switch m {
	case MotorLeft:
		return left
	case MotorRight:
		return right
	default:
		return (left + right) / 2.0
	}
}

// RunConfig holds the parameters of a single step response test.
// It must not be changed once a run has been started with it.
type RunConfig struct {
	TargetVelocity float64       `json:"targetVelocity"`
	Motor          MotorSelector `json:"motor"`
	Duration       time.Duration `json:"duration"`
	Aggressiveness float64       `json:"aggressiveness"`
}

func (c RunConfig) Validate() error {
	if !util.IsFinite(c.TargetVelocity) {
		return fmt.Errorf("target velocity must be a finite number, got %v", c.TargetVelocity)
	}
	if _, err := ParseMotorSelector(string(c.Motor)); err != nil {
		return err
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %s", c.Duration)
	}
	if !(c.Aggressiveness > 0) || !util.IsFinite(c.Aggressiveness) {
		return fmt.Errorf("aggressiveness must be a positive number, got %v", c.Aggressiveness)
	}
	return nil
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSettlingAtZero
	PhaseStepApplied
	PhaseMeasuring
	PhaseCompleted
	PhaseAborted
)

// Phases lists all phases in lifecycle order
var Phases = []Phase{PhaseIdle, PhaseSettlingAtZero, PhaseStepApplied, PhaseMeasuring, PhaseCompleted, PhaseAborted}

var phaseNames = map[Phase]string{
	PhaseIdle:           "idle",
	PhaseSettlingAtZero: "settling",
	PhaseStepApplied:    "stepApplied",
	PhaseMeasuring:      "measuring",
	PhaseCompleted:      "completed",
	PhaseAborted:        "aborted",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase '%s'", string(text))
}

// Active reports whether a run in this phase is still driving the robot
func (p Phase) Active() bool {
	return p == PhaseSettlingAtZero || p == PhaseStepApplied || p == PhaseMeasuring
}

// Sampling reports whether telemetry is recorded as samples in this phase
func (p Phase) Sampling() bool {
	return p == PhaseStepApplied || p == PhaseMeasuring
}

// RunState is the mutable state of the current autotune run
type RunState struct {
	Config  RunConfig `json:"config"`
	Samples []Sample  `json:"samples"`
	// mean absolute motor output (0..255), nil until the robot reported it
	LastAbsPwm  *float64 `json:"lastAbsPwm,omitempty"`
	MaxVelocity float64  `json:"maxVelocity"`
	Phase       Phase    `json:"phase"`

	StartedAt time.Time `json:"startedAt"`
	// zero until the velocity step was applied
	StepAt time.Time `json:"stepAt"`

	AbortReason string `json:"abortReason,omitempty"`
	Error       string `json:"error,omitempty"`
}

func newRunState(config RunConfig, now time.Time) *RunState {
	return &RunState{
		Config:    config,
		Samples:   []Sample{},
		Phase:     PhaseSettlingAtZero,
		StartedAt: now,
	}
}

// Copy returns a deep copy of the run state
func (r *RunState) Copy() RunState {
	result := *r
	result.Samples = append([]Sample{}, r.Samples...)
	if r.LastAbsPwm != nil {
		pwm := *r.LastAbsPwm
		result.LastAbsPwm = &pwm
	}
	return result
}

// Metrics are the characteristics of a measured step response
type Metrics struct {
	RiseTimeSec         float64 `json:"riseTimeSec"`
	SettlingTimeSec     float64 `json:"settlingTimeSec"`
	OvershootPct        float64 `json:"overshootPct"`
	SteadyStateVelocity float64 `json:"steadyStateVelocity"`
	SteadyStateError    float64 `json:"steadyStateErrorCmS"`

	TargetVelocity float64 `json:"targetVelocity"`
	PeakVelocity   float64 `json:"peakVelocity"`
	SampleCount    int     `json:"sampleCount"`
	RiseIndex      int     `json:"riseIndex"`
	SettlingIndex  int     `json:"settlingIndex"`
	// whether a settling window was found before the end of the sample sequence
	Settled bool `json:"settled"`
	// overshoot is undefined for a zero target and reported as 0
	ZeroTarget bool `json:"zeroTarget"`
}

type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// AnalysisResult is the outcome of a completed run. It is never modified after creation.
type AnalysisResult struct {
	Metrics
	Gains
	Aggressiveness float64 `json:"aggressiveness"`
}
