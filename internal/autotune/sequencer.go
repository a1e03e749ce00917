package autotune

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/drivetune/drivetune/internal/util"
)

const (
	DefaultSettleDelay   = 500 * time.Millisecond
	DefaultWatchdogGrace = 500 * time.Millisecond
)

// Commander delivers commands to the robot
type Commander interface {
	Send(cmd protocol.Command) error
}

// Event describes a change of the autotune run
type Event struct {
	Phase   Phase
	Message string
	// snapshot of the run at the time of the event
	Run    RunState
	Result *AnalysisResult
	Err    error
	// the user must acknowledge this event before using any result
	Blocking bool
}

// Finished reports whether the event ends a run, either with a result, an abort or a failed analysis
func (e Event) Finished() bool {
	return e.Phase == PhaseCompleted || e.Phase == PhaseAborted || (e.Phase == PhaseIdle && e.Err != nil)
}

// Listener receives the events of a sequencer one at a time, in the order they occurred.
// A listener may call back into the sequencer; events raised by such calls are
// delivered after the current one.
type Listener func(event Event)

type Options struct {
	SettleDelay   time.Duration
	WatchdogGrace time.Duration
	SaturationPwm float64
	Clock         util.Clock
}

func DefaultOptions() Options {
	return Options{
		SettleDelay:   DefaultSettleDelay,
		WatchdogGrace: DefaultWatchdogGrace,
		SaturationPwm: DefaultSaturationPwm,
		Clock:         util.SystemClock(),
	}
}

// Sequencer drives a timed step response experiment.
// All transitions are serialized, timer callbacks of a previous run are ignored.
type Sequencer struct {
	mu sync.Mutex

	commander Commander
	options   Options
	listeners []Listener

	run        *RunState
	result     *AnalysisResult
	generation uint64

	settleTimer   util.Timer
	watchdogTimer util.Timer

	// events waiting for delivery, in creation order
	pending    []Event
	delivering bool
}

func NewSequencer(commander Commander, options Options) *Sequencer {
	defaults := DefaultOptions()
	if options.SettleDelay <= 0 {
		options.SettleDelay = defaults.SettleDelay
	}
	if options.WatchdogGrace <= 0 {
		options.WatchdogGrace = defaults.WatchdogGrace
	}
	if options.SaturationPwm <= 0 {
		options.SaturationPwm = defaults.SaturationPwm
	}
	if options.Clock == nil {
		options.Clock = defaults.Clock
	}
	return &Sequencer{
		commander: commander,
		options:   options,
	}
}

// AddListener registers a callback that is invoked for every event, outside of the lock
func (s *Sequencer) AddListener(listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Start begins a new run, cancelling any run that is still in progress
func (s *Sequencer) Start(config RunConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	config.Motor, _ = ParseMotorSelector(string(config.Motor))

	s.mu.Lock()
	s.cancelTimers()
	s.generation++
	generation := s.generation

	s.run = newRunState(config, s.options.Clock.Now())
	s.result = nil

	s.send(protocol.PidEnable(false))
	s.send(protocol.Velocity(0))

	s.settleTimer = s.options.Clock.AfterFunc(s.options.SettleDelay, func() {
		s.onSettled(generation)
	})
	event := s.event("Starting at 0 velocity...")
	s.pending = append(s.pending, event)
	s.mu.Unlock()

	s.deliver()
	return nil
}

func (s *Sequencer) onSettled(generation uint64) {
	s.mu.Lock()
	if generation != s.generation || s.run == nil || s.run.Phase != PhaseSettlingAtZero {
		s.mu.Unlock()
		return
	}
	s.settleTimer = nil

	s.run.StepAt = s.options.Clock.Now()
	s.run.Phase = PhaseStepApplied
	s.send(protocol.Velocity(s.run.Config.TargetVelocity))

	s.watchdogTimer = s.options.Clock.AfterFunc(s.run.Config.Duration+s.options.WatchdogGrace, func() {
		s.onWatchdog(generation)
	})
	event := s.event("Step applied! Measuring response...")
	s.pending = append(s.pending, event)
	s.mu.Unlock()

	s.deliver()
}

func (s *Sequencer) onWatchdog(generation uint64) {
	s.mu.Lock()
	if generation != s.generation || s.run == nil || !s.run.Phase.Sampling() {
		s.mu.Unlock()
		return
	}
	s.watchdogTimer = nil
	ui.Debug("Autotune watchdog fired after %s with %d samples", s.run.Config.Duration+s.options.WatchdogGrace, len(s.run.Samples))
	event := s.complete()
	s.pending = append(s.pending, event)
	s.mu.Unlock()

	s.deliver()
}

// HandleTelemetry feeds a telemetry tuple to the active run, if any
func (s *Sequencer) HandleTelemetry(tuple protocol.Tuple) {
	s.mu.Lock()
	if s.run == nil || !s.run.Phase.Active() {
		s.mu.Unlock()
		return
	}

	var elapsed time.Duration
	if s.run.Phase.Sampling() {
		elapsed = s.options.Clock.Now().Sub(s.run.StepAt)
	}

	var event Event
	done, err := s.run.Ingest(tuple, elapsed, s.options.SaturationPwm)
	switch {
	case errors.Is(err, ErrSaturation):
		event = s.abort(err.Error(), err, true)
	case errors.Is(err, ErrOutOfOrderSample):
		ui.Debug("Ignoring autotune sample: %v", err)
		s.mu.Unlock()
		return
	case done:
		event = s.complete()
	case s.run.Phase == PhaseMeasuring:
		event = s.event(s.progressMessage(elapsed))
	default:
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, event)
	s.mu.Unlock()

	s.deliver()
}

// Stop aborts the active run. Collected samples are kept, no result is produced.
func (s *Sequencer) Stop() error {
	s.mu.Lock()
	if s.run == nil || !s.run.Phase.Active() {
		s.mu.Unlock()
		return ErrNoActiveRun
	}
	event := s.abort("stopped by user", nil, false)
	s.pending = append(s.pending, event)
	s.mu.Unlock()

	s.deliver()
	return nil
}

// Finish ends the measurement early and analyzes the samples collected so far
func (s *Sequencer) Finish() (*AnalysisResult, error) {
	s.mu.Lock()
	if s.run == nil || !s.run.Phase.Active() {
		s.mu.Unlock()
		return nil, ErrNoActiveRun
	}
	event := s.complete()
	s.pending = append(s.pending, event)
	s.mu.Unlock()

	s.deliver()
	return event.Result, event.Err
}

// ApplyGains sends the gains of the last completed run to the robot
func (s *Sequencer) ApplyGains() (Gains, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Gains{}, ErrNoResult
	}
	if s.commander == nil {
		return Gains{}, errors.New("no robot connection configured")
	}
	gains := s.result.Gains
	err := s.commander.Send(protocol.PidGains(gains.Kp, gains.Ki, gains.Kd))
	if err != nil {
		return Gains{}, fmt.Errorf("applying gains: %w", err)
	}
	return gains, nil
}

// Snapshot returns a copy of the current run, if there is one
func (s *Sequencer) Snapshot() (RunState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return RunState{}, false
	}
	return s.run.Copy(), true
}

// Result returns the result of the last completed run
func (s *Sequencer) Result() (*AnalysisResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil, false
	}
	result := *s.result
	return &result, true
}

func (s *Sequencer) complete() Event {
	s.cancelTimers()
	s.send(protocol.Velocity(0))

	result, err := Evaluate(s.run.Samples, s.run.Config)
	if err != nil {
		s.run.Phase = PhaseIdle
		s.run.Error = err.Error()
		event := s.event(err.Error())
		event.Err = err
		event.Blocking = errors.Is(err, ErrInsufficientData)
		return event
	}

	s.run.Phase = PhaseCompleted
	s.result = result
	event := s.event(fmt.Sprintf("Complete: Kp=%.3f Ki=%.3f Kd=%.3f", result.Kp, result.Ki, result.Kd))
	event.Result = result
	return event
}

func (s *Sequencer) abort(reason string, cause error, blocking bool) Event {
	s.cancelTimers()
	s.send(protocol.Velocity(0))

	s.run.Phase = PhaseAborted
	s.run.AbortReason = reason
	event := s.event("Aborting: " + reason)
	event.Err = cause
	event.Blocking = blocking
	return event
}

func (s *Sequencer) cancelTimers() {
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	if s.watchdogTimer != nil {
		s.watchdogTimer.Stop()
		s.watchdogTimer = nil
	}
}

// send delivers a command, an unavailable transport does not affect the run
func (s *Sequencer) send(cmd protocol.Command) {
	if s.commander == nil {
		return
	}
	if err := s.commander.Send(cmd); err != nil {
		ui.Warning("Unable to send '%s': %v", cmd, err)
	}
}

func (s *Sequencer) progressMessage(elapsed time.Duration) string {
	progress := math.Min(100, float64(elapsed)/float64(s.run.Config.Duration)*100)
	last := s.run.Samples[len(s.run.Samples)-1]
	text := fmt.Sprintf("Measuring response... %.0f%% (%.1f cm/s) - %d samples", progress, last.Velocity, len(s.run.Samples))
	if s.run.LastAbsPwm != nil {
		text += fmt.Sprintf(" | Motor PWM ~ %.0f", *s.run.LastAbsPwm)
	}
	return text
}

func (s *Sequencer) event(message string) Event {
	return Event{
		Phase:   s.run.Phase,
		Message: message,
		Run:     s.run.Copy(),
	}
}

// deliver hands the queued events to the listeners in the order they were created.
// Events queued while another goroutine is delivering are delivered by that goroutine.
func (s *Sequencer) deliver() {
	s.mu.Lock()
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for len(s.pending) > 0 {
		event := s.pending[0]
		s.pending = s.pending[1:]
		listeners := append([]Listener{}, s.listeners...)
		s.mu.Unlock()

		for _, listener := range listeners {
			listener(event)
		}
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}
