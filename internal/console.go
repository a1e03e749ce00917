package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/calibration"
	"github.com/drivetune/drivetune/internal/configuration"
	"github.com/drivetune/drivetune/internal/monitor"
	"github.com/drivetune/drivetune/internal/mqtt"
	"github.com/drivetune/drivetune/internal/persistence"
	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/transport"
	"github.com/drivetune/drivetune/internal/ui"
)

const defaultControlTimeout = 5 * time.Second

var (
	ErrCalibrationRunning = errors.New("a calibration is already running")
	ErrControlTimeout     = errors.New("robot did not grant control in time")
)

// waiter is completed by the first inbound message it matches
type waiter struct {
	match func(msg protocol.Message) bool
	ch    chan protocol.Message
}

// Console bundles everything that talks to a single robot controller
type Console struct {
	Client      *transport.Client
	Sequencer   *autotune.Sequencer
	Monitor     *monitor.TelemetryMonitor
	Persistence persistence.Persistence
	Recorder    *persistence.AutotuneRecorder

	config    configuration.Configuration
	publisher *mqtt.Publisher

	mu          sync.Mutex
	waiters     []*waiter
	calibration *calibration.Session
}

// NewConsole wires the robot connection to the autotuner and the telemetry monitor.
// pers may be nil, in which case no history is recorded.
func NewConsole(config configuration.Configuration, pers persistence.Persistence) *Console {
	client := transport.NewClient(transport.Options{
		URL:              config.Robot.Url,
		HandshakeTimeout: config.Robot.HandshakeTimeout,
		InitialInterval:  config.Robot.Reconnect.InitialInterval,
		MaxInterval:      config.Robot.Reconnect.MaxInterval,
		MaxElapsedTime:   config.Robot.Reconnect.MaxElapsedTime,
	})

	c := &Console{
		Client:      client,
		Sequencer:   autotune.NewSequencer(client, config.Autotune.Options()),
		Monitor:     monitor.NewTelemetryMonitor(config.Monitor.RollingWindowSize),
		Persistence: pers,
		config:      config,
	}

	if pers != nil {
		c.Recorder = persistence.NewAutotuneRecorder(pers)
		c.Sequencer.AddListener(c.Recorder.OnEvent)
	}
	c.Sequencer.AddListener(logEvent)
	if config.Autotune.ApplyGains {
		c.Sequencer.AddListener(c.applyGains)
	}

	client.OnMessage(c.handle)
	return c
}

// SetPublisher forwards telemetry and results to the given MQTT publisher
func (c *Console) SetPublisher(publisher *mqtt.Publisher) {
	c.mu.Lock()
	c.publisher = publisher
	c.mu.Unlock()
	c.Sequencer.AddListener(publisher.OnEvent)
}

func logEvent(event autotune.Event) {
	switch {
	case event.Blocking && event.Phase == autotune.PhaseAborted:
		ui.ErrorAndNotify("Autotune aborted", "%s", event.Message)
	case event.Blocking:
		ui.WarningAndNotify("Autotune failed", "%s", event.Message)
	case event.Phase == autotune.PhaseCompleted:
		ui.Success("Autotune %s", event.Message)
	case event.Finished():
		ui.Warning("Autotune %s", event.Message)
	case event.Phase == autotune.PhaseMeasuring:
		ui.Debug("Autotune: %s", event.Message)
	default:
		ui.Info("Autotune: %s", event.Message)
	}
}

func (c *Console) applyGains(event autotune.Event) {
	if event.Phase != autotune.PhaseCompleted {
		return
	}
	gains, err := c.Sequencer.ApplyGains()
	if err != nil {
		ui.Error("Unable to apply gains: %v", err)
		return
	}
	ui.Success("Applied gains Kp=%.3f Ki=%.3f Kd=%.3f", gains.Kp, gains.Ki, gains.Kd)
	if c.Recorder != nil {
		if _, err := c.Recorder.MarkApplied(); err != nil {
			ui.Warning("Unable to mark autotune run as applied: %v", err)
		}
	}
}

func (c *Console) handle(msg protocol.Message) {
	c.Monitor.Handle(msg)

	switch m := msg.(type) {
	case protocol.Telemetry:
		c.Sequencer.HandleTelemetry(m.Tuple())
		c.mu.Lock()
		publisher := c.publisher
		c.mu.Unlock()
		if publisher != nil {
			publisher.PublishTelemetry(m)
		}
	case protocol.Welcome:
		if c.config.Robot.RequestControl.Get() {
			if err := c.Client.Send(protocol.RequestControl()); err != nil {
				ui.Warning("Unable to request control: %v", err)
			}
		}
	case protocol.Control:
		if c.Client.HasControl() {
			ui.Debug("This console has control of the robot")
		} else if m.ControllingClientId != 0 {
			ui.Warning("Client %d has control of the robot, commands of this console are rejected", m.ControllingClientId)
		}
	case protocol.Log:
		ui.Info("Robot: %s", m.Message)
	case protocol.ConfigError:
		ui.Warning("Robot rejected configuration: %s", m.Reason)
	case protocol.CommandAck:
		ui.Debug("Robot acknowledged %s:%s", m.Command, m.Value)
	case protocol.CalibrationPoint, protocol.CalibrationProgress, protocol.CalibrationComplete:
		c.mu.Lock()
		session := c.calibration
		c.mu.Unlock()
		if session == nil || !session.Handle(msg) {
			ui.Debug("Ignoring calibration message without a running session")
		}
	}

	c.complete(msg)
}

// complete hands the message to every waiter it matches
func (c *Console) complete(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if w.match(msg) {
			w.ch <- msg
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
}

func (c *Console) removeWaiter(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.waiters {
		if existing == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// Await sends the command and waits for the first reply matching the given function
func (c *Console) Await(ctx context.Context, cmd protocol.Command, match func(msg protocol.Message) bool) (protocol.Message, error) {
	w := &waiter{match: match, ch: make(chan protocol.Message, 1)}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	defer c.removeWaiter(w)

	if err := c.Client.Send(cmd); err != nil {
		return nil, err
	}

	select {
	case msg := <-w.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for reply to %s: %w", cmd.Name, ctx.Err())
	}
}

// SendAcknowledged sends a command and waits for the robot to acknowledge it
func (c *Console) SendAcknowledged(ctx context.Context, cmd protocol.Command) error {
	_, err := c.Await(ctx, cmd, func(msg protocol.Message) bool {
		ack, ok := msg.(protocol.CommandAck)
		return ok && ack.Command == cmd.Name
	})
	return err
}

// RobotConfig reads the configuration stored on the robot
func (c *Console) RobotConfig(ctx context.Context) (protocol.RobotConfig, error) {
	msg, err := c.Await(ctx, protocol.ConfigGet(), func(msg protocol.Message) bool {
		_, ok := msg.(protocol.ConfigData)
		return ok
	})
	if err != nil {
		return protocol.RobotConfig{}, err
	}
	return msg.(protocol.ConfigData).Config, nil
}

// SetRobotConfig stores the configuration on the robot
func (c *Console) SetRobotConfig(ctx context.Context, config protocol.RobotConfig) error {
	cmd, err := protocol.ConfigSet(config)
	if err != nil {
		return err
	}
	msg, err := c.Await(ctx, cmd, func(msg protocol.Message) bool {
		switch msg.(type) {
		case protocol.ConfigSaved, protocol.ConfigError:
			return true
		}
		return false
	})
	if err != nil {
		return err
	}
	if configError, ok := msg.(protocol.ConfigError); ok {
		return fmt.Errorf("robot rejected configuration: %s", configError.Reason)
	}
	return nil
}

// ResetRobotConfig restores the factory defaults of the robot
func (c *Console) ResetRobotConfig(ctx context.Context) error {
	_, err := c.Await(ctx, protocol.ConfigReset(), func(msg protocol.Message) bool {
		_, ok := msg.(protocol.ConfigResetReply)
		return ok
	})
	return err
}

// StartCalibration starts a PWM sweep, the returned session collects the results
func (c *Console) StartCalibration(request calibration.Request) (*calibration.Session, error) {
	session, err := calibration.NewSession(request)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.calibration != nil && c.calibration.Running() {
		c.mu.Unlock()
		return nil, ErrCalibrationRunning
	}
	c.calibration = session
	c.mu.Unlock()

	if err := c.Client.Send(request.Command()); err != nil {
		session.Stop()
		return nil, err
	}
	return session, nil
}

// StopCalibration asks the robot to end the sweep and stops the running session
func (c *Console) StopCalibration() error {
	c.mu.Lock()
	session := c.calibration
	c.mu.Unlock()
	if session != nil {
		session.Stop()
	}
	return c.Client.Send(protocol.StopCalibration())
}

// Start connects to the robot and dispatches its messages in the background.
// If control is requested, Start waits until this console holds it.
func (c *Console) Start(ctx context.Context) error {
	var controlled *waiter
	if c.config.Robot.RequestControl.Get() {
		controlled = &waiter{
			match: func(msg protocol.Message) bool {
				_, ok := msg.(protocol.Control)
				return ok && c.Client.HasControl()
			},
			ch: make(chan protocol.Message, 1),
		}
		c.mu.Lock()
		c.waiters = append(c.waiters, controlled)
		c.mu.Unlock()
		defer c.removeWaiter(controlled)
	}

	if err := c.Client.Connect(ctx); err != nil {
		return err
	}
	go func() {
		if err := c.Client.Run(ctx); err != nil {
			ui.Error("Robot connection closed: %v", err)
		}
	}()

	if controlled == nil {
		return nil
	}

	timeout := c.config.Robot.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultControlTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-controlled.ch:
		return nil
	case <-timer.C:
		return ErrControlTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run keeps the connection to the robot open until the context is done
func (c *Console) Run(ctx context.Context) error {
	return c.Client.Run(ctx)
}

// Close releases control and closes the connection
func (c *Console) Close() {
	if c.Client.HasControl() {
		_ = c.Client.Send(protocol.ReleaseControl())
	}
	_ = c.Client.Close()
}
