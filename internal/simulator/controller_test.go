package simulator

import (
	"testing"
	"time"

	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func createController() *Controller {
	return NewController(createPlant())
}

func mustParse(t *testing.T, raw string) protocol.Command {
	cmd, err := protocol.ParseCommand(raw)
	assert.NoError(t, err)
	return cmd
}

func TestController_AcknowledgesDriveCommands(t *testing.T) {
	tests := []struct {
		raw      string
		expected []protocol.Message
	}{
		{"VELOCITY:20.0", []protocol.Message{protocol.CommandAck{Command: "VELOCITY", Value: "20.0"}}},
		{"MOTORS:0.50,-0.50", []protocol.Message{protocol.CommandAck{Command: "MOTORS", Value: "0.50,-0.50"}}},
		{"PID_ENABLE:true", []protocol.Message{protocol.CommandAck{Command: "PID_ENABLE", Value: "true"}}},
		{"FF_GAIN:2.5", []protocol.Message{protocol.CommandAck{Command: "FF_GAIN", Value: "2.5"}}},
		{"JOYSTICK:0.0,1.0", nil},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			// GIVEN
			controller := createController()

			// WHEN
			replies, err := controller.Handle(mustParse(t, tt.raw))

			// THEN
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, replies)
		})
	}
}

func TestController_MalformedCommands(t *testing.T) {
	tests := []string{
		"VELOCITY:fast",
		"MOTORS:0.5",
		"PID_GAINS:1,2",
		"PID_ENABLE:maybe",
		"POLY_VEL2PWM:2,1,2,3",
		"START_CALIBRATION:front,0,255,5,500",
		"START_CALIBRATION:both,200,100,5,500",
		"SELF_DESTRUCT",
	}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			// GIVEN
			controller := createController()

			// WHEN
			replies, err := controller.Handle(mustParse(t, raw))

			// THEN
			assert.ErrorIs(t, err, protocol.ErrMalformedCommand)
			assert.Nil(t, replies)
		})
	}
}

func TestController_Configuration(t *testing.T) {
	// GIVEN
	controller := createController()

	// WHEN
	_, err := controller.Handle(protocol.PidGains(1.5, 0.25, 0.01))
	assert.NoError(t, err)
	_, err = controller.Handle(protocol.PidEnable(true))
	assert.NoError(t, err)
	_, err = controller.Handle(mustParse(t, "POLY_VEL2PWM:3,40,2.5,0.1,0.001"))
	assert.NoError(t, err)
	replies, err := controller.Handle(protocol.ConfigGet())

	// THEN
	assert.NoError(t, err)
	assert.Len(t, replies, 1)
	config := replies[0].(protocol.ConfigData).Config
	assert.True(t, config.PidEnabled)
	assert.Equal(t, 1.5, config.PidKp)
	assert.Equal(t, 0.25, config.PidKi)
	assert.Equal(t, 0.01, config.PidKd)
	assert.Equal(t, [4]float64{40, 2.5, 0.1, 0.001}, config.VelToPwm())

	// WHEN
	replies, err = controller.Handle(protocol.ConfigReset())

	// THEN
	assert.NoError(t, err)
	assert.Equal(t, []protocol.Message{protocol.ConfigResetReply{}}, replies)
	assert.Equal(t, protocol.DefaultRobotConfig(), controller.plant.Config())
}

func TestController_ConfigSet(t *testing.T) {
	// GIVEN
	controller := createController()
	config := protocol.DefaultRobotConfig()
	config.FeedforwardGain = 4.2
	cmd, err := protocol.ConfigSet(config)
	assert.NoError(t, err)

	// WHEN
	replies, err := controller.Handle(cmd)

	// THEN
	assert.NoError(t, err)
	assert.Equal(t, []protocol.Message{protocol.ConfigSaved{}}, replies)
	assert.Equal(t, 4.2, controller.plant.Config().FeedforwardGain)

	// WHEN
	replies, err = controller.Handle(protocol.Command{Name: protocol.CommandConfigSet, Payload: "{broken"})

	// THEN
	assert.NoError(t, err)
	assert.Len(t, replies, 1)
	assert.IsType(t, protocol.ConfigError{}, replies[0])
	assert.Equal(t, 4.2, controller.plant.Config().FeedforwardGain)
}

func TestController_CalibrationSweep(t *testing.T) {
	// GIVEN
	controller := createController()
	replies, err := controller.Handle(mustParse(t, "START_CALIBRATION:both,0,20,10,100"))
	assert.NoError(t, err)
	assert.Equal(t, 0, replies[0].(protocol.CalibrationProgress).Percent)

	// WHEN
	var points []protocol.CalibrationPoint
	var progress []protocol.CalibrationProgress
	complete := 0
	for i := 0; i < 6; i++ {
		for _, msg := range controller.Tick(50 * time.Millisecond) {
			switch m := msg.(type) {
			case protocol.CalibrationPoint:
				points = append(points, m)
			case protocol.CalibrationProgress:
				progress = append(progress, m)
			case protocol.CalibrationComplete:
				complete++
			}
		}
	}

	// THEN
	assert.Len(t, points, 3)
	assert.Equal(t, 0, points[0].Pwm)
	assert.Equal(t, 10, points[1].Pwm)
	assert.Equal(t, 20, points[2].Pwm)
	assert.Len(t, progress, 3)
	assert.Equal(t, "Step 1/3 PWM 0 (33%)", progress[0].Text)
	assert.Equal(t, 100, progress[2].Percent)
	assert.Equal(t, 1, complete)
	assert.False(t, controller.Calibrating())
}

func TestController_StopCalibration(t *testing.T) {
	// GIVEN
	controller := createController()
	_, err := controller.Handle(mustParse(t, "START_CALIBRATION:left,100,255,5,500"))
	assert.NoError(t, err)
	assert.True(t, controller.Calibrating())

	// WHEN
	replies, err := controller.Handle(protocol.StopCalibration())

	// THEN
	assert.NoError(t, err)
	assert.Equal(t, []protocol.Message{protocol.Log{Message: "Calibration stopped"}}, replies)
	assert.False(t, controller.Calibrating())
	assert.Equal(t, 0.0, *controller.plant.Telemetry().MotorLeft)
}

func TestController_TickReportsVelocityError(t *testing.T) {
	// GIVEN
	controller := createController()

	// WHEN
	idle := controller.Tick(50 * time.Millisecond)
	_, err := controller.Handle(protocol.Velocity(20))
	assert.NoError(t, err)
	driving := controller.Tick(50 * time.Millisecond)

	// THEN
	assert.Len(t, idle, 1)
	assert.IsType(t, protocol.Telemetry{}, idle[0])
	assert.Len(t, driving, 2)
	assert.IsType(t, protocol.VelocityError{}, driving[1])
}
