package drive

import (
	"context"
	"fmt"
	"strconv"

	"github.com/drivetune/drivetune/cmd/global"
	"github.com/drivetune/drivetune/internal"
	"github.com/drivetune/drivetune/internal/calibration"
	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/spf13/cobra"
)

var Command = &cobra.Command{
	Use:   "drive",
	Short: "Send manual commands to the robot",
	Long:  ``,
}

// send transmits a single command and waits for the acknowledgement of the robot
func send(cmd protocol.Command) error {
	return global.WithConsole(func(ctx context.Context, console *internal.Console) error {
		if err := console.SendAcknowledged(ctx, cmd); err != nil {
			return err
		}
		ui.Success("Robot acknowledged %s", cmd)
		return nil
	})
}

func parseFloats(args []string) ([]float64, error) {
	result := make([]float64, len(args))
	for i, arg := range args {
		value, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("'%s' is not a number", arg)
		}
		result[i] = value
	}
	return result, nil
}

func parseSwitch(value string) (bool, error) {
	switch value {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got '%s'", value)
	}
	return enabled, nil
}

var velocityCmd = &cobra.Command{
	Use:   "velocity <cm/s>",
	Short: "Set the target velocity of both wheels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseFloats(args)
		if err != nil {
			return err
		}
		return send(protocol.Velocity(values[0]))
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop both wheels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(protocol.Velocity(0))
	},
}

var motorsCmd = &cobra.Command{
	Use:   "motors <left> <right>",
	Short: "Apply open loop power in [-1, 1] to both motors",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseFloats(args)
		if err != nil {
			return err
		}
		return send(protocol.Motors(values[0], values[1]))
	},
}

var gainsCmd = &cobra.Command{
	Use:   "gains <kp> <ki> <kd>",
	Short: "Set the velocity PID gains",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseFloats(args)
		if err != nil {
			return err
		}
		return send(protocol.PidGains(values[0], values[1], values[2]))
	},
}

var pidCmd = &cobra.Command{
	Use:       "pid <on|off>",
	Short:     "Enable or disable the velocity PID",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseSwitch(args[0])
		if err != nil {
			return err
		}
		return send(protocol.PidEnable(enabled))
	},
}

var polyCmd = &cobra.Command{
	Use:       "poly <on|off>",
	Short:     "Enable or disable the cubic velocity mapping",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseSwitch(args[0])
		if err != nil {
			return err
		}
		return send(protocol.PolyEnable(enabled))
	},
}

var feedforwardCmd = &cobra.Command{
	Use:     "ff <gain>",
	Aliases: []string{"feedforward"},
	Short:   "Set the feedforward gain (PWM per cm/s)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseFloats(args)
		if err != nil {
			return err
		}
		return send(protocol.FeedforwardGain(values[0]))
	},
}

var deadzoneCmd = &cobra.Command{
	Use:   "deadzone <pwm>",
	Short: "Set the PWM below which the motors do not move",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pwm, err := strconv.Atoi(args[0])
		if err != nil || pwm < 0 || pwm > calibration.MaxPwm {
			return fmt.Errorf("deadzone must be a PWM value in [0, %d], got '%s'", calibration.MaxPwm, args[0])
		}
		return send(protocol.Deadzone(pwm))
	},
}

var joystickCmd = &cobra.Command{
	Use:   "joystick <x> <y>",
	Short: "Send a single joystick position, x turns and y drives forward",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseFloats(args)
		if err != nil {
			return err
		}
		// joystick updates are not acknowledged
		return global.WithConsole(func(ctx context.Context, console *internal.Console) error {
			return console.Client.Send(protocol.Joystick(values[0], values[1]))
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Stop the robot and reset its controller state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return global.WithConsole(func(ctx context.Context, console *internal.Console) error {
			_, err := console.Await(ctx, protocol.Reset(), func(msg protocol.Message) bool {
				_, ok := msg.(protocol.Log)
				return ok
			})
			if err != nil {
				return err
			}
			ui.Success("Robot reset")
			return nil
		})
	},
}

func init() {
	Command.AddCommand(
		velocityCmd,
		stopCmd,
		motorsCmd,
		gainsCmd,
		pidCmd,
		polyCmd,
		feedforwardCmd,
		deadzoneCmd,
		joystickCmd,
		resetCmd,
	)
}
