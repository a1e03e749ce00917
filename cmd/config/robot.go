package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/drivetune/drivetune/cmd/global"
	"github.com/drivetune/drivetune/internal"
	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/spf13/cobra"
)

var robotCmd = &cobra.Command{
	Use:   "robot",
	Short: "Read and modify the configuration stored on the robot controller",
	Long:  ``,
}

var robotGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print the configuration of the robot, or a single value of it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return global.WithConsole(func(ctx context.Context, console *internal.Console) error {
			config, err := console.RobotConfig(ctx)
			if err != nil {
				return err
			}
			printRobotConfig(config, args)
			return nil
		})
	},
}

var robotSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Change one or more values of the robot configuration",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return global.WithConsole(func(ctx context.Context, console *internal.Console) error {
			config, err := console.RobotConfig(ctx)
			if err != nil {
				return err
			}
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected key=value, got '%s'", arg)
				}
				config, err = config.With(strings.TrimSpace(key), strings.TrimSpace(value))
				if err != nil {
					return err
				}
			}
			if err := console.SetRobotConfig(ctx, config); err != nil {
				return err
			}
			ui.Success("Robot configuration saved")
			printRobotConfig(config, nil)
			return nil
		})
	},
}

var robotResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the factory defaults of the robot configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return global.WithConsole(func(ctx context.Context, console *internal.Console) error {
			if err := console.ResetRobotConfig(ctx); err != nil {
				return err
			}
			ui.Success("Robot configuration reset to defaults")
			return nil
		})
	},
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return fmt.Sprint(value)
}

func printRobotConfig(config protocol.RobotConfig, only []string) {
	values, err := config.Values()
	if err != nil {
		ui.Error("Unable to read robot configuration: %v", err)
		return
	}
	keys := only
	if len(keys) <= 0 {
		keys, _ = config.Keys()
	}

	var rows [][]string
	for _, key := range keys {
		value, ok := values[key]
		if !ok {
			ui.Warning("Unknown robot config key '%s'", key)
			continue
		}
		rows = append(rows, []string{key, formatValue(value)})
	}
	ui.Printfln(global.RenderTable([]string{"Key", "Value"}, rows))
}

func init() {
	robotCmd.AddCommand(robotGetCmd)
	robotCmd.AddCommand(robotSetCmd)
	robotCmd.AddCommand(robotResetCmd)
	Command.AddCommand(robotCmd)
}
