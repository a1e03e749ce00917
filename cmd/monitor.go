package cmd

import (
	"strconv"
	"time"

	"github.com/drivetune/drivetune/cmd/global"
	"github.com/drivetune/drivetune/internal/monitor"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var monitorRate time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Show live telemetry of the robot",
	Long:  `Prints the wheel telemetry of the robot together with rolling averages until interrupted.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := global.LoadConfig()
		// watching does not need control of the robot
		config.Robot.RequestControl.SetOverride(false)

		ctx, cancel := global.SignalContext()
		defer cancel()

		console := global.Connect(ctx, config, nil)
		defer console.Close()

		area, err := pterm.DefaultArea.Start()
		if err != nil {
			return err
		}
		defer func() { _ = area.Stop() }()

		return console.Monitor.Run(ctx, monitorRate, func(snapshot monitor.Snapshot) {
			area.Update(renderSnapshot(snapshot))
		})
	},
}

func formatOptional(value *float64) string {
	if value == nil {
		return "-"
	}
	return strconv.FormatFloat(*value, 'f', 1, 64)
}

func renderSnapshot(snapshot monitor.Snapshot) string {
	row := func(name string, stats monitor.WheelStats, velocityError *float64) []string {
		return []string{
			name,
			strconv.FormatFloat(stats.Velocity, 'f', 2, 64),
			strconv.FormatFloat(stats.AvgVelocity, 'f', 2, 64),
			strconv.FormatFloat(stats.MaxVelocity, 'f', 2, 64),
			strconv.FormatFloat(stats.Rpm, 'f', 1, 64),
			strconv.FormatInt(stats.Count, 10),
			strconv.FormatFloat(stats.Distance, 'f', 1, 64),
			formatOptional(stats.Pwm),
			formatOptional(velocityError),
		}
	}
	telemetry := snapshot.Telemetry
	headers := []string{"Wheel", "Velocity", "Avg", "Max", "RPM", "Ticks", "Distance", "PWM", "Error"}
	rows := [][]string{
		row("left", snapshot.Left, telemetry.LeftVelocityError),
		row("right", snapshot.Right, telemetry.RightVelocityError),
	}

	result := global.RenderTable(headers, rows)
	result += "\nBattery: " + formatOptional(telemetry.Battery) + " V"
	result += "   Telemetry: " + strconv.FormatUint(snapshot.TelemetryCount, 10)
	result += "   Last update: " + snapshot.ReceivedAt.Format(time.TimeOnly)
	return result
}

func init() {
	monitorCmd.Flags().DurationVarP(&monitorRate, "rate", "r", 250*time.Millisecond, "Refresh rate of the display")

	rootCmd.AddCommand(monitorCmd)
}
