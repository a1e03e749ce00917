package cmd

import (
	"fmt"

	"github.com/drivetune/drivetune/cmd/global"
	"github.com/drivetune/drivetune/internal/simulator"
	"github.com/spf13/cobra"
)

var (
	simulateHost string
	simulatePort int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated robot controller",
	Long: `Serves a simulated differential drive controller on the websocket protocol of the robot.
Each wheel is modelled as a first order system, so autotune and calibration can be
tried without hardware.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := global.LoadConfig()
		sim := config.Simulator
		if cmd.Flags().Changed("host") {
			sim.Host = simulateHost
		}
		if cmd.Flags().Changed("port") {
			sim.Port = simulatePort
		}

		ctx, cancel := global.SignalContext()
		defer cancel()

		server := simulator.NewServer(simulator.Options{
			Plant: simulator.PlantOptions{
				TimeConstant:       sim.TimeConstant,
				MaxVelocity:        sim.MaxVelocity,
				Noise:              sim.Noise,
				WheelCircumference: sim.WheelCircumference,
				TicksPerRevolution: sim.TicksPerRevolution,
			},
			TelemetryRate: sim.TelemetryRate,
		})
		return server.Serve(ctx, fmt.Sprintf("%s:%d", sim.Host, sim.Port))
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateHost, "host", "", "Address to listen on")
	simulateCmd.Flags().IntVarP(&simulatePort, "port", "p", 0, "Port to listen on")

	rootCmd.AddCommand(simulateCmd)
}
