package autotune

import (
	"context"
	"fmt"

	"github.com/drivetune/drivetune/cmd/global"
	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/spf13/cobra"
)

var (
	targetVelocity float64
	motor          string
	duration       string
	aggressiveness float64
	applyGains     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Measure the step response of the robot and derive PID gains",
	Long: `Disables the velocity PID of the robot, settles at standstill, applies a velocity step
and records the response. The gains derived from the response are printed and
optionally sent to the robot.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := global.LoadConfig()

		runConfig := config.Autotune.RunConfig()
		flags := cmd.Flags()
		if flags.Changed("target") {
			runConfig.TargetVelocity = targetVelocity
		}
		if flags.Changed("motor") {
			parsed, err := autotune.ParseMotorSelector(motor)
			if err != nil {
				return err
			}
			runConfig.Motor = parsed
		}
		if flags.Changed("duration") {
			parsed, err := parseDuration(duration)
			if err != nil {
				return err
			}
			runConfig.Duration = parsed
		}
		if flags.Changed("aggressiveness") {
			runConfig.Aggressiveness = aggressiveness
		}
		if err := runConfig.Validate(); err != nil {
			return err
		}

		pers := global.OpenPersistence(config)

		sigCtx, stop := global.SignalContext()
		defer stop()
		// the connection outlives an interrupt, so the robot can still be stopped
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		console := global.Connect(ctx, config, pers)
		defer console.Close()

		finished := make(chan autotune.Event, 1)
		console.Sequencer.AddListener(func(event autotune.Event) {
			if event.Finished() {
				select {
				case finished <- event:
				default:
				}
			}
		})

		printRunConfig(runConfig)
		if err := console.Sequencer.Start(runConfig); err != nil {
			return err
		}

		var event autotune.Event
		select {
		case event = <-finished:
		case <-sigCtx.Done():
			ui.Warning("Interrupted, stopping the robot...")
			_ = console.Sequencer.Stop()
			event = <-finished
		}

		if event.Result == nil {
			printStepResponse(event.Run)
			return fmt.Errorf("autotune %s: %s", event.Phase, event.Message)
		}

		printStepResponse(event.Run)
		printResult(event.Result)

		if applyGains && !config.Autotune.ApplyGains {
			gains, err := console.Sequencer.ApplyGains()
			if err != nil {
				return err
			}
			if console.Recorder != nil {
				if _, err := console.Recorder.MarkApplied(); err != nil {
					ui.Warning("Unable to mark autotune run as applied: %v", err)
				}
			}
			ui.Success("Applied gains Kp=%.3f Ki=%.3f Kd=%.3f", gains.Kp, gains.Ki, gains.Kd)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Float64VarP(&targetVelocity, "target", "t", 0, "Target velocity of the step in cm/s")
	runCmd.Flags().StringVarP(&motor, "motor", "m", "", "Monitored motor (left, right, average)")
	runCmd.Flags().StringVarP(&duration, "duration", "d", "", "Measurement duration, e.g. 3s or 2500 (ms)")
	runCmd.Flags().Float64VarP(&aggressiveness, "aggressiveness", "a", 0, "Gain multiplier, <0.8 conservative, >1.5 aggressive")
	runCmd.Flags().BoolVar(&applyGains, "apply", false, "Send the resulting gains to the robot")

	Command.AddCommand(runCmd)
}
