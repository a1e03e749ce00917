package autotune

import (
	"fmt"
	"strconv"

	"github.com/drivetune/drivetune/cmd/global"
	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
)

var Command = &cobra.Command{
	Use:   "autotune",
	Short: "Step response autotuning of the velocity controller",
	Long:  ``,
}

func formatFloat(value float64, unit string) string {
	return strconv.FormatFloat(value, 'f', 3, 64) + unit
}

func printRunConfig(config autotune.RunConfig) {
	ui.Printfln(global.RenderTable(
		[]string{"Target", "Motor", "Duration", "Aggressiveness"},
		[][]string{{
			formatFloat(config.TargetVelocity, " cm/s"),
			string(config.Motor),
			config.Duration.String(),
			fmt.Sprintf("%.2f (%s)", config.Aggressiveness, autotune.AggressivenessLabel(config.Aggressiveness)),
		}},
	))
}

func printResult(result *autotune.AnalysisResult) {
	settling := formatFloat(result.SettlingTimeSec, " s")
	if !result.Settled {
		settling += " (not settled)"
	}
	overshoot := formatFloat(result.OvershootPct, " %")
	if result.ZeroTarget {
		overshoot = "n/a"
	}

	ui.Printfln(global.RenderTable(
		[]string{"Characteristic", "Value"},
		[][]string{
			{"Rise time", formatFloat(result.RiseTimeSec, " s")},
			{"Settling time", settling},
			{"Overshoot", overshoot},
			{"Peak velocity", formatFloat(result.PeakVelocity, " cm/s")},
			{"Steady state velocity", formatFloat(result.SteadyStateVelocity, " cm/s")},
			{"Steady state error", formatFloat(result.SteadyStateError, " cm/s")},
			{"Samples", strconv.Itoa(result.SampleCount)},
		},
	))
	ui.Printfln(global.RenderTable(
		[]string{"Kp", "Ki", "Kd"},
		[][]string{{
			formatFloat(result.Kp, ""),
			formatFloat(result.Ki, ""),
			formatFloat(result.Kd, ""),
		}},
	))
}

// printStepResponse plots the measured velocity against the target velocity
func printStepResponse(run autotune.RunState) {
	if len(run.Samples) < 2 {
		return
	}
	velocities := make([]float64, 0, len(run.Samples))
	target := make([]float64, 0, len(run.Samples))
	for _, sample := range run.Samples {
		velocities = append(velocities, sample.Velocity)
		target = append(target, run.Config.TargetVelocity)
	}
	last := run.Samples[len(run.Samples)-1]

	caption := fmt.Sprintf("velocity (cm/s) over %.0f ms", last.Time)
	options := []asciigraph.Option{
		asciigraph.Height(15),
		asciigraph.Width(100),
		asciigraph.Caption(caption),
		asciigraph.SeriesLegends("target", "velocity"),
	}
	if !global.NoColor {
		options = append(options, asciigraph.SeriesColors(asciigraph.Default, asciigraph.Blue))
	}
	graph := asciigraph.PlotMany([][]float64{target, velocities}, options...)
	ui.Printfln(graph)
}
