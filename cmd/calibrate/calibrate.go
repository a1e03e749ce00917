package calibrate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/drivetune/drivetune/cmd/global"
	"github.com/drivetune/drivetune/internal"
	"github.com/drivetune/drivetune/internal/calibration"
	"github.com/drivetune/drivetune/internal/persistence"
	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/guptarohit/asciigraph"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const (
	progressRate = 100 * time.Millisecond
	ackTimeout   = 5 * time.Second

	// extra time the robot may take beyond the nominal sweep duration
	completionGrace = 5 * time.Second
)

var (
	motor    string
	startPwm int
	endPwm   int
	stepSize int
	holdTime time.Duration
	csvPath  string
	jsonPath string
	poly     bool
	noSave   bool
)

var Command = &cobra.Command{
	Use:   "calibrate",
	Short: "Sweep the motor PWM and fit a feedforward model",
	Long: `Steps the PWM of one or both motors through the given range, records the
resulting wheel velocities and derives the deadzone and feedforward gain.
The cubic fit can optionally be uploaded to the robot with --poly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := global.LoadConfig()

		request := config.Calibration.Request()
		flags := cmd.Flags()
		if flags.Changed("motor") {
			parsed, err := calibration.ParseMotor(motor)
			if err != nil {
				return err
			}
			request.Motor = parsed
		}
		if flags.Changed("start") {
			request.StartPwm = startPwm
		}
		if flags.Changed("end") {
			request.EndPwm = endPwm
		}
		if flags.Changed("step") {
			request.StepSize = stepSize
		}
		if flags.Changed("hold") {
			request.HoldTime = holdTime
		}
		if err := request.Validate(); err != nil {
			return err
		}

		var pers persistence.Persistence
		if !noSave {
			pers = global.OpenPersistence(config)
		}

		sigCtx, stop := global.SignalContext()
		defer stop()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		console := global.Connect(ctx, config, pers)
		defer console.Close()

		points, err := sweep(sigCtx, console, request)
		if err != nil {
			return err
		}
		return evaluate(ctx, console, pers, request, points)
	},
}

func sweep(ctx context.Context, console *internal.Console, request calibration.Request) ([]calibration.Point, error) {
	session, err := console.StartCalibration(request)
	if err != nil {
		return nil, err
	}
	ui.Info("Calibrating %s motor: PWM %d..%d in steps of %d, %d steps (about %s)",
		request.Motor, request.StartPwm, request.EndPwm, request.StepSize, request.Steps(), request.EstimatedDuration())

	bar, _ := pterm.DefaultProgressbar.WithTotal(request.Steps()).WithTitle("Calibration").Start()
	defer func() {
		if bar != nil && bar.IsActive {
			_, _ = bar.Stop()
		}
	}()

	ticker := time.NewTicker(progressRate)
	defer ticker.Stop()
	deadline := time.NewTimer(request.EstimatedDuration() + completionGrace)
	defer deadline.Stop()

	for {
		select {
		case <-session.Done():
			advance(bar, len(session.Points()))
			if !session.Complete() {
				return session.Points(), errors.New("calibration stopped before completion")
			}
			return session.Points(), nil
		case <-ticker.C:
			advance(bar, len(session.Points()))
		case <-deadline.C:
			_ = console.StopCalibration()
			return session.Points(), errors.New("robot did not complete the calibration in time")
		case <-ctx.Done():
			ui.Warning("Interrupted, stopping calibration...")
			_ = console.StopCalibration()
			return session.Points(), ctx.Err()
		}
	}
}

func sendAcknowledged(ctx context.Context, console *internal.Console, cmd protocol.Command) error {
	ctx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	return console.SendAcknowledged(ctx, cmd)
}

func advance(bar *pterm.ProgressbarPrinter, points int) {
	if bar != nil && points > bar.Current {
		bar.Add(points - bar.Current)
	}
}

func evaluate(ctx context.Context, console *internal.Console, pers persistence.Persistence, request calibration.Request, points []calibration.Point) error {
	printPoints(points)
	printVelocityCurve(points)

	if len(csvPath) > 0 {
		if err := calibration.ExportCSV(csvPath, points); err != nil {
			return err
		}
		ui.Success("Exported calibration to %s", csvPath)
	}
	if len(jsonPath) > 0 {
		if err := calibration.ExportJSON(jsonPath, points); err != nil {
			return err
		}
		ui.Success("Exported calibration to %s", jsonPath)
	}

	record := persistence.CalibrationRecord{
		CreatedAt: time.Now(),
		Motor:     request.Motor,
		Points:    points,
	}

	model, err := calibration.FitLinearModel(points)
	if err != nil {
		ui.Warning("Unable to fit feedforward model: %v", err)
	} else {
		record.Model = &model
		printModel(model)
	}

	if poly {
		polynomial, err := calibration.FitCubic(points, request.Motor)
		if err != nil {
			return err
		}
		record.Polynomial = &polynomial
		for _, cmd := range append(polynomial.Commands(), protocol.PolyEnable(true)) {
			if err := sendAcknowledged(ctx, console, cmd); err != nil {
				return err
			}
		}
		ui.Success("Uploaded cubic velocity mapping to the robot")
	}

	if pers != nil {
		id, err := pers.SaveCalibration(record)
		if err != nil {
			return err
		}
		ui.Info("Stored calibration %d", id)
	}
	return nil
}

func printPoints(points []calibration.Point) {
	var rows [][]string
	for _, point := range points {
		rows = append(rows, []string{
			strconv.Itoa(point.Pwm),
			strconv.FormatFloat(point.LeftVelocity, 'f', 2, 64),
			strconv.FormatFloat(point.RightVelocity, 'f', 2, 64),
		})
	}
	ui.Printfln("%s", global.RenderTable([]string{"PWM", "Left (cm/s)", "Right (cm/s)"}, rows))
}

func printModel(model calibration.LinearModel) {
	ui.Printfln("%s", global.RenderTable(
		[]string{"Motor", "Model"},
		[][]string{
			{"left", model.Left.String()},
			{"right", model.Right.String()},
		},
	))
}

// printVelocityCurve plots the measured velocity of both wheels over the sweep
func printVelocityCurve(points []calibration.Point) {
	if len(points) < 2 {
		return
	}
	left := make([]float64, len(points))
	right := make([]float64, len(points))
	for i, point := range points {
		left[i] = point.LeftVelocity
		right[i] = point.RightVelocity
	}
	caption := fmt.Sprintf("velocity (cm/s) over PWM %d..%d", points[0].Pwm, points[len(points)-1].Pwm)
	options := []asciigraph.Option{
		asciigraph.Height(12),
		asciigraph.Width(60),
		asciigraph.Caption(caption),
		asciigraph.SeriesLegends("left", "right"),
	}
	if !global.NoColor {
		options = append(options, asciigraph.SeriesColors(asciigraph.Blue, asciigraph.Green))
	}
	graph := asciigraph.PlotMany([][]float64{left, right}, options...)
	ui.Printfln("%s\n", graph)
}

func init() {
	Command.Flags().StringVarP(&motor, "motor", "m", "", "Motor to calibrate (left, right, both)")
	Command.Flags().IntVar(&startPwm, "start", 0, "First PWM value of the sweep")
	Command.Flags().IntVar(&endPwm, "end", calibration.MaxPwm, "Last PWM value of the sweep")
	Command.Flags().IntVar(&stepSize, "step", 5, "PWM increment between two steps")
	Command.Flags().DurationVar(&holdTime, "hold", 500*time.Millisecond, "Time each PWM value is held")
	Command.Flags().StringVar(&csvPath, "csv", "", "Export the measured points as CSV to this file")
	Command.Flags().StringVar(&jsonPath, "json", "", "Export the measured points as JSON to this file")
	Command.Flags().BoolVar(&poly, "poly", false, "Fit cubic mappings and upload them to the robot")
	Command.Flags().BoolVar(&noSave, "no-save", false, "Do not store the calibration in the database")
}
