package calibrate

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/drivetune/drivetune/cmd/global"
	"github.com/drivetune/drivetune/internal/persistence"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/spf13/cobra"
)

var historyHeader = []string{"ID", "Date", "Motor", "PWM range", "Points", "Left", "Right", "Poly"}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the recorded calibration sweeps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := global.LoadConfig()
		pers := global.OpenPersistence(config)

		records, err := pers.ListCalibrations()
		if err != nil {
			return err
		}
		if len(records) <= 0 {
			ui.Info("No calibrations recorded yet")
			return nil
		}

		var rows [][]string
		for _, record := range records {
			rows = append(rows, historyRow(record))
		}
		ui.Printfln("%s", global.RenderTable(historyHeader, rows))
		return nil
	},
}

func historyRow(record persistence.CalibrationRecord) []string {
	pwmRange := "-"
	if len(record.Points) > 0 {
		pwmRange = strconv.Itoa(record.Points[0].Pwm) + ".." + strconv.Itoa(record.Points[len(record.Points)-1].Pwm)
	}
	left, right := "-", "-"
	if record.Model != nil {
		left = record.Model.Left.String()
		right = record.Model.Right.String()
	}
	return []string{
		strconv.FormatUint(record.Id, 10),
		record.CreatedAt.Local().Format(time.DateTime),
		string(record.Motor),
		pwmRange,
		strconv.Itoa(len(record.Points)),
		left,
		right,
		strconv.FormatBool(record.Polynomial != nil),
	}
}

var showJson bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a recorded calibration sweep",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}

		config := global.LoadConfig()
		pers := global.OpenPersistence(config)
		record, err := pers.LoadCalibration(id)
		if err != nil {
			return err
		}

		if showJson {
			data, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return err
			}
			ui.Printfln("%s", string(data))
			return nil
		}

		ui.Printfln("%s", global.RenderTable(historyHeader, [][]string{historyRow(record)}))
		printPoints(record.Points)
		printVelocityCurve(record.Points)
		if record.Model != nil {
			printModel(*record.Model)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a recorded calibration sweep",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}

		config := global.LoadConfig()
		pers := global.OpenPersistence(config)
		if err := pers.DeleteCalibration(id); err != nil {
			return err
		}
		ui.Success("Deleted calibration %d", id)
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJson, "json", false, "Print the raw record as JSON")

	Command.AddCommand(historyCmd)
	Command.AddCommand(showCmd)
	Command.AddCommand(deleteCmd)
}
