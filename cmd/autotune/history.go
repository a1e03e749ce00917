package autotune

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/drivetune/drivetune/cmd/global"
	"github.com/drivetune/drivetune/internal/persistence"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the recorded autotune runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := global.LoadConfig()
		pers := global.OpenPersistence(config)

		records, err := pers.ListAutotuneRuns()
		if err != nil {
			return err
		}
		if len(records) <= 0 {
			ui.Info("No autotune runs recorded yet")
			return nil
		}

		var rows [][]string
		for _, record := range records {
			rows = append(rows, historyRow(record))
		}
		ui.Printfln(global.RenderTable(
			[]string{"ID", "Date", "Motor", "Target", "Outcome", "Kp", "Ki", "Kd", "Applied"},
			rows,
		))
		return nil
	},
}

func historyRow(record persistence.AutotuneRecord) []string {
	kp, ki, kd := "-", "-", "-"
	if record.Result != nil {
		kp = formatFloat(record.Result.Kp, "")
		ki = formatFloat(record.Result.Ki, "")
		kd = formatFloat(record.Result.Kd, "")
	}
	outcome := record.Run.Phase.String()
	if len(record.Run.AbortReason) > 0 {
		outcome += ": " + record.Run.AbortReason
	} else if len(record.Run.Error) > 0 {
		outcome = "failed: " + record.Run.Error
	}
	return []string{
		strconv.FormatUint(record.Id, 10),
		record.CreatedAt.Local().Format(time.DateTime),
		string(record.Run.Config.Motor),
		formatFloat(record.Run.Config.TargetVelocity, " cm/s"),
		outcome,
		kp, ki, kd,
		strconv.FormatBool(record.Applied),
	}
}

var jsonOutput bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a recorded autotune run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}

		config := global.LoadConfig()
		pers := global.OpenPersistence(config)
		record, err := pers.LoadAutotuneRun(id)
		if err != nil {
			return err
		}

		if jsonOutput {
			data, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return err
			}
			ui.Printfln(string(data))
			return nil
		}

		ui.Printfln(global.RenderTable(
			[]string{"ID", "Date", "Motor", "Target", "Outcome", "Kp", "Ki", "Kd", "Applied"},
			[][]string{historyRow(record)},
		))
		printRunConfig(record.Run.Config)
		printStepResponse(record.Run)
		if record.Result != nil {
			printResult(record.Result)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a recorded autotune run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}

		config := global.LoadConfig()
		pers := global.OpenPersistence(config)
		if err := pers.DeleteAutotuneRun(id); err != nil {
			return err
		}
		ui.Success("Deleted autotune run %d", id)
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw record as JSON")

	Command.AddCommand(historyCmd)
	Command.AddCommand(showCmd)
	Command.AddCommand(deleteCmd)
}
