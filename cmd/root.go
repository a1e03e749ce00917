package cmd

import (
	"fmt"
	"os"

	"github.com/drivetune/drivetune/cmd/autotune"
	"github.com/drivetune/drivetune/cmd/calibrate"
	"github.com/drivetune/drivetune/cmd/config"
	"github.com/drivetune/drivetune/cmd/drive"
	"github.com/drivetune/drivetune/cmd/global"
	"github.com/drivetune/drivetune/internal"
	"github.com/drivetune/drivetune/internal/configuration"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drivetune",
	Short: "A console to tune the velocity controller of a differential drive robot.",
	Long: `drivetune connects to the motor controller of a differential drive robot
and measures its step response to derive PID gains for the velocity loop.`,
	// this is the default command to run when no subcommand is specified
	Run: func(cmd *cobra.Command, args []string) {
		setupUi()
		printHeader()

		global.LoadConfig()
		internal.RunDaemon()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&global.CfgFile, "config", "c", "", "config file (default is $HOME/.drivetune.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&global.NoColor, "no-color", "", false, "Disable all terminal output coloration")
	rootCmd.PersistentFlags().BoolVarP(&global.NoStyle, "no-style", "", false, "Disable all terminal output styling")
	rootCmd.PersistentFlags().BoolVarP(&global.NoNotify, "no-notify", "", false, "Disable desktop notifications")
	rootCmd.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "More verbose output")

	rootCmd.AddCommand(config.Command)
	rootCmd.AddCommand(autotune.Command)
	rootCmd.AddCommand(calibrate.Command)
	rootCmd.AddCommand(drive.Command)
}

func setupUi() {
	ui.SetDebugEnabled(global.Verbose)
	ui.SetNotificationsEnabled(!global.NoNotify)

	if global.NoColor {
		pterm.DisableColor()
	}
	if global.NoStyle {
		pterm.DisableStyling()
	}
}

// Print a large text with the LetterStyle from the standard theme.
func printHeader() {
	err := pterm.DefaultBigText.WithLetters(
		pterm.NewLettersFromStringWithStyle("drive", pterm.NewStyle(pterm.FgLightBlue)),
		pterm.NewLettersFromStringWithStyle("tune", pterm.NewStyle(pterm.FgWhite)),
	).Render()
	if err != nil {
		fmt.Println("drivetune")
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.OnInitialize(func() {
		configuration.InitConfig(global.CfgFile)
		setupUi()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
