package cmd

import (
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/spf13/cobra"
)

// Version is replaced at build time via -ldflags
var Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of drivetune",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ui.Printfln(Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
