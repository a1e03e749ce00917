package config

import (
	"os"

	"github.com/drivetune/drivetune/internal/configuration"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validates the current configuration",
	Long:  ``,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// note: config file path parameter comes from the root command (-c)
		configuration.ReadConfigFile()
		if path := viper.ConfigFileUsed(); len(path) > 0 {
			ui.Info("Using configuration file at: %s", path)
		}

		if err := configuration.Validate(); err != nil {
			ui.Error("Validation failed: %v", err)
			os.Exit(1)
		}

		ui.Success("Config looks good! :)")
		return nil
	},
}

func init() {
	Command.AddCommand(validateCmd)
}
