package global

import (
	"bytes"
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drivetune/drivetune/internal"
	"github.com/drivetune/drivetune/internal/configuration"
	"github.com/drivetune/drivetune/internal/persistence"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/mgutz/ansi"
	"github.com/tomlazar/table"
)

const replyTimeout = 5 * time.Second

// LoadConfig reads and validates the configuration, exiting on errors
func LoadConfig() configuration.Configuration {
	configuration.ReadConfigFile()
	if err := configuration.Validate(); err != nil {
		ui.FatalWithoutStacktrace("Config Validation Error: %v", err)
	}
	return configuration.CurrentConfig
}

// SignalContext is cancelled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// OpenPersistence opens the history database of the current configuration
func OpenPersistence(config configuration.Configuration) persistence.Persistence {
	pers := persistence.NewPersistence(config.DbPath)
	if err := pers.Init(); err != nil {
		ui.FatalWithoutStacktrace("Unable to open database at %s: %v", config.DbPath, err)
	}
	return pers
}

// Connect starts a console connected to the configured robot
func Connect(ctx context.Context, config configuration.Configuration, pers persistence.Persistence) *internal.Console {
	console := internal.NewConsole(config, pers)
	ui.Info("Connecting to %s...", config.Robot.Url)
	if err := console.Start(ctx); err != nil {
		ui.FatalWithoutStacktrace("Unable to connect to the robot: %v", err)
	}
	return console
}

// WithConsole connects to the robot without recording history and runs f
// with a context bounded by the reply timeout
func WithConsole(f func(ctx context.Context, console *internal.Console) error) error {
	config := LoadConfig()

	ctx, cancel := SignalContext()
	defer cancel()

	console := Connect(ctx, config, nil)
	defer console.Close()

	timeoutCtx, timeoutCancel := context.WithTimeout(ctx, replyTimeout)
	defer timeoutCancel()
	return f(timeoutCtx, console)
}

// RenderTable formats the rows as a table in the console style
func RenderTable(headers []string, rows [][]string) string {
	tab := table.Table{
		Headers: headers,
		Rows:    rows,
	}
	var buf bytes.Buffer
	tableErr := tab.WriteTable(&buf, &table.Config{
		ShowIndex:       false,
		Color:           !NoColor,
		AlternateColors: true,
		TitleColorCode:  ansi.ColorCode("white+buf"),
		AltColorCodes: []string{
			ansi.ColorCode("white"),
			ansi.ColorCode("white:236"),
		},
	})
	if tableErr != nil {
		panic(tableErr)
	}
	return buf.String()
}
