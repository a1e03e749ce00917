package configuration

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Configuration struct {
	DbPath string `json:"dbPath"`

	Robot       RobotConfig       `json:"robot"`
	Autotune    AutotuneConfig    `json:"autotune"`
	Calibration CalibrationConfig `json:"calibration"`
	Monitor     MonitorConfig     `json:"monitor"`

	Api        ApiConfig        `json:"api"`
	Statistics StatisticsConfig `json:"statistics"`
	Mqtt       MqttConfig       `json:"mqtt"`

	Simulator SimulatorConfig `json:"simulator"`
}

var CurrentConfig Configuration

// InitConfig reads in config file and ENV variables if set.
func InitConfig(cfgFile string) {
	viper.SetConfigName("drivetune")

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			ui.Error("Couldn't detect home directory: %v", err)
			os.Exit(1)
		}

		viper.AddConfigPath(".")
		viper.AddConfigPath(home)
		viper.AddConfigPath("/etc/drivetune/")
	}

	viper.SetEnvPrefix("drivetune")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	setDefaultValues(viper.GetViper())
}

func setDefaultValues(v *viper.Viper) {
	home, err := homedir.Dir()
	if err != nil {
		home = "."
	}
	v.SetDefault("dbpath", home+"/.local/share/drivetune/drivetune.db")

	v.SetDefault("robot.url", "ws://192.168.4.1/ws")
	v.SetDefault("robot.handshakeTimeout", 5*time.Second)
	v.SetDefault("robot.reconnect.initialInterval", 500*time.Millisecond)
	v.SetDefault("robot.reconnect.maxInterval", 10*time.Second)
	v.SetDefault("robot.reconnect.maxElapsedTime", 0)

	v.SetDefault("autotune.targetVelocity", 20.0)
	v.SetDefault("autotune.motor", string(autotune.MotorAverage))
	v.SetDefault("autotune.duration", 3*time.Second)
	v.SetDefault("autotune.aggressiveness", 1.0)
	v.SetDefault("autotune.settleDelay", autotune.DefaultSettleDelay)
	v.SetDefault("autotune.watchdogGrace", autotune.DefaultWatchdogGrace)
	v.SetDefault("autotune.saturationPwm", autotune.DefaultSaturationPwm)
	v.SetDefault("autotune.applyGains", false)

	v.SetDefault("calibration.motor", "both")
	v.SetDefault("calibration.startPwm", 0)
	v.SetDefault("calibration.endPwm", 255)
	v.SetDefault("calibration.stepSize", 5)
	v.SetDefault("calibration.holdTime", 500*time.Millisecond)

	v.SetDefault("monitor.rollingWindowSize", 10)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "localhost")
	v.SetDefault("api.port", 9101)

	v.SetDefault("statistics.enabled", false)
	v.SetDefault("statistics.port", 9102)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientId", "drivetune")
	v.SetDefault("mqtt.topicPrefix", "drivetune")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("simulator.host", "0.0.0.0")
	v.SetDefault("simulator.port", 8080)
	v.SetDefault("simulator.telemetryRate", 50*time.Millisecond)
	v.SetDefault("simulator.timeConstant", 150*time.Millisecond)
	v.SetDefault("simulator.maxVelocity", 60.0)
	v.SetDefault("simulator.noise", 0.2)
	v.SetDefault("simulator.wheelCircumference", 20.4)
	v.SetDefault("simulator.ticksPerRevolution", 360)
}

func ReadConfigFile() {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// an explicitly given or broken config file is required, so we fail here
			ui.Fatal("Error reading config file, %s", err)
		}
		ui.Debug("No config file found, using defaults")
	} else {
		// this is only populated _after_ ReadInConfig()
		ui.Debug("Using configuration file at: %s", viper.ConfigFileUsed())
	}

	LoadConfig()
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		DefaultTrueBoolHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// Decode reads the configuration currently held by the given viper instance
func Decode(v *viper.Viper) (Configuration, error) {
	var config Configuration
	err := v.Unmarshal(&config, viper.DecodeHook(decodeHook()))
	return config, err
}

func LoadConfig() {
	config, err := Decode(viper.GetViper())
	if err != nil {
		ui.Fatal("unable to decode into struct, %v", err)
	}
	CurrentConfig = config
}
