package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/drivetune/drivetune/internal/util"
)

// RobotConfig is the configuration persisted on the robot controller,
// exchanged with CONFIG_SET and CONFIG_DATA.
type RobotConfig struct {
	FeedforwardGain float64 `json:"feedforwardGain"`
	DeadzonePwm     float64 `json:"deadzonePWM"`
	PidEnabled      bool    `json:"pidEnabled"`
	PidKp           float64 `json:"pidKp"`
	PidKi           float64 `json:"pidKi"`
	PidKd           float64 `json:"pidKd"`

	PolynomialEnabled bool    `json:"polynomialEnabled"`
	VelToPwmA0        float64 `json:"vel2pwm_a0"`
	VelToPwmA1        float64 `json:"vel2pwm_a1"`
	VelToPwmA2        float64 `json:"vel2pwm_a2"`
	VelToPwmA3        float64 `json:"vel2pwm_a3"`
	PwmToVelB0        float64 `json:"pwm2vel_b0"`
	PwmToVelB1        float64 `json:"pwm2vel_b1"`
	PwmToVelB2        float64 `json:"pwm2vel_b2"`
	PwmToVelB3        float64 `json:"pwm2vel_b3"`
}

// DefaultRobotConfig returns the factory defaults of the controller
func DefaultRobotConfig() RobotConfig {
	return RobotConfig{
		FeedforwardGain: 3.0,
		DeadzonePwm:     60.0,
		VelToPwmA1:      1.0,
		PwmToVelB1:      1.0,
	}
}

func (c RobotConfig) VelToPwm() [4]float64 {
	return [4]float64{c.VelToPwmA0, c.VelToPwmA1, c.VelToPwmA2, c.VelToPwmA3}
}

func (c RobotConfig) PwmToVel() [4]float64 {
	return [4]float64{c.PwmToVelB0, c.PwmToVelB1, c.PwmToVelB2, c.PwmToVelB3}
}

// Keys returns the names of all configuration values as used on the wire
func (c RobotConfig) Keys() ([]string, error) {
	values, err := c.Values()
	if err != nil {
		return nil, err
	}
	return util.SortedKeys(values), nil
}

// Values returns all configuration values keyed by their wire name
func (c RobotConfig) Values() (map[string]interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	values := map[string]interface{}{}
	err = json.Unmarshal(data, &values)
	return values, err
}

// With returns a copy of the configuration with the value of the given key replaced
func (c RobotConfig) With(key, value string) (RobotConfig, error) {
	values, err := c.Values()
	if err != nil {
		return c, err
	}
	current, ok := values[key]
	if !ok {
		return c, fmt.Errorf("unknown robot config key '%s'", key)
	}

	switch current.(type) {
	case bool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return c, fmt.Errorf("%s expects a boolean: %w", key, err)
		}
		values[key] = parsed
	default:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return c, fmt.Errorf("%s expects a number: %w", key, err)
		}
		values[key] = parsed
	}

	data, err := json.Marshal(values)
	if err != nil {
		return c, err
	}
	var result RobotConfig
	err = json.Unmarshal(data, &result)
	return result, err
}
