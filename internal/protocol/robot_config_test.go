package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRobotConfig_Keys(t *testing.T) {
	// WHEN
	keys, err := DefaultRobotConfig().Keys()

	// THEN
	assert.NoError(t, err)
	assert.Len(t, keys, 15)
	assert.Contains(t, keys, "deadzonePWM")
	assert.Contains(t, keys, "vel2pwm_a3")
	assert.Equal(t, "deadzonePWM", keys[0])
}

func TestRobotConfig_With(t *testing.T) {
	// GIVEN
	config := DefaultRobotConfig()

	// WHEN
	updated, err := config.With("pidKp", "1.25")
	assert.NoError(t, err)
	updated, err = updated.With("pidEnabled", "true")

	// THEN
	assert.NoError(t, err)
	assert.Equal(t, 1.25, updated.PidKp)
	assert.True(t, updated.PidEnabled)
	assert.Equal(t, config.FeedforwardGain, updated.FeedforwardGain)
	assert.Equal(t, 0.0, config.PidKp)
}

func TestRobotConfig_WithInvalid(t *testing.T) {
	tests := []struct {
		key      string
		value    string
		expected string
	}{
		{"maxSpeed", "1", "unknown robot config key 'maxSpeed'"},
		{"pidKp", "fast", "pidKp expects a number"},
		{"polynomialEnabled", "maybe", "polynomialEnabled expects a boolean"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, err := DefaultRobotConfig().With(tt.key, tt.value)
			assert.ErrorContains(t, err, tt.expected)
		})
	}
}
