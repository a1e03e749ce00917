package autotune

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{"3s", 3 * time.Second},
		{"2500", 2500 * time.Millisecond},
		{"1.5", 1500 * time.Microsecond},
		{"1m30s", 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := parseDuration(tt.input)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	_, err := parseDuration("soon")
	assert.EqualError(t, err, "invalid duration 'soon', expected e.g. 3s or 3000")
}
