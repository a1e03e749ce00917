package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoerce(t *testing.T) {
	assert.Equal(t, 5.0, Coerce(10.0, 0.0, 5.0))
	assert.Equal(t, 0.0, Coerce(-1.0, 0.0, 5.0))
	assert.Equal(t, 3.0, Coerce(3.0, 0.0, 5.0))
	assert.Equal(t, 255, Coerce(300, -255, 255))
}

func TestCoerceFinite(t *testing.T) {
	assert.Equal(t, 0.1, CoerceFinite(math.NaN(), 0.1, 5.0))
	assert.Equal(t, 5.0, CoerceFinite(math.Inf(1), 0.1, 5.0))
	assert.Equal(t, 0.1, CoerceFinite(math.Inf(-1), 0.1, 5.0))
}

func TestUpdateSimpleMovingAvg(t *testing.T) {
	// WHEN
	result := UpdateSimpleMovingAvg(10, 10, 20)

	// THEN
	assert.Equal(t, 11.0, result)
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(1.5))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(-1)))
}
