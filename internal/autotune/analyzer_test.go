package autotune

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper function to create a step response that rises linearly to 22 cm/s within 1000ms
// and then stays flat at 20 cm/s until 5000ms
func createOvershootingResponse() []Sample {
	var samples []Sample
	for i := 0; i <= 11; i++ {
		samples = append(samples, Sample{
			Time:     float64(i) * 1000.0 / 11.0,
			Velocity: float64(i) * 2.0,
		})
	}
	for t := 1100; t <= 5000; t += 100 {
		samples = append(samples, Sample{Time: float64(t), Velocity: 20})
	}
	return samples
}

func createSamples(velocities ...float64) []Sample {
	samples := make([]Sample, len(velocities))
	for i, v := range velocities {
		samples[i] = Sample{Time: float64(i * 100), Velocity: v}
	}
	return samples
}

func TestAnalyze_OvershootingResponse(t *testing.T) {
	// GIVEN
	samples := createOvershootingResponse()

	// WHEN
	metrics, err := Analyze(samples, 20)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 52, metrics.SampleCount)
	assert.Equal(t, 9, metrics.RiseIndex)
	assert.InDelta(t, 9.0/11.0, metrics.RiseTimeSec, 1e-9)
	assert.InDelta(t, 22.0, metrics.PeakVelocity, 1e-9)
	assert.InDelta(t, 10.0, metrics.OvershootPct, 1e-9)
	assert.InDelta(t, 20.0, metrics.SteadyStateVelocity, 1e-9)
	assert.InDelta(t, 0.0, metrics.SteadyStateError, 1e-9)
	assert.True(t, metrics.Settled)
	assert.Equal(t, 12, metrics.SettlingIndex)
	assert.InDelta(t, 1.1, metrics.SettlingTimeSec, 1e-9)
	assert.False(t, metrics.ZeroTarget)
}

func TestAnalyze_InsufficientData(t *testing.T) {
	// GIVEN
	samples := createSamples(1, 2, 3, 4, 5)

	// WHEN
	_, err := Analyze(samples, 20)

	// THEN
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 5, insufficient.Count)
}

func TestAnalyze_NeverReachesTarget(t *testing.T) {
	// GIVEN
	samples := createSamples(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 10)

	// WHEN
	metrics, err := Analyze(samples, 20)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 11, metrics.RiseIndex)
	assert.InDelta(t, 1.1, metrics.RiseTimeSec, 1e-9)
	assert.InDelta(t, -50.0, metrics.OvershootPct, 1e-9)
	assert.False(t, metrics.Settled)
	assert.Equal(t, 11, metrics.SettlingIndex)
}

func TestAnalyze_PeakStartsAtZero(t *testing.T) {
	// GIVEN
	samples := createSamples(-1, -2, -3, -2, -1, -1, -2, -3, -2, -1)

	// WHEN
	metrics, err := Analyze(samples, 10)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 0.0, metrics.PeakVelocity)
	assert.InDelta(t, -100.0, metrics.OvershootPct, 1e-9)
}

func TestAnalyze_ZeroTarget(t *testing.T) {
	// GIVEN
	samples := createSamples(0, 1, 2, 1, 0, 0, 0, 0, 0, 0, 0, 0)

	// WHEN
	metrics, err := Analyze(samples, 0)

	// THEN
	require.NoError(t, err)
	assert.True(t, metrics.ZeroTarget)
	assert.Equal(t, 0.0, metrics.OvershootPct)
	// the 90% threshold degenerates to 0, the first sample rises
	assert.Equal(t, 0, metrics.RiseIndex)
	// the 5% band is empty for a zero target, nothing can settle
	assert.False(t, metrics.Settled)

	gains := Synthesize(metrics, 1.0)
	assertGainsWithinBounds(t, gains)
}

func TestAnalyze_SettlingInFinalWindowIsNotDetected(t *testing.T) {
	// GIVEN
	velocities := []float64{0, 10, 18, 25, 15, 25, 15, 25, 15, 25}
	for i := 0; i < 10; i++ {
		velocities = append(velocities, 20)
	}
	samples := createSamples(velocities...)

	// WHEN
	metrics, err := Analyze(samples, 20)

	// THEN
	require.NoError(t, err)
	// index 10 starts a full in-band window, but 10 is not < n-10
	assert.False(t, metrics.Settled)
	assert.Equal(t, len(samples)-1, metrics.SettlingIndex)
}

func TestAnalyze_SettlingIsEarliestQualifyingIndex(t *testing.T) {
	// GIVEN
	velocities := []float64{0, 10, 19, 20, 25, 20, 20, 20, 20, 20, 20, 20, 20, 20, 20, 20, 20, 20, 20, 20, 20, 20, 20}
	samples := createSamples(velocities...)

	// WHEN
	metrics, err := Analyze(samples, 20)

	// THEN
	require.NoError(t, err)
	require.True(t, metrics.Settled)
	assert.Equal(t, 5, metrics.SettlingIndex)
	for j := metrics.SettlingIndex; j < metrics.SettlingIndex+settlingWindow; j++ {
		assert.True(t, inBand(samples[j].Velocity, 20))
	}
	for i := metrics.RiseIndex; i < metrics.SettlingIndex; i++ {
		qualifies := true
		for j := i; j < i+settlingWindow; j++ {
			qualifies = qualifies && inBand(samples[j].Velocity, 20)
		}
		assert.False(t, qualifies, "index %d should not qualify", i)
	}
}

func TestAnalyze_UsesRecordedTimestamps(t *testing.T) {
	// GIVEN
	times := []float64{0, 5, 7, 250, 251, 900, 901, 902, 1500, 1501, 1502, 1503}
	samples := make([]Sample, len(times))
	for i, tm := range times {
		samples[i] = Sample{Time: tm, Velocity: float64(i) * 2}
	}

	// WHEN
	metrics, err := Analyze(samples, 10)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 5, metrics.RiseIndex)
	assert.InDelta(t, 0.9, metrics.RiseTimeSec, 1e-9)
}

func TestAnalyze_RiseTimeNonDecreasingInCrossingIndex(t *testing.T) {
	previous := -1.0
	for crossing := 0; crossing < 12; crossing++ {
		// GIVEN
		velocities := make([]float64, 12)
		for i := range velocities {
			if i >= crossing {
				velocities[i] = 20
			}
		}

		// WHEN
		metrics, err := Analyze(createSamples(velocities...), 20)

		// THEN
		require.NoError(t, err)
		assert.GreaterOrEqual(t, metrics.RiseTimeSec, 0.0)
		assert.GreaterOrEqual(t, metrics.RiseTimeSec, previous)
		previous = metrics.RiseTimeSec
	}
}

func TestEvaluate_IsIdempotent(t *testing.T) {
	// GIVEN
	samples := createOvershootingResponse()
	config := RunConfig{TargetVelocity: 20, Motor: MotorAverage, Duration: 5000, Aggressiveness: 1.3}

	// WHEN
	first, err1 := Evaluate(samples, config)
	second, err2 := Evaluate(samples, config)

	// THEN
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, *first, *second)
}
