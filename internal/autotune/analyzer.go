package autotune

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	riseThreshold     = 0.9
	settlingBand      = 0.05
	settlingWindow    = 10
	steadyStateWindow = 0.8
)

// Analyze extracts the step response characteristics of a sample sequence.
// All times are taken from the recorded sample timestamps, samples are not assumed to be
// evenly spaced.
func Analyze(samples []Sample, target float64) (Metrics, error) {
	n := len(samples)
	if n < MinSamples {
		return Metrics{}, &InsufficientDataError{Count: n}
	}

	metrics := Metrics{
		TargetVelocity: target,
		SampleCount:    n,
	}

	metrics.RiseIndex = riseIndex(samples, target)
	metrics.RiseTimeSec = samples[metrics.RiseIndex].Time / 1000.0

	metrics.PeakVelocity = peakVelocity(samples)
	if target == 0 {
		metrics.ZeroTarget = true
		metrics.OvershootPct = 0
	} else {
		metrics.OvershootPct = (metrics.PeakVelocity - target) / target * 100.0
	}

	velocities := make([]float64, 0, n)
	for _, sample := range samples[int(math.Floor(steadyStateWindow*float64(n))):] {
		velocities = append(velocities, sample.Velocity)
	}
	metrics.SteadyStateVelocity = stat.Mean(velocities, nil)
	metrics.SteadyStateError = target - metrics.SteadyStateVelocity

	metrics.SettlingIndex, metrics.Settled = settlingIndex(samples, target, metrics.RiseIndex)
	metrics.SettlingTimeSec = samples[metrics.SettlingIndex].Time / 1000.0

	return metrics, nil
}

// riseIndex is the first sample reaching 90% of the target, or the last sample
func riseIndex(samples []Sample, target float64) int {
	for i, sample := range samples {
		if sample.Velocity >= riseThreshold*target {
			return i
		}
	}
	return len(samples) - 1
}

// peakVelocity starts at 0, a response that never moves forward has no overshoot peak
func peakVelocity(samples []Sample) float64 {
	peak := 0.0
	for _, sample := range samples {
		if sample.Velocity > peak {
			peak = sample.Velocity
		}
	}
	return peak
}

func inBand(velocity, target float64) bool {
	return math.Abs(velocity-target) < settlingBand*target
}

// settlingIndex scans from the rise index for the earliest start of a window of
// settlingWindow consecutive in-band samples. Start points within the last settlingWindow
// samples are not considered. If nothing qualifies the last sample is returned.
func settlingIndex(samples []Sample, target float64, from int) (int, bool) {
	n := len(samples)
	for i := from; i < n-settlingWindow; i++ {
		settled := true
		for j := i; j < i+settlingWindow; j++ {
			if !inBand(samples[j].Velocity, target) {
				settled = false
				break
			}
		}
		if settled {
			return i, true
		}
	}
	return n - 1, false
}
