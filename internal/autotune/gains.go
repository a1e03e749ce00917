package autotune

import (
	"math"

	"github.com/drivetune/drivetune/internal/util"
)

const (
	KpMin = 0.1
	KpMax = 5.0
	KiMin = 0.01
	KiMax = 2.0
	KdMin = 0.0
	KdMax = 0.5
)

// Synthesize derives PID gains from step response characteristics.
// The result is always clamped to safe bounds, NaN maps to the lower bound.
func Synthesize(metrics Metrics, aggressiveness float64) Gains {
	tr := metrics.RiseTimeSec
	ts := metrics.SettlingTimeSec
	sse := math.Abs(metrics.SteadyStateError)

	// more error needs more gain
	baseKp := 0.3
	if sse > 5 {
		baseKp = 0.8
	} else if sse > 2 {
		baseKp = 0.5
	}
	kp := baseKp / math.Max(tr, 0.1) * aggressiveness

	// slower settling needs less integral action
	ki := kp / math.Max(ts*2, 0.5) * aggressiveness

	// more overshoot needs more damping
	kdFactor := 0.05
	if metrics.OvershootPct > 10 {
		kdFactor = 0.15
	} else if metrics.OvershootPct > 5 {
		kdFactor = 0.10
	}
	kd := kp * tr * kdFactor * aggressiveness

	return Gains{
		Kp: util.CoerceFinite(kp, KpMin, KpMax),
		Ki: util.CoerceFinite(ki, KiMin, KiMax),
		Kd: util.CoerceFinite(kd, KdMin, KdMax),
	}
}

// Evaluate runs the full analysis of a frozen sample sequence
func Evaluate(samples []Sample, config RunConfig) (*AnalysisResult, error) {
	metrics, err := Analyze(samples, config.TargetVelocity)
	if err != nil {
		return nil, err
	}
	return &AnalysisResult{
		Metrics:        metrics,
		Gains:          Synthesize(metrics, config.Aggressiveness),
		Aggressiveness: config.Aggressiveness,
	}, nil
}

func AggressivenessLabel(aggressiveness float64) string {
	switch {
	case aggressiveness < 0.8:
		return "conservative"
	case aggressiveness > 1.5:
		return "aggressive"
	default:
		return "balanced"
	}
}
