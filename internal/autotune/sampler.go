package autotune

import (
	"time"

	"github.com/drivetune/drivetune/internal/protocol"
)

const DefaultSaturationPwm = 245.0

// Append records a sample and updates the peak velocity.
// Samples older than the last recorded one are rejected.
func (r *RunState) Append(sample Sample) error {
	if n := len(r.Samples); n > 0 && sample.Time < r.Samples[n-1].Time {
		return ErrOutOfOrderSample
	}
	r.Samples = append(r.Samples, sample)
	if sample.Velocity > r.MaxVelocity {
		r.MaxVelocity = sample.Velocity
	}
	return nil
}

// Ingest feeds a telemetry tuple, observed elapsed time after the step, into the run.
//
// The saturation guard runs in every active phase and returns a *SaturationError without
// recording anything. Samples are only recorded once the step has been applied. The returned
// bool signals that the configured test duration has been reached.
func (r *RunState) Ingest(tuple protocol.Tuple, elapsed time.Duration, saturationPwm float64) (bool, error) {
	if !r.Phase.Active() {
		return false, nil
	}

	if absPwm, ok := tuple.AbsPwm(); ok {
		r.LastAbsPwm = &absPwm
	}
	if r.LastAbsPwm != nil && *r.LastAbsPwm >= saturationPwm {
		return false, &SaturationError{AbsPwm: *r.LastAbsPwm, Threshold: saturationPwm}
	}

	if !r.Phase.Sampling() {
		return false, nil
	}

	sample := Sample{
		Time:     float64(elapsed) / float64(time.Millisecond),
		Velocity: r.Config.Motor.Select(tuple.LeftVelocity, tuple.RightVelocity),
	}
	if err := r.Append(sample); err != nil {
		return false, err
	}
	r.Phase = PhaseMeasuring

	return elapsed >= r.Config.Duration, nil
}
