package util

import "time"

type PidLoop struct {
	// Proportional Constant
	p float64
	// Integral Constant
	i float64
	// Derivative Constant
	d float64
	// Minimum output value
	outMin float64
	// Maximum output value
	outMax float64

	// last measured value
	lastMeasured float64
	// integral from previous loop + error, i.e. integral error
	integral float64
	// last execution time of the loop
	lastTime time.Time
	// whether Advance has been called at least once since the last reset
	initialized bool
	// last output value
	lastOutput float64
}

func NewPidLoop(p, i, d, min, max float64) *PidLoop {
	return &PidLoop{
		p:      p,
		i:      i,
		d:      d,
		outMin: min,
		outMax: max,
	}
}

// SetGains replaces the P, I and D constants without resetting the loop state
func (p *PidLoop) SetGains(kp, ki, kd float64) {
	p.p = kp
	p.i = ki
	p.d = kd
}

// Gains returns the currently used P, I and D constants
func (p *PidLoop) Gains() (kp, ki, kd float64) {
	return p.p, p.i, p.d
}

// Reset clears the integral and derivative history
func (p *PidLoop) Reset() {
	p.initialized = false
	p.lastTime = time.Time{}
	p.integral = 0
	p.lastMeasured = 0
	p.lastOutput = 0
}

// Loop advances the pid loop using the wall clock to determine dt
func (p *PidLoop) Loop(target float64, measured float64) float64 {
	loopTime := time.Now()
	var dt time.Duration
	if !p.lastTime.IsZero() {
		dt = loopTime.Sub(p.lastTime)
	}
	p.lastTime = loopTime
	return p.Advance(target, measured, dt)
}

// Advance advances the pid loop by the given time step
func (p *PidLoop) Advance(target float64, measured float64, dt time.Duration) float64 {
	if !p.initialized {
		p.initialized = true
		p.lastMeasured = measured
		p.integral = 0.0

		// initial output is P-term only
		output := Coerce(p.p*(target-measured), p.outMin, p.outMax)
		p.lastOutput = output
		return output
	}

	seconds := dt.Seconds()
	if seconds <= 0 {
		return p.lastOutput
	}

	err := target - measured

	proportionalTerm := p.p * err

	// don't integrate if output is already saturated AND the error is trying to push it further
	integrate := true
	if p.lastOutput >= p.outMax && err > 0 {
		integrate = false
	}
	if p.lastOutput <= p.outMin && err < 0 {
		integrate = false
	}
	if integrate {
		p.integral = p.integral + err*seconds
	}
	integralTerm := p.i * p.integral

	// derivative on measurement to avoid derivative kick
	derivativeRaw := (measured - p.lastMeasured) / seconds
	derivativeTerm := -p.d * derivativeRaw

	output := Coerce(proportionalTerm+integralTerm+derivativeTerm, p.outMin, p.outMax)

	p.lastMeasured = measured
	p.lastOutput = output

	return output
}
