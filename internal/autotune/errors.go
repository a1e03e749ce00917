package autotune

import (
	"errors"
	"fmt"
)

const MinSamples = 10

var (
	ErrSaturation       = errors.New("motor output saturated")
	ErrInsufficientData = errors.New("insufficient data")
	ErrOutOfOrderSample = errors.New("sample is older than the last recorded sample")
	ErrNoActiveRun      = errors.New("no autotune run is active")
	ErrNoResult         = errors.New("no completed autotune result available")
)

// InsufficientDataError is returned when a run collected less than MinSamples samples
type InsufficientDataError struct {
	Count int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("not enough data collected - only %d samples (need at least %d)", e.Count, MinSamples)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// SaturationError carries the PWM value that tripped the guard
type SaturationError struct {
	AbsPwm    float64
	Threshold float64
}

func (e *SaturationError) Error() string {
	return fmt.Sprintf("motor output saturated: PWM %.0f >= %.0f", e.AbsPwm, e.Threshold)
}

func (e *SaturationError) Unwrap() error {
	return ErrSaturation
}
