package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/util"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// velocities at or below this magnitude are considered standstill
const movingThreshold = 1.0

var ErrNotEnoughPoints = errors.New("not enough calibration points")

// MotorModel is the linear feedforward model PWM = Deadzone + Gain * velocity
type MotorModel struct {
	Deadzone int `json:"deadzone"`
	// PWM per cm/s
	Gain float64 `json:"gain"`
	// false if less than two points above the deadzone were measured
	Valid bool `json:"valid"`
}

func (m MotorModel) String() string {
	if !m.Valid {
		return fmt.Sprintf("Deadzone: %d PWM, gain unknown", m.Deadzone)
	}
	return fmt.Sprintf("PWM = %d + %.3f × velocity", m.Deadzone, m.Gain)
}

type LinearModel struct {
	Left  MotorModel `json:"left"`
	Right MotorModel `json:"right"`
}

// FitLinearModel derives the deadzone and gain of both motors from a PWM sweep
func FitLinearModel(points []Point) (LinearModel, error) {
	if len(points) < 2 {
		return LinearModel{}, fmt.Errorf("%w: need at least 2, got %d", ErrNotEnoughPoints, len(points))
	}
	return LinearModel{
		Left:  fitMotor(points, MotorLeft),
		Right: fitMotor(points, MotorRight),
	}, nil
}

func fitMotor(points []Point, motor Motor) MotorModel {
	model := MotorModel{}
	for _, point := range points {
		if math.Abs(motor.velocity(point)) > movingThreshold {
			model.Deadzone = point.Pwm
			break
		}
	}

	var velocities, pwms []float64
	for _, point := range points {
		velocity := motor.velocity(point)
		if point.Pwm >= model.Deadzone && math.Abs(velocity) > movingThreshold {
			velocities = append(velocities, velocity)
			pwms = append(pwms, float64(point.Pwm-model.Deadzone))
		}
	}
	if len(velocities) < 2 {
		return model
	}

	_, slope := stat.LinearRegression(velocities, pwms, nil, false)
	if !util.IsFinite(slope) {
		return model
	}
	model.Gain = slope
	model.Valid = true
	return model
}

// Polynomial holds cubic mappings between velocity and PWM, lowest order coefficient first
type Polynomial struct {
	VelToPwm [4]float64 `json:"vel2pwm"`
	PwmToVel [4]float64 `json:"pwm2vel"`
}

func (p Polynomial) Commands() []protocol.Command {
	return []protocol.Command{
		protocol.PolyVelToPwm(p.VelToPwm),
		protocol.PolyPwmToVel(p.PwmToVel),
	}
}

// FitCubic fits the velocity to PWM mapping and its inverse with least squares cubics.
// Only points where the wheel is moving are used.
func FitCubic(points []Point, motor Motor) (Polynomial, error) {
	var velocities, pwms []float64
	for _, point := range points {
		velocity := motor.velocity(point)
		if math.Abs(velocity) > movingThreshold {
			velocities = append(velocities, velocity)
			pwms = append(pwms, float64(point.Pwm))
		}
	}
	if len(velocities) < 4 {
		return Polynomial{}, fmt.Errorf("%w: cubic fit needs at least 4 moving points, got %d", ErrNotEnoughPoints, len(velocities))
	}

	velToPwm, err := fitCubic(velocities, pwms)
	if err != nil {
		return Polynomial{}, fmt.Errorf("fitting velocity to PWM: %w", err)
	}
	pwmToVel, err := fitCubic(pwms, velocities)
	if err != nil {
		return Polynomial{}, fmt.Errorf("fitting PWM to velocity: %w", err)
	}
	return Polynomial{VelToPwm: velToPwm, PwmToVel: pwmToVel}, nil
}

func fitCubic(x, y []float64) ([4]float64, error) {
	n := len(x)
	vandermonde := mat.NewDense(n, 4, nil)
	for i, xi := range x {
		vandermonde.Set(i, 0, 1)
		vandermonde.Set(i, 1, xi)
		vandermonde.Set(i, 2, xi*xi)
		vandermonde.Set(i, 3, xi*xi*xi)
	}

	var coefficients mat.VecDense
	if err := coefficients.SolveVec(vandermonde, mat.NewVecDense(n, y)); err != nil {
		return [4]float64{}, err
	}

	var result [4]float64
	for i := range result {
		result[i] = coefficients.AtVec(i)
	}
	return result, nil
}

// Evaluate computes the value of a cubic polynomial
func Evaluate(coefficients [4]float64, x float64) float64 {
	return coefficients[0] + x*(coefficients[1]+x*(coefficients[2]+x*coefficients[3]))
}
