// Package pendulum senses the arm and runs the swing-up and balance
// control of the rig.
package pendulum

import "math"

// Angle is a pendulum angle in sensor ticks.
type Angle int32

// Revolution is the number of ticks in a full turn.
const Revolution Angle = 2048

const (
	Deg180  = Revolution / 2
	Deg90   = Revolution / 4
	Deg45   = Revolution / 8
	Deg22_5 = Revolution / 16
)

// Reference points relative to the calibrated hanging position.
const (
	Down Angle = 0
	Up   Angle = -Deg180
)

// Rel returns a - ref wrapped into [-Revolution/2, Revolution/2).
func Rel(a, ref Angle) Angle {
	d := (a - ref + Deg180) % Revolution
	if d < 0 {
		d += Revolution
	}
	return d - Deg180
}

// Wrap folds a into [0, Revolution).
func Wrap(a Angle) Angle {
	a %= Revolution
	if a < 0 {
		a += Revolution
	}
	return a
}

// Abs returns |a|.
func (a Angle) Abs() Angle {
	if a < 0 {
		return -a
	}
	return a
}

// Degrees converts to degrees.
func (a Angle) Degrees() float64 {
	return float64(a) * 360 / float64(Revolution)
}

// FromDegrees converts degrees to the nearest tick.
func FromDegrees(deg float64) Angle {
	return Angle(math.Round(deg * float64(Revolution) / 360))
}
