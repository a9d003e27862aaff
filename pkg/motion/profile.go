// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"math"

	"motion-engine/pkg/steptimer"
)

// Profile is a finalized trapezoidal velocity profile for one planned move,
// as handed over by the move planner. Distances are in mm; speeds are in
// mm per step-clock tick and accelerations in mm per tick squared; phase
// durations are in ticks. Use NewTrapezoid to build one from mm/s units.
type Profile struct {
	TotalDistance float64

	StartSpeed   float64
	TopSpeed     float64
	EndSpeed     float64
	Acceleration float64
	Deceleration float64

	AccelClocks  uint32
	SteadyClocks uint32
	DecelClocks  uint32

	// AccelDistance is the distance covered by the acceleration phase;
	// DecelStartDistance is the distance at which deceleration begins.
	AccelDistance      float64
	DecelStartDistance float64

	// CheckEndstops marks homing/probing motion.
	CheckEndstops bool
}

// Duration returns the total move duration in ticks.
func (p *Profile) Duration() uint32 {
	return p.AccelClocks + p.SteadyClocks + p.DecelClocks
}

// NewTrapezoid computes a symmetric-jerk trapezoidal profile from planner
// units: distance in mm, speeds in mm/s, accelerations in mm/s^2. When the
// distance is too short to reach topSpeed the profile degrades to a
// triangle with a reduced peak speed.
func NewTrapezoid(distance, startSpeed, topSpeed, endSpeed, accel, decel float64) Profile {
	const rate = float64(steptimer.StepClockRate)

	// Convert to per-tick units.
	v0 := startSpeed / rate
	vt := topSpeed / rate
	ve := endSpeed / rate
	a := accel / (rate * rate)
	d := decel / (rate * rate)

	accelDist := (vt*vt - v0*v0) / (2 * a)
	decelDist := (vt*vt - ve*ve) / (2 * d)
	if accelDist+decelDist > distance {
		// Triangle move: solve for the reachable peak speed.
		vt = math.Sqrt((2*a*d*distance + d*v0*v0 + a*ve*ve) / (a + d))
		if vt < v0 {
			vt = v0
		}
		if vt < ve {
			vt = ve
		}
		accelDist = (vt*vt - v0*v0) / (2 * a)
		decelDist = (vt*vt - ve*ve) / (2 * d)
	}

	accelClocks := (vt - v0) / a
	decelClocks := (vt - ve) / d
	steadyDist := distance - accelDist - decelDist
	if steadyDist < 0 {
		steadyDist = 0
	}
	var steadyClocks float64
	if vt > 0 {
		steadyClocks = steadyDist / vt
	}

	return Profile{
		TotalDistance:      distance,
		StartSpeed:         v0,
		TopSpeed:           vt,
		EndSpeed:           ve,
		Acceleration:       a,
		Deceleration:       d,
		AccelClocks:        uint32(math.Round(accelClocks)),
		SteadyClocks:       uint32(math.Round(steadyClocks)),
		DecelClocks:        uint32(math.Round(decelClocks)),
		AccelDistance:      accelDist,
		DecelStartDistance: accelDist + steadyDist,
	}
}

// DriveMotion names one logical drive affected by a move and its share of
// the motion, in steps (signed; the fraction of the move in this drive's
// direction times its steps/mm).
type DriveMotion struct {
	Drive int
	Steps float64
}

// Move is a queued motion descriptor: a finalized profile plus the drives
// it moves. This is the unit handed from the planner to the move task.
type Move struct {
	Profile Profile

	// Drives lists the affected logical drives and their step totals.
	Drives []DriveMotion

	// StartTime is the movement-clock tick at which the move begins; zero
	// lets the move task schedule it after the current motion.
	StartTime uint32

	// UseShaping applies the controller's input-shaping impulse set.
	// Homing and special moves run unshaped.
	UseShaping bool

	// Homing marks a move whose endstop trigger must be reported to the
	// kinematics callback.
	Homing bool
}

// CheckingEndstops reports whether the move polls endstops while stepping.
func (m *Move) CheckingEndstops() bool {
	return m.Profile.CheckEndstops
}
