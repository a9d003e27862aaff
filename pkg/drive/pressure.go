// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package drive

// ExtruderShaper holds the pressure-advance state for an extruder drive.
// Pressure advance adds extra extrusion proportional to the rate of change
// of speed: a segment with acceleration a gets its start speed raised by
// k*a and its distance extended by k times the speed change over the
// segment. Deceleration segments correspondingly retract.
type ExtruderShaper struct {
	k float64 // pressure advance constant, in step clocks
}

// SetClocks sets the pressure advance constant in step-clock units.
func (s *ExtruderShaper) SetClocks(k float64) { s.k = k }

// Clocks returns the pressure advance constant in step-clock units.
func (s *ExtruderShaper) Clocks() float64 { return s.k }

// Apply adjusts a segment contribution for pressure advance, returning the
// modified start speed and distance. Steady segments (a == 0) pass through
// unchanged.
func (s *ExtruderShaper) Apply(u, a float64, duration uint32, distance float64) (float64, float64) {
	if s.k == 0 || a == 0 {
		return u, distance
	}
	deltaV := a * float64(duration)
	return u + s.k*a, distance + s.k*deltaV
}
