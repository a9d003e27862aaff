// Package kinematics maps homing switch triggers back to axis positions.
// The scheduler only knows steps; when a homing switch fires, the
// kinematics layer decides what motor position that switch location
// corresponds to.
//
// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package kinematics

import (
	"math"
	"sync"

	"motion-engine/pkg/motion"
)

// Positioner is the slice of the controller the kinematics layer needs.
type Positioner interface {
	SetMotorPosition(drive int, steps int32)
}

// AxisLimits are the travel limits of one axis in mm.
type AxisLimits struct {
	Min, Max float64
}

// Cartesian implements homing for independent-axis machines: each switch
// sits at one end of its own axis, so the triggered position is just that
// end's limit times the axis steps/mm.
type Cartesian struct {
	mu         sync.Mutex
	limits     []AxisLimits
	positioner Positioner
	homed      uint32
}

// NewCartesian builds a Cartesian homing handler.
func NewCartesian(limits []AxisLimits, p Positioner) *Cartesian {
	return &Cartesian{limits: limits, positioner: p}
}

// OnHomingSwitchTriggered sets the axis motor position from the switch
// location and marks the axis homed.
func (k *Cartesian) OnHomingSwitchTriggered(axis int, highEnd bool, stepsPerMm []float64, m *motion.Move) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if axis < 0 || axis >= len(k.limits) || axis >= len(stepsPerMm) {
		return
	}
	pos := k.limits[axis].Min
	if highEnd {
		pos = k.limits[axis].Max
	}
	k.positioner.SetMotorPosition(axis, int32(math.Round(pos*stepsPerMm[axis])))
	k.homed |= 1 << uint(axis)
}

// HomedAxes returns the bitmap of axes homed since the last reset.
func (k *Cartesian) HomedAxes() uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.homed
}

// ClearHomed marks all axes as not homed, e.g. after a power cycle or
// emergency stop.
func (k *Cartesian) ClearHomed() {
	k.mu.Lock()
	k.homed = 0
	k.mu.Unlock()
}
