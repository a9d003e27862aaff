// Package endstop models endstop switches and stall detectors as a polled
// source of hit reports consumed by the step scheduler.
//
// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package endstop

import "fmt"

// Action tells the scheduler what to do about a triggered endstop.
type Action uint8

const (
	// ActionNone means nothing is newly triggered; stop polling.
	ActionNone Action = iota

	// ActionStopAll stops every drive immediately.
	ActionStopAll

	// ActionStopAxis stops all motion of one axis or extruder.
	ActionStopAxis

	// ActionStopDriver stops a single physical driver of a multi-driver
	// axis, leaving the remaining drivers running.
	ActionStopDriver
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStopAll:
		return "stopAll"
	case ActionStopAxis:
		return "stopAxis"
	case ActionStopDriver:
		return "stopDriver"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// Hit is one endstop trigger report.
type Hit struct {
	Action Action

	// Axis is the logical axis or extruder the endstop belongs to.
	Axis int

	// Driver is the physical driver to stop for ActionStopDriver.
	Driver int

	// HighEnd is true for a switch at the axis maximum.
	HighEnd bool

	// IsZProbe marks a Z probe trigger, which is reported to the probe
	// observer instead of the homing callback.
	IsZProbe bool

	// SetAxisPos is true when the axis position should be set from the
	// trigger (normal homing switches); stall-detection stops leave the
	// position alone.
	SetAxisPos bool
}

// Source is polled by the scheduler whenever a move with endstop checking
// is being stepped. Each call returns the next newly triggered endstop, or
// a Hit with ActionNone when there is nothing more to report. A returned
// hit is consumed: the source must not report the same trigger again until
// it is re-armed.
type Source interface {
	CheckEndstops() Hit
}
