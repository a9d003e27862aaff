// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"fmt"
	"strings"
)

// Diagnostics is a snapshot of the controller's counters.
type Diagnostics struct {
	State           string
	QueuedMoves     int
	SegmentsCreated uint32
	SegmentsInUse   int
	StepsEmitted    uint64
	StepErrors      uint32
	Hiccups         uint32
	HiccupTicks     uint64
	MaxTicksLate    int32
	MovementDelay   uint32
	Positions       []int32
}

// Snapshot gathers current diagnostics. With reset, the peak and error
// counters restart from zero.
func (c *Controller) Snapshot(reset bool) Diagnostics {
	c.mu.Lock()
	d := Diagnostics{
		State:           c.state.String(),
		QueuedMoves:     len(c.moveQueue),
		SegmentsCreated: c.pool.NumCreated(),
		MovementDelay:   c.clock.MovementDelay(),
		Positions:       make([]int32, c.numDrives),
	}
	for i := 0; i < c.numDrives; i++ {
		d.Positions[i] = c.dms[i].CurrentMotorPosition()
		if c.dms[i].HasPendingMovement() {
			d.SegmentsInUse++
		}
	}
	c.mu.Unlock()

	d.StepsEmitted = c.stepsEmitted.Load()
	d.StepErrors = c.stepErrors.Load()
	d.Hiccups = c.numHiccups.Load()
	d.HiccupTicks = c.hiccupTicks.Load()
	d.MaxTicksLate = c.maxTicksLate.Load()
	if reset {
		c.maxTicksLate.Store(0)
		c.stepErrors.Store(0)
		c.numHiccups.Store(0)
		c.hiccupTicks.Store(0)
	}
	return d
}

// String formats the snapshot as a multi-line diagnostics report.
func (d Diagnostics) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Motion ===\n")
	fmt.Fprintf(&sb, "state: %s, queued moves: %d\n", d.State, d.QueuedMoves)
	fmt.Fprintf(&sb, "segments created %d, steps emitted %d\n",
		d.SegmentsCreated, d.StepsEmitted)
	fmt.Fprintf(&sb, "step errors %d, hiccups %d (%d ticks), max ticks late %d\n",
		d.StepErrors, d.Hiccups, d.HiccupTicks, d.MaxTicksLate)
	fmt.Fprintf(&sb, "movement delay %d\n", d.MovementDelay)
	fmt.Fprintf(&sb, "positions:")
	for _, p := range d.Positions {
		fmt.Fprintf(&sb, " %d", p)
	}
	sb.WriteString("\n")
	return sb.String()
}
