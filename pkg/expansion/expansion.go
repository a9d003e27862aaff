// Package expansion notifies expansion boards that drive remote steppers
// about scheduling events they must mirror: inserted hiccups (so their
// movement clocks stay in sync) and drives stopped early by endstops.
//
// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package expansion

// Notifier is the outbound notification surface used by the scheduler.
// Implementations must be non-blocking: they are called from the stepping
// path.
type Notifier interface {
	// HiccupInserted reports that the movement clock was delayed by the
	// given number of ticks.
	HiccupInserted(ticks uint32)

	// DriverStopped reports that a drive was stopped mid-move after
	// taking netSteps steps.
	DriverStopped(drive int, netSteps int32)
}

// Nop discards all notifications. Used when no expansion boards exist.
type Nop struct{}

func (Nop) HiccupInserted(uint32)    {}
func (Nop) DriverStopped(int, int32) {}
