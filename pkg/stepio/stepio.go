// Package stepio abstracts the step/direction hardware interface consumed by
// the scheduler. Implementations are assumed to complete each primitive in
// bounded, known time; slow external drivers advertise their setup/hold
// timing requirements and the scheduler busy-waits to honor them.
//
// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package stepio

// DriverTimings are the pulse and direction timing constraints of a driver,
// in raw step-clock ticks.
type DriverTimings struct {
	// StepHighTicks is the minimum step pulse width.
	StepHighTicks uint32

	// StepLowTicks is the minimum low time between pulses.
	StepLowTicks uint32

	// DirSetupTicks is the minimum time between the last step pulse's
	// falling edge and a direction change.
	DirSetupTicks uint32

	// DirHoldTicks is the minimum time between a direction change and the
	// next step pulse.
	DirHoldTicks uint32
}

// Output is the step/direction output surface.
type Output interface {
	// DriversBitmap returns the physical driver bits for a logical drive.
	DriversBitmap(drive int) uint32

	// SteppingEnabledDrivers returns the bitmap of drivers currently
	// allowed to step.
	SteppingEnabledDrivers() uint32

	// SlowDriversBitmap returns the drivers with enlarged timing
	// requirements. Zero means no busy-waits are needed.
	SlowDriversBitmap() uint32

	// SlowDriverTimings returns the timing constraints applied to slow
	// drivers.
	SlowDriverTimings() DriverTimings

	// SetStepPinsHigh raises the step lines in the bitmap.
	SetStepPinsHigh(bitmap uint32)

	// SetStepPinsLow lowers the step lines in the bitmap.
	SetStepPinsLow(bitmap uint32)

	// SetDirection drives the direction line of a logical drive.
	SetDirection(drive int, forwards bool)

	// DisableSteppingDriver removes one physical driver from the stepping
	// set (endstop stop-driver action).
	DisableSteppingDriver(driver int)

	// SetDriversIdle reduces holding current on all drivers after the idle
	// timeout expires.
	SetDriversIdle()
}
