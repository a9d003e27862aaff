// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package motion implements the step scheduling core: it turns finalized
// move profiles into per-drive acceleration segments, keeps the drives that
// still owe steps in a list ordered by next step time, and emits step
// pulses from a timer callback that reschedules itself until all motion is
// consumed.
package motion

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"motion-engine/pkg/drive"
	"motion-engine/pkg/endstop"
	"motion-engine/pkg/errors"
	"motion-engine/pkg/expansion"
	"motion-engine/pkg/log"
	"motion-engine/pkg/segment"
	"motion-engine/pkg/shaper"
	"motion-engine/pkg/stepio"
	"motion-engine/pkg/steptimer"
)

// HomingCallback receives endstop triggers during homing moves so the
// kinematics layer can set axis positions from the switch location.
type HomingCallback interface {
	OnHomingSwitchTriggered(axis int, highEnd bool, stepsPerMm []float64, m *Move)
}

// Config carries the collaborators and sizing of a Controller. Clock and
// Output are required; the rest default to inert implementations.
type Config struct {
	NumAxes      int
	NumExtruders int

	Clock    steptimer.Clock
	Output   stepio.Output
	Endstops endstop.Source
	Homing   HomingCallback
	Remote   expansion.Notifier
	Logger   *log.Logger

	// IdleTimeout is how long the controller stays in the timing state
	// after motion stops before dropping the drivers to idle current.
	IdleTimeout time.Duration

	// Shaper is the input shaping impulse set applied to shaped moves.
	// Nil means no shaping.
	Shaper *shaper.ImpulseSet

	// QueueSize bounds the move queue; zero picks a default.
	QueueSize int
}

// Controller owns the per-drive movement state and the active list, and
// runs the step interrupt. All mutation of segment chains and the active
// list happens under the controller mutex, which stands in for the
// interrupt-disabled critical sections of a firmware port.
type Controller struct {
	mu sync.Mutex

	numDrives int
	dms       []drive.DriveMovement
	activeDMs *drive.DriveMovement
	pool      *segment.Pool

	clock    steptimer.Clock
	out      stepio.Output
	endstops endstop.Source
	homing   HomingCallback
	remote   expansion.Notifier
	logger   *log.Logger
	shaper   *shaper.ImpulseSet

	stepsPerMm    []float64
	microstepping []uint16

	// homingMoves[d] is the endstop-checking move a drive is executing,
	// consulted when its switch triggers.
	homingMoves []*Move

	// Positions at which drives came to rest, updated on normal segment
	// exhaustion and on endstop stops.
	restPositions []int32

	lastStepLowTime   uint32
	lastDirChangeTime uint32

	stepErrors   atomic.Uint32
	numHiccups   atomic.Uint32
	hiccupTicks  atomic.Uint64
	stepsEmitted atomic.Uint64
	maxTicksLate atomic.Int32

	// probeStop is invoked when a Z probe stops all motion.
	probeStop func()

	moveQueue   chan *Move
	notify      chan struct{}
	quit        chan struct{}
	wg          sync.WaitGroup
	started     atomic.Bool
	lastMoveEnd uint32

	state       moveState
	idleTimeout time.Duration
	idleStarted time.Time
}

// NewController builds a controller. The caller still has to Start it.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Clock == nil || cfg.Output == nil {
		return nil, errors.New(errors.ErrMotionInit, "clock and output are required")
	}
	n := cfg.NumAxes + cfg.NumExtruders
	if n <= 0 || n > 32 {
		return nil, errors.New(errors.ErrMotionInit, "drive count out of range")
	}
	remote := cfg.Remote
	if remote == nil {
		remote = expansion.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger("motion")
	}
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = 64
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}
	c := &Controller{
		numDrives:     n,
		dms:           make([]drive.DriveMovement, n),
		pool:          segment.NewPool(),
		clock:         cfg.Clock,
		out:           cfg.Output,
		endstops:      cfg.Endstops,
		homing:        cfg.Homing,
		remote:        remote,
		logger:        logger,
		shaper:        cfg.Shaper,
		stepsPerMm:    make([]float64, n),
		microstepping: make([]uint16, n),
		homingMoves:   make([]*Move, n),
		restPositions: make([]int32, n),
		moveQueue:     make(chan *Move, qs),
		notify:        make(chan struct{}, 1),
		quit:          make(chan struct{}),
		idleTimeout:   idle,
	}
	for i := range c.dms {
		c.dms[i].Init(i)
		c.stepsPerMm[i] = 80.0
		c.microstepping[i] = 16
		if i >= cfg.NumAxes {
			c.dms[i].SetAsExtruder(true)
		}
	}
	c.clock.SetCallback(c.Interrupt)
	return c, nil
}

// SetHomingCallback installs the kinematics callback after construction.
// The callback usually needs the controller to exist first.
func (c *Controller) SetHomingCallback(h HomingCallback) {
	c.mu.Lock()
	c.homing = h
	c.mu.Unlock()
}

// SetProbeObserver installs the function called when a Z probe trigger
// stops motion.
func (c *Controller) SetProbeObserver(fn func()) {
	c.mu.Lock()
	c.probeStop = fn
	c.mu.Unlock()
}

// SetStepsPerMm changes the steps/mm of one drive.
func (c *Controller) SetStepsPerMm(driveIndex int, value float64) {
	c.mu.Lock()
	c.stepsPerMm[driveIndex] = value
	c.mu.Unlock()
}

// StepsPerMm returns the steps/mm of one drive.
func (c *Controller) StepsPerMm(driveIndex int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepsPerMm[driveIndex]
}

// SetMicrostepping changes the microstepping of a drive and rescales its
// steps/mm to keep axis travel per full step constant.
func (c *Controller) SetMicrostepping(driveIndex int, microsteps uint16) {
	c.mu.Lock()
	old := c.microstepping[driveIndex]
	if old != 0 && microsteps != 0 && microsteps != old {
		c.stepsPerMm[driveIndex] *= float64(microsteps) / float64(old)
	}
	c.microstepping[driveIndex] = microsteps
	c.mu.Unlock()
}

// Microstepping returns the microstepping of a drive.
func (c *Controller) Microstepping(driveIndex int) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.microstepping[driveIndex]
}

// SetPressureAdvance sets the extrusion pressure advance constant of an
// extruder drive, in seconds.
func (c *Controller) SetPressureAdvance(driveIndex int, seconds float64) {
	c.mu.Lock()
	c.dms[driveIndex].ExtruderShaper.SetClocks(seconds * float64(steptimer.StepClockRate))
	c.mu.Unlock()
}

// LiveMotorPosition returns the current position of a drive in microsteps.
func (c *Controller) LiveMotorPosition(driveIndex int) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dms[driveIndex].CurrentMotorPosition()
}

// SetMotorPosition forces the position of a drive, e.g. after homing.
func (c *Controller) SetMotorPosition(driveIndex int, steps int32) {
	c.mu.Lock()
	c.dms[driveIndex].SetMotorPosition(steps)
	c.restPositions[driveIndex] = steps
	c.mu.Unlock()
}

// AdjustMotorPositions applies deltas in mm to a prefix of the drives,
// used by bed levelling.
func (c *Controller) AdjustMotorPositions(deltaMm []float64) {
	c.mu.Lock()
	for i, d := range deltaMm {
		if i >= c.numDrives {
			break
		}
		adj := int32(math.Round(d * c.stepsPerMm[i]))
		c.dms[i].AdjustMotorPosition(adj)
		c.restPositions[i] += adj
	}
	c.mu.Unlock()
}

// RestPosition returns the position a drive last came to rest at.
func (c *Controller) RestPosition(driveIndex int) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restPositions[driveIndex]
}

// AccumulatedMovement returns and clears the net microsteps moved by a
// drive since the previous call. Used by extruder filament accounting.
func (c *Controller) AccumulatedMovement(driveIndex int) int64 {
	return c.dms[driveIndex].AccumulatedMovement()
}

// AreDrivesStopped reports whether none of the drives in the bitmap has
// pending movement.
func (c *Controller) AreDrivesStopped(drives uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < c.numDrives; i++ {
		if drives&(1<<uint(i)) != 0 && c.dms[i].HasPendingMovement() {
			return false
		}
	}
	return true
}

// StepInterval returns the current interval between steps of a drive
// shifted down by microstepShift, or zero when it is not moving. Used for
// stall detection tuning.
func (c *Controller) StepInterval(driveIndex int, microstepShift uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dms[driveIndex].StepInterval(microstepShift)
}

// addLinearSegments decomposes one drive's share of a move into segments,
// one accel/steady/decel triple per shaping impulse, and merges them into
// the drive's chain. Caller holds the controller mutex.
func (c *Controller) addLinearSegments(m *Move, driveIndex int, startTime uint32, steps float64) {
	p := &m.Profile
	dm := &c.dms[driveIndex]

	stepsPerMm := steps / p.TotalDistance

	var flags segment.Flags
	if p.CheckEndstops {
		flags |= segment.FlagCheckEndstops
	}
	if dm.IsExtruder() {
		flags |= segment.FlagIsExtruder
	}

	impulses := shaper.Unshaped
	if m.UseShaping && c.shaper != nil {
		impulses = *c.shaper
	} else {
		flags |= segment.FlagNoShaping
	}

	steadyStartDistance := p.AccelDistance
	steadyDistance := p.DecelStartDistance - p.AccelDistance
	decelDistance := p.TotalDistance - p.DecelStartDistance

	wasIdle := dm.Segments() == nil

	for i := 0; i < impulses.NumImpulses(); i++ {
		factor := impulses.Amplitude(i) * stepsPerMm
		t := startTime + impulses.Delay(i)
		if p.AccelClocks != 0 {
			u := p.StartSpeed * factor
			a := p.Acceleration * factor
			dist := steadyStartDistance * factor
			dur := p.AccelClocks
			if dm.IsExtruder() {
				u, dist = dm.ExtruderShaper.Apply(u, a, dur, dist)
			}
			dm.AddSegment(c.pool, t, dur, dist, u, a, flags)
			t += p.AccelClocks
		}
		if p.SteadyClocks != 0 {
			u := p.TopSpeed * factor
			dm.AddSegment(c.pool, t, p.SteadyClocks, steadyDistance*factor, u, 0, flags)
			t += p.SteadyClocks
		}
		if p.DecelClocks != 0 {
			u := p.TopSpeed * factor
			a := -p.Deceleration * factor
			dist := decelDistance * factor
			if dm.IsExtruder() {
				u, dist = dm.ExtruderShaper.Apply(u, a, p.DecelClocks, dist)
			}
			dm.AddSegment(c.pool, t, p.DecelClocks, dist, u, a, flags)
		}
	}

	if m.CheckingEndstops() {
		c.homingMoves[driveIndex] = m
	}

	if wasIdle {
		c.startDriveMovement(dm)
	}
}

// startDriveMovement schedules the first step of a drive whose chain just
// went from empty to non-empty and links it into the active list. Caller
// holds the controller mutex.
func (c *Controller) startDriveMovement(dm *drive.DriveMovement) {
	if !dm.ScheduleFirstSegment(c.pool) {
		if dm.State() == drive.StepError {
			c.recordStepError(dm)
		}
		return
	}
	if dm.DirectionChanged {
		dm.DirectionChanged = false
		c.setDirection(dm.Drive, dm.Direction)
	}
	c.insertDM(dm)
	if c.activeDMs == dm {
		// New head of the active list; bring the timer forward. If the
		// step is already due, run the interrupt once the caller drops
		// the lock via the pending flag on the clock.
		if c.clock.ScheduleMovementCallback(dm.NextStepTime) {
			c.interruptLocked()
		}
	}
}

// insertDM links a drive into the active list in order of next step time,
// before any entry with an equal time. Times are compared as wrapped
// 32-bit differences.
func (c *Controller) insertDM(dm *drive.DriveMovement) {
	dmp := &c.activeDMs
	for *dmp != nil && int32((*dmp).NextStepTime-dm.NextStepTime) < 0 {
		dmp = &(*dmp).NextDM
	}
	dm.NextDM = *dmp
	*dmp = dm
}

// deactivateDM unlinks a drive from the active list if it is there.
func (c *Controller) deactivateDM(dm *drive.DriveMovement) {
	dmp := &c.activeDMs
	for *dmp != nil {
		if *dmp == dm {
			*dmp = dm.NextDM
			dm.NextDM = nil
			return
		}
		dmp = &(*dmp).NextDM
	}
}

func (c *Controller) recordStepError(dm *drive.DriveMovement) {
	c.stepErrors.Add(1)
	dm.ForceIdle()
	c.logger.WithField("drive", dm.Drive).Warn("step error")
}

// Interrupt is the step timer callback. It emits all due steps, then
// reschedules itself; when it has been running too long it inserts a
// hiccup to let lower-priority work proceed.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	c.interruptLocked()
	c.mu.Unlock()
}

func (c *Controller) interruptLocked() {
	if c.activeDMs == nil {
		return
	}
	isrStart := c.clock.TimerTicks()
	for {
		now := c.clock.MovementTicks()
		// A deadline can sit marginally in the future when the timer could
		// not be armed that close to it; service it at its due time.
		if int32(now-c.activeDMs.NextStepTime) < 0 {
			now = c.activeDMs.NextStepTime
		}
		c.stepDrivers(now)
		if c.activeDMs == nil {
			// No more steps to schedule; let the move task observe
			// completion.
			c.wakeMoveTask()
			return
		}
		if !c.scheduleNextStepInterrupt() {
			return
		}
		// Step still due now. Guard against spending unbounded time in
		// the interrupt when the step rate exceeds what we can deliver.
		if c.clock.TimerTicks()-isrStart >= steptimer.MaxStepInterruptTime {
			c.numHiccups.Add(1)
			var inserted uint32
			for hiccupTime := uint32(steptimer.HiccupTime); ; hiccupTime += steptimer.HiccupIncrement {
				inserted += hiccupTime
				c.clock.IncreaseMovementDelay(hiccupTime)
				if !c.scheduleNextStepInterrupt() {
					c.hiccupTicks.Add(uint64(inserted))
					c.remote.HiccupInserted(inserted)
					c.logger.WithField("ticks", inserted).Debug("hiccup inserted")
					return
				}
			}
		}
	}
}

// scheduleNextStepInterrupt arms the timer for the head of the active
// list. It returns true when the step is already due, in which case the
// caller must service it instead of waiting for the timer.
func (c *Controller) scheduleNextStepInterrupt() bool {
	if c.activeDMs == nil {
		return false
	}
	return c.clock.ScheduleMovementCallback(c.activeDMs.NextStepTime)
}

// stepDrivers generates steps for all drives whose next step time has been
// reached and re-inserts the ones that still owe steps. Caller holds the
// controller mutex.
func (c *Controller) stepDrivers(now uint32) {
	var driversStepping uint32
	var flags segment.Flags
	dm := c.activeDMs
	for dm != nil && int32(now-dm.NextStepTime) >= 0 {
		driversStepping |= c.out.DriversBitmap(dm.Drive)
		flags |= dm.SegmentFlags
		dm = dm.NextDM
	}

	if flags.CheckEndstops() {
		// An endstop may stop some of these drives; check first, then
		// recompute the due set because the list may have changed.
		c.checkEndstopsLocked(true)
		if now2 := c.clock.MovementTicks(); int32(now2-now) > 0 {
			now = now2
		}
		driversStepping = 0
		dm = c.activeDMs
		for dm != nil && int32(now-dm.NextStepTime) >= 0 {
			driversStepping |= c.out.DriversBitmap(dm.Drive)
			dm = dm.NextDM
		}
	}

	if c.activeDMs != nil {
		if late := int32(now - c.activeDMs.NextStepTime); late > c.maxTicksLate.Load() {
			c.maxTicksLate.Store(late)
		}
	}

	driversStepping &= c.out.SteppingEnabledDrivers()

	if driversStepping&c.out.SlowDriversBitmap() != 0 {
		t := c.out.SlowDriverTimings()
		for c.clock.TimerTicks()-c.lastStepLowTime < t.StepLowTicks {
		}
		for c.clock.TimerTicks()-c.lastDirChangeTime < t.DirHoldTicks {
		}
		c.out.SetStepPinsHigh(driversStepping)
		pulseStart := c.clock.TimerTicks()
		c.advanceDueDrives(dm, driversStepping)
		for c.clock.TimerTicks()-pulseStart < t.StepHighTicks {
		}
		c.out.SetStepPinsLow(driversStepping)
		c.lastStepLowTime = c.clock.TimerTicks()
	} else if driversStepping != 0 {
		c.out.SetStepPinsHigh(driversStepping)
		c.advanceDueDrives(dm, driversStepping)
		c.out.SetStepPinsLow(driversStepping)
	} else {
		c.advanceDueDrives(dm, 0)
	}

	// Re-insert the drives we removed from the head of the list, applying
	// any direction change before their next pulse.
	dmToInsert := c.activeDMs
	c.activeDMs = dm
	for dmToInsert != dm {
		next := dmToInsert.NextDM
		switch dmToInsert.State() {
		case drive.Moving:
			if dmToInsert.DirectionChanged {
				dmToInsert.DirectionChanged = false
				c.setDirection(dmToInsert.Drive, dmToInsert.Direction)
			}
			c.insertDM(dmToInsert)
		case drive.Idle:
			c.restPositions[dmToInsert.Drive] = dmToInsert.CurrentMotorPosition()
			c.homingMoves[dmToInsert.Drive] = nil
			dmToInsert.NextDM = nil
		default:
			c.recordStepError(dmToInsert)
			dmToInsert.NextDM = nil
		}
		dmToInsert = next
	}
}

// advanceDueDrives takes the step on every due drive whose driver actually
// pulsed and computes each drive's next step time. until marks the first
// non-due entry.
func (c *Controller) advanceDueDrives(until *drive.DriveMovement, pulsed uint32) {
	for dm := c.activeDMs; dm != until; dm = dm.NextDM {
		if pulsed&c.out.DriversBitmap(dm.Drive) != 0 {
			dm.TakeStep()
			c.stepsEmitted.Add(1)
		}
		dm.CalcNextStepTime(c.pool)
	}
}

// setDirection changes the direction line of a drive, honoring the setup
// and hold timing of slow drivers.
func (c *Controller) setDirection(driveIndex int, forwards bool) {
	slow := c.out.DriversBitmap(driveIndex)&c.out.SlowDriversBitmap() != 0
	if slow {
		t := c.out.SlowDriverTimings()
		for c.clock.TimerTicks()-c.lastStepLowTime < t.DirSetupTicks {
		}
	}
	c.out.SetDirection(driveIndex, forwards)
	if slow {
		c.lastDirChangeTime = c.clock.TimerTicks()
	}
}

// CheckEndstops polls the endstop source and applies any stop actions.
// Called from the move task for moves that are all endstop checking, and
// from stepDrivers while such moves execute.
func (c *Controller) CheckEndstops() {
	c.mu.Lock()
	c.checkEndstopsLocked(false)
	c.mu.Unlock()
}

func (c *Controller) checkEndstopsLocked(executingMove bool) {
	if c.endstops == nil {
		return
	}
	for {
		hit := c.endstops.CheckEndstops()
		switch hit.Action {
		case endstop.ActionStopAll:
			c.stopAllDriversLocked(executingMove)
			if hit.IsZProbe {
				if c.probeStop != nil {
					c.probeStop()
				}
			} else {
				c.reportHomingTrigger(hit)
			}
			return

		case endstop.ActionStopAxis:
			c.stopAxisOrExtruderLocked(executingMove, hit.Axis)
			c.reportHomingTrigger(hit)

		case endstop.ActionStopDriver:
			c.out.DisableSteppingDriver(hit.Driver)
			c.reportHomingTrigger(hit)

		default:
			return
		}
	}
}

func (c *Controller) reportHomingTrigger(hit endstop.Hit) {
	if !hit.SetAxisPos || c.homing == nil {
		return
	}
	if hit.Axis < 0 || hit.Axis >= c.numDrives {
		return
	}
	m := c.homingMoves[hit.Axis]
	if m == nil || !m.CheckingEndstops() {
		return
	}
	c.homing.OnHomingSwitchTriggered(hit.Axis, hit.HighEnd, c.stepsPerMm, m)
}

// stopAxisOrExtruderLocked stops all motion of one drive and records where
// it came to rest.
func (c *Controller) stopAxisOrExtruderLocked(executingMove bool, driveIndex int) {
	dm := &c.dms[driveIndex]
	netSteps, wasMoving := dm.StopDriver(c.pool)
	c.deactivateDM(dm)
	c.restPositions[driveIndex] = dm.CurrentMotorPosition()
	if wasMoving && executingMove {
		c.remote.DriverStopped(driveIndex, netSteps)
	}
	if c.activeDMs == nil {
		c.clock.CancelCallback()
		c.wakeMoveTask()
	}
}

func (c *Controller) stopAllDriversLocked(executingMove bool) {
	c.clock.CancelCallback()
	for i := 0; i < c.numDrives; i++ {
		dm := &c.dms[i]
		netSteps, wasMoving := dm.StopDriver(c.pool)
		c.restPositions[i] = dm.CurrentMotorPosition()
		if wasMoving && executingMove {
			c.remote.DriverStopped(i, netSteps)
		}
	}
	c.activeDMs = nil
	c.wakeMoveTask()
}

// StopAxisOrExtruder stops one drive immediately.
func (c *Controller) StopAxisOrExtruder(driveIndex int) {
	c.mu.Lock()
	c.stopAxisOrExtruderLocked(true, driveIndex)
	c.mu.Unlock()
}

// StopAllDrivers stops every drive immediately and discards their
// remaining segments.
func (c *Controller) StopAllDrivers() {
	c.mu.Lock()
	c.stopAllDriversLocked(true)
	c.mu.Unlock()
}

// EmergencyStop cancels all motion and empties the move queue.
func (c *Controller) EmergencyStop() {
	c.logger.Error("emergency stop: cancelling all motion")
	c.mu.Lock()
	c.stopAllDriversLocked(false)
	c.mu.Unlock()
drain:
	for {
		select {
		case <-c.moveQueue:
		default:
			break drain
		}
	}
}
