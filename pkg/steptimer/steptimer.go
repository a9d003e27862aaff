// Package steptimer provides the movement clock used to time step pulses.
//
// All step scheduling is done in step-clock ticks. The movement clock is the
// raw timer clock minus an accumulated movement delay; hiccup recovery pushes
// the movement clock backwards by increasing that delay, which moves every
// pending step deadline outwards without touching the queued segments.
//
// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package steptimer

import (
	"sync"
	"time"
)

// StepClockRate is the frequency of the step clock in Hz.
const StepClockRate = 750000

// Scheduling constants, in step-clock ticks.
const (
	// MinInterruptInterval is the closest to now that a callback can be armed.
	MinInterruptInterval = 6

	// MaxStepInterruptTime is how long the step interrupt may run
	// continuously before a hiccup is inserted (500us).
	MaxStepInterruptTime = StepClockRate / 2000

	// HiccupTime is the initial delay inserted into the movement clock when
	// the interrupt overruns (100us).
	HiccupTime = StepClockRate / 10000

	// HiccupIncrement is added to the hiccup length on each retry.
	HiccupIncrement = HiccupTime / 2
)

// TicksFromSeconds converts a duration in seconds to step-clock ticks.
func TicksFromSeconds(s float64) uint32 {
	return uint32(s * StepClockRate)
}

// SecondsFromTicks converts step-clock ticks to seconds.
func SecondsFromTicks(t uint32) float64 {
	return float64(t) / StepClockRate
}

// After reports whether tick a is at or after tick b, allowing for wrap.
func After(a, b uint32) bool {
	return int32(a-b) >= 0
}

// Clock is the step timer abstraction. The controller uses it both as the
// time base for step scheduling and to arm the step interrupt callback.
type Clock interface {
	// TimerTicks returns the raw monotonic step-clock tick count. Used for
	// driver setup/hold busy-waits, which must not be affected by hiccups.
	TimerTicks() uint32

	// MovementTicks returns the movement clock: TimerTicks minus the
	// accumulated movement delay.
	MovementTicks() uint32

	// MovementDelay returns the total delay inserted by hiccups.
	MovementDelay() uint32

	// IncreaseMovementDelay inserts a hiccup delay into the movement clock.
	IncreaseMovementDelay(ticks uint32)

	// SetCallback registers the function invoked when an armed deadline is
	// reached. Must be set before ScheduleMovementCallback is used.
	SetCallback(fn func())

	// ScheduleMovementCallback arms the callback for the given movement-clock
	// tick. It returns true if the requested time is already due (too close
	// to now to arm), in which case nothing was armed and the caller must
	// act immediately.
	ScheduleMovementCallback(tick uint32) bool

	// CancelCallback disarms any pending callback.
	CancelCallback()
}

// SimClock is a manually advanced clock for tests and simulation. It is safe
// for concurrent use, although tests normally drive it from one goroutine.
type SimClock struct {
	mu            sync.Mutex
	now           uint32
	movementDelay uint32
	cb            func()
	pending       bool
	pendingAt     uint32 // movement-clock tick

	// AutoAdvance is added to the clock on every TimerTicks read. It lets
	// busy-wait loops make progress in tests without real time passing.
	AutoAdvance uint32
}

// NewSimClock returns a simulated clock starting at the given tick.
func NewSimClock(start uint32) *SimClock {
	return &SimClock{now: start}
}

func (c *SimClock) TimerTicks() uint32 {
	c.mu.Lock()
	c.now += c.AutoAdvance
	t := c.now
	c.mu.Unlock()
	return t
}

func (c *SimClock) MovementTicks() uint32 {
	c.mu.Lock()
	t := c.now - c.movementDelay
	c.mu.Unlock()
	return t
}

func (c *SimClock) MovementDelay() uint32 {
	c.mu.Lock()
	d := c.movementDelay
	c.mu.Unlock()
	return d
}

func (c *SimClock) IncreaseMovementDelay(ticks uint32) {
	c.mu.Lock()
	c.movementDelay += ticks
	c.mu.Unlock()
}

func (c *SimClock) SetCallback(fn func()) {
	c.mu.Lock()
	c.cb = fn
	c.mu.Unlock()
}

func (c *SimClock) ScheduleMovementCallback(tick uint32) bool {
	c.mu.Lock()
	movementNow := c.now - c.movementDelay
	if int32(tick-movementNow) < MinInterruptInterval {
		c.pending = false
		c.mu.Unlock()
		return true
	}
	c.pending = true
	c.pendingAt = tick
	c.mu.Unlock()
	return false
}

func (c *SimClock) CancelCallback() {
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
}

// Advance moves the clock forward by the given number of ticks, firing the
// armed callback if its deadline is reached.
func (c *SimClock) Advance(ticks uint32) {
	c.mu.Lock()
	c.now += ticks
	fire := c.pending && int32((c.now-c.movementDelay)-c.pendingAt) >= 0
	var cb func()
	if fire {
		c.pending = false
		cb = c.cb
	}
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// AdvanceToCallback jumps the clock to the armed deadline and fires the
// callback. It returns false if no callback was armed.
func (c *SimClock) AdvanceToCallback() bool {
	c.mu.Lock()
	if !c.pending {
		c.mu.Unlock()
		return false
	}
	target := c.pendingAt + c.movementDelay
	if int32(target-c.now) > 0 {
		c.now = target
	}
	c.pending = false
	cb := c.cb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
	return true
}

// Pending reports whether a callback is armed and, if so, for which
// movement-clock tick.
func (c *SimClock) Pending() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingAt, c.pending
}

// WallClock derives step-clock ticks from the host monotonic clock and arms
// callbacks with a timer goroutine. Used by the simulator binary when running
// against real time.
type WallClock struct {
	mu            sync.Mutex
	start         time.Time
	movementDelay uint32
	cb            func()
	timer         *time.Timer
}

// NewWallClock returns a clock whose tick zero is now.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

func (c *WallClock) TimerTicks() uint32 {
	return uint32(time.Since(c.start) * StepClockRate / time.Second)
}

func (c *WallClock) MovementTicks() uint32 {
	c.mu.Lock()
	d := c.movementDelay
	c.mu.Unlock()
	return c.TimerTicks() - d
}

func (c *WallClock) MovementDelay() uint32 {
	c.mu.Lock()
	d := c.movementDelay
	c.mu.Unlock()
	return d
}

func (c *WallClock) IncreaseMovementDelay(ticks uint32) {
	c.mu.Lock()
	c.movementDelay += ticks
	c.mu.Unlock()
}

func (c *WallClock) SetCallback(fn func()) {
	c.mu.Lock()
	c.cb = fn
	c.mu.Unlock()
}

func (c *WallClock) ScheduleMovementCallback(tick uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delta := int32(tick - (c.TimerTicks() - c.movementDelay))
	if delta < MinInterruptInterval {
		return true
	}
	d := time.Duration(delta) * time.Second / StepClockRate
	if c.timer != nil {
		c.timer.Stop()
	}
	cb := c.cb
	c.timer = time.AfterFunc(d, cb)
	return false
}

func (c *WallClock) CancelCallback() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
}
