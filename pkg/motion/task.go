// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"time"

	"motion-engine/pkg/errors"
	"motion-engine/pkg/steptimer"
)

// moveState is the move task's coarse activity state.
type moveState uint8

const (
	// stateIdle: no motion for longer than the idle timeout; drivers are
	// at idle current.
	stateIdle moveState = iota

	// stateCollecting: a move has been taken off the queue and is being
	// decomposed into segments.
	stateCollecting

	// stateExecuting: steps are being generated.
	stateExecuting

	// stateTiming: motion has stopped and the idle timeout is running.
	stateTiming
)

func (s moveState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateCollecting:
		return "collecting"
	case stateExecuting:
		return "executing"
	case stateTiming:
		return "timing"
	default:
		return "unknown"
	}
}

// moveStartDelay gives the move task time to finish building segments
// before the first step of a newly queued move falls due.
const moveStartDelay = steptimer.StepClockRate / 100 // 10ms

// Start launches the move task. It is an error to start twice.
func (c *Controller) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New(errors.ErrMotionInit, "controller already started")
	}
	c.wg.Add(1)
	go c.moveLoop()
	return nil
}

// Stop cancels motion and shuts down the move task.
func (c *Controller) Stop() {
	if !c.started.Load() {
		return
	}
	c.EmergencyStop()
	close(c.quit)
	c.wg.Wait()
}

// EnqueueMove adds a move to the queue, blocking if it is full.
func (c *Controller) EnqueueMove(m *Move) error {
	if len(m.Drives) == 0 {
		return errors.New(errors.ErrMotionQueue, "move has no drives")
	}
	if m.Profile.TotalDistance <= 0 || m.Profile.Duration() == 0 {
		return errors.New(errors.ErrMotionQueue, "move has no extent")
	}
	select {
	case c.moveQueue <- m:
	case <-c.quit:
		return errors.New(errors.ErrMotionQueue, "controller stopped")
	}
	c.wakeMoveTask()
	return nil
}

// TryEnqueueMove adds a move without blocking; it reports whether the move
// was accepted.
func (c *Controller) TryEnqueueMove(m *Move) bool {
	select {
	case c.moveQueue <- m:
		c.wakeMoveTask()
		return true
	default:
		return false
	}
}

// QueuedMoves returns the number of moves waiting in the queue.
func (c *Controller) QueuedMoves() int { return len(c.moveQueue) }

// State returns the move task state, for diagnostics.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

func (c *Controller) wakeMoveTask() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// moveLoop is the move task: it drains the queue into segment chains and
// runs the idle-current state machine.
func (c *Controller) moveLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		for {
			select {
			case m := <-c.moveQueue:
				c.executeMove(m)
				continue
			default:
			}
			break
		}

		c.updateIdleState()

		select {
		case <-c.quit:
			return
		case <-c.notify:
		case <-ticker.C:
		}
	}
}

// executeMove schedules one queued move: it picks a start time after all
// currently scheduled motion and decomposes the move for every drive it
// touches.
func (c *Controller) executeMove(m *Move) {
	c.mu.Lock()
	c.state = stateCollecting

	startTime := m.StartTime
	if startTime == 0 {
		startTime = c.clock.MovementTicks() + moveStartDelay
		if int32(c.lastMoveEnd-startTime) > 0 {
			startTime = c.lastMoveEnd
		}
	}
	end := startTime + m.Profile.Duration()
	if c.shaper != nil && m.UseShaping {
		end += c.shaper.ExtraDuration()
	}
	c.lastMoveEnd = end

	for _, d := range m.Drives {
		if d.Drive < 0 || d.Drive >= c.numDrives || d.Steps == 0 {
			continue
		}
		c.addLinearSegments(m, d.Drive, startTime, d.Steps)
	}
	c.state = stateExecuting
	c.mu.Unlock()
}

// updateIdleState advances the idle-current state machine. When motion has
// been absent for the idle timeout the drivers drop to idle current.
func (c *Controller) updateIdleState() {
	c.mu.Lock()
	busy := c.activeDMs != nil || len(c.moveQueue) > 0
	switch c.state {
	case stateExecuting, stateCollecting:
		if !busy {
			c.state = stateTiming
			c.idleStarted = time.Now()
		}
	case stateTiming:
		if busy {
			c.state = stateExecuting
		} else if time.Since(c.idleStarted) >= c.idleTimeout {
			c.out.SetDriversIdle()
			c.state = stateIdle
			c.logger.Debug("drives idle, holding current reduced")
		}
	case stateIdle:
		if busy {
			c.state = stateExecuting
		}
	}
	c.mu.Unlock()
}

// WaitForIdle blocks until all drives have stopped or the timeout expires.
// It reports whether the drives stopped in time. Test and shutdown helper.
func (c *Controller) WaitForIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		idle := c.activeDMs == nil && len(c.moveQueue) == 0
		c.mu.Unlock()
		if idle {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
