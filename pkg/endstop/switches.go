// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package endstop

import "sync"

type armedSwitch struct {
	hit       Hit
	triggered bool
	// probe reports the live switch level; nil switches are triggered
	// explicitly via Trigger.
	probe func() bool
}

// SwitchSet is a Source backed by software-readable switches. Switches are
// armed per homing move and disarmed once their hit has been consumed, so a
// switch that stays closed does not stop later moves.
type SwitchSet struct {
	mu       sync.Mutex
	switches []*armedSwitch
}

// NewSwitchSet returns an empty switch set.
func NewSwitchSet() *SwitchSet {
	return &SwitchSet{}
}

// Arm registers a switch that fires the given hit. probe, if non-nil, is
// polled on every CheckEndstops call; otherwise the switch fires when
// Trigger is called with its axis.
func (s *SwitchSet) Arm(hit Hit, probe func() bool) {
	s.mu.Lock()
	s.switches = append(s.switches, &armedSwitch{hit: hit, probe: probe})
	s.mu.Unlock()
}

// Trigger marks every armed switch on the axis as triggered.
func (s *SwitchSet) Trigger(axis int) {
	s.mu.Lock()
	for _, sw := range s.switches {
		if sw.hit.Axis == axis {
			sw.triggered = true
		}
	}
	s.mu.Unlock()
}

// DisarmAll drops all armed switches, consumed or not.
func (s *SwitchSet) DisarmAll() {
	s.mu.Lock()
	s.switches = nil
	s.mu.Unlock()
}

// CheckEndstops returns the next triggered switch's hit and disarms it.
func (s *SwitchSet) CheckEndstops() Hit {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sw := range s.switches {
		if !sw.triggered && sw.probe != nil && sw.probe() {
			sw.triggered = true
		}
		if sw.triggered {
			s.switches = append(s.switches[:i], s.switches[i+1:]...)
			return sw.hit
		}
	}
	return Hit{Action: ActionNone}
}
