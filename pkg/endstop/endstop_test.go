// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package endstop

import "testing"

func TestActionString(t *testing.T) {
	tests := []struct {
		a    Action
		want string
	}{
		{ActionNone, "none"},
		{ActionStopAll, "stopAll"},
		{ActionStopAxis, "stopAxis"},
		{ActionStopDriver, "stopDriver"},
		{Action(9), "Action(9)"},
	}
	for _, tt := range tests {
		if got := tt.a.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.a, got, tt.want)
		}
	}
}

func TestSwitchSetEmpty(t *testing.T) {
	s := NewSwitchSet()
	if hit := s.CheckEndstops(); hit.Action != ActionNone {
		t.Errorf("empty set returned %v", hit)
	}
}

func TestSwitchSetTriggerConsumes(t *testing.T) {
	s := NewSwitchSet()
	s.Arm(Hit{Action: ActionStopAxis, Axis: 1, SetAxisPos: true}, nil)

	if hit := s.CheckEndstops(); hit.Action != ActionNone {
		t.Fatalf("untriggered switch reported %v", hit)
	}
	s.Trigger(1)
	hit := s.CheckEndstops()
	if hit.Action != ActionStopAxis || hit.Axis != 1 || !hit.SetAxisPos {
		t.Fatalf("got %+v", hit)
	}
	// Consumed: a still-closed switch must not stop later moves.
	if hit := s.CheckEndstops(); hit.Action != ActionNone {
		t.Errorf("consumed hit reported again: %v", hit)
	}
}

func TestSwitchSetTriggerWrongAxis(t *testing.T) {
	s := NewSwitchSet()
	s.Arm(Hit{Action: ActionStopAxis, Axis: 0}, nil)
	s.Trigger(2)
	if hit := s.CheckEndstops(); hit.Action != ActionNone {
		t.Errorf("axis 2 trigger fired axis 0 switch: %v", hit)
	}
}

func TestSwitchSetProbe(t *testing.T) {
	s := NewSwitchSet()
	level := false
	s.Arm(Hit{Action: ActionStopAll, Axis: 2, IsZProbe: true}, func() bool { return level })

	if hit := s.CheckEndstops(); hit.Action != ActionNone {
		t.Fatalf("open probe reported %v", hit)
	}
	level = true
	hit := s.CheckEndstops()
	if hit.Action != ActionStopAll || !hit.IsZProbe {
		t.Fatalf("got %+v", hit)
	}
	if hit := s.CheckEndstops(); hit.Action != ActionNone {
		t.Errorf("probe hit not consumed: %v", hit)
	}
}

func TestSwitchSetMultiple(t *testing.T) {
	s := NewSwitchSet()
	s.Arm(Hit{Action: ActionStopAxis, Axis: 0}, nil)
	s.Arm(Hit{Action: ActionStopDriver, Axis: 0, Driver: 5}, nil)
	s.Trigger(0)

	seen := map[Action]bool{}
	for {
		hit := s.CheckEndstops()
		if hit.Action == ActionNone {
			break
		}
		if seen[hit.Action] {
			t.Fatalf("action %v reported twice", hit.Action)
		}
		seen[hit.Action] = true
	}
	if !seen[ActionStopAxis] || !seen[ActionStopDriver] {
		t.Errorf("missing hits, saw %v", seen)
	}
}

func TestSwitchSetDisarmAll(t *testing.T) {
	s := NewSwitchSet()
	s.Arm(Hit{Action: ActionStopAll, Axis: 0}, nil)
	s.Trigger(0)
	s.DisarmAll()
	if hit := s.CheckEndstops(); hit.Action != ActionNone {
		t.Errorf("disarmed switch reported %v", hit)
	}
}
