//go:build linux

// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SetRealtimePriority moves the calling thread to the SCHED_FIFO real-time
// scheduling class and locks the process address space into memory. The step
// scheduler goroutine should call runtime.LockOSThread first.
//
// Needs CAP_SYS_NICE; callers treat failure as a soft error and continue
// with normal scheduling.
func SetRealtimePriority(priority int) error {
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return fmt.Errorf("stepio: set SCHED_FIFO priority %d: %w", priority, err)
	}
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("stepio: mlockall: %w", err)
	}
	return nil
}
