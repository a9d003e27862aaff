//go:build !linux

// Copyright (C) 2026  Motion Engine Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepio

import "errors"

// SetRealtimePriority is only supported on Linux.
func SetRealtimePriority(priority int) error {
	return errors.New("stepio: real-time scheduling not supported on this platform")
}
