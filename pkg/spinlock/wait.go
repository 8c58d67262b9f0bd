// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spinlock polls a condition until it holds or a timeout passes.
package spinlock

import (
	"errors"
	"time"
)

var ErrTimedOut = errors.New("timed out waiting for condition")

const pollInterval = 10 * time.Millisecond

// Wait calls cond until it returns true or timeout elapses.
func Wait(timeout time.Duration, cond func() bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if cond() {
			return nil
		}
		select {
		case <-deadline.C:
			return ErrTimedOut
		case <-ticker.C:
		}
	}
}
