// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for code that polls
// or measures durations.
//
// Production code holds a [Clock] instead of calling time.Now or
// time.Sleep directly. Real() gives the standard library behavior.
// Fake() gives a clock whose Sleep returns immediately and moves the
// clock forward by the slept duration, so a polling loop with a
// one-second budget finishes in microseconds under test and its
// timing is observable:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	err := waitUntil(c, neverReady)
//	// c.Slept() lists every pause the loop took.
//
// The fake is single-timeline: there are no timers that fire from
// other goroutines, and nothing blocks.
package clock
