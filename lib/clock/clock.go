// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by polling loops and launch
// timing.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// Sleep pauses the caller for at least d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Or returns c, or Real() if c is nil. Structs with an optional Clock
// field use it to default the field at the point of use.
func Or(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
