// SPDX-License-Identifier: MIT

// Package clock centralises time access so components share one injectable
// time source. Production code uses the real clock; tests use
// clockwork.NewFakeClock and advance it deterministically.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source consumed by all timing-sensitive components.
type Clock = clockwork.Clock

// Real returns the wall clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// Millis converts a time to unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// NowMillis returns the clock's current time in unix milliseconds.
func NowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}
