// Package util holds small helpers shared by the engine and the command line.
package util

import "time"

// SkipThrottler lets through at most one event per period and skips the rest.
// It is used to rate limit progress logs inside sweeps.
type SkipThrottler struct {
	d    time.Duration
	last time.Time
	// Skipped counts the events dropped since the last one let through.
	Skipped int
}

func NewSkipThrottler(d time.Duration) *SkipThrottler {
	tt := &SkipThrottler{d: d, last: time.Date(0, 0, 0, 0, 0, 0, 0, time.UTC)}
	return tt
}

func (tt *SkipThrottler) Ok() bool {
	now := time.Now()
	if now.Before(tt.last.Add(tt.d)) {
		tt.Skipped++
		return false
	}

	tt.last = now
	tt.Skipped = 0
	return true
}
