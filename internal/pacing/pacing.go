package pacing

import (
	"fmt"
	"math"
	"time"
)

// Clock maps recorded timestamps onto wall-clock dispatch deadlines.
//
// The first timestamp it sees anchors recorded time to the wall clock; from
// then on a recorded instant ts is due at
//
//	wallStart + (ts - recordStart) / speed
//
// All state is explicit so several runs can pace independently.
type Clock struct {
	speed float64

	wallStart   time.Time
	recordStart time.Time
	anchored    bool

	// One full pass of the recording, learned at the first wrap.
	span  time.Duration
	loops int
}

// NewClock returns a clock scaled by speed. Speed > 1 compresses recorded
// time, < 1 stretches it; it must be positive and finite.
func NewClock(speed float64) (*Clock, error) {
	if speed <= 0 || math.IsInf(speed, 0) || math.IsNaN(speed) {
		return nil, fmt.Errorf("pacing: speed multiplier must be positive and finite, got %v", speed)
	}
	return &Clock{speed: speed}, nil
}

// Start anchors recorded time ts to wall-clock time now. Subsequent calls
// are no-ops; Target anchors lazily if Start was never called.
func (c *Clock) Start(ts, now time.Time) {
	if c.anchored {
		return
	}
	c.recordStart = ts
	c.wallStart = now
	c.anchored = true
}

// Target returns the wall-clock moment at which ts is due for dispatch.
func (c *Clock) Target(ts, now time.Time) time.Time {
	c.Start(ts, now)
	elapsed := ts.Sub(c.recordStart)
	return c.wallStart.Add(time.Duration(float64(elapsed) / c.speed))
}

// SleepFor returns how long the scheduling loop should wait before
// dispatching ts, zero if it is already due.
func (c *Clock) SleepFor(ts, now time.Time) time.Duration {
	d := c.Target(ts, now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// BehindBy returns how far past its deadline ts is, zero if on schedule.
func (c *Clock) BehindBy(ts, now time.Time) time.Duration {
	d := now.Sub(c.Target(ts, now))
	if d < 0 {
		return 0
	}
	return d
}

// Wrap tells the clock the source restarted after emitting lastTS. The span
// of one pass is learned on the first wrap; every wrap then shifts
// recordStart back by one span, so targets keep advancing monotonically
// across loops instead of jumping back to wallStart.
func (c *Clock) Wrap(lastTS time.Time) {
	if !c.anchored {
		return
	}
	if c.loops == 0 {
		c.span = lastTS.Sub(c.recordStart)
		if c.span < 0 {
			c.span = 0
		}
	}
	c.recordStart = c.recordStart.Add(-c.span)
	c.loops++
}

// Loops reports how many times the source has wrapped.
func (c *Clock) Loops() int {
	return c.loops
}
