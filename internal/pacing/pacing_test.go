package pacing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wall = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec  = time.Date(2018, 3, 21, 14, 21, 3, 0, time.UTC)
)

func TestNewClockRejectsBadSpeed(t *testing.T) {
	for _, speed := range []float64{0, -1, math.Inf(1), math.Inf(-1), math.NaN()} {
		_, err := NewClock(speed)
		assert.Error(t, err, "speed %v", speed)
	}
	_, err := NewClock(0.5)
	assert.NoError(t, err)
}

func TestTargetScalesRecordedGaps(t *testing.T) {
	tests := []struct {
		name   string
		speed  float64
		offset time.Duration
		want   time.Duration
	}{
		{"realtime", 1, 10 * time.Second, 10 * time.Second},
		{"compressed", 2, 10 * time.Second, 5 * time.Second},
		{"stretched", 0.5, 10 * time.Second, 20 * time.Second},
		{"anchor", 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClock(tt.speed)
			require.NoError(t, err)
			c.Start(rec, wall)

			got := c.Target(rec.Add(tt.offset), wall)
			assert.Equal(t, wall.Add(tt.want), got)
		})
	}
}

func TestSleepForAndBehindBy(t *testing.T) {
	c, err := NewClock(1)
	require.NoError(t, err)
	c.Start(rec, wall)

	ts := rec.Add(5 * time.Second)

	// Before the deadline: sleep, not behind.
	now := wall.Add(2 * time.Second)
	assert.Equal(t, 3*time.Second, c.SleepFor(ts, now))
	assert.Equal(t, time.Duration(0), c.BehindBy(ts, now))

	// Past the deadline: no sleep, behind.
	now = wall.Add(9 * time.Second)
	assert.Equal(t, time.Duration(0), c.SleepFor(ts, now))
	assert.Equal(t, 4*time.Second, c.BehindBy(ts, now))
}

func TestWrapKeepsTargetsMonotonic(t *testing.T) {
	c, err := NewClock(1)
	require.NoError(t, err)
	c.Start(rec, wall)

	last := rec.Add(30 * time.Second)
	endOfFirstPass := c.Target(last, wall)

	// Source restarts; the first record of the second pass must land one
	// span after where the first pass started, not back at wallStart.
	c.Wrap(last)
	assert.Equal(t, 1, c.Loops())

	secondPassFirst := c.Target(rec, wall)
	assert.Equal(t, endOfFirstPass, secondPassFirst)
	assert.False(t, secondPassFirst.Before(endOfFirstPass))

	// A second wrap shifts by the same learned span.
	c.Wrap(last)
	thirdPassFirst := c.Target(rec, wall)
	assert.Equal(t, endOfFirstPass.Add(30*time.Second), thirdPassFirst)

	// Lag never goes negative across the wrap boundary.
	assert.GreaterOrEqual(t, c.BehindBy(rec, wall), time.Duration(0))
}

func TestWrapWithZeroSpan(t *testing.T) {
	c, err := NewClock(1)
	require.NoError(t, err)
	c.Start(rec, wall)

	c.Wrap(rec) // single-record log: span is zero
	c.Wrap(rec)
	assert.Equal(t, wall, c.Target(rec, wall))
	assert.Equal(t, time.Duration(0), c.BehindBy(rec, wall))
}

func TestLazyAnchor(t *testing.T) {
	c, err := NewClock(2)
	require.NoError(t, err)

	// First Target call anchors; the first record is due immediately.
	assert.Equal(t, time.Duration(0), c.SleepFor(rec, wall))
	assert.Equal(t, 5*time.Second, c.SleepFor(rec.Add(10*time.Second), wall))
}
