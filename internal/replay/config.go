package replay

import (
	"fmt"
	"math"
	"time"
)

type Config struct {
	TargetHost string
	TargetPort int
	UseTLS     bool

	// Speed > 1 compresses recorded time (more load), < 1 stretches it.
	Speed float64

	// RunTime is the wall-clock budget in minutes. Fractions are fine:
	// 0.01 is 600ms.
	RunTime float64

	// TimeoutSec bounds a single request so draining always converges.
	TimeoutSec int

	// DrainGrace is how long draining waits for in-flight responses before
	// cancelling them.
	DrainGrace time.Duration

	// RecordResults keeps a per-request row for CSV export. Costs memory
	// proportional to requests sent.
	RecordResults bool

	Headers map[string]string
}

const (
	defaultTimeoutSec = 30
	defaultDrainGrace = 5 * time.Second
)

func (c Config) Validate() error {
	if c.TargetHost == "" {
		return fmt.Errorf("replay: target host required")
	}
	if c.Speed <= 0 || math.IsInf(c.Speed, 0) || math.IsNaN(c.Speed) {
		return fmt.Errorf("replay: speed multiplier must be positive and finite, got %v", c.Speed)
	}
	if c.RunTime <= 0 || math.IsInf(c.RunTime, 0) || math.IsNaN(c.RunTime) {
		return fmt.Errorf("replay: run time must be positive, got %v minutes", c.RunTime)
	}
	return nil
}

func (c Config) runDuration() time.Duration {
	return time.Duration(c.RunTime * float64(time.Minute))
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return defaultTimeoutSec * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c Config) drainGrace() time.Duration {
	if c.DrainGrace <= 0 {
		return defaultDrainGrace
	}
	return c.DrainGrace
}

func (c Config) BaseURL() string {
	scheme := "http"
	if c.UseTLS {
		scheme = "https"
	}
	if c.TargetPort > 0 {
		return fmt.Sprintf("%s://%s:%d", scheme, c.TargetHost, c.TargetPort)
	}
	return fmt.Sprintf("%s://%s", scheme, c.TargetHost)
}
