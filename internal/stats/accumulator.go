package stats

import (
	"sync"
	"time"
)

// Summary is the accumulator's view of a finished run. Average latency is
// in milliseconds and covers successful (2xx) outcomes only; the status
// counts cover everything.
type Summary struct {
	CompletionStatusCounts          map[string]int64 `json:"completion_status_counts"`
	AverageTimePerSuccessfulRequest float64          `json:"average_time_per_successful_request"`

	// Percentiles are only populated by accumulators that track them.
	Percentiles *Percentiles `json:"latency_percentiles_ms,omitempty"`
}

// Percentiles of successful-request latency, in milliseconds.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

// Accumulator collects completed outcomes. Record must be safe to call from
// concurrent completion handlers; completion order carries no meaning. Any
// implementation can stand in for another without touching the scheduler.
type Accumulator interface {
	Record(Outcome)
	Summary() Summary
}

// StatusAccumulator is the default accumulator: status-kind counts plus the
// mean latency of successful requests.
type StatusAccumulator struct {
	mu           sync.Mutex
	counts       map[string]int64
	successes    int64
	totalLatency time.Duration
}

func NewStatusAccumulator() *StatusAccumulator {
	return &StatusAccumulator{counts: make(map[string]int64)}
}

func (a *StatusAccumulator) Record(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counts[o.Key()]++
	if o.Success() {
		a.successes++
		a.totalLatency += o.Latency
	}
}

func (a *StatusAccumulator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[string]int64, len(a.counts))
	for k, v := range a.counts {
		counts[k] = v
	}

	avg := 0.0
	if a.successes > 0 {
		avg = float64(a.totalLatency.Microseconds()) / float64(a.successes) / 1000.0
	}

	return Summary{
		CompletionStatusCounts:          counts,
		AverageTimePerSuccessfulRequest: avg,
	}
}

func (a *StatusAccumulator) successCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.successes
}

// Recorded returns the total number of outcomes seen so far.
func (a *StatusAccumulator) Recorded() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var n int64
	for _, v := range a.counts {
		n += v
	}
	return n
}
