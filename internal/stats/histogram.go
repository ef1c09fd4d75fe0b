package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// SafeHistogram is a thread-safe wrapper around hdrhistogram, recording
// latencies in microseconds.
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1us to 10min, 3 significant figures
	h := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	return &SafeHistogram{hist: h}
}

func (h *SafeHistogram) Record(d time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.RecordValue(d.Microseconds())
}

// QuantileMs returns the latency at quantile q in milliseconds.
func (h *SafeHistogram) QuantileMs(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return float64(h.hist.ValueAtQuantile(q)) / 1000.0
}

func (h *SafeHistogram) MaxMs() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return float64(h.hist.Max()) / 1000.0
}

// HistogramAccumulator is a richer drop-in for StatusAccumulator: same
// status counts and mean, plus latency percentiles of successful requests.
type HistogramAccumulator struct {
	base *StatusAccumulator
	hist *SafeHistogram
}

func NewHistogramAccumulator() *HistogramAccumulator {
	return &HistogramAccumulator{
		base: NewStatusAccumulator(),
		hist: NewSafeHistogram(),
	}
}

func (a *HistogramAccumulator) Record(o Outcome) {
	a.base.Record(o)
	if o.Success() {
		a.hist.Record(o.Latency)
	}
}

func (a *HistogramAccumulator) Summary() Summary {
	s := a.base.Summary()
	if a.base.successCount() > 0 {
		s.Percentiles = &Percentiles{
			P50: a.hist.QuantileMs(50),
			P90: a.hist.QuantileMs(90),
			P99: a.hist.QuantileMs(99),
			Max: a.hist.MaxMs(),
		}
	}
	return s
}
