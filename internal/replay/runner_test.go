package replay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replayq/internal/source"
	"replayq/internal/stats"
)

var recBase = time.Date(2018, 3, 21, 14, 21, 3, 0, time.UTC)

// slowSource delays every pull, simulating a scheduler that cannot keep up
// with the recorded pace.
type slowSource struct {
	inner *source.MemorySource
	delay time.Duration
}

func (s *slowSource) Next() (source.TimedRequest, error) {
	time.Sleep(s.delay)
	return s.inner.Next()
}

func (s *slowSource) Restart() error { return s.inner.Restart() }

func timedRequests(offsets ...time.Duration) []source.TimedRequest {
	reqs := make([]source.TimedRequest, 0, len(offsets))
	for _, off := range offsets {
		reqs = append(reqs, source.TimedRequest{
			Timestamp: recBase.Add(off),
			Method:    "POST",
			Path:      "/items/_search",
			Body:      []byte(`{"query":{"match_all":{}}}`),
		})
	}
	return reqs
}

func targetConfig(t *testing.T, srv *httptest.Server) Config {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return Config{
		TargetHost: u.Hostname(),
		TargetPort: port,
		Speed:      1,
		RunTime:    0.01, // 600ms
		TimeoutSec: 5,
		DrainGrace: 2 * time.Second,
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{TargetHost: "localhost", Speed: 1, RunTime: 1}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero speed", func(c *Config) { c.Speed = 0 }},
		{"negative speed", func(c *Config) { c.Speed = -2 }},
		{"zero run time", func(c *Config) { c.RunTime = 0 }},
		{"negative run time", func(c *Config) { c.RunTime = -1 }},
		{"no host", func(c *Config) { c.TargetHost = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := NewRunner(cfg, source.NewMemorySource(nil), nil, nil)
			assert.Error(t, err)
		})
	}
}

func TestRunReplaysOnSchedule(t *testing.T) {
	var mu sync.Mutex
	var arrivals []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// The trailing 10s record pins the scheduling loop asleep past the
	// 600ms budget, so exactly the first three dispatch.
	src := source.NewMemorySource(timedRequests(0, 100*time.Millisecond, 500*time.Millisecond, 10*time.Second))
	acc := stats.NewStatusAccumulator()

	r, err := NewRunner(targetConfig(t, srv), src, acc, nil)
	require.NoError(t, err)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, r.State())
	assert.EqualValues(t, 3, rep.RunInformation.NumSentRequests)
	assert.Zero(t, rep.RunInformation.NumOutstandingRequests)
	assert.Zero(t, rep.RunInformation.NumCancelledRequests)
	assert.EqualValues(t, 3, rep.AccumulatorInformation.CompletionStatusCounts["200"])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, arrivals, 3)

	// Wall-clock gaps between dispatches track the recorded gaps
	// (100ms, then 400ms), allowing scheduling jitter.
	const jitter = 90 * time.Millisecond
	gap1 := arrivals[1].Sub(arrivals[0])
	gap2 := arrivals[2].Sub(arrivals[1])
	assert.InDelta(t, (100 * time.Millisecond).Seconds(), gap1.Seconds(), jitter.Seconds())
	assert.InDelta(t, (400 * time.Millisecond).Seconds(), gap2.Seconds(), jitter.Seconds())
}

func TestRunOutcomeConservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := source.NewMemorySource(timedRequests(0, 10*time.Millisecond, 20*time.Millisecond))
	acc := stats.NewStatusAccumulator()

	r, err := NewRunner(targetConfig(t, srv), src, acc, nil)
	require.NoError(t, err)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	var counted int64
	for _, n := range rep.AccumulatorInformation.CompletionStatusCounts {
		counted += n
	}
	// Every dispatched request produced exactly one outcome.
	assert.Equal(t, rep.RunInformation.NumSentRequests, counted)
	assert.Zero(t, rep.RunInformation.NumOutstandingRequests)
}

func TestRunLoopsSourceAcrossWraps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// 100ms of recorded time against a 600ms budget: the source must wrap
	// several times and pacing must not jump at the boundary.
	src := source.NewMemorySource(timedRequests(0, 50*time.Millisecond, 100*time.Millisecond))
	r, err := NewRunner(targetConfig(t, srv), src, nil, nil)
	require.NoError(t, err)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, rep.RunInformation.SourceLoops, int64(2))
	assert.Greater(t, rep.RunInformation.NumSentRequests, int64(3))
	assert.GreaterOrEqual(t, rep.RunInformation.SecondsBehind, 0.0)
	// Keeping pace: the last dispatch should not be far behind schedule.
	assert.Less(t, rep.RunInformation.SecondsBehind, 0.3)
}

func TestRunFallsBehindUnderOverload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// A source that takes ~20ms to produce records that are 1ms apart can
	// never keep the schedule: lag must be positive and keep growing.
	var offsets []time.Duration
	for i := 0; i < 40; i++ {
		offsets = append(offsets, time.Duration(i)*time.Millisecond)
	}
	src := &slowSource{
		inner: source.NewMemorySource(timedRequests(offsets...)),
		delay: 20 * time.Millisecond,
	}

	updates := make(SnapshotChan, 100)
	r, err := NewRunner(targetConfig(t, srv), src, nil, updates)
	require.NoError(t, err)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Greater(t, rep.RunInformation.NumSentRequests, int64(5))
	assert.Greater(t, rep.RunInformation.SecondsBehind, 0.05)
	assert.Greater(t, rep.RunInformation.PercentageBehind, 0.0)

	// Lag reported over the run never shrinks while overloaded.
	var prev float64
	for {
		select {
		case s := <-updates:
			if s.Sent > 0 {
				assert.GreaterOrEqual(t, s.SecondsBehind, prev)
				prev = s.SecondsBehind
			}
			continue
		default:
		}
		break
	}
}

func TestRunCancelsOutstandingAtDrain(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := targetConfig(t, srv)
	cfg.DrainGrace = 100 * time.Millisecond

	src := source.NewMemorySource(timedRequests(0, 10*time.Millisecond, 20*time.Millisecond, 10*time.Second))
	acc := stats.NewStatusAccumulator()

	r, err := NewRunner(cfg, src, acc, nil)
	require.NoError(t, err)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	// The server never answers, so every dispatch ends as a cancellation
	// with exactly one outcome each.
	assert.Equal(t, StateDone, r.State())
	assert.EqualValues(t, 3, rep.RunInformation.NumSentRequests)
	assert.EqualValues(t, 3, rep.RunInformation.NumCancelledRequests)
	assert.Zero(t, rep.RunInformation.NumOutstandingRequests)
	assert.EqualValues(t, 3, rep.AccumulatorInformation.CompletionStatusCounts["cancelled"])
}

func TestRunTimeExcludesDrain(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := targetConfig(t, srv)
	cfg.DrainGrace = time.Second

	src := source.NewMemorySource(timedRequests(0, 10*time.Millisecond, 20*time.Millisecond, 10*time.Second))
	r, err := NewRunner(cfg, src, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	// The hanging target forces the full grace wait before cancellation.
	require.Greater(t, time.Since(start), cfg.DrainGrace)

	// run_time covers the replay window only; the grace spent draining
	// must not dilute the rate math. 3 requests over the 600ms budget.
	runSecs := rep.RunInformation.RunTimeMinutes * 60
	assert.InDelta(t, 0.6, runSecs, 0.15)
	assert.InDelta(t, 5.0, rep.RunInformation.AverageRequestsPerSecond, 2.0)
}

func TestRunMapsFailureKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := source.NewMemorySource(timedRequests(0, 10*time.Millisecond))
	r, err := NewRunner(targetConfig(t, srv), src, nil, nil)
	require.NoError(t, err)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	// HTTP errors are counted under their status code, never dropped.
	assert.Equal(t, rep.RunInformation.NumSentRequests,
		rep.AccumulatorInformation.CompletionStatusCounts["503"])
	assert.Greater(t, rep.RunInformation.NumSentRequests, int64(0))
}

func TestRunConnectionRefused(t *testing.T) {
	// Reserve a port, then close it so dials fail fast.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	cfg := targetConfig(t, srv)
	srv.Close()

	src := source.NewMemorySource(timedRequests(0, 50*time.Millisecond))
	r, err := NewRunner(cfg, src, nil, nil)
	require.NoError(t, err)

	rep, err := r.Run(context.Background())
	require.NoError(t, err, "dispatch failures never abort the run")
	assert.Equal(t, rep.RunInformation.NumSentRequests,
		rep.AccumulatorInformation.CompletionStatusCounts["connection_error"])
	assert.Greater(t, rep.RunInformation.NumSentRequests, int64(0))
}

func TestRunEmptySourceIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	r, err := NewRunner(targetConfig(t, srv), source.NewMemorySource(nil), nil, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, source.ErrNoRecords)
}

func TestRunHonoursExternalCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := targetConfig(t, srv)
	cfg.RunTime = 10 // minutes; the cancel must end the run, not the budget

	src := source.NewMemorySource(timedRequests(0, time.Hour))
	r, err := NewRunner(cfg, src, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	rep, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateDone, r.State())
	assert.EqualValues(t, 1, rep.RunInformation.NumSentRequests)
}

func TestRunRecordsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := targetConfig(t, srv)
	cfg.RecordResults = true

	src := source.NewMemorySource(timedRequests(0, 10*time.Millisecond, 10*time.Second))
	r, err := NewRunner(cfg, src, nil, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	rows := r.Results()
	require.Len(t, rows, 2)
	assert.Equal(t, "/items/_search", rows[0].Path)
	assert.Equal(t, "200", rows[0].Status)
	assert.True(t, rows[0].Success)
}

func TestSnapshotsFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	updates := make(SnapshotChan, 100)
	src := source.NewMemorySource(timedRequests(0, 100*time.Millisecond, 200*time.Millisecond, 10*time.Second))

	r, err := NewRunner(targetConfig(t, srv), src, nil, updates)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	var last Snapshot
	got := false
	for {
		select {
		case s := <-updates:
			last = s
			got = true
			continue
		default:
		}
		break
	}

	require.True(t, got, "expected at least one snapshot")
	assert.Equal(t, StateDone, last.State)
	assert.EqualValues(t, 3, last.Sent)
	assert.Zero(t, last.Outstanding)
}
