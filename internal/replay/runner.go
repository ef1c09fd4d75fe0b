package replay

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"replayq/internal/pacing"
	"replayq/internal/report"
	"replayq/internal/source"
	"replayq/internal/stats"

	"github.com/google/uuid"
)

// State of the scheduling loop.
type State int32

const (
	StateWarmup State = iota
	StateRunning
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWarmup:
		return "warmup"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Snapshot is pushed periodically over the updates channel for live
// consumers (CLI progress line, TUI dashboard).
type Snapshot struct {
	State         State
	Sent          int64
	Outstanding   int64
	Cancelled     int64
	SecondsBehind float64
	Elapsed       time.Duration
	Budget        time.Duration
	Loops         int64
	Summary       stats.Summary
}

type SnapshotChan chan Snapshot

// Runner owns the replay scheduling loop: it pulls timed requests from the
// source, paces them against the clock, fires each off without waiting for
// the response, and drains outstanding work when the budget expires.
//
// Counters are atomics: the loop increments sent/outstanding on dispatch,
// completion handlers decrement outstanding concurrently. The accumulator
// guards its own state.
type Runner struct {
	cfg    Config
	src    source.Source
	acc    stats.Accumulator
	clock  *pacing.Clock
	client *http.Client
	log    *slog.Logger

	state       atomic.Int32
	sent        atomic.Int64
	outstanding atomic.Int64
	cancelled   atomic.Int64
	behindNs    atomic.Int64
	loops       atomic.Int64

	start   time.Time
	elapsed atomic.Int64 // ns, settles when the scheduling loop exits

	mu      sync.Mutex
	results []report.Row

	inflight sync.WaitGroup
	updates  SnapshotChan
}

func NewRunner(cfg Config, src source.Source, acc stats.Accumulator, updates SnapshotChan) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock, err := pacing.NewClock(cfg.Speed)
	if err != nil {
		return nil, err
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxConnsPerHost = 2000
	t.MaxIdleConnsPerHost = 2000
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	if acc == nil {
		acc = stats.NewStatusAccumulator()
	}
	if updates == nil {
		// Avoid nil panics if no consumer is attached
		updates = make(SnapshotChan, 10)
	}

	return &Runner{
		cfg:   cfg,
		src:   src,
		acc:   acc,
		clock: clock,
		client: &http.Client{
			Timeout:   cfg.timeout(),
			Transport: t,
		},
		log:     slog.Default().With("component", "replay"),
		updates: updates,
	}, nil
}

func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) Accumulator() stats.Accumulator { return r.acc }

// Results returns the per-request rows collected so far. Empty unless
// Config.RecordResults is set.
func (r *Runner) Results() []report.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]report.Row, len(r.results))
	copy(out, r.results)
	return out
}

// Run executes the replay until the budget expires or ctx is cancelled,
// then drains and returns the final report. Per-request failures never
// abort the run; only configuration and source errors do.
func (r *Runner) Run(ctx context.Context) (report.Report, error) {
	runID := uuid.New().String()
	budget := r.cfg.runDuration()

	r.start = time.Now()
	deadline := r.start.Add(budget)

	// Dispatches get their own cancellation root so draining can cut them
	// off after the grace period; it inherits ctx so an external cancel
	// reaches in-flight requests too.
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()

	tickDone := make(chan struct{})
	go r.tickLoop(budget, tickDone)
	defer close(tickDone)

	r.log.Info("replay starting",
		"run_id", runID,
		"target", r.cfg.BaseURL(),
		"speed", r.cfg.Speed,
		"run_time_min", r.cfg.RunTime)

	var (
		sawRecord       bool
		recordsThisPass int
		lastTS          time.Time
	)

loop:
	for {
		now := time.Now()
		if !now.Before(deadline) || ctx.Err() != nil {
			break
		}

		req, err := r.src.Next()
		if errors.Is(err, source.ErrEnd) {
			if !sawRecord || recordsThisPass == 0 {
				return report.Report{}, source.ErrNoRecords
			}
			recordsThisPass = 0
			r.clock.Wrap(lastTS)
			r.loops.Store(int64(r.clock.Loops()))
			if err := r.src.Restart(); err != nil {
				return report.Report{}, fmt.Errorf("restart source: %w", err)
			}
			continue
		}
		if err != nil {
			return report.Report{}, fmt.Errorf("read source: %w", err)
		}

		if !sawRecord {
			r.clock.Start(req.Timestamp, now)
			r.state.Store(int32(StateRunning))
			sawRecord = true
		}
		lastTS = req.Timestamp
		recordsThisPass++

		// Suspend only the scheduling loop; earlier dispatches keep
		// progressing. Never sleep past the budget.
		sleep := r.clock.SleepFor(req.Timestamp, now)
		if remaining := deadline.Sub(now); sleep > remaining {
			sleep = remaining
		}
		if sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				break loop
			}
			// The sleep may have been cut short at the deadline; a request
			// not yet due when the budget expires is never dispatched.
			if !time.Now().Before(deadline) {
				break loop
			}
		}

		r.behindNs.Store(int64(r.clock.BehindBy(req.Timestamp, time.Now())))
		r.dispatch(dispatchCtx, req)
	}

	// Elapsed settles here, before draining: the rate and lag percentages
	// describe the replay window, not the grace spent waiting on stragglers.
	r.elapsed.Store(int64(time.Since(r.start)))

	r.drain(cancelDispatch)
	r.state.Store(int32(StateDone))
	r.pushSnapshot(budget)

	rep := r.buildReport()
	r.log.Info("replay finished",
		"run_id", runID,
		"sent", rep.RunInformation.NumSentRequests,
		"cancelled", rep.RunInformation.NumCancelledRequests,
		"seconds_behind", rep.RunInformation.SecondsBehind)
	return rep, nil
}

// dispatch fires one request and returns immediately. The completion
// handler records exactly one outcome, whatever happens to the request.
func (r *Runner) dispatch(ctx context.Context, req source.TimedRequest) {
	r.sent.Add(1)
	r.outstanding.Add(1)
	r.inflight.Add(1)

	go func() {
		defer r.inflight.Done()

		sentAt := time.Now()
		o := r.execute(ctx, req)
		if o.Cancelled() {
			r.cancelled.Add(1)
		}
		r.acc.Record(o)
		r.outstanding.Add(-1)

		if r.cfg.RecordResults {
			row := report.Row{
				Timestamp: sentAt,
				Method:    req.Method,
				Path:      req.Path,
				Status:    o.Key(),
				LatencyMs: float64(o.Latency.Microseconds()) / 1000.0,
				Success:   o.Success(),
			}
			r.mu.Lock()
			r.results = append(r.results, row)
			r.mu.Unlock()
		}
	}()
}

func (r *Runner) execute(ctx context.Context, treq source.TimedRequest) stats.Outcome {
	var body io.Reader
	if len(treq.Body) > 0 {
		body = bytes.NewReader(treq.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, treq.Method, r.cfg.BaseURL()+treq.Path, body)
	if err != nil {
		return stats.Outcome{Kind: stats.KindConnError}
	}
	if len(treq.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return stats.Outcome{Kind: classify(ctx, err), Latency: time.Since(start)}
	}

	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	return stats.Outcome{
		Kind:    stats.KindHTTP,
		Status:  resp.StatusCode,
		Latency: time.Since(start),
		Body:    respBody,
	}
}

// classify maps a transport error to an outcome kind. Cancellation wins:
// a request cut off at drain is "cancelled", not a failure.
func classify(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return stats.KindCancelled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return stats.KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return stats.KindTimeout
	}
	return stats.KindConnError
}

// drain stops issuing work and waits out in-flight dispatches, cancelling
// whatever is still pending once the grace period passes. Every cancelled
// dispatch still produces its outcome, so outstanding converges to zero.
func (r *Runner) drain(cancelDispatch context.CancelFunc) {
	r.state.Store(int32(StateDraining))

	pending := r.outstanding.Load()
	if pending > 0 {
		r.log.Info("draining", "outstanding", pending, "grace", r.cfg.drainGrace())
	}

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.cfg.drainGrace()):
		r.log.Warn("grace period elapsed, cancelling outstanding requests",
			"outstanding", r.outstanding.Load())
		cancelDispatch()
		<-done
	}
}

func (r *Runner) buildReport() report.Report {
	elapsed := time.Duration(r.elapsed.Load())
	secs := elapsed.Seconds()
	behind := time.Duration(r.behindNs.Load()).Seconds()

	info := report.RunInformation{
		RunTimeMinutes:         elapsed.Minutes(),
		NumSentRequests:        r.sent.Load(),
		NumOutstandingRequests: r.outstanding.Load(),
		NumCancelledRequests:   r.cancelled.Load(),
		SecondsBehind:          behind,
		SourceLoops:            r.loops.Load(),
	}
	if secs > 0 {
		info.AverageRequestsPerSecond = float64(r.sent.Load()) / secs
		info.PercentageBehind = behind / secs
	}

	return report.Report{
		RunInformation:         info,
		AccumulatorInformation: r.acc.Summary(),
	}
}

// tickLoop pushes snapshots until the run finishes. Sends never block; a
// slow consumer just misses ticks.
func (r *Runner) tickLoop(budget time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.pushSnapshot(budget)
		}
	}
}

func (r *Runner) pushSnapshot(budget time.Duration) {
	elapsed := time.Duration(r.elapsed.Load())
	if elapsed == 0 && !r.start.IsZero() {
		elapsed = time.Since(r.start)
	}

	s := Snapshot{
		State:         r.State(),
		Sent:          r.sent.Load(),
		Outstanding:   r.outstanding.Load(),
		Cancelled:     r.cancelled.Load(),
		SecondsBehind: time.Duration(r.behindNs.Load()).Seconds(),
		Elapsed:       elapsed,
		Budget:        budget,
		Loops:         r.loops.Load(),
		Summary:       r.acc.Summary(),
	}

	select {
	case r.updates <- s:
	default:
	}
}
