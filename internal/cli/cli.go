package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"replayq/internal/replay"
	"replayq/internal/report"
	"replayq/internal/source"
	"replayq/internal/stats"
	"replayq/internal/storage"
)

type Options struct {
	Cfg replay.Config
	Src source.Source
	Acc stats.Accumulator

	// OutPrefix enables report export to <prefix>.json / <prefix>.csv.
	OutPrefix string

	// HistoryPath is the bbolt history file; empty disables history.
	HistoryPath string
}

type runResult struct {
	rep report.Report
	err error
}

// Start runs a replay headless: progress line on stdout, summary at the
// end, optional report export and history save.
func Start(ctx context.Context, opts Options) error {
	cfg := opts.Cfg
	cfg.RecordResults = cfg.RecordResults || opts.OutPrefix != ""

	printHeader(cfg)

	updates := make(replay.SnapshotChan, 100)
	r, err := replay.NewRunner(cfg, opts.Src, opts.Acc, updates)
	if err != nil {
		return err
	}

	done := make(chan runResult, 1)
	go func() {
		rep, err := r.Run(ctx)
		done <- runResult{rep, err}
	}()

	var res runResult
wait:
	for {
		select {
		case s := <-updates:
			printProgress(s)
		case res = <-done:
			break wait
		}
	}
	fmt.Println()

	if res.err != nil {
		return res.err
	}

	printSummary(res.rep)

	return Persist(cfg, res.rep, r.Results(), opts.OutPrefix, opts.HistoryPath)
}

// Persist writes the optional report exports and the history entry for a
// finished run. Shared by the headless and TUI paths.
func Persist(cfg replay.Config, rep report.Report, rows []report.Row, outPrefix, historyPath string) error {
	if outPrefix != "" {
		if err := report.WriteJSON(rep, outPrefix+".json"); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		if err := report.WriteCSV(rows, outPrefix+".csv"); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		fmt.Printf("Reports saved to %s.{json,csv}\n", outPrefix)
	}

	if historyPath != "" {
		if err := saveHistory(historyPath, cfg, rep); err != nil {
			// History is a convenience; a failed save never fails the run.
			slog.Warn("could not save run history", "error", err)
		}
	}

	return nil
}

func saveHistory(path string, cfg replay.Config, rep report.Report) error {
	store, err := storage.NewStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Save(storage.HistoryItem{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Config:    cfg,
		Report:    rep,
	})
}

func printHeader(cfg replay.Config) {
	fmt.Printf("\nSTARTING REPLAY\n")
	fmt.Printf("======================================================================\n")
	fmt.Printf("Target     : %s\n", cfg.BaseURL())
	fmt.Printf("Speed      : %gx\n", cfg.Speed)
	fmt.Printf("Run Time   : %g min\n", cfg.RunTime)
	fmt.Printf("Timeout    : %ds\n", cfg.TimeoutSec)
	fmt.Printf("======================================================================\n\n")
}

func printProgress(s replay.Snapshot) {
	if s.State == replay.StateDraining {
		fmt.Printf("\r%s 100%% | Draining: %d requests...                ",
			progressBar(1.0, 20), s.Outstanding)
		return
	}

	pct := 0.0
	if s.Budget > 0 {
		pct = s.Elapsed.Seconds() / s.Budget.Seconds()
	}
	if pct > 1.0 {
		pct = 1.0
	}

	rps := 0.0
	if s.Elapsed.Seconds() > 0 {
		rps = float64(s.Sent) / s.Elapsed.Seconds()
	}

	fmt.Printf("\r%s %3.0f%% | %s/%s | Sent: %d | Out: %3d | RPS: %.1f | Behind: %.2fs",
		progressBar(pct, 20), pct*100,
		s.Elapsed.Round(time.Second), s.Budget,
		s.Sent,
		s.Outstanding,
		rps,
		s.SecondsBehind,
	)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func printSummary(rep report.Report) {
	run := rep.RunInformation
	acc := rep.AccumulatorInformation

	fmt.Printf("\nREPLAY RESULTS\n")
	fmt.Printf("======================================================================\n")
	fmt.Printf("Run Time        : %.2f min\n", run.RunTimeMinutes)
	fmt.Printf("Requests Sent   : %d\n", run.NumSentRequests)
	fmt.Printf("Avg RPS         : %.2f\n", run.AverageRequestsPerSecond)
	fmt.Printf("Outstanding     : %d\n", run.NumOutstandingRequests)
	fmt.Printf("Cancelled       : %d\n", run.NumCancelledRequests)
	fmt.Printf("Seconds Behind  : %.2f\n", run.SecondsBehind)
	fmt.Printf("Percent Behind  : %.1f%%\n", run.PercentageBehind*100)
	fmt.Printf("Source Loops    : %d\n", run.SourceLoops)

	fmt.Printf("\nCOMPLETION STATUS\n")
	for status, count := range acc.CompletionStatusCounts {
		fmt.Printf("   %-18s: %d\n", status, count)
	}
	fmt.Printf("\nAvg Time / Successful Request: %.2f ms\n", acc.AverageTimePerSuccessfulRequest)

	if p := acc.Percentiles; p != nil {
		fmt.Printf("\nLATENCY (ms) [Success Only]\n")
		fmt.Printf("   P50 : %.2f\n", p.P50)
		fmt.Printf("   P90 : %.2f\n", p.P90)
		fmt.Printf("   P99 : %.2f\n", p.P99)
		fmt.Printf("   Max : %.2f\n", p.Max)
	}
	fmt.Printf("======================================================================\n")
}
