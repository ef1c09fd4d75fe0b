package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"replayq/internal/stats"
)

// RunInformation mirrors the scheduler-side half of the final report.
// run_time_minutes is actual elapsed time, not the configured budget.
type RunInformation struct {
	RunTimeMinutes           float64 `json:"run_time_minutes"`
	NumSentRequests          int64   `json:"num_sent_requests"`
	AverageRequestsPerSecond float64 `json:"average_requests_per_second"`
	NumOutstandingRequests   int64   `json:"num_outstanding_requests"`
	NumCancelledRequests     int64   `json:"num_cancelled_requests"`
	SecondsBehind            float64 `json:"seconds_behind"`
	PercentageBehind         float64 `json:"percentage_behind"`
	SourceLoops              int64   `json:"source_loops"`
}

// Report is the structured record a run produces.
type Report struct {
	RunInformation         RunInformation `json:"run_information"`
	AccumulatorInformation stats.Summary  `json:"accumulator_information"`
}

func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func WriteJSON(r Report, filename string) error {
	data, err := r.JSON()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}

// Row is one replayed request's outcome, kept only when per-request export
// is requested.
type Row struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    string    `json:"status"`
	LatencyMs float64   `json:"latency_ms"`
	Success   bool      `json:"success"`
}

// WriteCSV exports per-request rows: dispatch wall-clock time, request,
// status bucket, latency.
func WriteCSV(rows []Row, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"timeStamp", "method", "path", "status", "latencyMs", "success"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.Timestamp.UnixMilli(), 10),
			row.Method,
			row.Path,
			row.Status,
			strconv.FormatFloat(row.LatencyMs, 'f', 3, 64),
			strconv.FormatBool(row.Success),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}
