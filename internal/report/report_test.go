package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replayq/internal/stats"
)

func sampleReport() Report {
	return Report{
		RunInformation: RunInformation{
			RunTimeMinutes:           0.01,
			NumSentRequests:          3,
			AverageRequestsPerSecond: 5.0,
			SecondsBehind:            0.2,
			PercentageBehind:         0.33,
			SourceLoops:              1,
		},
		AccumulatorInformation: stats.Summary{
			CompletionStatusCounts:          map[string]int64{"200": 3, "503": 1},
			AverageTimePerSuccessfulRequest: 4.0,
		},
	}
}

func TestReportJSONShape(t *testing.T) {
	data, err := sampleReport().JSON()
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	run, ok := decoded["run_information"]
	require.True(t, ok, "run_information group")
	assert.EqualValues(t, 3, run["num_sent_requests"])
	assert.Contains(t, run, "run_time_minutes")
	assert.Contains(t, run, "average_requests_per_second")
	assert.Contains(t, run, "num_outstanding_requests")
	assert.Contains(t, run, "seconds_behind")
	assert.Contains(t, run, "percentage_behind")

	acc, ok := decoded["accumulator_information"]
	require.True(t, ok, "accumulator_information group")
	assert.Contains(t, acc, "completion_status_counts")
	assert.EqualValues(t, 4.0, acc["average_time_per_successful_request"])
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteJSON(sampleReport(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rt Report
	require.NoError(t, json.Unmarshal(data, &rt))
	assert.Equal(t, sampleReport(), rt)
}

func TestWriteCSV(t *testing.T) {
	rows := []Row{
		{Timestamp: time.UnixMilli(1000), Method: "POST", Path: "/a/_search", Status: "200", LatencyMs: 12.5, Success: true},
		{Timestamp: time.UnixMilli(2000), Method: "POST", Path: "/b/_search", Status: "timeout", LatencyMs: 5000, Success: false},
	}

	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, WriteCSV(rows, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"timeStamp", "method", "path", "status", "latencyMs", "success"}, records[0])
	assert.Equal(t, "1000", records[1][0])
	assert.Equal(t, "200", records[1][3])
	assert.Equal(t, "timeout", records[2][3])
	assert.Equal(t, "false", records[2][5])
}
