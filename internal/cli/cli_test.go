package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replayq/internal/replay"
	"replayq/internal/report"
	"replayq/internal/storage"
)

func TestPersistWritesReportsAndHistory(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "run")
	histPath := filepath.Join(dir, "history.db")

	cfg := replay.Config{TargetHost: "localhost", TargetPort: 9200, Speed: 1, RunTime: 1}
	rep := report.Report{RunInformation: report.RunInformation{NumSentRequests: 3}}
	rows := []report.Row{{Path: "/items/_search", Status: "200", Success: true}}

	require.NoError(t, Persist(cfg, rep, rows, prefix, histPath))

	_, err := os.Stat(prefix + ".json")
	require.NoError(t, err)
	_, err = os.Stat(prefix + ".csv")
	require.NoError(t, err)

	store, err := storage.NewStore(histPath)
	require.NoError(t, err)
	defer store.Close()

	items, err := store.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.EqualValues(t, 3, items[0].Report.RunInformation.NumSentRequests)
}

func TestPersistNoopWithoutTargets(t *testing.T) {
	require.NoError(t, Persist(replay.Config{}, report.Report{}, nil, "", ""))
}
