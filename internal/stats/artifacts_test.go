package stats

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oodresample/internal/model"
	"oodresample/internal/storage"
)

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	artifacts := RunArtifacts{
		Config: RunConfig{
			RunID:       runID,
			Epochs:      3,
			Scoring:     "energy",
			Resampler:   "gmm",
			SampledSize: 100,
			Seed:        1,
		},
		AccuracyByEpoch: []float64{0.5, 0.6, 0.7},
		Diagnostics: []model.EpochDiagnostics{
			{Epoch: 1, Phase: "warmup", Selected: 100},
			{Epoch: 2, Phase: "active", Selected: 100, Scores: &model.ScoreSummary{Mean: 1.5}},
			{Epoch: 3, Phase: "active", Selected: 98, FallbackFilled: 2, DiversityRatio: 0.25},
		},
		FinalAccuracy: 0.7,
		SeenTotal:     250,
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	require.NoError(t, err)
	for _, file := range []string{"config.json", "accuracy_history.json", "epoch_diagnostics.json", "epoch_series.csv"} {
		assert.FileExists(t, filepath.Join(runDir, file))
	}
	_, err = WriteCheckpointFile(runDir, model.Checkpoint{VersionedRecord: storage.Versioned(), RunID: runID, Epoch: 3, Last: true})
	require.NoError(t, err)

	exportDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	require.NoError(t, err)
	for _, file := range []string{"config.json", "epoch_diagnostics.json", "epoch_series.csv", "last.ckpt"} {
		assert.FileExists(t, filepath.Join(exportDir, file))
	}

	diagnostics, ok, err := ReadEpochDiagnostics(baseDir, runID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, diagnostics, 3)

	_, ok, err = ReadEpochDiagnostics(baseDir, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEpochSeriesRows(t *testing.T) {
	runDir := t.TempDir()
	require.NoError(t, WriteEpochSeries(runDir, []model.EpochDiagnostics{
		{Epoch: 1, Phase: "warmup", Selected: 10, LearningRate: 0.1},
		{Epoch: 2, Phase: "active", Selected: 9, FallbackFilled: 1, Scores: &model.ScoreSummary{Mean: -2.5}},
	}))

	file, err := os.Open(filepath.Join(runDir, "epoch_series.csv"))
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, epochSeriesHeader, rows[0])
	assert.Equal(t, []string{"1", "warmup", "10", "0", "0", "", "0.1", "0", "0"}, rows[1])
	assert.Equal(t, "-2.5", rows[2][5])
	assert.Equal(t, "1", rows[2][3])
}

func TestRunIndexNewestFirstAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z"}))
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "b", CreatedAtUTC: "2026-01-02T00:00:00Z"}))
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", CreatedAtUTC: "2026-01-03T00:00:00Z", FinalAccuracy: 0.9}))

	entries, err := ListRunIndex(baseDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].RunID)
	assert.Equal(t, 0.9, entries[0].FinalAccuracy)

	empty, err := ListRunIndex(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestExportMissingRunFails(t *testing.T) {
	_, err := ExportRunArtifacts(t.TempDir(), "missing", t.TempDir())
	require.Error(t, err)
}
