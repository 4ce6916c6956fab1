package stats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oodresample/internal/model"
	"oodresample/internal/storage"
)

func TestSummarizeScores(t *testing.T) {
	s, err := SummarizeScores([]float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, s.Mean, 1e-12)
	assert.InDelta(t, 3.0, s.Median, 1e-12)
	assert.InDelta(t, 1.0, s.Min, 1e-12)
	assert.InDelta(t, 5.0, s.Max, 1e-12)
	assert.InDelta(t, 1.41421356, s.StdDev, 1e-6)
	assert.LessOrEqual(t, s.P25, s.Median)
	assert.GreaterOrEqual(t, s.P75, s.Median)

	single, err := SummarizeScores([]float64{2.5})
	require.NoError(t, err)
	assert.Equal(t, 2.5, single.P25)

	_, err = SummarizeScores(nil)
	require.Error(t, err)
}

func TestCheckpointFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := model.Checkpoint{
		VersionedRecord: storage.Versioned(),
		RunID:           "r",
		Epoch:           5,
		Arch:            "linear",
		Params:          map[string][]float64{"weight": {1, 2}, "bias": {0}},
	}
	path, err := WriteCheckpointFile(dir, c)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "5.ckpt"), path)

	loaded, err := ReadCheckpointFile(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.ckpt"), []byte("junk"), 0o644))
	_, err = ReadCheckpointFile(filepath.Join(dir, "bad.ckpt"))
	require.Error(t, err)
}

func TestWriteHistogramChart(t *testing.T) {
	h := model.Histogram{
		Edges:    []float64{0, 1, 2, 3},
		Observed: []int{10, 40, 5},
		Target:   []int{3, 20, 8},
		Selected: []int{3, 20, 8},
	}
	path := HistogramChartPath(t.TempDir(), 2)
	require.NoError(t, WriteHistogramChart(path, 2, h))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "\x89PNG", string(data[:4]))

	require.Error(t, WriteHistogramChart(path, 2, model.Histogram{Edges: []float64{0, 1}, Observed: []int{1}}))
}
