package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRunRequestFromJSONConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "seed": 42,
  "epochs": 12,
  "warmup_epochs": 2,
  "resampler": "gmm",
  "distribution": "maha",
  "policy": "coefficients",
  "coefficients": [1, 0.5, 2],
  "decay_component": 2,
  "decay_from": 0.5,
  "decay_to": 0.1,
  "bins": 50,
  "sampled_size": 5000,
  "size_factor": 8,
  "strict": true,
  "data": {"classes": 4, "aux_size": 1048576, "data_seed": 3}
}`), 0o644))

	req, err := loadRunRequestFromConfig(path)
	require.NoError(t, err)
	assert.Equal(t, int64(42), req.Seed)
	assert.Equal(t, 12, req.Epochs)
	assert.Equal(t, 2, req.WarmupEpochs)
	assert.Equal(t, "gmm", req.Resampler)
	assert.Equal(t, "maha", req.Distribution)
	assert.Equal(t, []float64{1, 0.5, 2}, req.Coefficients)
	assert.Equal(t, 2, req.DecayComponent)
	assert.Equal(t, 0.5, req.DecayFrom)
	assert.Equal(t, 0.1, req.DecayTo)
	assert.Equal(t, 50, req.Bins)
	assert.Equal(t, 5000, req.SampledSize)
	assert.Equal(t, 8.0, req.SizeFactor)
	assert.True(t, req.Strict)
	assert.Equal(t, 4, req.Data.Classes)
	assert.Equal(t, 1<<20, req.Data.AuxSize)
	assert.Equal(t, int64(3), req.Data.DataSeed)
}

func TestLoadRunRequestFromYAMLConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
seed: 7
resampler: greedy
quantile: 0.25
base_seed: 11
pool_mode: fix
learning_rate: 0.05
nesterov: false
data:
  train_csv: train.csv
  eval_csv: eval.csv
  aux_csv: aux.csv
  has_header: true
`), 0o644))

	req, err := loadRunRequestFromConfig(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), req.Seed)
	assert.Equal(t, "greedy", req.Resampler)
	assert.Equal(t, 0.25, req.Quantile)
	assert.Equal(t, int64(11), req.BaseSeed)
	assert.Equal(t, "fix", req.PoolMode)
	assert.Equal(t, 0.05, req.LearningRate)
	assert.False(t, req.Nesterov)
	assert.Equal(t, "train.csv", req.Data.TrainCSV)
	assert.True(t, req.Data.HasHeader)
}

func TestLoadRunRequestRejectsMalformedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"seed":`), 0o644))
	_, err := loadRunRequestFromConfig(path)
	assert.Error(t, err)

	_, err = loadRunRequestFromConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOverrideFromFlagsAppliesOnlySetFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"seed": 5, "epochs": 3, "resampler": "weighted"}`), 0o644))
	req, err := loadRunRequestFromConfig(path)
	require.NoError(t, err)

	err = overrideFromFlags(&req, map[string]bool{"epochs": true, "aux-size": true, "decay-to": true}, map[string]any{
		"seed":      int64(99),
		"epochs":    9,
		"resampler": "gmm",
		"aux-size":  2048,
		"decay-to":  0.25,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), req.Seed)
	assert.Equal(t, 9, req.Epochs)
	assert.Equal(t, 0.25, req.DecayTo)
	assert.Equal(t, "weighted", req.Resampler)
	assert.Equal(t, 2048, req.Data.AuxSize)

	err = overrideFromFlags(&req, map[string]bool{"bogus": true}, map[string]any{"bogus": 1})
	assert.Error(t, err)
}
