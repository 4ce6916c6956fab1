package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oodresample/internal/stats"
)

var smallRunArgs = []string{
	"run",
	"--store", "memory",
	"--log-level", "error",
	"--epochs", "2",
	"--warmup-epochs", "1",
	"--resampler", "weighted",
	"--scoring", "max_prob",
	"--sampled-size", "80",
	"--candidate-size", "240",
	"--batch-size", "32",
	"--classes", "3",
	"--dim", "4",
	"--per-class", "40",
	"--eval-per-class", "10",
	"--aux-size", "1000",
	"--workers", "2",
}

func TestRunCommandsEndToEnd(t *testing.T) {
	t.Chdir(t.TempDir())
	ctx := context.Background()

	require.NoError(t, run(ctx, []string{"init", "--store", "memory"}))
	require.NoError(t, run(ctx, smallRunArgs))

	entries, err := stats.ListRunIndex(runsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "weighted", entries[0].Resampler)
	assert.Equal(t, 240, entries[0].CandidateSize)

	require.NoError(t, run(ctx, []string{"runs", "--store", "memory", "--json"}))
	require.NoError(t, run(ctx, []string{"diagnostics", "--store", "memory", "--latest"}))
	require.NoError(t, run(ctx, []string{"checkpoint", "--store", "memory", "--latest", "--json"}))
	require.NoError(t, run(ctx, []string{"export", "--latest", "--out", "out"}))
	assert.FileExists(t, filepath.Join("out", entries[0].RunID, "last.ckpt"))
	require.NoError(t, run(ctx, []string{"reset", "--store", "memory"}))
}

func TestRunCommandWithConfigAndOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	config := `
epochs: 5
resampler: quantile
scoring: max_prob
sampled_size: 80
candidate_size: 320
batch_size: 32
data:
  classes: 3
  dim: 4
  per_class: 40
  eval_per_class: 10
  aux_size: 1000
`
	require.NoError(t, os.WriteFile("run.yaml", []byte(config), 0o644))
	require.NoError(t, run(context.Background(), []string{
		"run", "--store", "memory", "--log-level", "error",
		"--config", "run.yaml",
		"--epochs", "1",
		"--metrics-out", "metrics.prom",
	}))

	entries, err := stats.ListRunIndex(runsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Epochs)
	assert.Equal(t, "quantile", entries[0].Resampler)
	assert.Equal(t, 320, entries[0].CandidateSize)

	metrics, err := os.ReadFile("metrics.prom")
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "oodresample_epochs_total")
}

func TestRunCommandCarriesCoefficientDecay(t *testing.T) {
	t.Chdir(t.TempDir())
	config := `
epochs: 2
warmup_epochs: 1
resampler: gmm
scoring: energy
policy: coefficients
coefficients: [1, 1, 1]
decay_component: 2
decay_from: 1.0
decay_to: 0.2
bins: 20
sampled_size: 80
candidate_size: 320
batch_size: 32
data:
  classes: 3
  dim: 4
  per_class: 40
  eval_per_class: 10
  aux_size: 1000
`
	require.NoError(t, os.WriteFile("run.yaml", []byte(config), 0o644))
	require.NoError(t, run(context.Background(), []string{
		"run", "--store", "memory", "--log-level", "error",
		"--config", "run.yaml",
		"--seed", "5",
	}))

	entries, err := stats.ListRunIndex(runsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(runsDir, entries[0].RunID, "config.json"))
	require.NoError(t, err)
	var cfg stats.RunConfig
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, "coefficients", cfg.Policy)
	assert.Equal(t, 2, cfg.DecayComponent)
	assert.Equal(t, 1.0, cfg.DecayFrom)
	assert.Equal(t, 0.2, cfg.DecayTo)
	assert.Equal(t, int64(5), cfg.BaseSeed)

	err = run(context.Background(), []string{
		"run", "--store", "memory", "--log-level", "error",
		"--config", "run.yaml",
		"--decay-component", "4",
	})
	assert.Error(t, err)
}

func TestRunRejectsBadInvocations(t *testing.T) {
	t.Chdir(t.TempDir())
	ctx := context.Background()

	err := run(ctx, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "usage: oodresamplectl"))

	err = run(ctx, []string{"train"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")

	assert.Error(t, run(ctx, []string{"diagnostics", "--store", "memory"}))
	assert.Error(t, run(ctx, []string{"export", "--run-id", "a", "--latest"}))
	assert.Error(t, run(ctx, []string{"checkpoint", "--store", "memory"}))
	assert.Error(t, run(ctx, []string{"run", "--store", "memory", "--resampler", "topk"}))
	assert.Error(t, run(ctx, []string{"run", "--store", "memory", "--log-level", "loud"}))
	assert.Error(t, run(ctx, []string{"init", "--store", "postgres"}))
}
