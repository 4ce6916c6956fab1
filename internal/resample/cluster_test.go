package resample

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalinskiHarabaszSeparatesClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	blob := func(cx, cy, spread float64, n int) [][]float64 {
		out := make([][]float64, n)
		for i := range out {
			out[i] = []float64{cx + rng.NormFloat64()*spread, cy + rng.NormFloat64()*spread}
		}
		return out
	}
	separated := append(blob(0, 0, 0.1, 100), blob(10, 10, 0.1, 100)...)
	mixed := append(blob(0, 0, 3, 100), blob(0.5, 0.5, 3, 100)...)

	tight, err := CalinskiHarabasz(separated, 2)
	require.NoError(t, err)
	loose, err := CalinskiHarabasz(mixed, 2)
	require.NoError(t, err)
	assert.Greater(t, tight, loose)
	assert.Greater(t, tight, 1000.0)
}

func TestCalinskiHarabaszValidation(t *testing.T) {
	_, err := CalinskiHarabasz([][]float64{{1}, {2}, {3}}, 1)
	assert.Error(t, err)
	_, err = CalinskiHarabasz([][]float64{{1}, {2}}, 2)
	assert.Error(t, err)
	_, err = CalinskiHarabasz([][]float64{{1}, {2, 3}, {4}}, 2)
	assert.Error(t, err)
}

func TestChIndexMatchesHandComputation(t *testing.T) {
	features := [][]float64{{0}, {2}, {10}, {12}}
	labels := []int{0, 0, 1, 1}
	// Between: 2*(1-6)^2 + 2*(11-6)^2 = 100; within: 4*1 = 4.
	// CH = (100/(2-1)) / (4/(4-2)) = 50.
	assert.InDelta(t, 50.0, chIndex(features, labels, 2, 2), 1e-12)
}
