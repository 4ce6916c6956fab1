package pool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertDistinctInRange(t *testing.T, values []int, n int) {
	t.Helper()
	seen := make(map[int]bool, len(values))
	for _, v := range values {
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, n)
		require.False(t, seen[v], "duplicate %d", v)
		seen[v] = true
	}
}

func TestSampleIndicesSparseAndDense(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sparse := SampleIndices(rng, 1<<20, 1000)
	require.Len(t, sparse, 1000)
	assertDistinctInRange(t, sparse, 1<<20)

	dense := SampleIndices(rng, 100, 90)
	require.Len(t, dense, 90)
	assertDistinctInRange(t, dense, 100)

	all := SampleIndices(rng, 10, 50)
	assert.Len(t, all, 10)
	assert.Nil(t, SampleIndices(rng, 10, 0))
}

func TestSampleIndicesUniformCoverage(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	counts := make([]int, 100)
	const trials = 4000
	for i := 0; i < trials; i++ {
		for _, v := range SampleIndices(rng, 100, 5) {
			counts[v]++
		}
	}
	// Expected 200 hits per index.
	for i, c := range counts {
		assert.InDelta(t, 200, c, 70, "index %d", i)
	}
}

func TestCandidatePoolModes(t *testing.T) {
	fixed, err := New(1000, 50, ModeFixed)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))
	first := fixed.Draw(rng)
	second := fixed.Draw(rng)
	assert.Equal(t, first, second)
	assertDistinctInRange(t, first, 1000)

	variable, err := New(1000, 50, ModeVariable)
	require.NoError(t, err)
	a := variable.Draw(rng)
	b := variable.Draw(rng)
	assert.NotEqual(t, a, b)
	assert.Len(t, b, 50)
}

func TestCandidatePoolValidation(t *testing.T) {
	_, err := New(10, 11, ModeVariable)
	assert.Error(t, err)
	_, err = New(0, 1, ModeVariable)
	assert.Error(t, err)
	_, err = New(10, 5, Mode("both"))
	assert.ErrorIs(t, err, ErrUnknownMode)

	mode, err := ParseMode("FIX")
	require.NoError(t, err)
	assert.Equal(t, ModeFixed, mode)
	_, err = ParseMode("sticky")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestDiversityRatio(t *testing.T) {
	seen := NewSeenIndexSet()
	assert.Equal(t, 1.0, seen.Observe([]int{1, 2, 3, 4}))
	assert.Equal(t, 4, seen.Len())

	// Disjoint pool.
	assert.Equal(t, 1.0, seen.Observe([]int{10, 11}))
	// Fully seen pool.
	assert.Equal(t, 0.0, seen.Observe([]int{1, 2, 10, 11}))
	// Half new.
	assert.Equal(t, 0.5, seen.DiversityRatio([]int{3, 99}))
	assert.Equal(t, 0.0, seen.DiversityRatio(nil))
	assert.Equal(t, 6, seen.Len())
}
