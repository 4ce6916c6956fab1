package resample

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oodresample/internal/model"
	"oodresample/internal/pool"
)

func higher(values []float64) model.ScoreVector {
	return model.ScoreVector{Variant: "test", Orientation: model.HigherIsMoreAnomalous, Values: values}
}

func sequentialCandidates(k int) model.CandidateSet {
	out := make(model.CandidateSet, k)
	for i := range out {
		out[i] = 3*i + 7
	}
	return out
}

func TestQuantileSliceLargePoolScenario(t *testing.T) {
	const (
		k = 1 << 20
		m = 100000
	)
	rng := rand.New(rand.NewSource(42))
	rank := rng.Perm(k)
	values := make([]float64, k)
	byRank := make([]int, k)
	for pos, r := range rank {
		values[pos] = float64(r)
		byRank[r] = pos
	}
	candidates := sequentialCandidates(k)

	slice, err := NewQuantileSlice(0.125, true)
	require.NoError(t, err)
	require.Equal(t, 131072, slice.Offset(k))

	res, err := slice.Resample(nil, candidates, higher(values), m)
	require.NoError(t, err)
	require.Equal(t, m, res.Len())
	assert.False(t, res.Shrunk)
	for i, idx := range res.Indices {
		want := candidates[byRank[131072+i]]
		if idx != want {
			t.Fatalf("selection[%d] = %d, want %d", i, idx, want)
		}
	}
}

func TestQuantileSliceContiguousBandNoDuplicates(t *testing.T) {
	values := []float64{0.9, 0.1, 0.5, 0.3, 0.7, 0.2, 0.8, 0.4, 0.6, 0.0}
	candidates := sequentialCandidates(len(values))
	slice, err := NewQuantileSlice(0.2, false)
	require.NoError(t, err)

	res, err := slice.Resample(nil, candidates, higher(values), 4)
	require.NoError(t, err)
	// Ranks 2..5 are scores 0.2, 0.3, 0.4, 0.5 at positions 5, 3, 7, 2.
	assert.Equal(t, []int{candidates[5], candidates[3], candidates[7], candidates[2]}, res.Indices)
	assert.Equal(t, 4, res.Requested)
}

func TestQuantileSliceUsesAnomalyOrientation(t *testing.T) {
	// Lower is more anomalous: the least anomalous sample has the highest value.
	scores := model.ScoreVector{Orientation: model.LowerIsMoreAnomalous, Values: []float64{0.9, 0.1, 0.5, 0.3}}
	slice, err := NewQuantileSlice(0.25, true)
	require.NoError(t, err)

	res, err := slice.Resample(nil, model.CandidateSet{10, 11, 12, 13}, scores, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 13}, res.Indices)
}

func TestQuantileSliceOverflowPolicy(t *testing.T) {
	values := make([]float64, 10)
	for i := range values {
		values[i] = float64(i)
	}
	candidates := sequentialCandidates(10)

	lenient, err := NewQuantileSlice(0.5, false)
	require.NoError(t, err)
	res, err := lenient.Resample(nil, candidates, higher(values), 8)
	require.NoError(t, err)
	assert.True(t, res.Shrunk)
	assert.Equal(t, 5, res.Len())
	assert.Equal(t, 8, res.Requested)
	assert.Equal(t, []int(candidates[5:]), res.Indices)

	strict, err := NewQuantileSlice(0.5, true)
	require.NoError(t, err)
	_, err = strict.Resample(nil, candidates, higher(values), 8)
	assert.ErrorIs(t, err, ErrSliceOverflow)
}

func TestQuantileSliceValidation(t *testing.T) {
	_, err := NewQuantileSlice(1, false)
	assert.Error(t, err)
	_, err = NewQuantileSlice(-0.1, false)
	assert.Error(t, err)

	slice, err := NewQuantileSlice(0, false)
	require.NoError(t, err)
	_, err = slice.Resample(nil, sequentialCandidates(3), higher([]float64{1, 2, 3}), 4)
	assert.ErrorIs(t, err, ErrPoolTooSmall)
	_, err = slice.Resample(nil, sequentialCandidates(3), higher([]float64{1, 2}), 1)
	assert.ErrorIs(t, err, ErrMisaligned)
}

func TestDeriveSeedIsPureChain(t *testing.T) {
	chain := SeedChain(42, 20)
	require.Len(t, chain, 21)
	assert.Equal(t, int64(42), DeriveSeed(42, 0))
	for e := 1; e <= 20; e++ {
		seed := DeriveSeed(42, e)
		assert.Equal(t, chain[e], seed)
		assert.GreaterOrEqual(t, seed, int64(1000*(e-1)))
		assert.LessOrEqual(t, seed, int64(1000*e))
	}
	// Call order does not matter.
	assert.Equal(t, DeriveSeed(42, 7), DeriveSeed(42, 7))
	assert.NotEqual(t, SeedChain(42, 5), SeedChain(43, 5))
}

func TestGreedyQuantileReproducibleAcrossRuns(t *testing.T) {
	run := func() [][]int {
		greedy, err := NewGreedyQuantile(0.1, 42, false)
		require.NoError(t, err)
		candidatePool, err := pool.New(5000, 500, pool.ModeVariable)
		require.NoError(t, err)
		var selections [][]int
		for epoch := 1; epoch <= 4; epoch++ {
			rng := rand.New(rand.NewSource(greedy.EpochSeed(epoch)))
			candidates := candidatePool.Draw(rng)
			values := make([]float64, len(candidates))
			for i := range values {
				values[i] = rng.Float64()
			}
			res, err := greedy.Resample(rng, candidates, higher(values), 100)
			require.NoError(t, err)
			selections = append(selections, append([]int(candidates), res.Indices...))
		}
		return selections
	}
	first := run()
	second := run()
	assert.Equal(t, first, second)
	assert.NotEqual(t, first[0], first[1])
}

func TestUniformWarmupDrawsFromFullRange(t *testing.T) {
	u := &Uniform{Total: 1 << 20}
	res, err := u.Resample(rand.New(rand.NewSource(1)), nil, model.ScoreVector{}, 1000)
	require.NoError(t, err)
	require.Equal(t, 1000, res.Len())
	seen := make(map[int]bool)
	for _, idx := range res.Indices {
		require.False(t, seen[idx])
		seen[idx] = true
		require.Less(t, idx, 1<<20)
	}
	assert.True(t, u.IgnoresScores())

	fromCandidates := &Uniform{}
	res, err = fromCandidates.Resample(rand.New(rand.NewSource(1)), model.CandidateSet{5, 6, 7}, model.ScoreVector{}, 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{5, 6, 7}, res.Indices)

	_, err = fromCandidates.Resample(rand.New(rand.NewSource(1)), model.CandidateSet{5}, model.ScoreVector{}, 2)
	assert.ErrorIs(t, err, ErrPoolTooSmall)
}

func TestParseResampler(t *testing.T) {
	for _, name := range Names() {
		r, err := ParseResampler(Config{Name: name, Quantile: 0.1, Total: 10})
		require.NoError(t, err, name)
		assert.Equal(t, name, r.Name())
	}
	_, err := ParseResampler(Config{Name: "reservoir"})
	assert.ErrorIs(t, err, ErrUnknownResampler)

	_, err = ParseResampler(Config{Name: "gmm", Policy: PolicyConfig{Name: "sharpen"}})
	assert.ErrorIs(t, err, ErrUnknownPolicy)

	greedy, err := ParseResampler(Config{Name: "greedy", Quantile: 0.1, BaseSeed: 9})
	require.NoError(t, err)
	_, ok := greedy.(EpochSeeder)
	assert.True(t, ok)
}
