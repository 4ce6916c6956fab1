package resample

import (
	"fmt"
	"math"
	"math/rand"
	randv2 "math/rand/v2"

	"gonum.org/v1/gonum/stat/sampleuv"

	"oodresample/internal/model"
)

// WeightedRandom draws m candidates with probability proportional to their
// raw scores, which must be non-negative.
type WeightedRandom struct {
	Replacement bool
}

func (w *WeightedRandom) Name() string { return "weighted" }

func (w *WeightedRandom) Resample(rng *rand.Rand, candidates model.CandidateSet, scores model.ScoreVector, m int) (model.SelectionResult, error) {
	if err := checkAligned(candidates, scores, m); err != nil {
		return model.SelectionResult{}, err
	}
	weights := scores.Values
	positive := 0
	total := 0.0
	for i, v := range weights {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return model.SelectionResult{}, fmt.Errorf("%w: weight %v at position %d", ErrInvalidWeights, v, i)
		}
		if v > 0 {
			positive++
		}
		total += v
	}
	if total == 0 {
		return model.SelectionResult{}, fmt.Errorf("%w: all weights are zero", ErrInvalidWeights)
	}
	if !w.Replacement && m > positive {
		return model.SelectionResult{}, fmt.Errorf("%w: %d positive weights for %d draws without replacement", ErrPoolTooSmall, positive, m)
	}

	src := randv2.NewPCG(uint64(rng.Int63()), uint64(rng.Int63()))
	sampler := sampleuv.NewWeighted(weights, src)
	positions := make([]int, 0, m)
	for len(positions) < m {
		idx, ok := sampler.Take()
		if !ok {
			return model.SelectionResult{}, fmt.Errorf("%w: sampler exhausted after %d draws", ErrInvalidWeights, len(positions))
		}
		positions = append(positions, idx)
		if w.Replacement {
			sampler.Reweight(idx, weights[idx])
		}
	}
	return model.SelectionResult{
		Indices:   pick(candidates, positions),
		Requested: m,
	}, nil
}
