package resample

import (
	"errors"
	"fmt"
	"math/rand"

	"oodresample/internal/model"
)

var (
	ErrPoolTooSmall     = errors.New("candidate pool smaller than target count")
	ErrSliceOverflow    = errors.New("quantile slice runs past the candidate pool")
	ErrMisaligned       = errors.New("scores and candidates are not co-indexed")
	ErrUnknownResampler = errors.New("unknown resampler")
	ErrUnknownPolicy    = errors.New("unknown target policy")
	ErrInvalidWeights   = errors.New("invalid sampling weights")
)

// Resampler selects m auxiliary indices from scored candidates.
type Resampler interface {
	Name() string
	Resample(rng *rand.Rand, candidates model.CandidateSet, scores model.ScoreVector, m int) (model.SelectionResult, error)
}

// EpochSeeder is implemented by resamplers that pin the per-epoch random
// state to a deterministic seed chain.
type EpochSeeder interface {
	EpochSeed(epoch int) int64
}

// ProgressAware is implemented by resamplers whose behaviour depends on how
// far training has advanced.
type ProgressAware interface {
	BeginEpoch(epoch, totalEpochs int)
}

// ScoreFree is implemented by resamplers that ignore scores, which lets the
// caller skip the scoring pass.
type ScoreFree interface {
	IgnoresScores() bool
}

func checkAligned(candidates model.CandidateSet, scores model.ScoreVector, m int) error {
	if m <= 0 {
		return fmt.Errorf("target count must be > 0, got %d", m)
	}
	if len(candidates) != scores.Len() {
		return fmt.Errorf("%w: %d candidates, %d scores", ErrMisaligned, len(candidates), scores.Len())
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no candidates", ErrPoolTooSmall)
	}
	return nil
}

func pick(candidates model.CandidateSet, positions []int) []int {
	out := make([]int, len(positions))
	for i, p := range positions {
		out[i] = candidates[p]
	}
	return out
}
