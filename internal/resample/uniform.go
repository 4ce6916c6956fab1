package resample

import (
	"fmt"
	"math/rand"

	"oodresample/internal/model"
	"oodresample/internal/pool"
)

// Uniform ignores scores. With Total > 0 it draws m distinct indices from
// the whole auxiliary range [0, Total), which is the warmup behaviour;
// otherwise it draws m distinct candidates.
type Uniform struct {
	Total int
}

func (u *Uniform) Name() string { return "uniform" }

func (u *Uniform) IgnoresScores() bool { return true }

func (u *Uniform) Resample(rng *rand.Rand, candidates model.CandidateSet, _ model.ScoreVector, m int) (model.SelectionResult, error) {
	if m <= 0 {
		return model.SelectionResult{}, fmt.Errorf("target count must be > 0, got %d", m)
	}
	if u.Total > 0 {
		if m > u.Total {
			return model.SelectionResult{}, fmt.Errorf("%w: range %d, m=%d", ErrPoolTooSmall, u.Total, m)
		}
		return model.SelectionResult{
			Indices:   pool.SampleIndices(rng, u.Total, m),
			Requested: m,
		}, nil
	}
	if len(candidates) < m {
		return model.SelectionResult{}, fmt.Errorf("%w: K=%d m=%d", ErrPoolTooSmall, len(candidates), m)
	}
	return model.SelectionResult{
		Indices:   pick(candidates, pool.SampleIndices(rng, len(candidates), m)),
		Requested: m,
	}, nil
}
