package resample

import (
	"fmt"
	"math/rand"
	"sort"

	"oodresample/internal/model"
)

// QuantileSlice sorts candidates by anomaly, drops the least anomalous
// Quantile share and takes the next m. When the band runs past the end of
// the pool it is shrunk and the result marked Shrunk, unless Strict.
type QuantileSlice struct {
	Quantile float64
	Strict   bool
}

func NewQuantileSlice(q float64, strict bool) (*QuantileSlice, error) {
	if q < 0 || q >= 1 {
		return nil, fmt.Errorf("quantile must be in [0,1), got %v", q)
	}
	return &QuantileSlice{Quantile: q, Strict: strict}, nil
}

func (q *QuantileSlice) Name() string { return "quantile" }

// Offset returns floor(K*Quantile).
func (q *QuantileSlice) Offset(k int) int {
	return int(float64(k) * q.Quantile)
}

func (q *QuantileSlice) Resample(_ *rand.Rand, candidates model.CandidateSet, scores model.ScoreVector, m int) (model.SelectionResult, error) {
	if err := checkAligned(candidates, scores, m); err != nil {
		return model.SelectionResult{}, err
	}
	k := len(candidates)
	if k < m {
		return model.SelectionResult{}, fmt.Errorf("%w: K=%d m=%d", ErrPoolTooSmall, k, m)
	}
	spt := q.Offset(k)
	end := spt + m
	shrunk := false
	if end > k {
		if q.Strict {
			return model.SelectionResult{}, fmt.Errorf("%w: offset %d + %d > %d", ErrSliceOverflow, spt, m, k)
		}
		end = k
		shrunk = true
	}
	order := ArgsortStable(scores.Anomaly())
	return model.SelectionResult{
		Indices:   pick(candidates, order[spt:end]),
		Requested: m,
		Shrunk:    shrunk,
	}, nil
}

// ArgsortStable returns positions ordered ascending by values, ties kept in
// input order.
func ArgsortStable(values []float64) []int {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] < values[order[b]]
	})
	return order
}

// GreedyQuantile is QuantileSlice driven by the epoch seed chain, so the
// whole multi-epoch candidate and selection sequence is reproducible from
// BaseSeed.
type GreedyQuantile struct {
	QuantileSlice
	BaseSeed int64
}

func NewGreedyQuantile(q float64, baseSeed int64, strict bool) (*GreedyQuantile, error) {
	slice, err := NewQuantileSlice(q, strict)
	if err != nil {
		return nil, err
	}
	return &GreedyQuantile{QuantileSlice: *slice, BaseSeed: baseSeed}, nil
}

func (g *GreedyQuantile) Name() string { return "greedy" }

func (g *GreedyQuantile) EpochSeed(epoch int) int64 {
	return DeriveSeed(g.BaseSeed, epoch)
}
