package resample

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"oodresample/internal/density"
	"oodresample/internal/model"
	"oodresample/internal/pool"
)

const (
	DefaultComponents = 3
	DefaultBins       = 100
)

// DensityMatched reshapes the candidate anomaly distribution toward a target
// curve built from a Gaussian mixture fitted to the scores. Bins short of
// their target are topped up uniformly from the whole candidate set, and
// per-bin ceiling rounding may push the total slightly above m.
type DensityMatched struct {
	Components int
	Bins       int
	Policy     TargetPolicy
	Fit        density.Options

	progress float64
}

func NewDensityMatched(components, bins int, policy TargetPolicy, fit density.Options) (*DensityMatched, error) {
	if components <= 0 {
		components = DefaultComponents
	}
	if bins <= 0 {
		bins = DefaultBins
	}
	if policy == nil {
		return nil, errors.New("target policy is required")
	}
	if err := policy.Accepts(components); err != nil {
		return nil, fmt.Errorf("%s policy: %w", policy.Name(), err)
	}
	return &DensityMatched{Components: components, Bins: bins, Policy: policy, Fit: fit}, nil
}

func (d *DensityMatched) Name() string { return "gmm" }

func (d *DensityMatched) BeginEpoch(epoch, totalEpochs int) {
	if totalEpochs <= 0 {
		d.progress = 0
		return
	}
	d.progress = math.Min(1, math.Max(0, float64(epoch)/float64(totalEpochs)))
}

func (d *DensityMatched) Resample(rng *rand.Rand, candidates model.CandidateSet, scores model.ScoreVector, m int) (model.SelectionResult, error) {
	if err := checkAligned(candidates, scores, m); err != nil {
		return model.SelectionResult{}, err
	}
	if len(candidates) < m {
		return model.SelectionResult{}, fmt.Errorf("%w: K=%d m=%d", ErrPoolTooSmall, len(candidates), m)
	}
	values := scores.Anomaly()
	edges, err := density.Edges(values, d.Bins)
	if err != nil {
		return model.SelectionResult{}, err
	}
	mix, err := density.FitMixture(values, d.Components, d.Fit)
	if err != nil {
		return model.SelectionResult{}, fmt.Errorf("fit mixture: %w", err)
	}

	curves := make([][]float64, mix.K())
	for c, comp := range mix.Components {
		curves[c] = normalized(density.BinCurve(comp, edges))
		if curves[c] == nil {
			// Component mass lies entirely outside the observed range.
			curves[c] = make([]float64, d.Bins)
		}
	}
	probs := normalized(d.Policy.Combine(mix, curves, d.progress))
	if probs == nil {
		return model.SelectionResult{}, fmt.Errorf("%s policy produced an empty target curve", d.Policy.Name())
	}
	targets := TargetCounts(probs, m)

	buckets := make([][]int, d.Bins)
	for pos, v := range values {
		if b := density.BinIndex(edges, v); b >= 0 {
			buckets[b] = append(buckets[b], pos)
		}
	}

	positions := make([]int, 0, m+d.Bins)
	fallback := 0
	for b, target := range targets {
		if target == 0 {
			continue
		}
		bucket := buckets[b]
		if len(bucket) >= target {
			for _, i := range pool.SampleIndices(rng, len(bucket), target) {
				positions = append(positions, bucket[i])
			}
			continue
		}
		positions = append(positions, bucket...)
		short := target - len(bucket)
		positions = append(positions, pool.SampleIndices(rng, len(candidates), short)...)
		fallback += short
	}

	observed := make([]int, d.Bins)
	for b, bucket := range buckets {
		observed[b] = len(bucket)
	}
	selectedScores := make([]float64, len(positions))
	for i, p := range positions {
		selectedScores[i] = values[p]
	}
	return model.SelectionResult{
		Indices:   pick(candidates, positions),
		Requested: m,
		Fallback:  fallback,
		Histogram: &model.Histogram{
			Edges:       edges,
			Observed:    observed,
			Target:      targets,
			Selected:    density.Counts(edges, selectedScores),
			TargetProbs: probs,
		},
		Mixture: &mix,
	}, nil
}

// TargetCounts returns ceil(p_i*m) per bin.
func TargetCounts(probs []float64, m int) []int {
	out := make([]int, len(probs))
	for i, p := range probs {
		out[i] = int(math.Ceil(p * float64(m)))
	}
	return out
}

// TotalVariation is half the L1 distance between two histograms after each
// is normalized to unit mass.
func TotalVariation(a, b []float64) float64 {
	na, nb := normalized(a), normalized(b)
	if na == nil || nb == nil || len(na) != len(nb) {
		return 1
	}
	tv := 0.0
	for i := range na {
		tv += math.Abs(na[i] - nb[i])
	}
	return tv / 2
}

// normalized returns values scaled to sum to 1, or nil when the sum is not
// positive.
func normalized(values []float64) []float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	if !(total > 0) {
		return nil
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / total
	}
	return out
}
