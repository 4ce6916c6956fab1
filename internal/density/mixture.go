package density

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"oodresample/internal/model"
)

const (
	DefaultRegCovar = 1e-6
	DefaultTol      = 1e-3
	DefaultMaxIter  = 100
)

var (
	ErrTooFewSamples = errors.New("fewer samples than mixture components")
	ErrNonFinite     = errors.New("non-finite sample")
)

type Options struct {
	// RegCovar is added to every component variance.
	RegCovar float64
	// Tol bounds the change in mean log-likelihood that counts as converged.
	Tol     float64
	MaxIter int
}

func (o Options) withDefaults() Options {
	if o.RegCovar <= 0 {
		o.RegCovar = DefaultRegCovar
	}
	if o.Tol <= 0 {
		o.Tol = DefaultTol
	}
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	return o
}

// FitMixture fits a k-component 1-D Gaussian mixture to samples by
// expectation-maximization. Means start at evenly spaced sample quantiles.
// Components are returned sorted ascending by mean.
func FitMixture(samples []float64, k int, opts Options) (model.MixtureModel, error) {
	if k < 1 {
		return model.MixtureModel{}, fmt.Errorf("components must be >= 1, got %d", k)
	}
	n := len(samples)
	if n < k {
		return model.MixtureModel{}, fmt.Errorf("%w: %d samples, %d components", ErrTooFewSamples, n, k)
	}
	for i, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.MixtureModel{}, fmt.Errorf("%w: index %d", ErrNonFinite, i)
		}
	}
	opts = opts.withDefaults()

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	_, variance := stat.MeanVariance(samples, nil)
	if math.IsNaN(variance) || variance < 0 {
		variance = 0
	}
	variance += opts.RegCovar

	comps := make([]model.Component, k)
	for c := range comps {
		q := (float64(c) + 0.5) / float64(k)
		comps[c] = model.Component{
			Mean:     stat.Quantile(q, stat.Empirical, sorted, nil),
			Variance: variance,
			Weight:   1 / float64(k),
		}
	}

	resp := make([]float64, n*k)
	logp := make([]float64, k)
	prevLL := math.Inf(-1)
	out := model.MixtureModel{}
	for iter := 1; iter <= opts.MaxIter; iter++ {
		// E-step.
		ll := 0.0
		for c := range comps {
			logp[c] = math.Log(comps[c].Weight)
		}
		dists := make([]distuv.Normal, k)
		for c, comp := range comps {
			dists[c] = distuv.Normal{Mu: comp.Mean, Sigma: math.Sqrt(comp.Variance)}
		}
		row := make([]float64, k)
		for i, x := range samples {
			for c := range comps {
				row[c] = logp[c] + dists[c].LogProb(x)
			}
			lse := floats.LogSumExp(row)
			ll += lse
			for c := range comps {
				resp[i*k+c] = math.Exp(row[c] - lse)
			}
		}
		ll /= float64(n)

		// M-step.
		for c := range comps {
			nk := 0.0
			mean := 0.0
			for i, x := range samples {
				r := resp[i*k+c]
				nk += r
				mean += r * x
			}
			nk += 10 * epsilon
			mean /= nk
			v := 0.0
			for i, x := range samples {
				d := x - mean
				v += resp[i*k+c] * d * d
			}
			comps[c] = model.Component{
				Mean:     mean,
				Variance: v/nk + opts.RegCovar,
				Weight:   nk / float64(n),
			}
		}
		normalizeWeights(comps)

		out.Iterations = iter
		out.LogLikelihood = ll
		if math.Abs(ll-prevLL) < opts.Tol {
			out.Converged = true
			break
		}
		prevLL = ll
	}

	sort.SliceStable(comps, func(i, j int) bool { return comps[i].Mean < comps[j].Mean })
	out.Components = comps
	return out, nil
}

const epsilon = 2.220446049250313e-16

func normalizeWeights(comps []model.Component) {
	total := 0.0
	for _, c := range comps {
		total += c.Weight
	}
	for i := range comps {
		comps[i].Weight /= total
	}
}

// BinCurve returns, per histogram bin, the probability mass the component
// assigns between consecutive edges.
func BinCurve(comp model.Component, edges []float64) []float64 {
	if len(edges) < 2 {
		return nil
	}
	dist := distuv.Normal{Mu: comp.Mean, Sigma: comp.StdDev()}
	curve := make([]float64, len(edges)-1)
	prev := dist.CDF(edges[0])
	for i := 1; i < len(edges); i++ {
		next := dist.CDF(edges[i])
		curve[i-1] = next - prev
		prev = next
	}
	return curve
}
