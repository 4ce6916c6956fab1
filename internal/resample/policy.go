package resample

import (
	"fmt"
	"strings"

	"oodresample/internal/model"
)

// TargetPolicy combines per-component bin curves, each already normalized to
// sum to 1, into an unnormalized target curve. progress is the share of
// training completed, in [0,1].
type TargetPolicy interface {
	Name() string
	// Accepts reports whether the policy can combine k components.
	Accepts(k int) error
	Combine(mix model.MixtureModel, curves [][]float64, progress float64) []float64
}

// MatchedPolicy reproduces the fitted mixture: Σ w_c·curve_c.
type MatchedPolicy struct{}

func (MatchedPolicy) Name() string { return "matched" }

func (MatchedPolicy) Accepts(k int) error { return atLeast(k, 1) }

func (MatchedPolicy) Combine(mix model.MixtureModel, curves [][]float64, _ float64) []float64 {
	out := make([]float64, len(curves[0]))
	for c, curve := range curves {
		addScaled(out, curve, mix.Components[c].Weight)
	}
	return out
}

// EqualPolicy weighs every component the same regardless of its fitted weight.
type EqualPolicy struct{}

func (EqualPolicy) Name() string { return "equal" }

func (EqualPolicy) Accepts(k int) error { return atLeast(k, 1) }

func (EqualPolicy) Combine(_ model.MixtureModel, curves [][]float64, _ float64) []float64 {
	out := make([]float64, len(curves[0]))
	for _, curve := range curves {
		addScaled(out, curve, 1/float64(len(curves)))
	}
	return out
}

// FoldExtremesPolicy moves the weight of the highest-mean component onto the
// lowest-mean component's shape and keeps the middle components as fitted:
// curve_low·(w_low+w_high) + Σ w_mid·curve_mid.
type FoldExtremesPolicy struct{}

func (FoldExtremesPolicy) Name() string { return "fold_extremes" }

func (FoldExtremesPolicy) Accepts(k int) error { return atLeast(k, 3) }

func (FoldExtremesPolicy) Combine(mix model.MixtureModel, curves [][]float64, _ float64) []float64 {
	k := len(curves)
	out := make([]float64, len(curves[0]))
	addScaled(out, curves[0], mix.Components[0].Weight+mix.Components[k-1].Weight)
	for c := 1; c < k-1; c++ {
		addScaled(out, curves[c], mix.Components[c].Weight)
	}
	return out
}

// CoefficientsPolicy scales each fitted component: Σ coef_c·w_c·curve_c.
// When DecayIndex is set, that component's coefficient moves linearly from
// DecayFrom to DecayTo as training progresses.
type CoefficientsPolicy struct {
	Coefficients []float64
	DecayIndex   int // -1 disables decay
	DecayFrom    float64
	DecayTo      float64
}

func (p *CoefficientsPolicy) Name() string { return "coefficients" }

func (p *CoefficientsPolicy) Accepts(k int) error {
	if k != len(p.Coefficients) {
		return fmt.Errorf("coefficients policy has %d coefficients for %d components", len(p.Coefficients), k)
	}
	return nil
}

// Coefficient returns the coefficient applied to component c at progress.
func (p *CoefficientsPolicy) Coefficient(c int, progress float64) float64 {
	if c == p.DecayIndex {
		return p.DecayFrom - progress*(p.DecayFrom-p.DecayTo)
	}
	return p.Coefficients[c]
}

func (p *CoefficientsPolicy) Combine(mix model.MixtureModel, curves [][]float64, progress float64) []float64 {
	out := make([]float64, len(curves[0]))
	for c, curve := range curves {
		addScaled(out, curve, p.Coefficient(c, progress)*mix.Components[c].Weight)
	}
	return out
}

func atLeast(k, min int) error {
	if k < min {
		return fmt.Errorf("policy needs at least %d components, got %d", min, k)
	}
	return nil
}

func addScaled(dst, src []float64, scale float64) {
	for i, v := range src {
		dst[i] += v * scale
	}
}

// PolicyConfig selects and parameterizes a TargetPolicy.
type PolicyConfig struct {
	Name         string
	Coefficients []float64
	// DecayComponent is the 1-based component whose coefficient decays;
	// 0 disables decay.
	DecayComponent int
	DecayFrom      float64
	DecayTo        float64
}

func ParsePolicy(cfg PolicyConfig) (TargetPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "matched":
		return MatchedPolicy{}, nil
	case "equal":
		return EqualPolicy{}, nil
	case "fold_extremes", "":
		return FoldExtremesPolicy{}, nil
	case "coefficients":
		if len(cfg.Coefficients) == 0 {
			return nil, fmt.Errorf("coefficients policy requires coefficients")
		}
		for i, c := range cfg.Coefficients {
			if c < 0 {
				return nil, fmt.Errorf("coefficient %d must be >= 0, got %v", i, c)
			}
		}
		if cfg.DecayComponent < 0 || cfg.DecayComponent > len(cfg.Coefficients) {
			return nil, fmt.Errorf("decay component %d out of range for %d coefficients", cfg.DecayComponent, len(cfg.Coefficients))
		}
		if cfg.DecayComponent > 0 && (cfg.DecayFrom < 0 || cfg.DecayTo < 0) {
			return nil, fmt.Errorf("decay bounds must be >= 0")
		}
		return &CoefficientsPolicy{
			Coefficients: append([]float64(nil), cfg.Coefficients...),
			DecayIndex:   cfg.DecayComponent - 1,
			DecayFrom:    cfg.DecayFrom,
			DecayTo:      cfg.DecayTo,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, cfg.Name)
	}
}
