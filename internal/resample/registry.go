package resample

import (
	"fmt"
	"strings"

	"oodresample/internal/density"
)

// Config carries every resampler option; each strategy reads its own subset.
type Config struct {
	Name        string
	Quantile    float64
	Strict      bool
	Replacement bool
	Components  int
	Bins        int
	Policy      PolicyConfig
	Fit         density.Options
	BaseSeed    int64
	// Total is the full auxiliary range used by Uniform.
	Total int
}

// Names lists the resampler identifiers accepted by ParseResampler.
func Names() []string {
	return []string{"quantile", "weighted", "gmm", "greedy", "uniform"}
}

// ParseResampler resolves cfg.Name once into a configured strategy.
func ParseResampler(cfg Config) (Resampler, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "quantile":
		return NewQuantileSlice(cfg.Quantile, cfg.Strict)
	case "greedy":
		return NewGreedyQuantile(cfg.Quantile, cfg.BaseSeed, cfg.Strict)
	case "weighted":
		return &WeightedRandom{Replacement: cfg.Replacement}, nil
	case "gmm":
		policy, err := ParsePolicy(cfg.Policy)
		if err != nil {
			return nil, err
		}
		return NewDensityMatched(cfg.Components, cfg.Bins, policy, cfg.Fit)
	case "uniform":
		return &Uniform{Total: cfg.Total}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResampler, cfg.Name)
	}
}
