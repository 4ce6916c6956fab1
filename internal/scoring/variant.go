package scoring

import (
	"errors"
	"fmt"
	"strings"

	"oodresample/internal/model"
)

var (
	ErrUnknownVariant      = errors.New("unknown scoring variant")
	ErrUnknownDistribution = errors.New("unknown distribution type")
	ErrMissingStatistics   = errors.New("mahalanobis scoring requires class statistics")
	ErrNonFiniteScore      = errors.New("non-finite score")
	ErrFeaturesUnsupported = errors.New("classifier does not expose features")
)

// Variant is a per-candidate scoring rule with a declared orientation.
type Variant int

const (
	MaxProb Variant = iota + 1
	MaxLogitSoftplus
	Energy
	NegativeMaxLogit
	NegativeMaxProb
	AbsClassProb
	AbsClassLogit
	MahalanobisMin
)

var variantNames = map[Variant]string{
	MaxProb:          "max_prob",
	MaxLogitSoftplus: "max_logit_softplus",
	Energy:           "energy",
	NegativeMaxLogit: "negative_max_logit",
	NegativeMaxProb:  "negative_max_prob",
	AbsClassProb:     "abs_class_prob",
	AbsClassLogit:    "abs_class_logit",
	MahalanobisMin:   "mahalanobis_min",
}

// Variants lists every supported variant in declaration order.
func Variants() []Variant {
	return []Variant{MaxProb, MaxLogitSoftplus, Energy, NegativeMaxLogit, NegativeMaxProb, AbsClassProb, AbsClassLogit, MahalanobisMin}
}

func ParseVariant(name string) (Variant, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for v, n := range variantNames {
		if n == key {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// Orientation reports which end of the variant's range is more anomalous.
func (v Variant) Orientation() model.Orientation {
	switch v {
	case MaxProb, MaxLogitSoftplus:
		return model.LowerIsMoreAnomalous
	default:
		return model.HigherIsMoreAnomalous
	}
}

func (v Variant) NeedsFeatures() bool {
	return v == MahalanobisMin
}

// NeedsRejectClass reports whether the variant reads the extra last logit.
func (v Variant) NeedsRejectClass() bool {
	return v == AbsClassProb || v == AbsClassLogit
}

// NonNegative reports whether every score of the variant is >= 0, which
// makes it usable as a sampling weight.
func (v Variant) NonNegative() bool {
	switch v {
	case MaxProb, MaxLogitSoftplus, AbsClassProb, MahalanobisMin:
		return true
	default:
		return false
	}
}

// Distribution names the in-distribution model used for near-OOD scoring.
type Distribution string

const (
	DistributionNegativeLogit Distribution = "negative_logit"
	DistributionMaha          Distribution = "maha"
)

func ParseDistribution(name string) (Distribution, error) {
	switch Distribution(strings.ToLower(strings.TrimSpace(name))) {
	case DistributionNegativeLogit:
		return DistributionNegativeLogit, nil
	case DistributionMaha:
		return DistributionMaha, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDistribution, name)
	}
}

// Variant maps a distribution type onto the scoring variant it implies.
func (d Distribution) Variant() Variant {
	if d == DistributionMaha {
		return MahalanobisMin
	}
	return NegativeMaxLogit
}
