package scoring

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"oodresample/internal/classifier"
	"oodresample/internal/dataset"
	"oodresample/internal/estimator"
	"oodresample/internal/model"
	"oodresample/internal/nn"
)

type Options struct {
	// Stats are required by MahalanobisMin.
	Stats *estimator.ClassStatistics
	// CaptureFeatures returns penultimate features co-indexed with the scores.
	CaptureFeatures bool
}

// Compute scores every record of loader, in loader order, against the
// frozen classifier. The classifier runs in eval mode for the duration of
// the call and its previous mode is restored before returning.
func Compute(ctx context.Context, clf classifier.Classifier, loader *dataset.Loader, variant Variant, opts Options) (model.ScoreVector, [][]float64, error) {
	if _, ok := variantNames[variant]; !ok {
		return model.ScoreVector{}, nil, fmt.Errorf("%w: %d", ErrUnknownVariant, int(variant))
	}
	needFeatures := variant.NeedsFeatures() || opts.CaptureFeatures
	var fclf classifier.FeatureClassifier
	if needFeatures {
		var ok bool
		fclf, ok = clf.(classifier.FeatureClassifier)
		if !ok {
			return model.ScoreVector{}, nil, fmt.Errorf("%w: %s", ErrFeaturesUnsupported, clf.Arch())
		}
	}
	if variant == MahalanobisMin && opts.Stats == nil {
		return model.ScoreVector{}, nil, ErrMissingStatistics
	}
	if variant.NeedsRejectClass() && clf.NumOutputs() < 2 {
		return model.ScoreVector{}, nil, fmt.Errorf("%s needs a reject class, classifier has %d outputs", variant, clf.NumOutputs())
	}

	restore := classifier.WithMode(clf, classifier.ModeEval)
	defer restore()

	n := loader.Dataset().Len()
	values := make([]float64, 0, n)
	var features [][]float64
	if opts.CaptureFeatures {
		features = make([][]float64, 0, n)
	}
	probs := make([]float64, clf.NumOutputs())

	err := loader.Iterate(ctx, func(b dataset.Batch) error {
		var logits, feats *mat.Dense
		var err error
		if needFeatures {
			logits, feats, err = fclf.ForwardFeatures(b.Data)
		} else {
			logits, err = clf.Forward(b.Data)
		}
		if err != nil {
			return err
		}
		for r := 0; r < b.Size(); r++ {
			row := logits.RawRowView(r)
			var s float64
			switch variant {
			case MaxProb:
				nn.Softmax(probs, row)
				_, s = nn.ArgMax(probs)
			case NegativeMaxProb:
				nn.Softmax(probs, row)
				_, s = nn.ArgMax(probs)
				s = -s
			case MaxLogitSoftplus:
				_, maxLogit := nn.ArgMax(row)
				s = nn.Softplus(maxLogit)
			case Energy:
				s = -nn.LogSumExp(row)
			case NegativeMaxLogit:
				_, maxLogit := nn.ArgMax(row)
				s = -maxLogit
			case AbsClassProb:
				nn.Softmax(probs, row)
				s = probs[len(probs)-1]
			case AbsClassLogit:
				s = row[len(row)-1]
			case MahalanobisMin:
				d, err := opts.Stats.MinDistance(feats.RawRowView(r))
				if err != nil {
					return err
				}
				s = d
			}
			if math.IsNaN(s) || math.IsInf(s, 0) {
				return fmt.Errorf("%w: %s=%v at loader position %d", ErrNonFiniteScore, variant, s, b.Positions[r])
			}
			values = append(values, s)
			if opts.CaptureFeatures {
				features = append(features, append([]float64(nil), feats.RawRowView(r)...))
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return model.ScoreVector{}, nil, fmt.Errorf("score %s: %w", variant, err)
	}
	return model.ScoreVector{
		Variant:     variant.String(),
		Orientation: variant.Orientation(),
		Values:      values,
	}, features, nil
}
