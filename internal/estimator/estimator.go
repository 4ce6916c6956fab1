package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"oodresample/internal/classifier"
	"oodresample/internal/dataset"
)

const DefaultMaxCondition = 1e12

var (
	ErrSingularCovariance = errors.New("pooled covariance is singular or ill-conditioned")
	ErrEmptyClass         = errors.New("class has no samples")
	ErrFeatureDim         = errors.New("feature dimension mismatch")
)

// ClassStatistics are per-class feature means with a shared precision matrix.
type ClassStatistics struct {
	Means      *mat.Dense // numClasses x featureDim
	Covariance *mat.SymDense
	Precision  *mat.SymDense
	Counts     []int
	// Condition is the 2-norm condition number estimate of Covariance.
	Condition float64
}

func (s *ClassStatistics) NumClasses() int {
	r, _ := s.Means.Dims()
	return r
}

func (s *ClassStatistics) FeatureDim() int {
	_, c := s.Means.Dims()
	return c
}

// MinDistance returns min over classes of sqrt((f-μ)ᵀ P (f-μ)).
func (s *ClassStatistics) MinDistance(f []float64) (float64, error) {
	classes, dim := s.Means.Dims()
	if len(f) != dim {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrFeatureDim, len(f), dim)
	}
	diff := mat.NewVecDense(dim, nil)
	best := math.Inf(1)
	for j := 0; j < classes; j++ {
		mean := s.Means.RawRowView(j)
		for i := range f {
			diff.SetVec(i, f[i]-mean[i])
		}
		d2 := mat.Inner(diff, s.Precision, diff)
		if d2 < 0 {
			// Round-off on nearly coincident vectors.
			d2 = 0
		}
		if d := math.Sqrt(d2); d < best {
			best = d
		}
	}
	return best, nil
}

// Estimator fits ClassStatistics from labeled in-distribution features.
type Estimator struct {
	// MaxCondition bounds the covariance condition number; zero uses
	// DefaultMaxCondition.
	MaxCondition float64
}

// ComputeClassStatistics fits statistics with default settings.
func ComputeClassStatistics(ctx context.Context, loader *dataset.Loader, clf classifier.FeatureClassifier, numClasses int) (*ClassStatistics, error) {
	return Estimator{}.Fit(ctx, loader, clf, numClasses)
}

// Fit extracts penultimate features in eval mode, groups them by label,
// centers each group on its class mean and fits one maximum-likelihood
// covariance over the pooled centered features.
func (e Estimator) Fit(ctx context.Context, loader *dataset.Loader, clf classifier.FeatureClassifier, numClasses int) (*ClassStatistics, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("num classes must be > 0, got %d", numClasses)
	}
	maxCond := e.MaxCondition
	if maxCond <= 0 {
		maxCond = DefaultMaxCondition
	}

	restore := classifier.WithMode(clf, classifier.ModeEval)
	defer restore()

	dim := clf.FeatureDim()
	byClass := make([][][]float64, numClasses)
	err := loader.Iterate(ctx, func(b dataset.Batch) error {
		_, features, err := clf.ForwardFeatures(b.Data)
		if err != nil {
			return err
		}
		if _, c := features.Dims(); c != dim {
			return fmt.Errorf("%w: classifier emitted %d, declared %d", ErrFeatureDim, c, dim)
		}
		for r, label := range b.Labels {
			if label < 0 || label >= numClasses {
				return fmt.Errorf("label %d at position %d outside [0,%d)", label, b.Positions[r], numClasses)
			}
			byClass[label] = append(byClass[label], append([]float64(nil), features.RawRowView(r)...))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}

	total := 0
	counts := make([]int, numClasses)
	for c, rows := range byClass {
		counts[c] = len(rows)
		total += len(rows)
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: labeled loader is empty", ErrEmptyClass)
	}
	for c, n := range counts {
		if n == 0 {
			return nil, fmt.Errorf("%w: class %d", ErrEmptyClass, c)
		}
	}

	means := mat.NewDense(numClasses, dim, nil)
	centered := mat.NewDense(total, dim, nil)
	row := 0
	for c, rows := range byClass {
		mean := means.RawRowView(c)
		for _, f := range rows {
			for i, v := range f {
				mean[i] += v
			}
		}
		for i := range mean {
			mean[i] /= float64(len(rows))
		}
		for _, f := range rows {
			dst := centered.RawRowView(row)
			for i, v := range f {
				dst[i] = v - mean[i]
			}
			row++
		}
	}

	cov, err := empiricalCovariance(centered)
	if err != nil {
		return nil, err
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, fmt.Errorf("%w: cholesky factorization failed", ErrSingularCovariance)
	}
	cond := chol.Cond()
	if math.IsNaN(cond) || cond > maxCond {
		return nil, fmt.Errorf("%w: condition number %g exceeds %g", ErrSingularCovariance, cond, maxCond)
	}
	precision := mat.NewSymDense(dim, nil)
	if err := chol.InverseTo(precision); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
	}

	return &ClassStatistics{
		Means:      means,
		Covariance: cov,
		Precision:  precision,
		Counts:     counts,
		Condition:  cond,
	}, nil
}

// empiricalCovariance re-centers x on its column means and returns the
// maximum-likelihood (divisor N) covariance.
func empiricalCovariance(x *mat.Dense) (*mat.SymDense, error) {
	n, dim := x.Dims()
	if n == 0 {
		return nil, errors.New("no samples for covariance")
	}
	colMean := make([]float64, dim)
	for r := 0; r < n; r++ {
		for i, v := range x.RawRowView(r) {
			colMean[i] += v
		}
	}
	for i := range colMean {
		colMean[i] /= float64(n)
	}
	centered := mat.NewDense(n, dim, nil)
	for r := 0; r < n; r++ {
		src := x.RawRowView(r)
		dst := centered.RawRowView(r)
		for i, v := range src {
			dst[i] = v - colMean[i]
		}
	}
	cov := mat.NewSymDense(dim, nil)
	cov.SymOuterK(1/float64(n), centered.T())
	return cov, nil
}
