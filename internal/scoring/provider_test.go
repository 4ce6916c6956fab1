package scoring

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"oodresample/internal/classifier"
	"oodresample/internal/dataset"
	"oodresample/internal/estimator"
	"oodresample/internal/model"
)

// logitsClassifier returns each input row as its logits.
func logitsClassifier(t *testing.T, width int) *classifier.Linear {
	t.Helper()
	weight := make([]float64, width*width)
	for i := 0; i < width; i++ {
		weight[i*width+i] = 1
	}
	clf, err := classifier.LinearFromParams(map[string][]float64{
		"weight": weight,
		"bias":   make([]float64, width),
	})
	require.NoError(t, err)
	return clf
}

func rowsLoader(t *testing.T, rows [][]float64) *dataset.Loader {
	t.Helper()
	ds, err := dataset.NewInMemory(rows, nil)
	require.NoError(t, err)
	loader, err := dataset.NewLoader(ds, dataset.LoaderConfig{BatchSize: 2, Workers: 2})
	require.NoError(t, err)
	return loader
}

// opaqueClassifier hides the feature capability of the wrapped model.
type opaqueClassifier struct {
	classifier.Classifier
}

func TestParseVariant(t *testing.T) {
	for _, v := range Variants() {
		parsed, err := ParseVariant(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, parsed)
	}
	_, err := ParseVariant(" Energy ")
	require.NoError(t, err)
	_, err = ParseVariant("odin")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestVariantOrientation(t *testing.T) {
	assert.Equal(t, model.LowerIsMoreAnomalous, MaxProb.Orientation())
	assert.Equal(t, model.LowerIsMoreAnomalous, MaxLogitSoftplus.Orientation())
	for _, v := range []Variant{Energy, NegativeMaxLogit, NegativeMaxProb, AbsClassProb, AbsClassLogit, MahalanobisMin} {
		assert.Equal(t, model.HigherIsMoreAnomalous, v.Orientation(), v.String())
	}
}

func TestParseDistribution(t *testing.T) {
	d, err := ParseDistribution("maha")
	require.NoError(t, err)
	assert.Equal(t, MahalanobisMin, d.Variant())
	d, err = ParseDistribution("negative_logit")
	require.NoError(t, err)
	assert.Equal(t, NegativeMaxLogit, d.Variant())
	_, err = ParseDistribution("kde")
	assert.ErrorIs(t, err, ErrUnknownDistribution)
}

func TestComputeVariants(t *testing.T) {
	rows := [][]float64{{2, 0, -1}, {0, 0, 0}, {-3, 5, 1}}
	clf := logitsClassifier(t, 3)

	lse := func(r []float64) float64 {
		s := 0.0
		for _, v := range r {
			s += math.Exp(v)
		}
		return math.Log(s)
	}
	cases := []struct {
		variant Variant
		want    func(r []float64) float64
	}{
		{MaxProb, func(r []float64) float64 { return math.Exp(math.Max(r[0], math.Max(r[1], r[2])) - lse(r)) }},
		{NegativeMaxProb, func(r []float64) float64 { return -math.Exp(math.Max(r[0], math.Max(r[1], r[2])) - lse(r)) }},
		{MaxLogitSoftplus, func(r []float64) float64 { return math.Log1p(math.Exp(math.Max(r[0], math.Max(r[1], r[2])))) }},
		{Energy, func(r []float64) float64 { return -lse(r) }},
		{NegativeMaxLogit, func(r []float64) float64 { return -math.Max(r[0], math.Max(r[1], r[2])) }},
		{AbsClassProb, func(r []float64) float64 { return math.Exp(r[2] - lse(r)) }},
		{AbsClassLogit, func(r []float64) float64 { return r[2] }},
	}
	for _, tc := range cases {
		t.Run(tc.variant.String(), func(t *testing.T) {
			scores, features, err := Compute(context.Background(), clf, rowsLoader(t, rows), tc.variant, Options{})
			require.NoError(t, err)
			assert.Nil(t, features)
			require.Equal(t, len(rows), scores.Len())
			assert.Equal(t, tc.variant.String(), scores.Variant)
			assert.Equal(t, tc.variant.Orientation(), scores.Orientation)
			for i, r := range rows {
				assert.InDelta(t, tc.want(r), scores.Values[i], 1e-9, "row %d", i)
			}
		})
	}
}

func TestComputeRestoresMode(t *testing.T) {
	clf := logitsClassifier(t, 2)
	clf.SetMode(classifier.ModeTrain)
	_, _, err := Compute(context.Background(), clf, rowsLoader(t, [][]float64{{1, 2}}), Energy, Options{})
	require.NoError(t, err)
	assert.Equal(t, classifier.ModeTrain, clf.Mode())

	// Restored on failure as well.
	_, _, err = Compute(context.Background(), clf, rowsLoader(t, [][]float64{{math.Inf(1), 0}}), Energy, Options{})
	require.ErrorIs(t, err, ErrNonFiniteScore)
	assert.Equal(t, classifier.ModeTrain, clf.Mode())
}

func TestComputeMahalanobis(t *testing.T) {
	clf := logitsClassifier(t, 2)
	stats := &estimator.ClassStatistics{
		Means:     mat.NewDense(2, 2, []float64{1, 0, -1, 0}),
		Precision: mat.NewSymDense(2, []float64{4, 0, 0, 4}),
	}
	_, _, err := Compute(context.Background(), clf, rowsLoader(t, [][]float64{{0, 0}}), MahalanobisMin, Options{})
	require.ErrorIs(t, err, ErrMissingStatistics)

	scores, features, err := Compute(context.Background(), clf, rowsLoader(t, [][]float64{{0, 0}, {1, 1}, {-1, 0}}), MahalanobisMin, Options{Stats: stats, CaptureFeatures: true})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 2, 0}, scores.Values, 1e-9)
	require.Len(t, features, 3)
	assert.Equal(t, []float64{1, 1}, features[1])
}

func TestComputeRequiresFeatureClassifier(t *testing.T) {
	clf := opaqueClassifier{logitsClassifier(t, 2)}
	_, _, err := Compute(context.Background(), clf, rowsLoader(t, [][]float64{{0, 0}}), Energy, Options{CaptureFeatures: true})
	assert.True(t, errors.Is(err, ErrFeaturesUnsupported))
}

func TestAnomalyNormalizesOrientation(t *testing.T) {
	clf := logitsClassifier(t, 2)
	rows := [][]float64{{5, 0}, {0.1, 0}}
	scores, _, err := Compute(context.Background(), clf, rowsLoader(t, rows), MaxProb, Options{})
	require.NoError(t, err)
	// The confident first row must rank as less anomalous.
	anomaly := scores.Anomaly()
	assert.Less(t, anomaly[0], anomaly[1])
}
