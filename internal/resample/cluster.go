package resample

import (
	"errors"
	"fmt"

	"github.com/biogo/cluster/kmeans"
)

// featureRows adapts row vectors to the kmeans data interface.
type featureRows [][]float64

func (f featureRows) Len() int { return len(f) }

func (f featureRows) Values(i int) []float64 { return f[i] }

// CalinskiHarabasz clusters features into k groups with k-means and returns
// the ratio of between-cluster to within-cluster dispersion, each scaled by
// its degrees of freedom. It is a reporting diagnostic only.
func CalinskiHarabasz(features [][]float64, k int) (float64, error) {
	n := len(features)
	if k < 2 {
		return 0, fmt.Errorf("calinski-harabasz needs k >= 2, got %d", k)
	}
	if n <= k {
		return 0, fmt.Errorf("calinski-harabasz needs more than %d samples, got %d", k, n)
	}
	dim := len(features[0])
	for i, f := range features {
		if len(f) != dim {
			return 0, fmt.Errorf("feature %d has dim %d, want %d", i, len(f), dim)
		}
	}

	km, err := kmeans.New(featureRows(features))
	if err != nil {
		return 0, err
	}
	km.Seed(k)
	// A non-converged partition is still usable for a diagnostic.
	km.Cluster()

	labels := make([]int, n)
	clusters := 0
	for c, center := range km.Centers() {
		members := center.Members()
		if len(members) > 0 {
			clusters++
		}
		for _, i := range members {
			labels[i] = c
		}
	}
	if clusters < 2 {
		return 0, errors.New("calinski-harabasz needs at least two non-empty clusters")
	}
	return chIndex(features, labels, len(km.Centers()), clusters), nil
}

func chIndex(features [][]float64, labels []int, numLabels, nonEmpty int) float64 {
	n := len(features)
	dim := len(features[0])
	overall := make([]float64, dim)
	for _, f := range features {
		for j, v := range f {
			overall[j] += v
		}
	}
	for j := range overall {
		overall[j] /= float64(n)
	}

	means := make([][]float64, numLabels)
	counts := make([]int, numLabels)
	for c := range means {
		means[c] = make([]float64, dim)
	}
	for i, f := range features {
		c := labels[i]
		counts[c]++
		for j, v := range f {
			means[c][j] += v
		}
	}
	for c := range means {
		if counts[c] == 0 {
			continue
		}
		for j := range means[c] {
			means[c][j] /= float64(counts[c])
		}
	}

	between, within := 0.0, 0.0
	for c, mean := range means {
		if counts[c] == 0 {
			continue
		}
		for j := range mean {
			d := mean[j] - overall[j]
			between += float64(counts[c]) * d * d
		}
	}
	for i, f := range features {
		mean := means[labels[i]]
		for j, v := range f {
			d := v - mean[j]
			within += d * d
		}
	}
	if within == 0 {
		return 1
	}
	return between * float64(n-nonEmpty) / (within * float64(nonEmpty-1))
}
