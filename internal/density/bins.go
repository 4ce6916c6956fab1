package density

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Edges returns bins+1 evenly spaced edges over [min(values), max(values)].
// A constant input is widened by ±0.5 so every bin has positive width.
func Edges(values []float64, bins int) ([]float64, error) {
	if bins < 1 {
		return nil, fmt.Errorf("bins must be >= 1, got %d", bins)
	}
	if len(values) == 0 {
		return nil, errors.New("no values to bin")
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}
	edges := make([]float64, bins+1)
	width := (hi - lo) / float64(bins)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	edges[bins] = hi
	return edges, nil
}

// BinIndex returns the bin holding v. Bins are half-open except the last,
// which includes the upper edge. Values outside the edges return -1.
func BinIndex(edges []float64, v float64) int {
	last := len(edges) - 1
	if last < 1 || v < edges[0] || v > edges[last] {
		return -1
	}
	if v == edges[last] {
		return last - 1
	}
	// First edge strictly greater than v, minus one.
	return sort.SearchFloat64s(edges, math.Nextafter(v, math.Inf(1))) - 1
}

// Counts histograms values over edges.
func Counts(edges []float64, values []float64) []int {
	counts := make([]int, len(edges)-1)
	for _, v := range values {
		if b := BinIndex(edges, v); b >= 0 {
			counts[b]++
		}
	}
	return counts
}
