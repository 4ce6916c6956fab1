package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// LogSumExp returns log(sum(exp(values))) computed without overflow.
func LogSumExp(values []float64) float64 {
	if len(values) == 0 {
		return math.Inf(-1)
	}
	return floats.LogSumExp(values)
}

// Softmax writes the normalized exponentials of values into dst and returns it.
// dst may alias values.
func Softmax(dst, values []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(values))
	}
	lse := LogSumExp(values)
	for i, v := range values {
		dst[i] = math.Exp(v - lse)
	}
	return dst
}

// Softplus is log(1+exp(x)), linear for large x.
func Softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	if x < -30 {
		return math.Exp(x)
	}
	return math.Log1p(math.Exp(x))
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// ArgMax returns the index and value of the largest element.
func ArgMax(values []float64) (int, float64) {
	if len(values) == 0 {
		return -1, math.NaN()
	}
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best, values[best]
}

// CrossEntropy is -log softmax(logits)[target].
func CrossEntropy(logits []float64, target int) (float64, error) {
	if target < 0 || target >= len(logits) {
		return 0, fmt.Errorf("target %d out of range for %d logits", target, len(logits))
	}
	return LogSumExp(logits) - logits[target], nil
}

// Avg returns the arithmetic mean of values.
func Avg(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("values must not be empty")
	}
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values)), nil
}

// Std returns population standard deviation.
func Std(values []float64) (float64, error) {
	mean, err := Avg(values)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, value := range values {
		diff := mean - value
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values))), nil
}

// AllFinite reports the first non-finite value, if any.
func AllFinite(values []float64) (int, bool) {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i, false
		}
	}
	return -1, true
}
