package nn

import (
	"math"
	"testing"
)

func TestLogSumExpAndSoftmax(t *testing.T) {
	if got := LogSumExp(nil); !math.IsInf(got, -1) {
		t.Fatalf("expected -inf for empty input, got=%f", got)
	}
	if got := LogSumExp([]float64{1000, 1000}); math.Abs(got-(1000+math.Ln2)) > 1e-9 {
		t.Fatalf("unexpected large-input logsumexp: %f", got)
	}
	probs := Softmax(nil, []float64{0, math.Log(3)})
	if math.Abs(probs[0]-0.25) > 1e-12 || math.Abs(probs[1]-0.75) > 1e-12 {
		t.Fatalf("unexpected softmax: %v", probs)
	}
	values := []float64{2, 2, 2, 2}
	Softmax(values, values)
	for i, p := range values {
		if math.Abs(p-0.25) > 1e-12 {
			t.Fatalf("unexpected aliased softmax at %d: %f", i, p)
		}
	}
}

func TestSoftplusAndSigmoid(t *testing.T) {
	if got := Softplus(0); math.Abs(got-math.Ln2) > 1e-12 {
		t.Fatalf("expected softplus(0)=ln2, got=%f", got)
	}
	if got := Softplus(50); got != 50 {
		t.Fatalf("expected linear softplus tail, got=%f", got)
	}
	if got := Softplus(-50); got <= 0 || got > 1e-20 {
		t.Fatalf("expected tiny positive softplus, got=%g", got)
	}
	if got := Sigmoid(0); got != 0.5 {
		t.Fatalf("expected sigmoid(0)=0.5, got=%f", got)
	}
	if got := Sigmoid(-800); got != 0 || math.IsNaN(got) {
		t.Fatalf("expected sigmoid underflow to 0, got=%f", got)
	}
	if got := Sigmoid(4) + Sigmoid(-4); math.Abs(got-1) > 1e-12 {
		t.Fatalf("expected sigmoid symmetry, got=%f", got)
	}
}

func TestArgMaxAndCrossEntropy(t *testing.T) {
	idx, v := ArgMax([]float64{0.1, 3, 3, -1})
	if idx != 1 || v != 3 {
		t.Fatalf("expected first max at 1, got idx=%d v=%f", idx, v)
	}
	if idx, _ := ArgMax(nil); idx != -1 {
		t.Fatalf("expected -1 for empty argmax, got=%d", idx)
	}
	loss, err := CrossEntropy([]float64{0, 0}, 1)
	if err != nil {
		t.Fatalf("cross entropy failed: %v", err)
	}
	if math.Abs(loss-math.Ln2) > 1e-12 {
		t.Fatalf("unexpected cross entropy: %f", loss)
	}
	if _, err := CrossEntropy([]float64{0, 0}, 2); err == nil {
		t.Fatal("expected out of range target error")
	}
}

func TestAvgAndStd(t *testing.T) {
	avg, err := Avg([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("avg failed: %v", err)
	}
	if math.Abs(avg-2) > 1e-12 {
		t.Fatalf("unexpected avg: %f", avg)
	}
	std, err := Std([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("std failed: %v", err)
	}
	if math.Abs(std-math.Sqrt(2.0/3.0)) > 1e-12 {
		t.Fatalf("unexpected std: %f", std)
	}
	if _, err := Avg(nil); err == nil {
		t.Fatal("expected avg empty error")
	}
}

func TestAllFinite(t *testing.T) {
	if idx, ok := AllFinite([]float64{1, 2}); !ok || idx != -1 {
		t.Fatalf("expected finite values, got idx=%d ok=%t", idx, ok)
	}
	if idx, ok := AllFinite([]float64{1, math.NaN(), math.Inf(1)}); ok || idx != 1 {
		t.Fatalf("expected NaN at 1, got idx=%d ok=%t", idx, ok)
	}
}
