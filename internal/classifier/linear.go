package classifier

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const (
	LinearArch  = "linear"
	paramWeight = "weight"
	paramBias   = "bias"
)

// Linear is a softmax-regression classifier: logits = x·Wᵀ + b. Its
// penultimate features are the inputs themselves.
type Linear struct {
	inputs  int
	outputs int
	weight  []float64 // outputs x inputs, row-major
	bias    []float64
	mode    Mode
}

// NewLinear initialises weights uniformly in ±1/sqrt(inputs).
func NewLinear(inputs, outputs int, rng *rand.Rand) (*Linear, error) {
	if inputs <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("invalid linear shape %dx%d", inputs, outputs)
	}
	l := &Linear{
		inputs:  inputs,
		outputs: outputs,
		weight:  make([]float64, inputs*outputs),
		bias:    make([]float64, outputs),
		mode:    ModeTrain,
	}
	if rng != nil {
		bound := 1 / math.Sqrt(float64(inputs))
		for i := range l.weight {
			l.weight[i] = (rng.Float64()*2 - 1) * bound
		}
		for i := range l.bias {
			l.bias[i] = (rng.Float64()*2 - 1) * bound
		}
	}
	return l, nil
}

// LinearFromParams rebuilds a Linear from checkpointed parameters.
func LinearFromParams(params map[string][]float64) (*Linear, error) {
	bias, ok := params[paramBias]
	if !ok || len(bias) == 0 {
		return nil, fmt.Errorf("missing %s parameters", paramBias)
	}
	weight, ok := params[paramWeight]
	if !ok || len(weight) == 0 || len(weight)%len(bias) != 0 {
		return nil, fmt.Errorf("invalid %s parameters: %d values for %d outputs", paramWeight, len(weight), len(bias))
	}
	return &Linear{
		inputs:  len(weight) / len(bias),
		outputs: len(bias),
		weight:  append([]float64(nil), weight...),
		bias:    append([]float64(nil), bias...),
		mode:    ModeTrain,
	}, nil
}

// FromCheckpoint resolves an architecture identifier to a classifier.
func FromCheckpoint(arch string, params map[string][]float64) (Trainable, error) {
	switch strings.ToLower(strings.TrimSpace(arch)) {
	case LinearArch:
		return LinearFromParams(params)
	default:
		return nil, fmt.Errorf("unsupported classifier arch: %s", arch)
	}
}

func (l *Linear) Arch() string { return LinearArch }

func (l *Linear) NumInputs() int { return l.inputs }

func (l *Linear) NumOutputs() int { return l.outputs }

func (l *Linear) FeatureDim() int { return l.inputs }

func (l *Linear) Mode() Mode { return l.mode }

func (l *Linear) SetMode(m Mode) { l.mode = m }

func (l *Linear) Forward(x *mat.Dense) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != l.inputs {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInputDim, cols, l.inputs)
	}
	w := mat.NewDense(l.outputs, l.inputs, l.weight)
	logits := mat.NewDense(rows, l.outputs, nil)
	logits.Mul(x, w.T())
	for r := 0; r < rows; r++ {
		row := logits.RawRowView(r)
		for j := range row {
			row[j] += l.bias[j]
		}
	}
	return logits, nil
}

func (l *Linear) ForwardFeatures(x *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	logits, err := l.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	features := mat.DenseCopyOf(x)
	return logits, features, nil
}

func (l *Linear) Backward(x, dLogits *mat.Dense) (map[string][]float64, error) {
	rows, cols := x.Dims()
	if cols != l.inputs {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInputDim, cols, l.inputs)
	}
	gr, gc := dLogits.Dims()
	if gr != rows || gc != l.outputs {
		return nil, fmt.Errorf("gradient shape %dx%d does not match batch %dx%d", gr, gc, rows, l.outputs)
	}
	gradW := mat.NewDense(l.outputs, l.inputs, nil)
	gradW.Mul(dLogits.T(), x)
	gradB := make([]float64, l.outputs)
	for r := 0; r < rows; r++ {
		for j, v := range dLogits.RawRowView(r) {
			gradB[j] += v
		}
	}
	return map[string][]float64{
		paramWeight: gradW.RawMatrix().Data,
		paramBias:   gradB,
	}, nil
}

func (l *Linear) ParamRefs() map[string][]float64 {
	return map[string][]float64{
		paramWeight: l.weight,
		paramBias:   l.bias,
	}
}
