package classifier

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// Mode selects training or inference behaviour.
type Mode int

const (
	ModeTrain Mode = iota
	ModeEval
)

func (m Mode) String() string {
	if m == ModeEval {
		return "eval"
	}
	return "train"
}

var ErrInputDim = errors.New("input dimension mismatch")

// Classifier maps a batch of rows to one row of logits per input.
type Classifier interface {
	Arch() string
	Forward(x *mat.Dense) (*mat.Dense, error)
	NumOutputs() int
	Mode() Mode
	SetMode(Mode)
}

// FeatureClassifier additionally exposes penultimate features.
type FeatureClassifier interface {
	Classifier
	ForwardFeatures(x *mat.Dense) (logits *mat.Dense, features *mat.Dense, err error)
	FeatureDim() int
}

// Trainable is a classifier whose parameters can be updated from logit gradients.
type Trainable interface {
	Classifier
	// Backward returns parameter gradients, keyed like ParamRefs, for the
	// batch x given dLoss/dLogits.
	Backward(x, dLogits *mat.Dense) (map[string][]float64, error)
	// ParamRefs returns live parameter slices; writes update the model.
	ParamRefs() map[string][]float64
}

// WithMode switches clf to mode and returns a func restoring the previous mode.
func WithMode(clf Classifier, mode Mode) func() {
	prev := clf.Mode()
	clf.SetMode(mode)
	return func() { clf.SetMode(prev) }
}

// Snapshot copies the parameters of a Trainable.
func Snapshot(clf Trainable) map[string][]float64 {
	refs := clf.ParamRefs()
	out := make(map[string][]float64, len(refs))
	for name, values := range refs {
		out[name] = append([]float64(nil), values...)
	}
	return out
}
