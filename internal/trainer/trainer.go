package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"oodresample/internal/classifier"
	"oodresample/internal/dataset"
	"oodresample/internal/nn"
	"oodresample/internal/schedule"
)

var ErrUnknownLoss = errors.New("unknown outlier-exposure loss")

// Loss names the auxiliary regularization term.
type Loss string

const (
	// LossUniform pushes auxiliary predictions toward the uniform distribution.
	LossUniform Loss = "uniform"
	// LossEnergy applies squared hinges on the energy of ID and auxiliary rows.
	LossEnergy Loss = "energy"
	// LossAbs trains an extra reject class on auxiliary rows.
	LossAbs Loss = "abs"
)

func ParseLoss(name string) (Loss, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "uniform", "uni":
		return LossUniform, nil
	case "energy":
		return LossEnergy, nil
	case "abs":
		return LossAbs, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLoss, name)
	}
}

// Outputs returns the classifier width the loss needs for numClasses.
func (l Loss) Outputs(numClasses int) int {
	if l == LossAbs {
		return numClasses + 1
	}
	return numClasses
}

// Trainer runs one pass over paired ID and auxiliary batches.
type Trainer interface {
	Name() string
	TrainEpoch(ctx context.Context, clf classifier.Trainable, id, aux *dataset.Loader, sched schedule.Schedule) (EpochStats, error)
}

type EpochStats struct {
	Loss     float64
	Accuracy float64
	Steps    int
	// LR is the learning rate of the last optimizer step.
	LR float64
}

type Config struct {
	Loss       Loss
	NumClasses int
	Beta       float64
	// MIn and MOut are the energy margins for ID and auxiliary rows.
	MIn  float64
	MOut float64
}

const (
	DefaultMIn  = -25
	DefaultMOut = -7
)

// OE is the reference outlier-exposure trainer.
type OE struct {
	cfg Config
	opt *SGD
}

func NewOE(cfg Config, opt *SGD) (*OE, error) {
	if opt == nil {
		return nil, errors.New("optimizer is required")
	}
	if cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("num classes must be > 0, got %d", cfg.NumClasses)
	}
	if cfg.Beta < 0 {
		return nil, fmt.Errorf("beta must be >= 0, got %v", cfg.Beta)
	}
	if _, err := ParseLoss(string(cfg.Loss)); err != nil {
		return nil, err
	}
	if cfg.Loss == LossEnergy {
		if cfg.MIn == 0 {
			cfg.MIn = DefaultMIn
		}
		if cfg.MOut == 0 {
			cfg.MOut = DefaultMOut
		}
	}
	return &OE{cfg: cfg, opt: opt}, nil
}

func (t *OE) Name() string { return "oe-" + string(t.cfg.Loss) }

func (t *OE) Optimizer() *SGD { return t.opt }

// TrainEpoch zips ID and auxiliary batches and stops at the shorter stream.
// The reported loss is the mean per-step loss and the accuracy is measured
// on ID rows only.
func (t *OE) TrainEpoch(ctx context.Context, clf classifier.Trainable, id, aux *dataset.Loader, sched schedule.Schedule) (EpochStats, error) {
	if want := t.cfg.Loss.Outputs(t.cfg.NumClasses); clf.NumOutputs() != want {
		return EpochStats{}, fmt.Errorf("%s loss needs %d outputs, classifier has %d", t.cfg.Loss, want, clf.NumOutputs())
	}
	restore := classifier.WithMode(clf, classifier.ModeTrain)
	defer restore()

	idStream := id.Stream(ctx)
	auxStream := aux.Stream(ctx)

	var stats EpochStats
	var lossSum float64
	var correct, seen int
	err := func() error {
		for {
			idBatch, ok := idStream.Next()
			if !ok {
				return nil
			}
			auxBatch, ok := auxStream.Next()
			if !ok {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			lr := sched.LR()
			loss, hits, err := t.step(clf, idBatch, auxBatch, lr)
			if err != nil {
				return err
			}
			sched.StepBatch()
			lossSum += loss
			correct += hits
			seen += idBatch.Size()
			stats.Steps++
			stats.LR = lr
		}
	}()
	idErr := idStream.Close()
	auxErr := auxStream.Close()
	if err == nil {
		err = multierr.Combine(idErr, auxErr)
	}
	if err != nil {
		return EpochStats{}, fmt.Errorf("train epoch: %w", err)
	}
	if stats.Steps > 0 {
		stats.Loss = lossSum / float64(stats.Steps)
		stats.Accuracy = float64(correct) / float64(seen)
	}
	return stats, nil
}

func (t *OE) step(clf classifier.Trainable, idBatch, auxBatch dataset.Batch, lr float64) (float64, int, error) {
	x, loss, hits, dLogits, err := t.objective(clf, idBatch, auxBatch)
	if err != nil {
		return 0, 0, err
	}
	grads, err := clf.Backward(x, dLogits)
	if err != nil {
		return 0, 0, err
	}
	if err := t.opt.Step(clf.ParamRefs(), grads, lr); err != nil {
		return 0, 0, err
	}
	return loss, hits, nil
}

// objective stacks the batches, evaluates the loss and returns its gradient
// with respect to the logits.
func (t *OE) objective(clf classifier.Classifier, idBatch, auxBatch dataset.Batch) (*mat.Dense, float64, int, *mat.Dense, error) {
	nID, nAux := idBatch.Size(), auxBatch.Size()
	_, dim := idBatch.Data.Dims()
	x := mat.NewDense(nID+nAux, dim, nil)
	x.Stack(idBatch.Data, auxBatch.Data)

	logits, err := clf.Forward(x)
	if err != nil {
		return nil, 0, 0, nil, err
	}
	_, width := logits.Dims()
	grad := mat.NewDense(nID+nAux, width, nil)
	probs := make([]float64, width)

	loss := 0.0
	hits := 0
	for r := 0; r < nID; r++ {
		row := logits.RawRowView(r)
		label := idBatch.Labels[r]
		if label < 0 || label >= t.cfg.NumClasses {
			return nil, 0, 0, nil, fmt.Errorf("label %d at position %d outside [0,%d)", label, idBatch.Positions[r], t.cfg.NumClasses)
		}
		ce, err := nn.CrossEntropy(row, label)
		if err != nil {
			return nil, 0, 0, nil, err
		}
		loss += ce / float64(nID)
		if pred, _ := nn.ArgMax(row[:t.cfg.NumClasses]); pred == label {
			hits++
		}
		nn.Softmax(probs, row)
		g := grad.RawRowView(r)
		for j, p := range probs {
			g[j] = p / float64(nID)
		}
		g[label] -= 1 / float64(nID)

		if t.cfg.Loss == LossEnergy {
			energy := -nn.LogSumExp(row)
			if h := energy - t.cfg.MIn; h > 0 {
				loss += t.cfg.Beta * h * h / float64(nID)
				scale := t.cfg.Beta * 2 * h / float64(nID)
				for j, p := range probs {
					g[j] -= scale * p
				}
			}
		}
	}

	for r := nID; r < nID+nAux; r++ {
		row := logits.RawRowView(r)
		g := grad.RawRowView(r)
		nn.Softmax(probs, row)
		switch t.cfg.Loss {
		case LossUniform:
			lse := nn.LogSumExp(row)
			mean, err := nn.Avg(row)
			if err != nil {
				return nil, 0, 0, nil, err
			}
			loss += t.cfg.Beta * (lse - mean) / float64(nAux)
			for j, p := range probs {
				g[j] = t.cfg.Beta * (p - 1/float64(width)) / float64(nAux)
			}
		case LossEnergy:
			energy := -nn.LogSumExp(row)
			if h := t.cfg.MOut - energy; h > 0 {
				loss += t.cfg.Beta * h * h / float64(nAux)
				scale := t.cfg.Beta * 2 * h / float64(nAux)
				for j, p := range probs {
					g[j] = scale * p
				}
			}
		case LossAbs:
			reject := width - 1
			ce, err := nn.CrossEntropy(row, reject)
			if err != nil {
				return nil, 0, 0, nil, err
			}
			loss += t.cfg.Beta * ce / float64(nAux)
			for j, p := range probs {
				g[j] = t.cfg.Beta * p / float64(nAux)
			}
			g[reject] -= t.cfg.Beta / float64(nAux)
		}
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return nil, 0, 0, nil, fmt.Errorf("non-finite training loss %v", loss)
	}
	return x, loss, hits, grad, nil
}
