package classifier

import (
	"context"
	"fmt"

	"oodresample/internal/dataset"
	"oodresample/internal/nn"
)

// Evaluation is the held-out loss and accuracy of a classifier.
type Evaluation struct {
	Loss     float64
	Accuracy float64
	Samples  int
}

// Evaluate runs clf in eval mode over loader and returns the mean per-batch
// cross-entropy and the accuracy, both restricted to the first numClasses
// logits so reject-class models are comparable.
func Evaluate(ctx context.Context, clf Classifier, loader *dataset.Loader, numClasses int) (Evaluation, error) {
	if numClasses <= 0 || numClasses > clf.NumOutputs() {
		return Evaluation{}, fmt.Errorf("num classes %d invalid for %d outputs", numClasses, clf.NumOutputs())
	}
	restore := WithMode(clf, ModeEval)
	defer restore()

	var lossSum float64
	var correct, total, batches int
	err := loader.Iterate(ctx, func(b dataset.Batch) error {
		logits, err := clf.Forward(b.Data)
		if err != nil {
			return err
		}
		batchLoss := 0.0
		for r := 0; r < b.Size(); r++ {
			label := b.Labels[r]
			if label < 0 || label >= numClasses {
				return fmt.Errorf("label %d at position %d outside [0,%d)", label, b.Positions[r], numClasses)
			}
			row := logits.RawRowView(r)[:numClasses]
			ce, err := nn.CrossEntropy(row, label)
			if err != nil {
				return err
			}
			batchLoss += ce
			if pred, _ := nn.ArgMax(row); pred == label {
				correct++
			}
		}
		lossSum += batchLoss / float64(b.Size())
		total += b.Size()
		batches++
		return nil
	})
	if err != nil {
		return Evaluation{}, err
	}
	if total == 0 {
		return Evaluation{}, fmt.Errorf("evaluation loader is empty")
	}
	return Evaluation{
		Loss:     lossSum / float64(batches),
		Accuracy: float64(correct) / float64(total),
		Samples:  total,
	}, nil
}
