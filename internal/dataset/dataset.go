package dataset

import (
	"errors"
	"fmt"
)

// UnlabeledLabel marks records from the auxiliary pool.
const UnlabeledLabel = -1

var ErrIndexOutOfRange = errors.New("dataset index out of range")

// Record is one {data, label} sample.
type Record struct {
	Data  []float64
	Label int
}

// Dataset exposes index-addressable records of a fixed feature dimension.
// Record must be safe for concurrent use.
type Dataset interface {
	Len() int
	Dim() int
	Record(i int) (Record, error)
}

// InMemory is a Dataset backed by materialized rows.
type InMemory struct {
	rows   [][]float64
	labels []int
	dim    int
}

func NewInMemory(rows [][]float64, labels []int) (*InMemory, error) {
	if labels != nil && len(labels) != len(rows) {
		return nil, fmt.Errorf("labels mismatch: rows=%d labels=%d", len(rows), len(labels))
	}
	dim := 0
	if len(rows) > 0 {
		dim = len(rows[0])
	}
	for i, row := range rows {
		if len(row) != dim {
			return nil, fmt.Errorf("row %d has dim %d, want %d", i, len(row), dim)
		}
	}
	if labels == nil {
		labels = make([]int, len(rows))
		for i := range labels {
			labels[i] = UnlabeledLabel
		}
	}
	return &InMemory{rows: rows, labels: labels, dim: dim}, nil
}

func (d *InMemory) Len() int { return len(d.rows) }

func (d *InMemory) Dim() int { return d.dim }

func (d *InMemory) Record(i int) (Record, error) {
	if i < 0 || i >= len(d.rows) {
		return Record{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(d.rows))
	}
	return Record{Data: d.rows[i], Label: d.labels[i]}, nil
}

// NumClasses returns 1 + the largest non-negative label.
func NumClasses(ds Dataset) (int, error) {
	maxLabel := -1
	for i := 0; i < ds.Len(); i++ {
		rec, err := ds.Record(i)
		if err != nil {
			return 0, err
		}
		if rec.Label > maxLabel {
			maxLabel = rec.Label
		}
	}
	return maxLabel + 1, nil
}

// Subset views a base dataset through a list of base indices.
type Subset struct {
	base    Dataset
	indices []int
}

func NewSubset(base Dataset, indices []int) (*Subset, error) {
	if base == nil {
		return nil, errors.New("base dataset is required")
	}
	n := base.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("%w: subset index %d not in [0,%d)", ErrIndexOutOfRange, idx, n)
		}
	}
	return &Subset{base: base, indices: append([]int(nil), indices...)}, nil
}

func (s *Subset) Len() int { return len(s.indices) }

func (s *Subset) Dim() int { return s.base.Dim() }

func (s *Subset) Record(i int) (Record, error) {
	if i < 0 || i >= len(s.indices) {
		return Record{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(s.indices))
	}
	return s.base.Record(s.indices[i])
}

// BaseIndex maps a subset position back to the base dataset index.
func (s *Subset) BaseIndex(i int) int {
	return s.indices[i]
}
