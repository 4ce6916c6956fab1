package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/sourcegraph/conc/stream"
	"gonum.org/v1/gonum/mat"
)

// Batch is a contiguous group of records assembled by a Loader.
// Positions are indices into the loader's dataset, in emission order.
type Batch struct {
	Positions []int
	Data      *mat.Dense
	Labels    []int
}

func (b Batch) Size() int {
	return len(b.Positions)
}

type LoaderConfig struct {
	BatchSize int
	// Workers bounds the goroutines assembling batches.
	Workers int
	// Prefetch bounds the number of assembled batches waiting for the consumer.
	Prefetch int
	// Shuffle permutes record order per Iterate call when set.
	Shuffle  *rand.Rand
	DropLast bool
}

// Loader iterates a Dataset in batches. Batches are assembled by a bounded
// worker pool and delivered in order through a bounded queue; the consumer
// callback always runs on the calling goroutine.
type Loader struct {
	ds  Dataset
	cfg LoaderConfig
}

func NewLoader(ds Dataset, cfg LoaderConfig) (*Loader, error) {
	if ds == nil {
		return nil, errors.New("dataset is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 2 * cfg.Workers
	}
	return &Loader{ds: ds, cfg: cfg}, nil
}

func (l *Loader) Dataset() Dataset {
	return l.ds
}

func (l *Loader) BatchSize() int {
	return l.cfg.BatchSize
}

// Len returns the number of batches per pass.
func (l *Loader) Len() int {
	n := l.ds.Len()
	if l.cfg.DropLast {
		return n / l.cfg.BatchSize
	}
	return (n + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

type assembled struct {
	batch Batch
	err   error
}

// Iterate calls fn for every batch in order. It stops at the first error
// returned by fn, by batch assembly, or by ctx.
func (l *Loader) Iterate(ctx context.Context, fn func(Batch) error) error {
	order := l.order()
	numBatches := l.Len()
	if numBatches == 0 {
		return nil
	}

	queue := make(chan assembled, l.cfg.Prefetch)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(queue)
		s := stream.New().WithMaxGoroutines(l.cfg.Workers)
		for b := 0; b < numBatches; b++ {
			select {
			case <-done:
				s.Wait()
				return
			case <-ctx.Done():
				s.Wait()
				return
			default:
			}
			start := b * l.cfg.BatchSize
			end := start + l.cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			positions := order[start:end]
			s.Go(func() stream.Callback {
				batch, err := l.assemble(positions)
				return func() {
					select {
					case queue <- assembled{batch: batch, err: err}:
					case <-done:
					}
				}
			})
		}
		s.Wait()
	}()

	delivered := 0
	for item := range queue {
		if err := ctx.Err(); err != nil {
			return err
		}
		if item.err != nil {
			return item.err
		}
		if err := fn(item.batch); err != nil {
			return err
		}
		delivered++
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if delivered != numBatches {
		return fmt.Errorf("loader delivered %d of %d batches", delivered, numBatches)
	}
	return nil
}

func (l *Loader) order() []int {
	n := l.ds.Len()
	if l.cfg.Shuffle != nil {
		return l.cfg.Shuffle.Perm(n)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

func (l *Loader) assemble(positions []int) (Batch, error) {
	dim := l.ds.Dim()
	data := mat.NewDense(len(positions), dim, nil)
	labels := make([]int, len(positions))
	for row, pos := range positions {
		rec, err := l.ds.Record(pos)
		if err != nil {
			return Batch{}, fmt.Errorf("load record %d: %w", pos, err)
		}
		if len(rec.Data) != dim {
			return Batch{}, fmt.Errorf("record %d has dim %d, want %d", pos, len(rec.Data), dim)
		}
		data.SetRow(row, rec.Data)
		labels[row] = rec.Label
	}
	return Batch{
		Positions: append([]int(nil), positions...),
		Data:      data,
		Labels:    labels,
	}, nil
}

// Stream is a pull-style view of one pass over a Loader. Close must be
// called once the consumer is done, even after Next reports exhaustion.
type Stream struct {
	parent  context.Context
	cancel  context.CancelFunc
	batches chan Batch
	done    chan struct{}
	err     error
}

func (l *Loader) Stream(ctx context.Context) *Stream {
	inner, cancel := context.WithCancel(ctx)
	s := &Stream{
		parent:  ctx,
		cancel:  cancel,
		batches: make(chan Batch),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.batches)
		s.err = l.Iterate(inner, func(b Batch) error {
			select {
			case s.batches <- b:
				return nil
			case <-inner.Done():
				return inner.Err()
			}
		})
	}()
	return s
}

func (s *Stream) Next() (Batch, bool) {
	b, ok := <-s.batches
	return b, ok
}

// Close stops the pass and returns its error. Stopping early is not an error
// unless the parent context was cancelled.
func (s *Stream) Close() error {
	s.cancel()
	for range s.batches {
	}
	<-s.done
	if errors.Is(s.err, context.Canceled) && s.parent.Err() == nil {
		return nil
	}
	return s.err
}
