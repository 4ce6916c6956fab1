package dataset

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialDataset(t *testing.T, n int) *InMemory {
	t.Helper()
	rows := make([][]float64, n)
	labels := make([]int, n)
	for i := range rows {
		rows[i] = []float64{float64(i), float64(-i)}
		labels[i] = i % 3
	}
	ds, err := NewInMemory(rows, labels)
	require.NoError(t, err)
	return ds
}

func TestNewInMemoryRejectsRaggedRows(t *testing.T) {
	_, err := NewInMemory([][]float64{{1, 2}, {3}}, nil)
	require.Error(t, err)

	_, err = NewInMemory([][]float64{{1, 2}}, []int{0, 1})
	require.Error(t, err)
}

func TestNewInMemoryDefaultsToUnlabeled(t *testing.T) {
	ds, err := NewInMemory([][]float64{{1}, {2}}, nil)
	require.NoError(t, err)
	rec, err := ds.Record(1)
	require.NoError(t, err)
	assert.Equal(t, UnlabeledLabel, rec.Label)
	assert.Equal(t, []float64{2}, rec.Data)

	_, err = ds.Record(2)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestNumClasses(t *testing.T) {
	ds := sequentialDataset(t, 10)
	n, err := NumClasses(ds)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSubsetMapsToBaseIndices(t *testing.T) {
	ds := sequentialDataset(t, 10)
	sub, err := NewSubset(ds, []int{7, 2, 9})
	require.NoError(t, err)
	require.Equal(t, 3, sub.Len())
	require.Equal(t, 2, sub.Dim())

	rec, err := sub.Record(1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, rec.Data[0])
	assert.Equal(t, 9, sub.BaseIndex(2))

	_, err = NewSubset(ds, []int{10})
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestLoaderDeliversBatchesInOrder(t *testing.T) {
	ds := sequentialDataset(t, 103)
	loader, err := NewLoader(ds, LoaderConfig{BatchSize: 10, Workers: 4, Prefetch: 2})
	require.NoError(t, err)
	require.Equal(t, 11, loader.Len())

	next := 0
	batches := 0
	err = loader.Iterate(context.Background(), func(b Batch) error {
		for row, pos := range b.Positions {
			require.Equal(t, next, pos)
			require.Equal(t, float64(next), b.Data.At(row, 0))
			require.Equal(t, next%3, b.Labels[row])
			next++
		}
		batches++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 103, next)
	assert.Equal(t, 11, batches)
}

func TestLoaderDropLast(t *testing.T) {
	ds := sequentialDataset(t, 25)
	loader, err := NewLoader(ds, LoaderConfig{BatchSize: 10, DropLast: true})
	require.NoError(t, err)

	seen := 0
	require.NoError(t, loader.Iterate(context.Background(), func(b Batch) error {
		assert.Equal(t, 10, b.Size())
		seen += b.Size()
		return nil
	}))
	assert.Equal(t, 20, seen)
}

func TestLoaderShuffleVisitsEveryRecordOnce(t *testing.T) {
	ds := sequentialDataset(t, 64)
	loader, err := NewLoader(ds, LoaderConfig{BatchSize: 7, Workers: 3, Shuffle: rand.New(rand.NewSource(5))})
	require.NoError(t, err)

	seen := make(map[int]bool)
	require.NoError(t, loader.Iterate(context.Background(), func(b Batch) error {
		for _, pos := range b.Positions {
			require.False(t, seen[pos], "position %d delivered twice", pos)
			seen[pos] = true
		}
		return nil
	}))
	assert.Len(t, seen, 64)
}

func TestLoaderStopsOnCallbackError(t *testing.T) {
	ds := sequentialDataset(t, 100)
	loader, err := NewLoader(ds, LoaderConfig{BatchSize: 5, Workers: 2, Prefetch: 1})
	require.NoError(t, err)

	stop := errors.New("stop")
	var calls atomic.Int32
	err = loader.Iterate(context.Background(), func(Batch) error {
		if calls.Add(1) == 3 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLoaderHonorsCancellation(t *testing.T) {
	ds := sequentialDataset(t, 100)
	loader, err := NewLoader(ds, LoaderConfig{BatchSize: 5})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	err = loader.Iterate(ctx, func(Batch) error {
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestProceduralIsDeterministicPerIndex(t *testing.T) {
	centers := [][]float64{{4, 0}, {-4, 0}}
	aux, err := NewProcedural(AuxiliaryConfig{Size: 1 << 20, Dim: 2, Centers: centers, NearFraction: 0.3, Seed: 11})
	require.NoError(t, err)
	require.Equal(t, 1<<20, aux.Len())

	a, err := aux.Record(123456)
	require.NoError(t, err)
	b, err := aux.Record(123456)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, UnlabeledLabel, a.Label)

	c, err := aux.Record(123457)
	require.NoError(t, err)
	assert.NotEqual(t, a.Data, c.Data)

	_, err = aux.Record(1 << 20)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestProceduralRequiresCentersForNearSamples(t *testing.T) {
	_, err := NewProcedural(AuxiliaryConfig{Size: 10, Dim: 2, NearFraction: 0.5})
	require.Error(t, err)
}

func TestGaussianClassesBalanced(t *testing.T) {
	ds, centers, err := GaussianClasses(GaussianConfig{Classes: 4, Dim: 3, PerClass: 25, Seed: 1})
	require.NoError(t, err)
	require.Len(t, centers, 4)
	require.Equal(t, 100, ds.Len())

	counts := make([]int, 4)
	for i := 0; i < ds.Len(); i++ {
		rec, err := ds.Record(i)
		require.NoError(t, err)
		counts[rec.Label]++
	}
	assert.Equal(t, []int{25, 25, 25, 25}, counts)
}

func TestReadCSV(t *testing.T) {
	in := "x,y,label\n1.5,2,0\n-1, 3.25 ,2\n"
	ds, err := ReadCSV(strings.NewReader(in), CSVOptions{LabelColumn: 2, HasHeader: true})
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	require.Equal(t, 2, ds.Dim())

	rec, err := ds.Record(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 3.25}, rec.Data)
	assert.Equal(t, 2, rec.Label)

	_, err = ReadCSV(strings.NewReader("a,b\n"), CSVOptions{LabelColumn: -1})
	require.Error(t, err)
}

func TestStreamPullsInOrderAndClosesEarly(t *testing.T) {
	ds := sequentialDataset(t, 30)
	loader, err := NewLoader(ds, LoaderConfig{BatchSize: 4, Workers: 2})
	require.NoError(t, err)

	stream := loader.Stream(context.Background())
	first, ok := stream.Next()
	require.True(t, ok)
	assert.Equal(t, []int{0, 1, 2, 3}, first.Positions)
	second, ok := stream.Next()
	require.True(t, ok)
	assert.Equal(t, []int{4, 5, 6, 7}, second.Positions)
	require.NoError(t, stream.Close())

	full := loader.Stream(context.Background())
	count := 0
	for {
		b, ok := full.Next()
		if !ok {
			break
		}
		count += b.Size()
	}
	require.NoError(t, full.Close())
	assert.Equal(t, 30, count)
}
