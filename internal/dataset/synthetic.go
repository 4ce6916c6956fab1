package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// GaussianConfig describes labeled in-distribution class clusters.
type GaussianConfig struct {
	Classes  int
	Dim      int
	PerClass int
	// Separation scales the distance of class centers from the origin.
	Separation float64
	Spread     float64
	Seed       int64
}

// GaussianClasses materializes PerClass samples around each of Classes
// centers. It returns the dataset and the centers used.
func GaussianClasses(cfg GaussianConfig) (*InMemory, [][]float64, error) {
	if cfg.Classes <= 0 || cfg.Dim <= 0 || cfg.PerClass <= 0 {
		return nil, nil, fmt.Errorf("invalid gaussian config: classes=%d dim=%d per_class=%d", cfg.Classes, cfg.Dim, cfg.PerClass)
	}
	if cfg.Separation <= 0 {
		cfg.Separation = 4
	}
	if cfg.Spread <= 0 {
		cfg.Spread = 1
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	centers := make([][]float64, cfg.Classes)
	for c := range centers {
		center := make([]float64, cfg.Dim)
		norm := 0.0
		for j := range center {
			center[j] = rng.NormFloat64()
			norm += center[j] * center[j]
		}
		norm = math.Sqrt(norm)
		for j := range center {
			center[j] = center[j] / norm * cfg.Separation
		}
		centers[c] = center
	}

	rows := make([][]float64, 0, cfg.Classes*cfg.PerClass)
	labels := make([]int, 0, cfg.Classes*cfg.PerClass)
	for c, center := range centers {
		for i := 0; i < cfg.PerClass; i++ {
			row := make([]float64, cfg.Dim)
			for j := range row {
				row[j] = center[j] + rng.NormFloat64()*cfg.Spread
			}
			rows = append(rows, row)
			labels = append(labels, c)
		}
	}
	// Interleave classes so sequential batches are mixed.
	perm := rng.Perm(len(rows))
	shuffledRows := make([][]float64, len(rows))
	shuffledLabels := make([]int, len(rows))
	for i, p := range perm {
		shuffledRows[i] = rows[p]
		shuffledLabels[i] = labels[p]
	}
	ds, err := NewInMemory(shuffledRows, shuffledLabels)
	if err != nil {
		return nil, nil, err
	}
	return ds, centers, nil
}

// AuxiliaryConfig describes an unlabeled auxiliary pool. Records are derived
// from (Seed, index) on demand, so pools of 2^20 items cost no memory.
type AuxiliaryConfig struct {
	Size int
	Dim  int
	// Centers are in-distribution class centers; a NearFraction share of the
	// pool is drawn around them with NearSpread to create near-ID outliers.
	Centers      [][]float64
	NearFraction float64
	NearSpread   float64
	// FarScale is the standard deviation of the remaining broad samples.
	FarScale float64
	Seed     int64
}

type Procedural struct {
	cfg AuxiliaryConfig
}

func NewProcedural(cfg AuxiliaryConfig) (*Procedural, error) {
	if cfg.Size <= 0 || cfg.Dim <= 0 {
		return nil, fmt.Errorf("invalid auxiliary config: size=%d dim=%d", cfg.Size, cfg.Dim)
	}
	if cfg.NearFraction < 0 || cfg.NearFraction > 1 {
		return nil, fmt.Errorf("near fraction must be in [0,1], got %f", cfg.NearFraction)
	}
	if cfg.NearFraction > 0 && len(cfg.Centers) == 0 {
		return nil, errors.New("near fraction requires class centers")
	}
	for i, c := range cfg.Centers {
		if len(c) != cfg.Dim {
			return nil, fmt.Errorf("center %d has dim %d, want %d", i, len(c), cfg.Dim)
		}
	}
	if cfg.NearSpread <= 0 {
		cfg.NearSpread = 2
	}
	if cfg.FarScale <= 0 {
		cfg.FarScale = 6
	}
	return &Procedural{cfg: cfg}, nil
}

func (p *Procedural) Len() int { return p.cfg.Size }

func (p *Procedural) Dim() int { return p.cfg.Dim }

func (p *Procedural) Record(i int) (Record, error) {
	if i < 0 || i >= p.cfg.Size {
		return Record{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, p.cfg.Size)
	}
	g := newSplitMix(uint64(p.cfg.Seed)*0x9e3779b97f4a7c15 + uint64(i) + 1)
	row := make([]float64, p.cfg.Dim)
	if g.float64() < p.cfg.NearFraction {
		center := p.cfg.Centers[int(g.next()%uint64(len(p.cfg.Centers)))]
		for j := range row {
			row[j] = center[j] + g.normal()*p.cfg.NearSpread
		}
	} else {
		for j := range row {
			row[j] = g.normal() * p.cfg.FarScale
		}
	}
	return Record{Data: row, Label: UnlabeledLabel}, nil
}

// splitMix is a tiny stateless-seedable generator; a math/rand source per
// record would allocate several kilobytes of state on every lookup.
type splitMix struct {
	state uint64
}

func newSplitMix(seed uint64) *splitMix {
	return &splitMix{state: seed}
}

func (s *splitMix) next() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func (s *splitMix) float64() float64 {
	return float64(s.next()>>11) / (1 << 53)
}

func (s *splitMix) normal() float64 {
	u1 := s.float64()
	for u1 == 0 {
		u1 = s.float64()
	}
	u2 := s.float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
