package pool

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"oodresample/internal/model"
)

// Mode controls whether candidates are redrawn every epoch.
type Mode string

const (
	// ModeFixed draws candidates once and reuses them for the whole run.
	ModeFixed Mode = "fix"
	// ModeVariable draws fresh candidates every epoch.
	ModeVariable Mode = "var"
)

var ErrUnknownMode = errors.New("unknown candidate pool mode")

func ParseMode(name string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(name))) {
	case ModeFixed:
		return ModeFixed, nil
	case ModeVariable, "":
		return ModeVariable, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

// CandidatePool draws per-epoch candidate subsets from [0, Total).
type CandidatePool struct {
	total int
	size  int
	mode  Mode
	fixed model.CandidateSet
}

func New(total, size int, mode Mode) (*CandidatePool, error) {
	if total <= 0 {
		return nil, fmt.Errorf("auxiliary dataset is empty")
	}
	if size <= 0 || size > total {
		return nil, fmt.Errorf("candidate size %d must be in [1,%d]", size, total)
	}
	if mode != ModeFixed && mode != ModeVariable {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return &CandidatePool{total: total, size: size, mode: mode}, nil
}

func (p *CandidatePool) Total() int { return p.total }

func (p *CandidatePool) Size() int { return p.size }

func (p *CandidatePool) Mode() Mode { return p.mode }

// Draw returns this epoch's candidates. In fixed mode the first draw is kept
// and rng is not consumed afterwards.
func (p *CandidatePool) Draw(rng *rand.Rand) model.CandidateSet {
	if p.mode == ModeFixed && p.fixed != nil {
		return append(model.CandidateSet(nil), p.fixed...)
	}
	drawn := model.CandidateSet(SampleIndices(rng, p.total, p.size))
	if p.mode == ModeFixed {
		p.fixed = append(model.CandidateSet(nil), drawn...)
	}
	return drawn
}

// SampleIndices draws k distinct indices from [0, n) in uniformly random
// order. Dense draws permute the whole range; sparse draws run a partial
// Fisher-Yates over a swap map so memory is O(k).
func SampleIndices(rng *rand.Rand, n, k int) []int {
	if k <= 0 || n <= 0 {
		return nil
	}
	if k > n {
		k = n
	}
	if k*4 >= n {
		return rng.Perm(n)[:k]
	}
	swapped := make(map[int]int, 2*k)
	at := func(i int) int {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		vi, vj := at(i), at(j)
		swapped[j] = vi
		swapped[i] = vj
		out[i] = vj
	}
	return out
}
