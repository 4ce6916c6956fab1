package pool

// SeenIndexSet accumulates every auxiliary index selected so far. It only
// feeds the diversity diagnostic and never influences selection.
type SeenIndexSet struct {
	seen map[int]struct{}
}

func NewSeenIndexSet() *SeenIndexSet {
	return &SeenIndexSet{seen: make(map[int]struct{})}
}

func (s *SeenIndexSet) Len() int {
	return len(s.seen)
}

func (s *SeenIndexSet) Contains(idx int) bool {
	_, ok := s.seen[idx]
	return ok
}

// DiversityRatio is the fraction of selected positions whose index was not
// seen in any earlier call to Add. An empty selection yields 0.
func (s *SeenIndexSet) DiversityRatio(selected []int) float64 {
	if len(selected) == 0 {
		return 0
	}
	fresh := 0
	for _, idx := range selected {
		if !s.Contains(idx) {
			fresh++
		}
	}
	return float64(fresh) / float64(len(selected))
}

func (s *SeenIndexSet) Add(selected []int) {
	for _, idx := range selected {
		s.seen[idx] = struct{}{}
	}
}

// Observe computes the diversity ratio of selected and then records it.
func (s *SeenIndexSet) Observe(selected []int) float64 {
	ratio := s.DiversityRatio(selected)
	s.Add(selected)
	return ratio
}
