package storage

import (
	"context"
	"sort"
	"sync"

	"oodresample/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	diagnostics map[string][]model.EpochDiagnostics
	checkpoints map[string]map[int]model.Checkpoint
	last        map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.reset()
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	return nil
}

func (s *MemoryStore) reset() {
	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.diagnostics = make(map[string][]model.EpochDiagnostics)
	s.checkpoints = make(map[string]map[int]model.Checkpoint)
	s.last = make(map[string]int)
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

// ListRuns returns runs newest first.
func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sortRunsNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) SaveEpochDiagnostics(_ context.Context, runID string, diagnostics []model.EpochDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.EpochDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	s.diagnostics[runID] = copied
	return nil
}

func (s *MemoryStore) GetEpochDiagnostics(_ context.Context, runID string) ([]model.EpochDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.EpochDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	return copied, true, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byEpoch, ok := s.checkpoints[checkpoint.RunID]
	if !ok {
		byEpoch = make(map[int]model.Checkpoint)
		s.checkpoints[checkpoint.RunID] = byEpoch
	}
	byEpoch[checkpoint.Epoch] = cloneCheckpoint(checkpoint)
	if last, ok := s.last[checkpoint.RunID]; !ok || checkpoint.Epoch >= last {
		s.last[checkpoint.RunID] = checkpoint.Epoch
	}
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, runID string, epoch int) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if epoch == LastEpoch {
		last, ok := s.last[runID]
		if !ok {
			return model.Checkpoint{}, false, nil
		}
		epoch = last
	}
	checkpoint, ok := s.checkpoints[runID][epoch]
	if !ok {
		return model.Checkpoint{}, false, nil
	}
	return cloneCheckpoint(checkpoint), true, nil
}

func cloneCheckpoint(c model.Checkpoint) model.Checkpoint {
	out := c
	out.Params = cloneParams(c.Params)
	out.Optimizer = cloneParams(c.Optimizer)
	if c.Schedule != nil {
		schedule := *c.Schedule
		out.Schedule = &schedule
	}
	return out
}

func cloneParams(in map[string][]float64) map[string][]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string][]float64, len(in))
	for name, values := range in {
		out[name] = append([]float64(nil), values...)
	}
	return out
}

func sortRunsNewestFirst(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
		}
		return runs[i].ID < runs[j].ID
	})
}
