package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"retinasim/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	axonMaps    map[string]model.AxonMapRecord
	percepts    map[string]model.PerceptRecord
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
	s.initialized = true
	s.axonMaps = make(map[string]model.AxonMapRecord)
	s.percepts = make(map[string]model.PerceptRecord)
	return nil
}

func (s *MemoryStore) SaveAxonMap(_ context.Context, record model.AxonMapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.axonMaps[record.Name] = cloneAxonMap(record)
	return nil
}

func (s *MemoryStore) GetAxonMap(_ context.Context, name string) (model.AxonMapRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.AxonMapRecord{}, false, errNotInitialized
	}
	record, ok := s.axonMaps[name]
	if !ok {
		return model.AxonMapRecord{}, false, nil
	}
	return cloneAxonMap(record), true, nil
}

func (s *MemoryStore) DeleteAxonMap(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	delete(s.axonMaps, name)
	return nil
}

func (s *MemoryStore) SavePercept(_ context.Context, record model.PerceptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	record.Cells = append([]model.CellPeak(nil), record.Cells...)
	s.percepts[record.RunID] = record
	return nil
}

func (s *MemoryStore) GetPercept(_ context.Context, runID string) (model.PerceptRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.PerceptRecord{}, false, errNotInitialized
	}
	record, ok := s.percepts[runID]
	if !ok {
		return model.PerceptRecord{}, false, nil
	}
	record.Cells = append([]model.CellPeak(nil), record.Cells...)
	return record, true, nil
}

// ListPercepts returns summaries newest first.
func (s *MemoryStore) ListPercepts(_ context.Context) ([]model.PerceptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	out := make([]model.PerceptRecord, 0, len(s.percepts))
	for _, record := range s.percepts {
		record.Cells = append([]model.CellPeak(nil), record.Cells...)
		out = append(out, record)
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(records []model.PerceptRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAtUTC != records[j].CreatedAtUTC {
			return records[i].CreatedAtUTC > records[j].CreatedAtUTC
		}
		return records[i].RunID < records[j].RunID
	})
}

func cloneAxonMap(record model.AxonMapRecord) model.AxonMapRecord {
	record.Offsets = append([]int(nil), record.Offsets...)
	record.Sources = append([]int(nil), record.Sources...)
	record.Weights = append([]float64(nil), record.Weights...)
	return record
}
