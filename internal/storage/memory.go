package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"metahdr/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	evaluations map[string]model.EvaluationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.evaluations = make(map[string]model.EvaluationRecord)
	return nil
}

func (s *MemoryStore) SaveEvaluation(_ context.Context, record model.EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.evaluations[record.RunID] = copyEvaluation(record)
	return nil
}

func (s *MemoryStore) GetEvaluation(_ context.Context, runID string) (model.EvaluationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.evaluations[runID]
	if !ok {
		return model.EvaluationRecord{}, false, nil
	}
	return copyEvaluation(record), true, nil
}

func (s *MemoryStore) ListEvaluations(_ context.Context) ([]model.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.EvaluationRecord, 0, len(s.evaluations))
	for _, record := range s.evaluations {
		out = append(out, copyEvaluation(record))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUTC != out[j].CreatedAtUTC {
			return out[i].CreatedAtUTC > out[j].CreatedAtUTC
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

func copyEvaluation(record model.EvaluationRecord) model.EvaluationRecord {
	modes := make([]model.ModeResult, len(record.Modes))
	for i, mode := range record.Modes {
		perTask := make([]model.TaskMetric, len(mode.PerTask))
		for j, metric := range mode.PerTask {
			metric.Query = append([]int(nil), metric.Query...)
			perTask[j] = metric
		}
		mode.PerTask = perTask
		modes[i] = mode
	}
	record.Modes = modes
	return record
}
