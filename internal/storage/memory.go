package storage

import (
	"context"
	"sync"

	"tilevolve/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	snapshots   map[int64]model.NetworkSnapshot
	best        map[string]model.NetworkSnapshot
	populations map[string]model.Population
	history     map[string][]float64
	diagnostics map[string][]model.GenerationDiagnostics
	lineage     map[string][]model.LineageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.snapshots = make(map[int64]model.NetworkSnapshot)
	s.best = make(map[string]model.NetworkSnapshot)
	s.populations = make(map[string]model.Population)
	s.history = make(map[string][]float64)
	s.diagnostics = make(map[string][]model.GenerationDiagnostics)
	s.lineage = make(map[string][]model.LineageRecord)
	return nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap model.NetworkSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.NetworkID] = snap.Clone()
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, networkID int64) (model.NetworkSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[networkID]
	if !ok {
		return model.NetworkSnapshot{}, false, nil
	}
	return snap.Clone(), true, nil
}

func (s *MemoryStore) SaveBestSnapshot(_ context.Context, runID string, snap model.NetworkSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.best[runID] = snap.Clone()
	return nil
}

func (s *MemoryStore) GetBestSnapshot(_ context.Context, runID string) (model.NetworkSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.best[runID]
	if !ok {
		return model.NetworkSnapshot{}, false, nil
	}
	return snap.Clone(), true, nil
}

func (s *MemoryStore) SavePopulation(_ context.Context, population model.Population) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.populations[population.RunID] = clonePopulation(population)
	return nil
}

func (s *MemoryStore) GetPopulation(_ context.Context, runID string) (model.Population, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	population, ok := s.populations[runID]
	if !ok {
		return model.Population{}, false, nil
	}
	return clonePopulation(population), true, nil
}

func (s *MemoryStore) DeletePopulation(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.populations, runID)
	return nil
}

func (s *MemoryStore) SaveFitnessHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := append([]float64(nil), history...)
	s.history[runID] = copied
	return nil
}

func (s *MemoryStore) GetFitnessHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	copied := append([]float64(nil), history...)
	return copied, true, nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.diagnostics[runID] = cloneDiagnostics(diagnostics)
	return nil
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneDiagnostics(diagnostics), true, nil
}

func (s *MemoryStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	s.lineage[runID] = copied
	return nil
}

func (s *MemoryStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lineage, ok := s.lineage[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	return copied, true, nil
}

func clonePopulation(p model.Population) model.Population {
	out := p
	out.Fitness = append([]float64(nil), p.Fitness...)
	out.Snapshots = make([]model.NetworkSnapshot, len(p.Snapshots))
	for i, snap := range p.Snapshots {
		out.Snapshots[i] = snap.Clone()
	}
	return out
}

func cloneDiagnostics(diagnostics []model.GenerationDiagnostics) []model.GenerationDiagnostics {
	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	for i, diag := range diagnostics {
		copied[i] = diag
		copied[i].EliteIDs = append([]int64(nil), diag.EliteIDs...)
	}
	return copied
}
