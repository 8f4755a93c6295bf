package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/store"
)

// MemoryStore is an in-memory store.Backend with failure injection.
//
// Records are cloned on the way in and out so tests cannot alias stored
// state. Seed bypasses failure injection and the operation log.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryStore struct {
	mu       sync.Mutex
	machines map[string]*model.Machine
	datasets map[string]*model.ReferenceDataset

	failSaveOn   map[string]error
	failDeleteOn map[string]error
	failAfter    int
	failAfterErr error
	saveCount    int

	saves   []string
	deletes []string
}

var _ store.Backend = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		machines:     make(map[string]*model.Machine),
		datasets:     make(map[string]*model.ReferenceDataset),
		failSaveOn:   make(map[string]error),
		failDeleteOn: make(map[string]error),
		failAfter:    -1,
	}
}

// Seed stores machines without recording or failing.
func (s *MemoryStore) Seed(machines ...*model.Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range machines {
		s.machines[m.ID] = m.Clone()
	}
}

// SeedDataset stores a dataset without recording or failing.
func (s *MemoryStore) SeedDataset(ds *model.ReferenceDataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ds
	s.datasets[ds.MachineID] = &cp
}

// FailSaveOn makes every SaveMachine for id return err. A nil err clears
// the failure.
func (s *MemoryStore) FailSaveOn(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failSaveOn, id)
		return
	}
	s.failSaveOn[id] = err
}

// FailSaveAfter lets n SaveMachine calls succeed and fails every later one.
func (s *MemoryStore) FailSaveAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.failAfterErr = err
}

// FailDeleteOn makes every DeleteMachine for id return err. A nil err
// clears the failure.
func (s *MemoryStore) FailDeleteOn(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failDeleteOn, id)
		return
	}
	s.failDeleteOn[id] = err
}

// Saves returns the IDs of successful SaveMachine calls in order.
func (s *MemoryStore) Saves() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saves...)
}

// Deletes returns the IDs passed to DeleteMachine in order, including
// failed attempts.
func (s *MemoryStore) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

// IDs returns the stored machine IDs in order.
func (s *MemoryStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.machines))
	for id := range s.machines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetMachine implements store.MachineStore.
func (s *MemoryStore) GetMachine(_ context.Context, id string) (*model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

// SaveMachine implements store.MachineStore.
func (s *MemoryStore) SaveMachine(_ context.Context, m *model.Machine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failSaveOn[m.ID]; ok {
		return err
	}
	if s.failAfter >= 0 && s.saveCount >= s.failAfter {
		return s.failAfterErr
	}
	s.saveCount++
	s.machines[m.ID] = m.Clone()
	s.saves = append(s.saves, m.ID)
	return nil
}

// DeleteMachine implements store.MachineStore.
func (s *MemoryStore) DeleteMachine(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	if err, ok := s.failDeleteOn[id]; ok {
		return err
	}
	delete(s.machines, id)
	delete(s.datasets, id)
	return nil
}

// ListMachines implements store.MachineStore.
func (s *MemoryStore) ListMachines(_ context.Context) ([]*model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetDataset implements store.DatasetStore.
func (s *MemoryStore) GetDataset(_ context.Context, machineID string) (*model.ReferenceDataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[machineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ds
	return &cp, nil
}

// SaveDataset implements store.DatasetStore.
func (s *MemoryStore) SaveDataset(_ context.Context, ds *model.ReferenceDataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.machines[ds.MachineID]; !ok {
		return store.ErrNotFound
	}
	cp := *ds
	s.datasets[ds.MachineID] = &cp
	return nil
}

// Close implements store.Backend.
func (s *MemoryStore) Close() error {
	return nil
}
