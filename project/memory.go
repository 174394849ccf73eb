package project

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local Store used in tests and single-node demo
// deployments. State lives for the lifetime of the struct; construct at
// startup, drop at shutdown.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*Project
	locks    *keyedMutex
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]*Project),
		locks:    newKeyedMutex(),
	}
}

// Create persists a new project.
func (s *MemoryStore) Create(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return ErrExists
	}
	s.projects[p.ID] = p.Clone()
	return nil
}

// Get returns a copy of the stored project.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Update applies fn under the per-project lock.
func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Project) error) (*Project, error) {
	lock := s.locks.lock(id)
	defer lock.Unlock()

	s.mu.RLock()
	stored, ok := s.projects[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	working := stored.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.projects[id] = working
	s.mu.Unlock()
	return working.Clone(), nil
}

// List returns copies of all stored projects ordered by creation time.
func (s *MemoryStore) List(ctx context.Context) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
