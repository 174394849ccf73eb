package project

import (
	"context"
	"errors"
	"sync"
)

// Store is the authoritative off-chain record of projects. Implementations
// must serialize read-modify-write access per project identifier; operations
// on distinct projects may proceed in parallel.
type Store interface {
	// Create persists a new project. ErrExists when the id is taken.
	Create(ctx context.Context, p *Project) error
	// Get returns a copy of the stored project. ErrNotFound when unknown.
	Get(ctx context.Context, id string) (*Project, error)
	// Update applies fn to the stored project under the per-project lock and
	// persists the result when fn returns nil. fn receives a private copy and
	// must not retain it; a non-nil error aborts the write.
	Update(ctx context.Context, id string, fn func(*Project) error) (*Project, error)
	// List returns copies of all stored projects.
	List(ctx context.Context) ([]*Project, error)
}

var (
	// ErrNotFound marks lookups of unknown project identifiers.
	ErrNotFound = errors.New("project: not found")
	// ErrExists marks creation attempts with a taken identifier.
	ErrExists = errors.New("project: already exists")
)

// keyedMutex provides one mutex per project identifier.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(id string) *sync.Mutex {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m
}
