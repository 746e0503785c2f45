package tools

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Artifact is one generated output (an app document or a code run) kept so
// the model can reference it in conversation and the client can render it.
type Artifact struct {
	ID        string
	Kind      string // app | code
	Title     string
	Content   string
	Output    string
	Status    string // ready | ready_with_warnings | failed
	Warning   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ArtifactStore is an injected keyed store handle. Explicit injection (rather
// than a process-wide singleton) keeps tests isolated and leaves room for
// multi-tenant stores later.
type ArtifactStore interface {
	Put(a Artifact) Artifact
	Get(id string) (Artifact, bool)
	Update(id string, fn func(*Artifact)) (Artifact, error)
	List() []Artifact
}

// MemoryStore is the in-process ArtifactStore. A single mutex is enough for
// the single-writer-per-artifact deployment this serves.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Artifact
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Artifact)}
}

func (s *MemoryStore) Put(a Artifact) Artifact {
	now := time.Now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[a.ID]; !exists {
		s.order = append(s.order, a.ID)
	}
	s.items[a.ID] = a
	return a
}

func (s *MemoryStore) Get(id string) (Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	return a, ok
}

func (s *MemoryStore) Update(id string, fn func(*Artifact)) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return Artifact{}, fmt.Errorf("artifact %q not found", id)
	}
	fn(&a)
	a.UpdatedAt = time.Now()
	s.items[id] = a
	return a, nil
}

func (s *MemoryStore) List() []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Artifact, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}
