package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"scenesync/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.DocumentStore    = (*Store)(nil)
	_ domain.SessionCatalog   = (*Store)(nil)
	_ domain.SceneIndexWriter = (*Store)(nil)
)

// Store keeps saved partitions in process memory. Several stores may share one
// Shelf to model ranks writing into a common output location.
type Store struct {
	*Document
	shelf *Shelf
	mu    sync.Mutex
	open  bool
	saves int
}

// Shelf is the process-local durable layer behind memory stores.
type Shelf struct {
	mu      sync.RWMutex
	saved   map[string]Snapshot
	indexes map[string][]string
}

// NewShelf returns an empty shelf.
func NewShelf() *Shelf {
	return &Shelf{saved: make(map[string]Snapshot), indexes: make(map[string][]string)}
}

// Saved returns the last saved snapshot of partition.
func (sh *Shelf) Saved(partition string) (Snapshot, bool) {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	snap, ok := sh.saved[partition]
	return snap, ok
}

// SceneIndex returns the rank partitions recorded for a parallel session.
func (sh *Shelf) SceneIndex(session string) ([]string, bool) {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	parts, ok := sh.indexes[session]
	return slices.Clone(parts), ok
}

// NewStore constructs a store with a private shelf.
func NewStore() *Store {
	return NewSharedStore(NewShelf())
}

// NewSharedStore constructs a store backed by shelf.
func NewSharedStore(shelf *Shelf) *Store {
	if shelf == nil {
		shelf = NewShelf()
	}
	return &Store{Document: NewDocument(""), shelf: shelf}
}

// Shelf exposes the durable layer for inspection.
func (s *Store) Shelf() *Shelf { return s.shelf }

// Open binds the document to a partition, loading its saved content unless a
// fresh start is requested.
func (s *Store) Open(_ context.Context, settings domain.OpenSettings) error {
	if settings.Partition == "" {
		return fmt.Errorf("open memory store: empty partition")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.shelf.Saved(settings.Partition); ok && !settings.Fresh {
		s.Import(snap)
	} else {
		s.Reset(settings.Partition)
	}
	s.open = true
	return nil
}

// Close releases the partition binding.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

// Save copies the document onto the shelf.
func (s *Store) Save(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return fmt.Errorf("save memory store: not open")
	}
	snap := s.Export()
	s.shelf.mu.Lock()
	s.shelf.saved[snap.Partition] = snap
	s.shelf.mu.Unlock()
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Partitions lists saved partitions and scene indexes.
func (s *Store) Partitions(_ context.Context) ([]string, error) {
	s.shelf.mu.RLock()
	defer s.shelf.mu.RUnlock()
	out := make([]string, 0, len(s.shelf.saved)+len(s.shelf.indexes))
	for p := range s.shelf.saved {
		out = append(out, p)
	}
	for p := range s.shelf.indexes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// WriteSceneIndex records the rank partitions of a parallel session.
func (s *Store) WriteSceneIndex(_ context.Context, session string, partitions []string) error {
	s.shelf.mu.Lock()
	defer s.shelf.mu.Unlock()
	s.shelf.indexes[session] = slices.Clone(partitions)
	return nil
}
