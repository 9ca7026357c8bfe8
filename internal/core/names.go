package core

import (
	"fmt"
	"sync"
)

// NameAllocator hands out collision-free default names of the form base_N.
type NameAllocator struct {
	mu   sync.Mutex
	used map[string]struct{}
}

// NewNameAllocator returns an empty allocator.
func NewNameAllocator() *NameAllocator {
	return &NameAllocator{used: make(map[string]struct{})}
}

// Allocate reserves base_N for the smallest non-negative N not yet taken.
func (a *NameAllocator) Allocate(base string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for n := 0; ; n++ {
		name := fmt.Sprintf("%s_%d", base, n)
		if _, taken := a.used[name]; !taken {
			a.used[name] = struct{}{}
			return name
		}
	}
}

// Reserve registers an explicitly chosen name. It reports false when the
// name was already taken.
func (a *NameAllocator) Reserve(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.used[name]; taken {
		return false
	}
	a.used[name] = struct{}{}
	return true
}

// Registered reports whether name is reserved.
func (a *NameAllocator) Registered(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.used[name]
	return ok
}

// Forget releases one reservation.
func (a *NameAllocator) Forget(name string) {
	a.mu.Lock()
	delete(a.used, name)
	a.mu.Unlock()
}

// ClearAll releases every reservation.
func (a *NameAllocator) ClearAll() {
	a.mu.Lock()
	a.used = make(map[string]struct{})
	a.mu.Unlock()
}

// Len returns the number of reserved names.
func (a *NameAllocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}
