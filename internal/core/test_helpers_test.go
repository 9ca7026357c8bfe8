package core

import (
	"context"
	"strings"
	"sync"
	"testing"

	"scenesync/internal/infra/persistence/memory"
	"scenesync/pkg/domain"
)

type statusLog struct {
	mu       sync.Mutex
	statuses []domain.Status
}

func (l *statusLog) record(st domain.Status) {
	l.mu.Lock()
	l.statuses = append(l.statuses, st)
	l.mu.Unlock()
}

func (l *statusLog) all() []domain.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Status, len(l.statuses))
	copy(out, l.statuses)
	return out
}

func (l *statusLog) withCode(code domain.StatusCode) []domain.Status {
	var out []domain.Status
	for _, st := range l.all() {
		if st.Code == code {
			out = append(out, st)
		}
	}
	return out
}

// openSession returns an open session over a fresh memory store.
func openSession(t *testing.T, opts ...SessionOption) (*Session, *memory.Store, *statusLog) {
	t.Helper()
	store := memory.NewStore()
	s, log := openSessionOn(t, store, opts...)
	return s, store, log
}

func openSessionOn(t *testing.T, store domain.DocumentStore, opts ...SessionOption) (*Session, *statusLog) {
	t.Helper()
	log := &statusLog{}
	opts = append([]SessionOption{WithStatusFunc(log.record)}, opts...)
	s := NewSession(store, opts...)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open session: %v", err)
	}
	return s, log
}

func mustNew(t *testing.T, s *Session, kind domain.Kind, opts ...ObjectOption) Handle {
	t.Helper()
	h, err := s.NewObject(kind, opts...)
	if err != nil {
		t.Fatalf("new %s: %v", kind, err)
	}
	return h
}

func mustSet(t *testing.T, s *Session, h Handle, name string, p Param) {
	t.Helper()
	if err := s.SetParam(h, name, p); err != nil {
		t.Fatalf("set %s: %v", name, err)
	}
}

func mustCommit(t *testing.T, s *Session, hs ...Handle) {
	t.Helper()
	for _, h := range hs {
		if err := s.Commit(h); err != nil {
			t.Fatalf("commit %d: %v", h, err)
		}
	}
}

func mustFlush(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func mustTimeStep(t *testing.T, s *Session, step float64) {
	t.Helper()
	if err := s.SetDeviceParam(context.Background(), DeviceTimeStep, Float(step)); err != nil {
		t.Fatalf("set time step: %v", err)
	}
}

func object(t *testing.T, s *Session, h Handle) *Object {
	t.Helper()
	o, ok := s.Object(h)
	if !ok {
		t.Fatalf("handle %d not live", h)
	}
	return o
}

func identityOf(t *testing.T, s *Session, h Handle) domain.Identity {
	t.Helper()
	return object(t, s, h).Identity()
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

// countingStore counts entity creations.
type countingStore struct {
	*memory.Store
	creates map[string]int
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.NewStore(), creates: make(map[string]int)}
}

func (c *countingStore) CreateEntity(kind domain.Kind, path string) (domain.Identity, error) {
	c.creates[path]++
	return c.Store.CreateEntity(kind, path)
}
