package core

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"scenesync/internal/infra/persistence/memory"
	"scenesync/internal/parallel"
	"scenesync/pkg/domain"
)

func TestSessionNumbering(t *testing.T) {
	ctx := context.Background()
	shelf := memory.NewShelf()

	first, _ := openSessionOn(t, memory.NewSharedStore(shelf))
	if first.SessionNumber() != 0 || first.Partition() != "Session_0" {
		t.Fatalf("expected first session 0, got %d %s", first.SessionNumber(), first.Partition())
	}
	g := mustNew(t, first, domain.KindGeometry)
	mustCommit(t, first, g)
	if err := first.RenderFrame(ctx); err != nil {
		t.Fatalf("render frame: %v", err)
	}

	second, _ := openSessionOn(t, memory.NewSharedStore(shelf))
	if second.SessionNumber() != 1 {
		t.Fatalf("expected new session number 1, got %d", second.SessionNumber())
	}
	if second.RunID() == "" || second.RunID() == first.RunID() {
		t.Fatalf("expected distinct run ids, got %q %q", first.RunID(), second.RunID())
	}

	cfg := DefaultConfig()
	cfg.CreateNewSession = false
	reuse := memory.NewSharedStore(shelf)
	third, log := openSessionOn(t, reuse, WithConfig(cfg))
	if third.SessionNumber() != 0 {
		t.Fatalf("expected latest session reused, got %d", third.SessionNumber())
	}
	if !reuse.Has("/geometries/Geometry_0") {
		t.Fatalf("expected saved content loaded when reusing a session")
	}
	g2 := mustNew(t, third, domain.KindGeometry)
	mustSet(t, third, g2, "radius", Float(5))
	mustCommit(t, third, g2)
	mustFlush(t, third)
	if got := log.all(); len(got) != 0 {
		t.Fatalf("adopting an existing entity should be silent, got %+v", got)
	}
	if identityOf(t, third, g2) != "/geometries/Geometry_0" {
		t.Fatalf("expected existing entity adopted")
	}
}

func TestSessionParallelRanks(t *testing.T) {
	shelf := memory.NewShelf()
	var (
		mu    sync.Mutex
		parts = map[int]string{}
	)
	err := parallel.Run(context.Background(), 3, func(ctx context.Context, coord domain.Coordinator) error {
		s := NewSession(memory.NewSharedStore(shelf), WithCoordinator(coord))
		if err := s.Open(ctx); err != nil {
			return err
		}
		if _, err := s.NewObject(domain.KindGeometry, WithParam("radius", Float(float64(coord.Rank())))); err != nil {
			return err
		}
		if err := s.RenderFrame(ctx); err != nil {
			return err
		}
		mu.Lock()
		parts[coord.Rank()] = s.Partition()
		mu.Unlock()
		return s.Close(ctx)
	})
	if err != nil {
		t.Fatalf("parallel run: %v", err)
	}
	for rank := 0; rank < 3; rank++ {
		want := domain.RankPartition(0, rank, 3)
		if parts[rank] != want {
			t.Fatalf("rank %d wrote %s, want %s", rank, parts[rank], want)
		}
		if _, ok := shelf.Saved(want); !ok {
			t.Fatalf("expected %s saved", want)
		}
	}
	index, ok := shelf.SceneIndex("Session_0")
	if !ok || !slices.Equal(index, []string{"Session_0/rank_0", "Session_0/rank_1", "Session_0/rank_2"}) {
		t.Fatalf("unexpected scene index %v", index)
	}
}

func TestSessionWriteAtCommit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteAtCommit = true
	s, store, _ := openSession(t, WithConfig(cfg))
	g := mustNew(t, s, domain.KindGeometry)
	mustSet(t, s, g, "radius", Float(2))
	mustCommit(t, s, g)
	if s.Pending() != 0 {
		t.Fatalf("object without references should not wait for the flush")
	}
	if _, ok := store.Attribute(identityOf(t, s, g), "radius"); !ok {
		t.Fatalf("expected data written at commit")
	}

	sf := mustNew(t, s, domain.KindSurface)
	mustSet(t, s, sf, "geometry", Ref(g))
	mustCommit(t, s, sf)
	sid := identityOf(t, s, sf)
	if sid.IsZero() || s.Pending() != 1 {
		t.Fatalf("expected surface created and queued for references, pending %d", s.Pending())
	}
	if _, ok := store.Reference(sid, "geometry"); ok {
		t.Fatalf("references wait for the flush")
	}
	mustFlush(t, s)
	if _, ok := store.Reference(sid, "geometry"); !ok {
		t.Fatalf("expected references written by the flush")
	}

	orphan := mustNew(t, s, domain.KindGeometry)
	deferred := mustNew(t, s, domain.KindSurface)
	mustSet(t, s, deferred, "geometry", Ref(orphan))
	mustCommit(t, s, deferred)
	if !identityOf(t, s, deferred).IsZero() || s.Pending() != 1 {
		t.Fatalf("deferred object should be queued for a full commit")
	}
}

func TestSessionFlushSingleFlight(t *testing.T) {
	store := &blockingStore{Store: memory.NewStore(), entered: make(chan struct{}), release: make(chan struct{})}
	s, _ := openSessionOn(t, store)
	g := mustNew(t, s, domain.KindGeometry)
	mustCommit(t, s, g)

	done := make(chan error, 1)
	go func() { done <- s.Flush(context.Background()) }()
	<-store.entered
	if err := s.Flush(context.Background()); !errors.Is(err, ErrFlushInProgress) {
		t.Fatalf("expected ErrFlushInProgress, got %v", err)
	}
	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("first flush: %v", err)
	}
}

type blockingStore struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) CreateEntity(kind domain.Kind, path string) (domain.Identity, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Store.CreateEntity(kind, path)
}

func TestSessionOpenFailureLeavesSessionUnusable(t *testing.T) {
	store := &failingOpenStore{Store: memory.NewStore(), err: errors.New("permission denied")}
	log := &statusLog{}
	s := NewSession(store, WithStatusFunc(log.record))
	err := s.Open(context.Background())
	var serr domain.StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("expected store error, got %v", err)
	}
	if s.IsOpen() {
		t.Fatalf("session must not be open after a failed open")
	}
	if err := s.Flush(context.Background()); !errors.Is(err, ErrSessionUnusable) {
		t.Fatalf("expected unusable session, got %v", err)
	}
	if len(log.withCode(domain.CodeStore)) != 1 {
		t.Fatalf("expected store failure reported, got %+v", log.all())
	}

	store.err = nil
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("retry open: %v", err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush after successful open: %v", err)
	}
}

type failingOpenStore struct {
	*memory.Store
	err error
}

func (f *failingOpenStore) Open(ctx context.Context, settings domain.OpenSettings) error {
	if f.err != nil {
		return f.err
	}
	return f.Store.Open(ctx, settings)
}

func TestSessionIntegrityErrorIsFatal(t *testing.T) {
	s, _, log := openSession(t)
	g := mustNew(t, s, domain.KindGeometry)
	if err := s.Release(g); err != nil {
		t.Fatalf("first release: %v", err)
	}
	err := s.Release(g)
	var ierr domain.IntegrityError
	if !errors.As(err, &ierr) || !errors.Is(err, ErrSessionUnusable) {
		t.Fatalf("expected fatal integrity error, got %v", err)
	}
	if s.Err() == nil {
		t.Fatalf("expected session to record the fatal error")
	}
	last, ok := s.Status().LastStatus()
	if !ok || last.Severity != domain.SeverityFatal || last.Code != domain.CodeIntegrity {
		t.Fatalf("unexpected last status %+v", last)
	}
	if len(log.withCode(domain.CodeIntegrity)) != 1 {
		t.Fatalf("expected integrity status forwarded")
	}
	if _, err := s.NewObject(domain.KindGeometry); !errors.Is(err, ErrSessionUnusable) {
		t.Fatalf("expected further operations refused, got %v", err)
	}
	if err := s.Flush(context.Background()); !errors.Is(err, ErrSessionUnusable) {
		t.Fatalf("expected flush refused, got %v", err)
	}
}

func TestSessionRetainRelease(t *testing.T) {
	s, _, _ := openSession(t)
	g := mustNew(t, s, domain.KindGeometry)
	if err := s.Retain(g); err != nil {
		t.Fatalf("retain: %v", err)
	}
	if err := s.Release(g); err != nil {
		t.Fatalf("release: %v", err)
	}
	if o := object(t, s, g); o.PublicRefs() != 1 {
		t.Fatalf("expected one public ref left, got %d", o.PublicRefs())
	}
	if err := s.Release(g); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.Retain(g); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected invalid handle after last release, got %v", err)
	}
}

func TestSessionSetParamErrors(t *testing.T) {
	s, _, log := openSession(t)
	sf := mustNew(t, s, domain.KindSurface)
	m := mustNew(t, s, domain.KindMaterial)

	err := s.SetParam(sf, "geometry", Ref(m))
	var terr domain.TypeError
	if !errors.As(err, &terr) {
		t.Fatalf("expected type error for material in geometry slot, got %v", err)
	}
	if err := s.SetParam(sf, "geometry", Ref(999)); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected invalid handle, got %v", err)
	}
	if err := s.SetParam(999, "geometry", Ref(m)); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected invalid handle for unknown object, got %v", err)
	}
	if err := s.ResetParam(sf, "unknown"); err == nil {
		t.Fatalf("expected error resetting unknown param")
	}
	if got := len(log.withCode(domain.CodeInvalidArgument)); got != 3 {
		t.Fatalf("expected 3 invalid argument diagnostics, got %d: %+v", got, log.all())
	}
	if s.Err() != nil {
		t.Fatalf("type errors are not fatal")
	}
	if _, err := s.NewObject(domain.Kind("teapot")); err == nil {
		t.Fatalf("expected unknown kind rejected")
	}
}

func TestSessionDeviceParams(t *testing.T) {
	ctx := context.Background()
	s, store, _ := openSession(t)

	mustTimeStep(t, s, 2)
	if start, end, ok := store.TimeRange(); !ok || start != 0 || end != 2 {
		t.Fatalf("expected active time range 0..2, got %v %v %v", start, end, ok)
	}
	if err := s.SetDeviceParam(ctx, DeviceTimeStep, String("soon")); err == nil {
		t.Fatalf("expected type error for string time step")
	}
	if s.Config().TimeStep != 2 {
		t.Fatalf("rejected time step must not apply")
	}

	for _, tc := range []struct {
		name string
		get  func(Config) bool
	}{
		{DeviceWriteAtCommit, func(c Config) bool { return c.WriteAtCommit }},
		{DeviceCreateNewSession, func(c Config) bool { return c.CreateNewSession }},
		{DeviceEnableSaving, func(c Config) bool { return c.EnableSaving }},
	} {
		want := !tc.get(s.Config())
		if err := s.SetDeviceParam(ctx, tc.name, Bool(want)); err != nil {
			t.Fatalf("set %s: %v", tc.name, err)
		}
		if tc.get(s.Config()) != want {
			t.Fatalf("%s not applied", tc.name)
		}
	}
	if err := s.SetDeviceParam(ctx, DeviceOutputLocation, String("/tmp/out")); err != nil || s.Config().OutputLocation != "/tmp/out" {
		t.Fatalf("output location not applied: %v", err)
	}

	mustNew(t, s, domain.KindCamera)
	if s.Names().Len() != 1 {
		t.Fatalf("expected one reserved name")
	}
	if err := s.SetDeviceParam(ctx, DeviceRemoveUnusedNames, Bool(true)); err != nil {
		t.Fatalf("remove unused names: %v", err)
	}
	if s.Names().Len() != 0 {
		t.Fatalf("expected names cleared")
	}

	g := mustNew(t, s, domain.KindGeometry)
	mustCommit(t, s, g)
	mustFlush(t, s)
	id := identityOf(t, s, g)
	if err := s.Release(g); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.SetDeviceParam(ctx, DeviceGarbageCollect, Bool(true)); err != nil {
		t.Fatalf("garbage collect: %v", err)
	}
	if store.Has(id) {
		t.Fatalf("expected garbage collection triggered by device param")
	}
	if err := s.SetDeviceParam(ctx, "usd::bogus", Bool(true)); err == nil {
		t.Fatalf("expected unknown device param rejected")
	}
}

func TestSessionRenderFrameSaves(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name      string
		saving    bool
		wantSaves int
	}{
		{"saving enabled", true, 1},
		{"saving disabled", false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.EnableSaving = tc.saving
			s, store, _ := openSession(t, WithConfig(cfg))
			c := mustNew(t, s, domain.KindCamera)
			mustCommit(t, s, c)
			if err := s.RenderFrame(ctx); err != nil {
				t.Fatalf("render frame: %v", err)
			}
			if store.Saves() != tc.wantSaves {
				t.Fatalf("expected %d saves, got %d", tc.wantSaves, store.Saves())
			}
			if identityOf(t, s, c).IsZero() {
				t.Fatalf("render frame should flush")
			}
		})
	}
}

func TestSessionRequiresOpen(t *testing.T) {
	s := NewSession(nil)
	h, err := s.NewObject(domain.KindGeometry)
	if err != nil {
		t.Fatalf("objects can be built before open: %v", err)
	}
	mustCommit(t, s, h)
	if err := s.Flush(context.Background()); !errors.Is(err, ErrSessionUnusable) {
		t.Fatalf("expected flush before open refused, got %v", err)
	}
	if err := s.Save(context.Background()); !errors.Is(err, ErrSessionUnusable) {
		t.Fatalf("expected save before open refused, got %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	mustFlush(t, s)
	if identityOf(t, s, h).IsZero() {
		t.Fatalf("object committed before open should flush after open")
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.IsOpen() {
		t.Fatalf("expected closed session")
	}
}
