package core

import (
	"context"
	"errors"
	"testing"

	"scenesync/pkg/domain"
)

func TestGarbageCollectReleasedChildOnce(t *testing.T) {
	s, store, _ := openSession(t)
	ctx := context.Background()
	s1 := mustNew(t, s, domain.KindSurface)
	s2 := mustNew(t, s, domain.KindSurface)
	grp := mustNew(t, s, domain.KindGroup)
	mustCommit(t, s, s1, s2)
	mustSet(t, s, grp, "surface", RefArray(s1, s2))
	mustCommit(t, s, grp)
	mustFlush(t, s)
	mustSet(t, s, grp, "surface", RefArray(s2))
	mustCommit(t, s, grp)
	mustFlush(t, s)

	id1 := identityOf(t, s, s1)
	if err := s.Release(s1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := s.Object(s1); ok {
		t.Fatalf("released handle should be invalid")
	}
	deleted, err := s.GarbageCollect(ctx)
	if err != nil || deleted != 1 {
		t.Fatalf("expected one deletion, got %d %v", deleted, err)
	}
	if store.Has(id1) {
		t.Fatalf("expected orphaned surface deleted")
	}
	deleted, err = s.GarbageCollect(ctx)
	if err != nil || deleted != 0 {
		t.Fatalf("second collection should be a no-op, got %d %v", deleted, err)
	}
	if !store.Has(identityOf(t, s, s2)) {
		t.Fatalf("surface still in the group must survive")
	}
}

func TestGarbageCollectRequiresLostParentsAndHandle(t *testing.T) {
	ctx := context.Background()
	t.Run("privatized child survives", func(t *testing.T) {
		s, store, _ := openSession(t)
		sf := mustNew(t, s, domain.KindSurface)
		grp := mustNew(t, s, domain.KindGroup)
		mustCommit(t, s, sf)
		mustSet(t, s, grp, "surface", RefArray(sf))
		mustCommit(t, s, grp)
		mustFlush(t, s)
		o := object(t, s, sf)
		id := o.Identity()

		if err := s.Release(sf); err != nil {
			t.Fatalf("release: %v", err)
		}
		if !o.Privatized() {
			t.Fatalf("expected privatized surface, refs %d/%d", o.PublicRefs(), o.InternalRefs())
		}
		if n, _ := s.GarbageCollect(ctx); n != 0 || !store.Has(id) {
			t.Fatalf("referenced surface must not be collected")
		}

		mustSet(t, s, grp, "surface", RefArray())
		mustCommit(t, s, grp)
		mustFlush(t, s)
		if store.Has(id) {
			t.Fatalf("expected flush to collect the surface once its last parent let go")
		}
	})
	t.Run("held handle survives", func(t *testing.T) {
		s, store, _ := openSession(t)
		sf := mustNew(t, s, domain.KindSurface)
		grp := mustNew(t, s, domain.KindGroup)
		mustCommit(t, s, sf)
		mustSet(t, s, grp, "surface", RefArray(sf))
		mustCommit(t, s, grp)
		mustFlush(t, s)
		mustSet(t, s, grp, "surface", RefArray())
		mustCommit(t, s, grp)
		mustFlush(t, s)
		if n, _ := s.GarbageCollect(ctx); n != 0 || !store.Has(identityOf(t, s, sf)) {
			t.Fatalf("surface with a live handle must not be collected")
		}
	})
}

func TestGarbageCollectDoesNotCascade(t *testing.T) {
	s, store, _ := openSession(t)
	g := mustNew(t, s, domain.KindGeometry)
	sf := mustNew(t, s, domain.KindSurface)
	mustCommit(t, s, g)
	mustSet(t, s, sf, "geometry", Ref(g))
	mustCommit(t, s, sf)
	mustFlush(t, s)
	gid, sid := identityOf(t, s, g), identityOf(t, s, sf)

	if err := s.Release(sf); err != nil {
		t.Fatalf("release surface: %v", err)
	}
	if n, _ := s.GarbageCollect(context.Background()); n != 1 {
		t.Fatalf("expected only the surface collected, got %d", n)
	}
	if store.Has(sid) || !store.Has(gid) {
		t.Fatalf("geometry with a live handle must survive its parent")
	}
	if object(t, s, g).InternalRefs() != 0 {
		t.Fatalf("expected dead surface to drop its geometry reference")
	}
}

func TestGarbageCollectReportsStoreFailure(t *testing.T) {
	store := &failingDeleteStore{countingStore: newCountingStore()}
	s, log := openSessionOn(t, store)
	g := mustNew(t, s, domain.KindGeometry)
	mustCommit(t, s, g)
	mustFlush(t, s)
	if err := s.Release(g); err != nil {
		t.Fatalf("release: %v", err)
	}
	_, err := s.GarbageCollect(context.Background())
	var serr domain.StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(log.withCode(domain.CodeStore)) != 1 {
		t.Fatalf("expected store failure reported, got %+v", log.all())
	}
	if s.Tracked() != 1 {
		t.Fatalf("object whose deletion failed stays tracked, got %d", s.Tracked())
	}
}

type failingDeleteStore struct {
	*countingStore
}

func (f *failingDeleteStore) DeleteEntity(domain.Identity) error {
	return errors.New("disk full")
}
