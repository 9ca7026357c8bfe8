package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"scenesync/internal/infra/persistence/postgres/testutil"
	"scenesync/pkg/domain"
)

func newStubStore(t *testing.T) (*Store, *testutil.Conn) {
	t.Helper()
	db, conn := testutil.NewDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestNewStoreEnsuresTables(t *testing.T) {
	_, conn := newStubStore(t)
	var created int
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE") {
			created++
		}
	}
	if created != 2 {
		t.Fatalf("expected two CREATE TABLE statements, got %d: %v", created, conn.Execs)
	}
}

func TestSaveAndReopenPartition(t *testing.T) {
	ctx := context.Background()
	store, conn := newStubStore(t)
	if err := store.Save(ctx); err == nil {
		t.Fatalf("expected save before open to fail")
	}
	if err := store.Open(ctx, domain.OpenSettings{Partition: "Session_0", Fresh: true}); err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := store.CreateEntity(domain.KindSurface, "/surfaces/Surface_0")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.WriteReference(id, "geometry", []domain.Identity{"/geometries/Geometry_0"}, 0, false); err != nil {
		t.Fatalf("write ref: %v", err)
	}
	if err := store.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if rows := conn.Rows("documents"); len(rows) != 1 || rows[0] != "Session_0" {
		t.Fatalf("expected one persisted document row, got %v", rows)
	}

	// a second partition must not leak into the first on reopen
	_ = store.Open(ctx, domain.OpenSettings{Partition: "Session_1", Fresh: true})
	_ = store.Save(ctx)

	if err := store.Open(ctx, domain.OpenSettings{Partition: "Session_0"}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rt, ok := store.Reference(id, "geometry")
	if !ok {
		t.Fatalf("reference lost after reopen")
	}
	if targets, _ := rt.TargetsAt(0); len(targets) != 1 || targets[0] != "/geometries/Geometry_0" {
		t.Fatalf("unexpected targets %v", targets)
	}
	if store.Partition() != "Session_0" {
		t.Fatalf("unexpected partition %s", store.Partition())
	}
}

func TestPartitionsIncludeSceneIndexes(t *testing.T) {
	ctx := context.Background()
	store, _ := newStubStore(t)
	_ = store.Open(ctx, domain.OpenSettings{Partition: "Session_4/rank_0", Fresh: true})
	if err := store.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.WriteSceneIndex(ctx, domain.SceneIndexPartition(4), []string{"Session_4/rank_0"}); err != nil {
		t.Fatalf("write index: %v", err)
	}
	parts, err := store.Partitions(ctx)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("unexpected partitions %v", parts)
	}
	if n := domain.NextSessionNumber(parts, false); n != 4 {
		t.Fatalf("expected latest session 4, got %d", n)
	}
}

func TestSaveFailures(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		setup func(*testutil.Conn)
	}{
		{"begin", func(c *testutil.Conn) { c.Fail[testutil.FailBegin] = true }},
		{"commit", func(c *testutil.Conn) { c.Fail[testutil.FailCommit] = true }},
		{"exec", func(c *testutil.Conn) { c.Fail["documents"] = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, conn := newStubStore(t)
			_ = store.Open(ctx, domain.OpenSettings{Partition: "Session_0", Fresh: true})
			tc.setup(conn)
			if err := store.Save(ctx); err == nil {
				t.Fatalf("expected save failure")
			}
		})
	}
}

func TestNewStoreOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("dial fail") })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://example"); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestNewStorePingError(t *testing.T) {
	db, conn := testutil.NewDB()
	conn.Fail[testutil.FailPing] = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatalf("expected ping error")
	}
}
