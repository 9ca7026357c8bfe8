package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"scenesync/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "Session_0/scene.json", bytes.NewReader([]byte(`{"a":1}`)), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "Session_0/scene.json" || info.Size != 7 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	// overwrite replaces content
	if _, err := store.Put(ctx, "Session_0/scene.json", bytes.NewReader([]byte(`{}`)), core.PutOptions{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	_, rc, err := store.Get(ctx, "Session_0/scene.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != `{}` {
		t.Fatalf("unexpected content %q", data)
	}

	if _, err := store.Put(ctx, "Session_1/rank_0/scene.json", bytes.NewReader(nil), core.PutOptions{}); err != nil {
		t.Fatalf("put nested: %v", err)
	}
	list, err := store.List(ctx, "Session_1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "Session_1/rank_0/scene.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, _ := store.List(ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected two blobs, got %+v", all)
	}

	ok, err := store.Delete(ctx, "Session_0/scene.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "Session_0/scene.json")
	if err != nil || ok {
		t.Fatalf("second delete should report missing: %v %v", ok, err)
	}
	if _, _, err := store.Get(ctx, "Session_0/scene.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "  ", "../escape", "/abs", "a/../../b"} {
		if _, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestListSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if err := os.WriteFile(filepath.Join(store.Root(), tempPrefix+"leftover"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	list, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("temp files must not be listed: %+v", list)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
}
