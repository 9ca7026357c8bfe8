package blobdoc

import (
	"context"
	"testing"

	"scenesync/internal/blob"
	"scenesync/pkg/domain"
)

func backends(t *testing.T) map[string]blob.Store {
	t.Helper()
	fsStore, err := blob.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	return map[string]blob.Store{
		"memory": blob.NewMemory(),
		"fs":     fsStore,
		"s3":     blob.NewMockS3ForTests(),
	}
}

func TestSaveReopenAcrossBackends(t *testing.T) {
	ctx := context.Background()
	for name, blobs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(blobs)
			if err := s.Save(ctx); err == nil {
				t.Fatalf("expected save before open to fail")
			}
			if err := s.Open(ctx, domain.OpenSettings{Partition: "Session_0", Fresh: true}); err != nil {
				t.Fatalf("open: %v", err)
			}
			id, err := s.CreateEntity(domain.KindLight, "/lights/Light_0")
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := s.WriteAttribute(id, "color", domain.Vec3Value(1, 0.5, 0), 0, false); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := s.Save(ctx); err != nil {
				t.Fatalf("save: %v", err)
			}
			if err := s.Save(ctx); err != nil {
				t.Fatalf("second save must overwrite: %v", err)
			}

			other := New(blobs)
			if err := other.Open(ctx, domain.OpenSettings{Partition: "Session_0"}); err != nil {
				t.Fatalf("reopen: %v", err)
			}
			tr, ok := other.Attribute(id, "color")
			if !ok || tr.Default == nil || !tr.Default.Equal(domain.Vec3Value(1, 0.5, 0)) {
				t.Fatalf("unexpected reloaded attribute %+v", tr)
			}
		})
	}
}

func TestPartitionsAndIndex(t *testing.T) {
	ctx := context.Background()
	s := New(blob.NewMemory())
	for _, p := range []string{"Session_0", "Session_1/rank_0", "Session_1/rank_1"} {
		_ = s.Open(ctx, domain.OpenSettings{Partition: p, Fresh: true})
		if err := s.Save(ctx); err != nil {
			t.Fatalf("save %s: %v", p, err)
		}
	}
	if err := s.WriteSceneIndex(ctx, domain.SceneIndexPartition(1), []string{"Session_1/rank_0", "Session_1/rank_1"}); err != nil {
		t.Fatalf("index: %v", err)
	}
	parts, err := s.Partitions(ctx)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	want := []string{"Session_0", "Session_1/ParallelScene", "Session_1/rank_0", "Session_1/rank_1"}
	if len(parts) != len(want) {
		t.Fatalf("partitions = %v, want %v", parts, want)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Fatalf("partitions = %v, want %v", parts, want)
		}
	}
	if DocumentKey("/Session_0/") != "Session_0/scene.json" {
		t.Fatalf("unexpected key %s", DocumentKey("/Session_0/"))
	}
}
