package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"scenesync/internal/blob/core"
)

func TestMockStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	if s.Driver() != core.DriverS3 {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	for _, body := range []string{`{"v":1}`, `{"v":2}`} {
		if _, err := s.Put(ctx, "Session_0/scene.json", bytes.NewReader([]byte(body)), core.PutOptions{ContentType: "application/json"}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	_, rc, err := s.Get(ctx, "Session_0/scene.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != `{"v":2}` {
		t.Fatalf("put must overwrite, got %q", data)
	}
	if _, _, err := s.Get(ctx, "missing.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ok, err := s.Delete(ctx, "Session_0/scene.json")
	if err != nil || !ok {
		t.Fatalf("delete existing: %v %v", ok, err)
	}
	ok, err = s.Delete(ctx, "Session_0/scene.json")
	if err != nil || ok {
		t.Fatalf("delete missing: %v %v", ok, err)
	}
}

func TestMockStoreListPaginates(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("Session_%d/scene.json", i)
		if _, err := s.Put(ctx, key, bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	_, _ = s.Put(ctx, "other/file", bytes.NewReader([]byte("x")), core.PutOptions{})
	list, err := s.List(ctx, "Session_")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("expected 5 objects across pages, got %d", len(list))
	}
	if list[0].Key != "Session_0/scene.json" || list[4].Key != "Session_4/scene.json" {
		t.Fatalf("unexpected ordering %+v", list)
	}
}

func TestDecodeChunked(t *testing.T) {
	payload := []byte("5\r\nhello\r\n0\r\nx-amz-checksum-crc32:abc\r\n\r\n")
	got, ok := decodeChunked(payload)
	if !ok || string(got) != "hello" {
		t.Fatalf("decodeChunked = %q %v", got, ok)
	}
	if _, ok := decodeChunked([]byte(`{"plain":true}`)); ok {
		t.Fatalf("plain payload must not decode")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	t.Setenv("SCENESYNC_BLOB_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected env bucket error")
	}
}
