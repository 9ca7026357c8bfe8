// Package blobdoc persists scene document partitions as JSON objects in a
// blob store (filesystem, S3 or memory).
package blobdoc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"scenesync/internal/blob"
	"scenesync/internal/infra/persistence/memory"
	"scenesync/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.DocumentStore    = (*Store)(nil)
	_ domain.SessionCatalog   = (*Store)(nil)
	_ domain.SceneIndexWriter = (*Store)(nil)
)

const (
	// DocumentFile is the object name of a partition's scene snapshot.
	DocumentFile = "scene.json"
	// IndexFile is the object name of a parallel session's index.
	IndexFile   = "partitions.json"
	contentType = "application/json"
)

// Store edits an in-memory document and writes it to
// <partition>/scene.json on Save.
type Store struct {
	*memory.Document
	blobs blob.Store
	mu    sync.Mutex
	open  bool
}

// New wraps a blob store.
func New(blobs blob.Store) *Store {
	return &Store{Document: memory.NewDocument(""), blobs: blobs}
}

// Blobs returns the underlying blob store.
func (s *Store) Blobs() blob.Store { return s.blobs }

// DocumentKey returns the object key holding a partition's snapshot.
func DocumentKey(partition string) string {
	return strings.Trim(partition, "/") + "/" + DocumentFile
}

// Open binds the document to a partition and loads the saved snapshot unless
// settings.Fresh is set.
func (s *Store) Open(ctx context.Context, settings domain.OpenSettings) error {
	if settings.Partition == "" {
		return fmt.Errorf("open blob store: empty partition")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reset(settings.Partition)
	if !settings.Fresh {
		if err := s.load(ctx, settings.Partition); err != nil {
			return err
		}
	}
	s.open = true
	return nil
}

func (s *Store) load(ctx context.Context, partition string) error {
	_, rc, err := s.blobs.Get(ctx, DocumentKey(partition))
	if errors.Is(err, blob.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", partition, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", partition, err)
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode %s: %w", partition, err)
	}
	snap.Partition = partition
	s.Import(snap)
	return nil
}

// Save writes the current snapshot, replacing the previous one.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errors.New("save blob store: not open")
	}
	snap := s.Export()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if _, err := s.blobs.Put(ctx, DocumentKey(snap.Partition), bytes.NewReader(data), blob.PutOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("save %s: %w", snap.Partition, err)
	}
	return nil
}

// Close unbinds the partition.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

// Partitions lists every partition holding a snapshot or a scene index.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	infos, err := s.blobs.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	var out []string
	for _, info := range infos {
		for _, suffix := range []string{"/" + DocumentFile, "/" + IndexFile} {
			if p, ok := strings.CutSuffix(info.Key, suffix); ok {
				out = append(out, p)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// WriteSceneIndex writes the rank partitions of a parallel session.
func (s *Store) WriteSceneIndex(ctx context.Context, session string, partitions []string) error {
	data, err := json.Marshal(partitions)
	if err != nil {
		return fmt.Errorf("encode scene index: %w", err)
	}
	key := strings.Trim(session, "/") + "/" + IndexFile
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("write scene index %s: %w", session, err)
	}
	return nil
}
