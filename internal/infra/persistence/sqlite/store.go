// Package sqlite persists scene document partitions to a SQLite database as
// JSON snapshots.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"scenesync/internal/infra/persistence/memory"
	"scenesync/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.DocumentStore    = (*Store)(nil)
	_ domain.SessionCatalog   = (*Store)(nil)
	_ domain.SceneIndexWriter = (*Store)(nil)
)

// Store edits an in-memory document and snapshots it into SQLite on Save.
// Each partition is one row.
type Store struct {
	*memory.Document
	db   *sql.DB
	mu   sync.Mutex
	path string
	open bool
}

// NewStore opens (creating if needed) the SQLite database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "scenesync.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS documents (
			partition TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scene_indexes (
			session TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		)`,
	} {
		if _, err := db.Exec(ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}
	return &Store{Document: memory.NewDocument(""), db: db, path: path}, nil
}

// Open binds the document to a partition and loads its last saved snapshot
// unless settings.Fresh is set.
func (s *Store) Open(ctx context.Context, settings domain.OpenSettings) error {
	if settings.Partition == "" {
		return fmt.Errorf("open sqlite store: empty partition")
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
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM documents WHERE partition = ?`, partition).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select document %s: %w", partition, err)
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return fmt.Errorf("decode document %s: %w", partition, err)
	}
	snap.Partition = partition
	s.Import(snap)
	return nil
}

// Save upserts the current document snapshot.
func (s *Store) Save(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return fmt.Errorf("save sqlite store: not open")
	}
	snap := s.Export()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `INSERT INTO documents(partition,payload) VALUES(?,?) ON CONFLICT(partition) DO UPDATE SET payload=excluded.payload`, snap.Partition, data); err != nil {
		retErr = fmt.Errorf("upsert %s: %w", snap.Partition, err)
		return retErr
	}
	return tx.Commit()
}

// Close unbinds the partition. The database stays open for reuse; use DB to
// close it.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

// Partitions lists saved partitions and scene indexes.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	var out []string
	for _, q := range []string{`SELECT partition FROM documents`, `SELECT session FROM scene_indexes`} {
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list partitions: %w", err)
		}
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan: %w", err)
			}
			out = append(out, p)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	sort.Strings(out)
	return out, nil
}

// WriteSceneIndex upserts the rank partitions of a parallel session.
func (s *Store) WriteSceneIndex(ctx context.Context, session string, partitions []string) error {
	data, err := json.Marshal(partitions)
	if err != nil {
		return fmt.Errorf("encode scene index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO scene_indexes(session,payload) VALUES(?,?) ON CONFLICT(session) DO UPDATE SET payload=excluded.payload`, session, data); err != nil {
		return fmt.Errorf("upsert scene index %s: %w", session, err)
	}
	return nil
}

// SceneIndex reads back the rank partitions of a parallel session.
func (s *Store) SceneIndex(ctx context.Context, session string) ([]string, error) {
	var payload []byte
	if err := s.db.QueryRowContext(ctx, `SELECT payload FROM scene_indexes WHERE session = ?`, session).Scan(&payload); err != nil {
		return nil, fmt.Errorf("select scene index %s: %w", session, err)
	}
	var parts []string
	if err := json.Unmarshal(payload, &parts); err != nil {
		return nil, fmt.Errorf("decode scene index: %w", err)
	}
	return parts, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
