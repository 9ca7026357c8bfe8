// Package postgres persists scene document partitions to Postgres as JSONB
// snapshots while editing them through the in-memory document.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

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
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenDocumentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/scenesync?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store snapshots the open document into Postgres on Save.
type Store struct {
	*memory.Document
	db   *sql.DB
	mu   sync.Mutex
	open bool
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN) and ensures the snapshot tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTables(ctx, db); err != nil {
		return nil, err
	}
	return &Store{Document: memory.NewDocument(""), db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func ensureTables(ctx context.Context, db *sql.DB) error {
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS documents (
		partition TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
		`CREATE TABLE IF NOT EXISTS scene_indexes (
		session TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}
	}
	return nil
}

// Open binds the document to a partition and hydrates it from the last saved
// snapshot unless settings.Fresh is set.
func (s *Store) Open(ctx context.Context, settings domain.OpenSettings) error {
	if settings.Partition == "" {
		return fmt.Errorf("open postgres store: empty partition")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reset(settings.Partition)
	if !settings.Fresh {
		snap, found, err := loadSnapshot(ctx, s.db, settings.Partition)
		if err != nil {
			return err
		}
		if found {
			s.Import(snap)
		}
	}
	s.open = true
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB, partition string) (memory.Snapshot, bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT partition, payload FROM documents WHERE partition = $1`, partition)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select document: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		snap  memory.Snapshot
		found bool
	)
	for rows.Next() {
		var (
			name    string
			payload []byte
		)
		if err := rows.Scan(&name, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan document: %w", err)
		}
		if name != partition || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, &snap); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("decode %s: %w", partition, err)
		}
		snap.Partition = partition
		found = true
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate documents: %w", err)
	}
	return snap, found, nil
}

// Save upserts the current document snapshot inside a transaction.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errors.New("save postgres store: not open")
	}
	snap := s.Export()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents(partition,payload) VALUES($1,$2) ON CONFLICT(partition) DO UPDATE SET payload=EXCLUDED.payload`, snap.Partition, data); err != nil {
		return fmt.Errorf("upsert %s: %w", snap.Partition, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close unbinds the partition.
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
				return nil, fmt.Errorf("scan partition: %w", err)
			}
			out = append(out, p)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate partitions: %w", err)
		}
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
	if _, err := s.db.ExecContext(ctx, `INSERT INTO scene_indexes(session,payload) VALUES($1,$2) ON CONFLICT(session) DO UPDATE SET payload=EXCLUDED.payload`, session, data); err != nil {
		return fmt.Errorf("upsert scene index %s: %w", session, err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
