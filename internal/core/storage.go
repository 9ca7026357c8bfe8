package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"scenesync/internal/blob"
	"scenesync/internal/infra/persistence/blobdoc"
	"scenesync/internal/infra/persistence/memory"
	"scenesync/internal/infra/persistence/postgres"
	"scenesync/internal/infra/persistence/sqlite"
	"scenesync/pkg/domain"
)

// StorageDriver identifies a document store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-process only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageBlob     StorageDriver = "blob"     // JSON documents in a blob store
)

// OpenDocumentStore selects a backend using environment variables.
// Defaults to memory when unset.
//
//	SCENESYNC_STORE_DRIVER: memory|sqlite|postgres|blob (default memory)
//	SCENESYNC_SQLITE_PATH: sqlite file (default <output location>/scenesync.db)
//	SCENESYNC_POSTGRES_DSN: postgres DSN when driver=postgres
//	SCENESYNC_BLOB_DRIVER / SCENESYNC_BLOB_*: see internal/blob
func OpenDocumentStore(ctx context.Context, cfg Config) (domain.DocumentStore, error) {
	driver := os.Getenv("SCENESYNC_STORE_DRIVER")
	if driver == "" {
		driver = string(StorageMemory)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		path := os.Getenv("SCENESYNC_SQLITE_PATH")
		if path == "" {
			path = filepath.Join(cfg.outputLocation(), "scenesync.db")
		}
		return sqlite.NewStore(path)
	case StoragePostgres:
		return postgres.NewStore(ctx, os.Getenv("SCENESYNC_POSTGRES_DSN"))
	case StorageBlob:
		blobs, err := openBlobs(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return blobdoc.New(blobs), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// openBlobs roots the filesystem blob driver at the output location unless
// SCENESYNC_BLOB_FS_ROOT says otherwise.
func openBlobs(ctx context.Context, cfg Config) (blob.Store, error) {
	driver := os.Getenv("SCENESYNC_BLOB_DRIVER")
	if (driver == "" || blob.Driver(driver) == blob.DriverFilesystem) && os.Getenv("SCENESYNC_BLOB_FS_ROOT") == "" {
		return blob.NewFilesystem(cfg.outputLocation())
	}
	return blob.Open(ctx)
}
