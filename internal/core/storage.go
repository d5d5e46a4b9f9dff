package core

import (
	"context"
	"fmt"
	"io"

	"evgenkit/internal/archive"
	"evgenkit/internal/config"
	"evgenkit/internal/infra/persistence/memory"
	"evgenkit/internal/infra/persistence/postgres"
	"evgenkit/internal/infra/persistence/sqlite"
	"evgenkit/pkg/object"
)

// StorageDriver identifies a snapshot store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenSnapshotStore builds the snapshot store selected by cfg. The closer
// releases its database handle.
func OpenSnapshotStore(ctx context.Context, cfg config.Config) (object.SnapshotStore, io.Closer, error) {
	switch StorageDriver(cfg.Storage.Driver) {
	case StorageMemory:
		return memory.NewStore(), nopCloser{}, nil
	case "", StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.DB(), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", cfg.Storage.Driver)
	}
}

// OpenArchive builds the run archive selected by cfg.
func OpenArchive(ctx context.Context, cfg config.Config) (archive.Store, error) {
	s3 := cfg.Archive.S3
	return archive.Open(ctx, archive.Options{
		Driver: archive.Driver(cfg.Archive.Driver),
		FSRoot: cfg.Archive.FSRoot,
		S3: archive.S3Config{
			Region:          s3.Region,
			Bucket:          s3.Bucket,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			SessionToken:    s3.SessionToken,
			PathStyle:       s3.PathStyle,
		},
	})
}
