package core

import (
	"context"
	"path/filepath"
	"testing"

	"evgenkit/internal/archive"
	"evgenkit/internal/config"
	"evgenkit/internal/infra/persistence/sqlite"
)

func TestOpenSnapshotStoreDrivers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snap.db")
	store, closer, err := OpenSnapshotStore(ctx, config.Config{Storage: config.StorageConfig{Driver: "sqlite"}, SQLite: config.SQLiteConfig{Path: path}})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if s, ok := store.(*sqlite.Store); !ok || s.Path() != path {
		t.Fatalf("expected sqlite store at %s, got %T", path, store)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, closer, err := OpenSnapshotStore(ctx, config.Config{Storage: config.StorageConfig{Driver: "memory"}}); err != nil || closer.Close() != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, _, err := OpenSnapshotStore(ctx, config.Config{Storage: config.StorageConfig{Driver: "tape"}}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestOpenArchive(t *testing.T) {
	store, err := OpenArchive(context.Background(), config.Config{Archive: config.ArchiveConfig{Driver: "fs", FSRoot: t.TempDir()}})
	if err != nil || store.Driver() != archive.DriverFilesystem {
		t.Fatalf("fs archive: %v", err)
	}
	if _, err := OpenArchive(context.Background(), config.Config{Archive: config.ArchiveConfig{Driver: "s3"}}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
