// Package sqlite persists repository snapshots to a single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"evgenkit/pkg/object"
)

var _ object.SnapshotStore = (*Store)(nil)

// Store keeps one row per snapshot: name, payload, size and update time.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStore opens (creating when needed) the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "evgenkit.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		name TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		size INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Save implements object.SnapshotStore.
func (s *Store) Save(ctx context.Context, name string, payload []byte) error {
	if name == "" {
		return fmt.Errorf("snapshot name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO snapshots(name,payload,size,updated_at) VALUES(?,?,?,?) ON CONFLICT(name) DO UPDATE SET payload=excluded.payload, size=excluded.size, updated_at=excluded.updated_at`,
		name, payload, len(payload), stamp); err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	return nil
}

// Load implements object.SnapshotStore.
func (s *Store) Load(ctx context.Context, name string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", name, err)
	}
	return payload, true, nil
}

// List implements object.SnapshotStore.
func (s *Store) List(ctx context.Context) ([]object.SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, size, updated_at FROM snapshots ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []object.SnapshotInfo
	for rows.Next() {
		var info object.SnapshotInfo
		var stamp string
		if err := rows.Scan(&info.Name, &info.Size, &stamp); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if info.UpdatedAt, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, fmt.Errorf("decode updated_at of %s: %w", info.Name, err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Delete implements object.SnapshotStore.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", name, err)
	}
	return n > 0, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
