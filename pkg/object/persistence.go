package object

import (
	"context"
	"time"
)

// SnapshotInfo describes a stored repository snapshot.
type SnapshotInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotStore is the minimal abstraction over durable backends holding
// serialized repositories. Payloads are opaque persistent-stream bytes.
type SnapshotStore interface {
	// Save creates or replaces the snapshot stored under name.
	Save(ctx context.Context, name string, payload []byte) error
	// Load returns the payload stored under name, reporting false when absent.
	Load(ctx context.Context, name string) ([]byte, bool, error)
	// List returns every snapshot ordered by name.
	List(ctx context.Context) ([]SnapshotInfo, error)
	// Delete removes a snapshot, returning false when it did not exist.
	Delete(ctx context.Context, name string) (bool, error)
}
