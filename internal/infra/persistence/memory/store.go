// Package memory provides an in-process snapshot store used by tests and by
// the CLI when durability is not required.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"evgenkit/pkg/object"
)

var _ object.SnapshotStore = (*Store)(nil)

type entry struct {
	payload   []byte
	updatedAt time.Time
}

// Store keeps snapshots in a map guarded by a RWMutex. Payloads are copied on
// the way in and out so callers cannot alias stored bytes.
type Store struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{items: make(map[string]entry), now: time.Now}
}

// Save implements object.SnapshotStore.
func (s *Store) Save(ctx context.Context, name string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("snapshot name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[name] = entry{payload: append([]byte(nil), payload...), updatedAt: s.now().UTC()}
	return nil
}

// Load implements object.SnapshotStore.
func (s *Store) Load(ctx context.Context, name string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.payload...), true, nil
}

// List implements object.SnapshotStore.
func (s *Store) List(ctx context.Context) ([]object.SnapshotInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]object.SnapshotInfo, 0, len(s.items))
	for name, e := range s.items {
		out = append(out, object.SnapshotInfo{Name: name, Size: int64(len(e.payload)), UpdatedAt: e.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete implements object.SnapshotStore.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; !ok {
		return false, nil
	}
	delete(s.items, name)
	return true, nil
}
