package postgres

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"evgenkit/internal/infra/persistence/postgres/testutil"
)

func newStubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestNewStoreEnsuresSnapshotTable(t *testing.T) {
	_, conn := newStubStore(t)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS SNAPSHOTS") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected snapshots DDL, got execs: %v", conn.Execs)
	}
}

func TestStoreSaveLoadListDelete(t *testing.T) {
	ctx := context.Background()
	store, conn := newStubStore(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	if err := store.Save(ctx, "run-b", []byte("bbb")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "run-a", []byte("a")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "run-b", []byte("bbbb")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got := len(conn.Tables["snapshots"]); got != 2 {
		t.Fatalf("upsert must keep one row per name, got %d", got)
	}
	payload, ok, err := store.Load(ctx, "run-b")
	if err != nil || !ok || string(payload) != "bbbb" {
		t.Fatalf("load returned %q %v %v", payload, ok, err)
	}
	if _, ok, err := store.Load(ctx, "absent"); ok || err != nil {
		t.Fatalf("absent snapshot must report false, got %v %v", ok, err)
	}
	infos, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "run-a" || infos[1].Size != 4 || !infos[1].UpdatedAt.Equal(fixed) {
		t.Fatalf("unexpected listing %+v", infos)
	}
	if deleted, err := store.Delete(ctx, "run-a"); err != nil || !deleted {
		t.Fatalf("delete returned %v %v", deleted, err)
	}
	if deleted, _ := store.Delete(ctx, "run-a"); deleted {
		t.Fatalf("second delete must report absence")
	}
}

func TestStoreSurfacesDriverFailures(t *testing.T) {
	ctx := context.Background()
	store, conn := newStubStore(t)
	conn.FailBegin = true
	if err := store.Save(ctx, "x", nil); err == nil || !strings.Contains(err.Error(), "begin tx") {
		t.Fatalf("expected begin failure, got %v", err)
	}
	conn.FailBegin = false
	conn.FailCommit = true
	if err := store.Save(ctx, "x", nil); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit failure, got %v", err)
	}
	conn.FailCommit = false
	conn.FailTables = map[string]bool{"snapshots": true}
	if _, err := store.List(ctx); err == nil {
		t.Fatalf("expected list failure")
	}
	if err := store.Save(ctx, "", nil); err == nil {
		t.Fatalf("expected empty name rejection")
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://example"); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping failure, got %v", err)
	}
}
