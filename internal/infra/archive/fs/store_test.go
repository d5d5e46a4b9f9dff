package fs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"evgenkit/internal/archive/core"
)

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	fixed := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	body := []byte("EVGK run payload")
	info, err := store.Put(ctx, "runs/one.evgk", bytes.NewReader(body), core.PutOptions{ContentType: "application/x-evgk", Metadata: map[string]string{"root": "/Gen/Main"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	sum := sha256.Sum256(body)
	if info.ETag != hex.EncodeToString(sum[:]) || info.Size != int64(len(body)) || !info.LastModified.Equal(fixed) {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := os.Stat(filepath.Join(root, "runs", "one.evgk.meta")); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	if _, err := store.Put(ctx, "runs/one.evgk", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected create-only put, got %v", err)
	}

	got, rc, err := store.Get(ctx, "runs/one.evgk")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(data, body) || got.Metadata["root"] != "/Gen/Main" || got.ContentType != "application/x-evgk" {
		t.Fatalf("get returned %q %+v", data, got)
	}
	if head, err := store.Head(ctx, "runs/one.evgk"); err != nil || head.ETag != info.ETag {
		t.Fatalf("head: %v %+v", err, head)
	}

	if _, err := store.Put(ctx, "other.evgk", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := store.List(ctx, "runs/")
	if err != nil || len(list) != 1 || list[0].Key != "runs/one.evgk" {
		t.Fatalf("list prefix: %v %+v", err, list)
	}
	if all, _ := store.List(ctx, ""); len(all) != 2 || all[0].Key != "other.evgk" {
		t.Fatalf("list all: %+v", all)
	}
	if url, err := store.PresignURL(ctx, "runs/one.evgk", core.SignedURLOptions{}); err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("presign: %v %s", err, url)
	}
	if _, err := store.PresignURL(ctx, "runs/one.evgk", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported PUT presign")
	}

	if ok, err := store.Delete(ctx, "runs/one.evgk"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := store.Delete(ctx, "runs/one.evgk"); ok {
		t.Fatalf("second delete must report absence")
	}
	if _, err := store.Head(ctx, "runs/one.evgk"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, _, err := store.Get(ctx, "runs/one.evgk"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found from get, got %v", err)
	}
}

func TestStoreRejectsUnsafeKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "../escape", "/abs", "a/../../b", "sneaky.meta"} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("expected fs driver")
	}
}

func TestStoreCorruptSidecar(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := store.Put(context.Background(), "k", strings.NewReader("v"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "k.meta"), []byte("{"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := store.Head(context.Background(), "k"); err == nil || errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if _, err := store.List(context.Background(), ""); err == nil {
		t.Fatalf("expected list to surface decode error")
	}
}
