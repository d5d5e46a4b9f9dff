// Package archive re-exports the run archive abstractions and selects a
// backend. It is the only package allowed to import the infra drivers.
package archive

import (
	"context"
	"fmt"

	"evgenkit/internal/archive/core"
	fsstore "evgenkit/internal/infra/archive/fs"
	memorystore "evgenkit/internal/infra/archive/memory"
	s3store "evgenkit/internal/infra/archive/s3"
)

type (
	// Driver identifies an archive backend driver.
	Driver = core.Driver
	// PutOptions configures an archive write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored archive metadata.
	Info = core.Info
	// Store is the interface for archive backends.
	Store = core.Store
	// S3Config configures the S3 driver.
	S3Config = s3store.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
)

// Options selects and configures a backend.
type Options struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open returns the store named by opts.Driver; the empty driver means fs.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(opts.FSRoot)
	case DriverS3:
		return NewS3(ctx, opts.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", opts.Driver)
	}
}

// NewFilesystem returns a store keeping archives below root.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }

// NewS3 returns an S3-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return s3store.New(ctx, cfg) }

// NewMockS3ForTests exposes the S3 driver over a fake transport for
// cross-package tests.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }
