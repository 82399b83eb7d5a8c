// Package archive is the only entry point to the checkpoint archive backends.
// Callers depend on the Archive interface; the infra packages stay behind Open.
package archive

import (
	"context"
	"fmt"

	"stockpile/internal/archive/core"
	fsstore "stockpile/internal/infra/archive/fs"
	memorystore "stockpile/internal/infra/archive/memory"
	s3store "stockpile/internal/infra/archive/s3"
)

type (
	// Archive is the create-only object store used for checkpoints.
	Archive = core.Archive
	// Driver names a backend.
	Driver = core.Driver
	// Info describes a stored object.
	Info = core.Info
	// PutOptions carries optional object attributes.
	PutOptions = core.PutOptions
	// S3Config configures the S3 backend.
	S3Config = s3store.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// Config selects and configures a backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open returns the archive selected by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Archive, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fsstore.New(cfg.FSRoot)
	case DriverS3:
		return s3store.New(ctx, cfg.S3)
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
}

// NewMemory returns an in-memory archive for tests.
func NewMemory() Archive { return memorystore.New() }

// NewMockS3ForTests exposes the fake-transport S3 archive for cross-package tests.
func NewMockS3ForTests() Archive { return s3store.NewMockForTests() }

// IsNotFound reports a missing object.
func IsNotFound(err error) bool { return core.IsNotFound(err) }

// IsAlreadyExists reports a create-only conflict.
func IsAlreadyExists(err error) bool { return core.IsAlreadyExists(err) }
