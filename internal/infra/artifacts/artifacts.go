// Package artifacts re-exports the artifact store abstractions and picks a
// driver from the environment, giving call sites a single stable import.
package artifacts

import (
	"context"
	"fmt"
	"os"

	"bdqcore/internal/infra/artifacts/core"
	"bdqcore/internal/infra/artifacts/fs"
	"bdqcore/internal/infra/artifacts/memory"
	s3store "bdqcore/internal/infra/artifacts/s3"
)

type (
	// Driver identifies an artifact backend driver.
	Driver = core.Driver
	// PutOptions configures an artifact write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored artifact metadata.
	Info = core.Info
	// Store is the interface every artifact backend implements.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrUnsupported indicates a capability a driver does not offer.
var ErrUnsupported = core.ErrUnsupported

// ErrNotFound is wrapped by Get/Head misses across all drivers.
var ErrNotFound = core.ErrNotFound

// S3Config carries explicit S3 construction parameters.
type S3Config = s3store.Config

// Open selects a Store implementation from environment variables.
//
//	BDQCORE_ARTIFACT_DRIVER: fs|s3|memory (default fs)
//	BDQCORE_ARTIFACT_FS_ROOT: directory root when driver=fs (default ./artifactdata)
//	(S3 variables documented in the s3 driver package)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("BDQCORE_ARTIFACT_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("BDQCORE_ARTIFACT_FS_ROOT"))
	case DriverS3:
		return s3store.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown artifact driver %s", driver)
	}
}

// NewFilesystem constructs a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memory.New() }

// NewS3 constructs an S3-backed Store from cfg.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return s3store.New(ctx, cfg)
}

// NewMockS3ForTests exposes the fake-transport S3 store for cross-package
// tests.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }
