// Package core defines the storage abstractions for job artifacts. The
// service writes raw results, amended datasets, and digests under
// jobs/<jobID>/ keys; drivers decide where the bytes live.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete artifact storage backend.
type Driver string

const (
	// DriverFilesystem stores artifacts under a local directory (default, dev).
	DriverFilesystem Driver = "fs"
	// DriverS3 stores artifacts in an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps artifacts in process memory (tests).
	DriverMemory Driver = "memory"
)

// PutOptions carries the optional write parameters.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // small flat key-value user metadata
}

// SignedURLOptions configures URL pre-signing.
type SignedURLOptions struct {
	Method  string        // GET|PUT (only GET used internally)
	Expiry  time.Duration // default 15m
	Headers map[string]string
}

// Info describes a stored artifact.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is a thin S3-like surface shared by all drivers. Semantics mirror a
// minimal S3 subset so the bucket adapter stays nearly 1:1 while the
// filesystem adapter emulates them.
type Store interface {
	// Put stores a new artifact at key. Must fail if the key already exists.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get retrieves artifact contents and metadata. Misses wrap ErrNotFound.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	// Head returns metadata only. Misses wrap ErrNotFound.
	Head(ctx context.Context, key string) (Info, error)
	// Delete removes an artifact. Returns (false, nil) when absent.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns artifacts whose key has the prefix, ordered by key ascending.
	List(ctx context.Context, prefix string) ([]Info, error)
	// PresignURL returns a time-limited URL for the key. Drivers without
	// signing return ErrUnsupported.
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	// Driver reports the backend identifier.
	Driver() Driver
}

// ErrUnsupported is returned when an optional capability is not available.
var ErrUnsupported = errors.New("artifacts: unsupported operation")

// ErrNotFound is wrapped by Get/Head misses so callers can map them to 404s
// without knowing the driver.
var ErrNotFound = errors.New("artifacts: not found")
