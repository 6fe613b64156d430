// Package blob stores data-set files in a blob backend (local filesystem,
// S3/MinIO or process memory).
package blob

import (
	"context"
	"fmt"
	"io"
)

// Driver identifies a blob backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory" // tests
)

// Store is the subset of blob operations registration needs. Put replaces
// an existing object; Delete of a missing key reports false and no error.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Driver() Driver
}

// Config selects and configures a backend.
type Config struct {
	Driver string
	FSRoot string
	S3     S3Config
}

// Open builds the store named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
