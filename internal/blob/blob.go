// Package blob is the entry point for blob storage. Callers depend on Store
// and construct concrete drivers through this package only.
package blob

import (
	"context"
	"fmt"
	"os"

	"bloodledger/internal/blob/core"
	"bloodledger/internal/infra/blob/fs"
	"bloodledger/internal/infra/blob/memory"
	"bloodledger/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3 driver.
	S3Config = s3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// Errors reported by every driver.
var (
	ErrExists     = core.ErrExists
	ErrNotFound   = core.ErrNotFound
	ErrInvalidKey = core.ErrInvalidKey
)

// Environment variables read by Open. S3 settings are listed in the s3 driver.
const (
	EnvDriver = "BLOODLEDGER_BLOB_DRIVER"
	EnvFSRoot = "BLOODLEDGER_BLOB_FS_ROOT"
)

// Open selects a Store from the environment.
//
//	BLOODLEDGER_BLOB_DRIVER: fs|s3|memory (default fs)
//	BLOODLEDGER_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	BLOODLEDGER_BLOB_S3_BUCKET, _REGION, _ENDPOINT, _PATH_STYLE when driver=s3
func Open(ctx context.Context) (Store, error) {
	driver := Driver(os.Getenv(EnvDriver))
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv(EnvFSRoot))
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}

// NewFilesystem returns a filesystem store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memory.New() }

// NewS3 returns an S3 store for cfg.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return s3.New(ctx, cfg)
}
