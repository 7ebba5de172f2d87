package blob

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "archive")
	t.Setenv(EnvDriver, "")
	t.Setenv(EnvFSRoot, root)
	store, err := Open(ctx)
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("expected filesystem driver, got %s", store.Driver())
	}

	t.Setenv(EnvDriver, string(DriverMemory))
	store, err = Open(ctx)
	if err != nil || store.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %v (%v)", store, err)
	}

	t.Setenv(EnvDriver, string(DriverS3))
	t.Setenv("BLOODLEDGER_BLOB_S3_BUCKET", "")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("expected s3 driver without bucket to fail")
	}

	t.Setenv(EnvDriver, "tape")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestDriversShareErrors(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	for _, store := range []Store{fsStore, NewMemory()} {
		if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("v")), PutOptions{}); err != nil {
			t.Fatalf("%s put: %v", store.Driver(), err)
		}
		if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("v")), PutOptions{}); !errors.Is(err, ErrExists) {
			t.Fatalf("%s: expected ErrExists, got %v", store.Driver(), err)
		}
		if _, err := store.Head(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", store.Driver(), err)
		}
	}
}
