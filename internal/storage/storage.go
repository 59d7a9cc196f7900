// Package storage provides object storage backends for the change archive.
package storage

import (
	"context"

	"github.com/rangekeeper/rangekeeper/internal/errors"
)

// ObjectStorage abstracts object storage for archive blobs. Implementations
// include S3 and the local filesystem for testing. Archive objects are small
// (a compressed batch of change events), so the interface is byte-oriented.
//
// Failures carry STORAGE-category errors; a missing object surfaces as
// OBJECT_NOT_FOUND, checkable with IsNotFound.
type ObjectStorage interface {
	// Put uploads an object.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get downloads an object.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Delete removes an object from storage.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix, sorted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// IsNotFound reports whether err is a missing-object error.
func IsNotFound(err error) bool {
	return errors.HasCode(err, errors.CodeObjectNotFound)
}

func notFoundError(objectPath string) error {
	return errors.NewStorageError(errors.CodeObjectNotFound, "object not found: "+objectPath, nil)
}
