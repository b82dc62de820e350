// Package storage defines the blob backend used for deliverable content that is
// too large to keep inline in the products table.
//
// Backends register themselves with the factory from an init() function in their
// own package, and cmd/server blank-imports each one:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return New(&cfg.Deliverables.MyBackend)
//	    })
//	}
package storage

import (
	"context"
	"errors"
	"io"
	"path"
)

// ErrNotFound is returned by Download when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// Storage defines the interface for all blob backends
type Storage interface {
	// Upload stores an object and returns its path, size and SHA256 checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download returns a reader over the object. Callers close it.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object exists at path
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string // hex SHA256
}

// DeliverablePath returns the object path holding one version of a product's
// offloaded deliverable. Every write uses a fresh version, so an object is never
// overwritten while a product row still points at it.
// Callers validate the IDs; the path is always relative and slash separated.
func DeliverablePath(tenantID, productID, version string) string {
	return path.Join("deliverables", tenantID, productID, version+".txt")
}
