// Package objectstore defines the remote object store contract consumed
// by the rest of the synchronizer and provides an implementation backed
// by Amazon S3 via the AWS SDK v2.
package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Head and Get when the requested key does not
// exist in the store.
var ErrNotFound = errors.New("object not found")

// Metadata is the subset of an object's remote metadata the synchronizer
// needs: when it was last modified, what encoding its payload carries, its
// etag, and its size. A missing object is reported as ErrNotFound rather
// than through a field here.
type Metadata struct {
	LastModified    time.Time
	ContentEncoding string
	ETag            string
	Size            int64
}

// PutOptions configures a Put call.
type PutOptions struct {
	ContentEncoding string
	StorageClass    string
	ACL             string
}

// ObjectVersion is one version of one key, as returned by ListVersions.
// DeleteMarker is true for S3 delete markers, which the reaper must
// exclude from classification.
type ObjectVersion struct {
	Key          string
	VersionID    string
	LastModified time.Time
	DeleteMarker bool
}

// VersionDeletion identifies one (key, version) pair to delete in a batch.
type VersionDeletion struct {
	Key       string
	VersionID string
}

// Store is the minimum set of remote object store operations the
// synchronizer consumes: head, get, put, copy, list_versions and
// delete_batch. There is no single-version delete; deletions always go
// through DeleteBatch.
type Store interface {
	// Head probes an object's metadata without fetching its payload.
	// Returns ErrNotFound if the key does not exist.
	Head(ctx context.Context, key string) (Metadata, error)

	// Get streams an object's payload and metadata. Returns ErrNotFound
	// if the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, Metadata, error)

	// Put streams data to key, setting the given metadata.
	Put(ctx context.Context, key string, data io.Reader, size int64, opts PutOptions) error

	// Copy performs a server-side self-copy of key onto itself, bumping
	// its last-modified time while preserving content, content-encoding,
	// and storage class.
	Copy(ctx context.Context, key string, storageClass string) error

	// ListVersions enumerates every version of every object in the
	// store, including delete markers.
	ListVersions(ctx context.Context) ([]ObjectVersion, error)

	// DeleteBatch deletes a batch of (key, version) pairs in one
	// request.
	DeleteBatch(ctx context.Context, versions []VersionDeletion) error
}
