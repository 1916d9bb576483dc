// Package blobtransfer implements the blob transfer layer: uploading one
// blob with opportunistic refresh-instead-of-reupload, and downloading
// one blob with transparent gzip decoding.
package blobtransfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tweag/objectsync/pkg/api"
	"github.com/tweag/objectsync/pkg/blobcompress"
	"github.com/tweag/objectsync/pkg/objectstore"
)

// Options configures the storage class and ACL applied to newly uploaded
// objects, and the minimum size at which compression is attempted.
type Options struct {
	StorageClass    string
	ACL             string
	CompressMinSize int64
}

// DefaultOptions returns the default upload options.
func DefaultOptions() Options {
	return Options{
		StorageClass:    "reduced_redundancy",
		ACL:             "public-read",
		CompressMinSize: api.CompressMinSize,
	}
}

// Transfer uploads and downloads individual blobs against a remote Store.
type Transfer struct {
	store   objectstore.Store
	options Options
}

// New returns a Transfer backed by store, applying options to uploads.
func New(store objectstore.Store, options Options) *Transfer {
	return &Transfer{store: store, options: options}
}

// UploadBlob uploads, skips, or refreshes the blob at localPath under
// objectKey, depending on what's already in the remote store.
func (t *Transfer) UploadBlob(ctx context.Context, localPath, objectKey string) (api.Outcome, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return 0, fmt.Errorf("stating %s: %w", localPath, err)
	}
	if info.Size() == 0 {
		return api.Inlined, nil
	}

	meta, err := t.store.Head(ctx, objectKey)
	switch {
	case err == nil:
		if meta.LastModified.After(time.Now().Add(-api.RefreshMinTime)) {
			return api.Skipped, nil
		}
		copyErr := t.store.Copy(ctx, objectKey, t.options.StorageClass)
		if copyErr == nil {
			return api.Refreshed, nil
		}
		if !errors.Is(copyErr, objectstore.ErrNotFound) {
			return 0, fmt.Errorf("refreshing %s: %w", objectKey, copyErr)
		}
		// Fall through to upload: a concurrent reaper may have deleted
		// the object between our head and copy calls.
	case errors.Is(err, objectstore.ErrNotFound):
		// Falls through to upload.
	default:
		return 0, fmt.Errorf("heading %s: %w", objectKey, err)
	}

	return api.Uploaded, t.upload(ctx, localPath, objectKey)
}

func (t *Transfer) upload(ctx context.Context, localPath, objectKey string) error {
	result, err := blobcompress.MaybeCompress(localPath, t.options.CompressMinSize)
	if err != nil {
		return fmt.Errorf("compressing %s: %w", localPath, err)
	}
	defer result.Close()

	size, err := result.Reader.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("sizing payload for %s: %w", localPath, err)
	}
	if _, err := result.Reader.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding payload for %s: %w", localPath, err)
	}

	putOpts := objectstore.PutOptions{
		StorageClass: t.options.StorageClass,
		ACL:          t.options.ACL,
	}
	if result.Compressed {
		putOpts.ContentEncoding = "gzip"
	}
	if err := t.store.Put(ctx, objectKey, result.Reader, size, putOpts); err != nil {
		return fmt.Errorf("uploading %s: %w", objectKey, err)
	}
	return nil
}

// DownloadBlob fetches objectKey into localPath, transparently decoding
// gzip payloads. Fails with objectstore.ErrNotFound if the object no
// longer exists; no retry is attempted at this layer.
func (t *Transfer) DownloadBlob(ctx context.Context, objectKey, localPath string) error {
	body, meta, err := t.store.Get(ctx, objectKey)
	if err != nil {
		return err
	}
	defer body.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}
	defer out.Close()

	if meta.ContentEncoding == "gzip" {
		if err := blobcompress.DecodeStream(body, out); err != nil {
			return fmt.Errorf("decoding %s: %w", objectKey, err)
		}
		return nil
	}
	if _, err := io.Copy(out, body); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	return nil
}
