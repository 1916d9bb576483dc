package blobtransfer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tweag/objectsync/pkg/api"
	"github.com/tweag/objectsync/pkg/blobcompress"
	"github.com/tweag/objectsync/pkg/objectstore"
	"github.com/tweag/objectsync/pkg/objectstore/objectstoretest"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadBlobZeroByteIsInlined(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty", "")
	store := objectstoretest.New()
	tr := New(store, DefaultOptions())

	outcome, err := tr.UploadBlob(context.Background(), path, api.ObjectKey(api.EmptyDigest))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != api.Inlined {
		t.Fatalf("got %v want Inlined", outcome)
	}
	if store.Puts != 0 {
		t.Fatalf("expected no remote write for empty blob")
	}
}

func TestUploadBlobNewObject(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "hello world")
	store := objectstoretest.New()
	tr := New(store, DefaultOptions())

	outcome, err := tr.UploadBlob(context.Background(), path, "objects/abc")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != api.Uploaded {
		t.Fatalf("got %v want Uploaded", outcome)
	}
	if store.Puts != 1 {
		t.Fatalf("expected exactly one Put, got %d", store.Puts)
	}
}

func TestUploadBlobRecentIsSkipped(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "hello world")
	store := objectstoretest.New()
	tr := New(store, DefaultOptions())

	ctx := context.Background()
	if _, err := tr.UploadBlob(ctx, path, "objects/abc"); err != nil {
		t.Fatal(err)
	}

	outcome, err := tr.UploadBlob(ctx, path, "objects/abc")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != api.Skipped {
		t.Fatalf("got %v want Skipped", outcome)
	}
	if store.Puts != 1 {
		t.Fatalf("expected no second Put, got %d puts", store.Puts)
	}
}

func TestUploadBlobStaleIsRefreshed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "hello world")
	store := objectstoretest.New()
	tr := New(store, DefaultOptions())

	ctx := context.Background()
	if _, err := tr.UploadBlob(ctx, path, "objects/abc"); err != nil {
		t.Fatal(err)
	}
	store.SetLastModified("objects/abc", time.Now().Add(-api.RefreshMinTime-time.Hour))

	outcome, err := tr.UploadBlob(ctx, path, "objects/abc")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != api.Refreshed {
		t.Fatalf("got %v want Refreshed", outcome)
	}
	if store.Copies != 1 {
		t.Fatalf("expected one Copy call, got %d", store.Copies)
	}
	if store.Puts != 1 {
		t.Fatalf("refresh must not re-upload, got %d puts", store.Puts)
	}
}

func TestDownloadBlobVerbatim(t *testing.T) {
	store := objectstoretest.New()
	ctx := context.Background()
	if err := store.Put(ctx, "objects/xyz", bytes.NewReader([]byte("payload")), 7, objectstore.PutOptions{}); err != nil {
		t.Fatal(err)
	}
	tr := New(store, DefaultOptions())

	dest := filepath.Join(t.TempDir(), "out.txt")
	if err := tr.DownloadBlob(ctx, "objects/xyz", dest); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Fatalf("got %q", data)
	}
}

func TestDownloadBlobGzip(t *testing.T) {
	store := objectstoretest.New()
	ctx := context.Background()
	compressed, err := blobcompress.EncodeToBlob([]byte("compressed payload"))
	if err != nil {
		t.Fatal(err)
	}
	err = store.Put(ctx, "objects/gz", bytes.NewReader(compressed), int64(len(compressed)), objectstore.PutOptions{ContentEncoding: "gzip"})
	if err != nil {
		t.Fatal(err)
	}
	tr := New(store, DefaultOptions())

	dest := filepath.Join(t.TempDir(), "out.txt")
	if err := tr.DownloadBlob(ctx, "objects/gz", dest); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "compressed payload" {
		t.Fatalf("got %q", data)
	}
}

func TestDownloadBlobNotFound(t *testing.T) {
	store := objectstoretest.New()
	tr := New(store, DefaultOptions())
	err := tr.DownloadBlob(context.Background(), "objects/missing", filepath.Join(t.TempDir(), "out.txt"))
	if err != objectstore.ErrNotFound {
		t.Fatalf("got %v want ErrNotFound", err)
	}
}
