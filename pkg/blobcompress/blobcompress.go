// Package blobcompress implements the compression gate: streaming gzip
// encode/decode, the "compress only if it helps" policy, and the gzip
// magic-byte probe. The magic-byte check peeks the first two bytes of a
// blob to tell gzip from uncompressed data rather than retrying a failed
// decode.
package blobcompress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tweag/objectsync/pkg/api"
)

// GzipMagic is the two leading bytes of a gzip stream.
var GzipMagic = [2]byte{0x1f, 0x8b}

// HasGzipMagic reports whether data begins with the gzip magic number.
func HasGzipMagic(data []byte) bool {
	return len(data) >= 2 && data[0] == GzipMagic[0] && data[1] == GzipMagic[1]
}

// blockSize is the chunk size used for streaming encode/decode.
const blockSize = 1024 * 1024

// EncodeStream gzip-compresses src into dst, streaming in blockSize
// chunks.
func EncodeStream(src io.Reader, dst io.Writer) error {
	gz := gzip.NewWriter(dst)
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(gz, src, buf); err != nil {
		gz.Close()
		return fmt.Errorf("compressing stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}
	return nil
}

// DecodeStream gzip-decompresses src into dst, streaming in blockSize
// chunks.
func DecodeStream(src io.Reader, dst io.Writer) error {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(dst, gz, buf); err != nil {
		return fmt.Errorf("decompressing stream: %w", err)
	}
	return nil
}

// EncodeToBlob gzip-compresses an in-memory byte slice.
func EncodeToBlob(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeStream(bytes.NewReader(data), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFromBlob gzip-decompresses an in-memory byte slice.
func DecodeFromBlob(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := DecodeStream(bytes.NewReader(data), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Result is what MaybeCompress returns: a reader positioned at the start
// of the data to upload, whether it is gzip-compressed, and a closer that
// releases any temporary file backing the reader.
type Result struct {
	Reader     io.ReadSeeker
	Compressed bool
	cleanup    func() error
}

// Close releases any resources (temp files) backing the result. It is
// always safe to call, even if MaybeCompress returned the original file.
func (r Result) Close() error {
	if r.cleanup != nil {
		return r.cleanup()
	}
	return nil
}

// MaybeCompress implements the "compress only if it helps" gate: files
// smaller than minSize are never compressed; larger files are
// gzip-compressed and the compressed form is used only if it is actually
// smaller than the original. Files larger than api.CompressInMemSize are
// compressed to a scoped temporary file instead of an in-memory buffer.
func MaybeCompress(path string, minSize int64) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() < minSize {
		f, err := os.Open(path)
		if err != nil {
			return Result{}, fmt.Errorf("opening %s: %w", path, err)
		}
		return Result{Reader: f, Compressed: false, cleanup: f.Close}, nil
	}

	src, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	compressedSize, dst, cleanup, err := compressToScratch(src, info.Size())
	if err != nil {
		return Result{}, err
	}

	if compressedSize >= info.Size() {
		cleanup()
		raw, err := os.Open(path)
		if err != nil {
			return Result{}, fmt.Errorf("opening %s: %w", path, err)
		}
		return Result{Reader: raw, Compressed: false, cleanup: raw.Close}, nil
	}

	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return Result{}, fmt.Errorf("seeking compressed scratch: %w", err)
	}
	return Result{Reader: dst, Compressed: true, cleanup: cleanup}, nil
}

// compressToScratch compresses src, spilling to an on-disk temp file for
// inputs over api.CompressInMemSize and otherwise compressing into
// memory.
func compressToScratch(src io.Reader, originalSize int64) (int64, io.ReadSeeker, func() error, error) {
	if originalSize > api.CompressInMemSize {
		name := filepath.Join(os.TempDir(), "blobcompress-"+uuid.NewString())
		tmp, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("creating temp file: %w", err)
		}
		cleanup := func() error {
			tmp.Close()
			return os.Remove(tmp.Name())
		}
		if err := EncodeStream(src, tmp); err != nil {
			cleanup()
			return 0, nil, nil, err
		}
		size, err := tmp.Seek(0, io.SeekCurrent)
		if err != nil {
			cleanup()
			return 0, nil, nil, err
		}
		return size, tmp, cleanup, nil
	}

	var buf bytes.Buffer
	if err := EncodeStream(src, &buf); err != nil {
		return 0, nil, nil, err
	}
	reader := bytes.NewReader(buf.Bytes())
	return int64(buf.Len()), reader, func() error { return nil }, nil
}
