// Package objectlist implements the known-blobs set: a durable set of
// blob digests living in the remote store under the "objectlist" key,
// mirrored locally in a JSON cache keyed by the remote object's etag so
// repeat runs skip the download when nothing changed.
package objectlist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tweag/objectsync/pkg/api"
	"github.com/tweag/objectsync/pkg/blobcompress"
	"github.com/tweag/objectsync/pkg/objectstore"
)

// Set is a known-blobs set: the digests known to exist in the remote store
// as of the last curator pass.
type Set struct {
	digests map[string]struct{}
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{digests: make(map[string]struct{})}
}

// Contains reports whether d is a member.
func (s *Set) Contains(d string) bool {
	_, ok := s.digests[d]
	return ok
}

// Add inserts d.
func (s *Set) Add(d string) {
	s.digests[d] = struct{}{}
}

// Len reports the number of members.
func (s *Set) Len() int {
	return len(s.digests)
}

// sorted returns the set's members in ascending order.
func (s *Set) sorted() []string {
	out := make([]string, 0, len(s.digests))
	for d := range s.digests {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// localCache is the on-disk mirror format: the remote object's etag at the
// time the mirror was written, plus the digests it held then.
type localCache struct {
	ETag    string   `json:"etag"`
	Objects []string `json:"objects"`
}

// Load fetches the known-blobs set. If the local cache file at
// cachePath records an etag matching the remote object's current etag, the
// local JSON cache is used directly; otherwise the remote payload is
// fetched, decoded, and the local cache is rewritten. A corrupt or missing
// local cache file is a soft miss, not an error.
func Load(ctx context.Context, store objectstore.Store, cachePath string) (*Set, error) {
	meta, err := store.Head(ctx, api.ObjectListKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return NewSet(), nil
		}
		return nil, fmt.Errorf("heading known-blobs object: %w", err)
	}

	if cached, ok := readLocalCache(cachePath, meta.ETag); ok {
		return cached, nil
	}

	body, fetchedMeta, err := store.Get(ctx, api.ObjectListKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return NewSet(), nil
		}
		return nil, fmt.Errorf("fetching known-blobs object: %w", err)
	}
	defer body.Close()

	data, err := readAllAndMaybeDecompress(body, fetchedMeta.ContentEncoding)
	if err != nil {
		return nil, fmt.Errorf("decoding known-blobs object: %w", err)
	}

	set := NewSet()
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		set.Add(line)
	}

	writeLocalCache(cachePath, fetchedMeta.ETag, set)
	return set, nil
}

// Save serializes set as sorted, newline-joined ASCII, gzip-encodes it, and
// writes it to the remote store under the objectlist key with
// content-encoding: gzip.
func Save(ctx context.Context, store objectstore.Store, set *Set) error {
	text := strings.Join(set.sorted(), "\n")
	compressed, err := blobcompress.EncodeToBlob([]byte(text))
	if err != nil {
		return fmt.Errorf("compressing known-blobs object: %w", err)
	}
	err = store.Put(ctx, api.ObjectListKey, bytes.NewReader(compressed), int64(len(compressed)), objectstore.PutOptions{
		ContentEncoding: "gzip",
	})
	if err != nil {
		return fmt.Errorf("writing known-blobs object: %w", err)
	}
	return nil
}

// readAllAndMaybeDecompress reads body fully and gzip-decodes it if
// either the content-encoding header or the gzip magic bytes indicate
// it's compressed.
func readAllAndMaybeDecompress(body io.Reader, contentEncoding string) ([]byte, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading known-blobs payload: %w", err)
	}
	if contentEncoding == "gzip" || blobcompress.HasGzipMagic(data) {
		return blobcompress.DecodeFromBlob(data)
	}
	return data, nil
}

func readLocalCache(cachePath, etag string) (*Set, bool) {
	data, err := os.ReadFile(cachePath)
	if err != nil {
		return nil, false
	}
	var lc localCache
	if err := json.Unmarshal(data, &lc); err != nil {
		return nil, false
	}
	if lc.ETag != etag || etag == "" {
		return nil, false
	}
	set := NewSet()
	for _, d := range lc.Objects {
		set.Add(d)
	}
	return set, true
}

func writeLocalCache(cachePath, etag string, set *Set) {
	lc := localCache{ETag: etag, Objects: set.sorted()}
	data, err := json.Marshal(lc)
	if err != nil {
		return
	}
	if dir := filepath.Dir(cachePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	os.WriteFile(cachePath, data, 0o644)
}
