// Package objectstoretest provides an in-memory objectstore.Store used by
// the synchronizer's own tests to exercise C6-C9 without a real S3 bucket.
package objectstoretest

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tweag/objectsync/pkg/objectstore"
)

type version struct {
	data            []byte
	contentEncoding string
	lastModified    time.Time
	deleteMarker    bool
	storageClass    string
	etag            string
}

// MemStore is an in-memory, versioned objectstore.Store.
type MemStore struct {
	mu sync.Mutex
	// versions holds every version ever written for a key, oldest first.
	versions map[string][]version
	nextVer  int

	// Now lets tests control the store's clock; if nil, time.Now is used.
	Now func() time.Time

	// Gets, Puts, Copies, Heads count calls for fan-out/dedup assertions.
	Gets, Puts, Copies, Heads int
}

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{versions: make(map[string][]version)}
}

func (m *MemStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MemStore) Head(ctx context.Context, key string) (objectstore.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Heads++
	vs := m.versions[key]
	if len(vs) == 0 || vs[len(vs)-1].deleteMarker {
		return objectstore.Metadata{}, objectstore.ErrNotFound
	}
	v := vs[len(vs)-1]
	return objectstore.Metadata{
		LastModified:    v.lastModified,
		ContentEncoding: v.contentEncoding,
		ETag:            v.etag,
		Size:            int64(len(v.data)),
	}, nil
}

func (m *MemStore) Get(ctx context.Context, key string) (io.ReadCloser, objectstore.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++
	vs := m.versions[key]
	if len(vs) == 0 || vs[len(vs)-1].deleteMarker {
		return nil, objectstore.Metadata{}, objectstore.ErrNotFound
	}
	v := vs[len(vs)-1]
	return io.NopCloser(bytes.NewReader(v.data)), objectstore.Metadata{
		LastModified:    v.lastModified,
		ContentEncoding: v.contentEncoding,
		ETag:            v.etag,
		Size:            int64(len(v.data)),
	}, nil
}

func (m *MemStore) Put(ctx context.Context, key string, data io.Reader, size int64, opts objectstore.PutOptions) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts++
	m.versions[key] = append(m.versions[key], version{
		data:            buf,
		contentEncoding: opts.ContentEncoding,
		lastModified:    m.now(),
		storageClass:    opts.StorageClass,
		etag:            etagOf(buf),
	})
	return nil
}

func (m *MemStore) Copy(ctx context.Context, key string, storageClass string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Copies++
	vs := m.versions[key]
	if len(vs) == 0 || vs[len(vs)-1].deleteMarker {
		return objectstore.ErrNotFound
	}
	latest := vs[len(vs)-1]
	sc := storageClass
	if sc == "" {
		sc = latest.storageClass
	}
	m.versions[key] = append(vs, version{
		data:            latest.data,
		contentEncoding: latest.contentEncoding,
		lastModified:    m.now(),
		storageClass:    sc,
		etag:            latest.etag,
	})
	return nil
}

func (m *MemStore) ListVersions(ctx context.Context) ([]objectstore.ObjectVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []objectstore.ObjectVersion
	keys := make([]string, 0, len(m.versions))
	for k := range m.versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for i, v := range m.versions[k] {
			out = append(out, objectstore.ObjectVersion{
				Key:          k,
				VersionID:    versionID(k, i),
				LastModified: v.lastModified,
				DeleteMarker: v.deleteMarker,
			})
		}
	}
	return out, nil
}

func (m *MemStore) DeleteBatch(ctx context.Context, versions []objectstore.VersionDeletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey := make(map[string][]int)
	for _, d := range versions {
		byKey[d.Key] = append(byKey[d.Key], versionIndex(d.VersionID))
	}
	for key, idxs := range byKey {
		vs := m.versions[key]
		sort.Sort(sort.Reverse(sort.IntSlice(idxs)))
		for _, idx := range idxs {
			if idx < 0 || idx >= len(vs) {
				continue
			}
			vs = append(vs[:idx], vs[idx+1:]...)
		}
		if len(vs) == 0 {
			delete(m.versions, key)
		} else {
			m.versions[key] = vs
		}
	}
	return nil
}

// SetLastModified backdates the latest version of key for test fixtures
// that need to simulate an object aged past REFRESH_MINTIME or PURGE_TIME.
func (m *MemStore) SetLastModified(key string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := m.versions[key]
	if len(vs) == 0 {
		return
	}
	vs[len(vs)-1].lastModified = t
}

func etagOf(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func versionID(key string, idx int) string {
	return key + "#" + strconv.Itoa(idx)
}

func versionIndex(versionID string) int {
	i := strings.LastIndexByte(versionID, '#')
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(versionID[i+1:])
	if err != nil {
		return -1
	}
	return n
}
