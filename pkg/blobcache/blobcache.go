// Package blobcache implements the local content-addressed blob cache:
// a two-level fan-out directory tree keyed by digest, with no eviction
// policy: nothing in this module removes entries from the cache.
package blobcache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Cache is a local content-addressed blob store rooted at a directory.
type Cache struct {
	root string
}

// New returns a Cache rooted at root. The root is not created here; callers
// that want it to exist ahead of use should os.MkdirAll it themselves.
func New(root string) *Cache {
	return &Cache{root: root}
}

// PathFor returns the absolute path at which digest d is, or would be,
// stored: root/d[0:1]/d[1:2]/d. Digests shorter than two characters are
// stored directly under root.
func (c *Cache) PathFor(d string) string {
	if len(d) < 2 {
		return filepath.Join(c.root, d)
	}
	return filepath.Join(c.root, d[0:1], d[1:2], d)
}

// Contains reports whether d is present in the cache.
func (c *Cache) Contains(d string) bool {
	_, err := os.Stat(c.PathFor(d))
	return err == nil
}

// Materialize copies the cached blob for d to dest, creating dest's
// parent directories as needed. It does not chmod dest; permission
// application is the download planner's responsibility.
func (c *Cache) Materialize(d string, dest string) error {
	src, err := os.Open(c.PathFor(d))
	if err != nil {
		return fmt.Errorf("opening cached blob %s: %w", d, err)
	}
	defer src.Close()

	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating destination directory for %s: %w", dest, err)
		}
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating destination file %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("copying cached blob %s to %s: %w", d, dest, err)
	}
	return nil
}

// Store writes data into the cache under digest d, creating parent
// directories as needed.
func (c *Cache) Store(d string, data io.Reader) error {
	path := c.PathFor(d)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating cache directory for %s: %w", d, err)
		}
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating cache entry %s: %w", d, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, data); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", d, err)
	}
	return nil
}
