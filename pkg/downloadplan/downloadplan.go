// Package downloadplan implements the download planner: diff a manifest
// against an existing destination tree, fetch missing blobs through a
// bounded worker pool and the local cache, fan out to every destination
// sharing a digest, and apply permissions.
package downloadplan

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tweag/objectsync/pkg/api"
	"github.com/tweag/objectsync/pkg/blobcache"
	"github.com/tweag/objectsync/pkg/blobtransfer"
	"github.com/tweag/objectsync/pkg/digestwalk"
	"github.com/tweag/objectsync/pkg/logging"
	"github.com/tweag/objectsync/pkg/manifest"
)

// Options configures a planner run.
type Options struct {
	// Jobs is the download worker-pool size.
	Jobs int
}

// DefaultOptions returns the default worker-pool size.
func DefaultOptions() Options {
	return Options{Jobs: api.DefaultJobs}
}

// Counters summarizes a run.
type Counters struct {
	Deleted, Kept, CacheHits, ZeroByte, Downloaded int
}

// Planner runs download plans against a local cache and a blob transfer.
type Planner struct {
	transfer *blobtransfer.Transfer
	cache    *blobcache.Cache
	log      *logging.Logger
	opts     Options
}

// New returns a Planner.
func New(transfer *blobtransfer.Transfer, cache *blobcache.Cache, log *logging.Logger, opts Options) *Planner {
	return &Planner{transfer: transfer, cache: cache, log: log, opts: opts}
}

type targetEntry struct {
	digest  string
	relpath string
	perms   int
}

// Run loads the manifest, diffs it against dest, deletes stale files,
// leaves unchanged ones in place, and fetches/fans out the rest.
func (p *Planner) Run(ctx context.Context, manifestReader io.Reader, dest string) (Counters, error) {
	m, err := manifest.Load(manifestReader)
	if err != nil {
		return Counters{}, fmt.Errorf("loading manifest: %w", err)
	}

	targets := make(map[string]targetEntry, len(m))
	for _, e := range m {
		targets[e.RelPath] = targetEntry{digest: e.Digest, relpath: e.RelPath, perms: e.Perms}
	}

	local := make(map[string]string) // relpath -> digest
	if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
		entries, walkErr := digestwalk.Walk(dest, func(path string, err error) {
			p.log.Warnf("skipping %s during diff: %v", path, err)
		})
		if walkErr != nil {
			return Counters{}, fmt.Errorf("walking destination %s: %w", dest, walkErr)
		}
		for _, e := range entries {
			local[digestwalk.StripPrefix(dest, e.Path)] = e.Digest
		}
	}

	var counters Counters

	for relpath, digest := range local {
		if target, ok := targets[relpath]; !ok || target.digest != digest {
			if err := os.Remove(filepath.Join(dest, relpath)); err != nil && !os.IsNotExist(err) {
				return counters, fmt.Errorf("removing stale %s: %w", relpath, err)
			}
			counters.Deleted++
		} else {
			counters.Kept++
		}
	}

	// Group remaining work by digest so a blob downloaded once can fan out
	// to every relpath that shares it.
	type toAdd struct {
		digest string
		dests  []targetEntry
	}
	byDigest := make(map[string]*toAdd)
	var order []string

	for relpath, target := range targets {
		if d, ok := local[relpath]; ok && d == target.digest {
			continue // already in place and unchanged
		}
		if target.digest == api.EmptyDigest {
			if err := placeEmptyFile(filepath.Join(dest, relpath), target.perms); err != nil {
				return counters, err
			}
			counters.ZeroByte++
			continue
		}
		if p.cache.Contains(target.digest) {
			if err := p.cache.Materialize(target.digest, filepath.Join(dest, relpath)); err != nil {
				return counters, fmt.Errorf("materializing %s: %w", relpath, err)
			}
			if err := os.Chmod(filepath.Join(dest, relpath), permMode(target.perms)); err != nil {
				return counters, fmt.Errorf("chmod %s: %w", relpath, err)
			}
			counters.CacheHits++
			continue
		}
		entry, ok := byDigest[target.digest]
		if !ok {
			entry = &toAdd{digest: target.digest}
			byDigest[target.digest] = entry
			order = append(order, target.digest)
		}
		entry.dests = append(entry.dests, target)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobsOrDefault(p.opts.Jobs))

	var mu sync.Mutex
	for _, digest := range order {
		entry := byDigest[digest]
		g.Go(func() error {
			cachePath := p.cache.PathFor(entry.digest)
			if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
				return fmt.Errorf("creating cache directory for %s: %w", entry.digest, err)
			}
			if err := p.transfer.DownloadBlob(gctx, api.ObjectKey(entry.digest), cachePath); err != nil {
				return fmt.Errorf("downloading %s: %w", entry.digest, err)
			}
			for _, target := range entry.dests {
				if err := p.cache.Materialize(entry.digest, filepath.Join(dest, target.relpath)); err != nil {
					return fmt.Errorf("materializing %s: %w", target.relpath, err)
				}
				if err := os.Chmod(filepath.Join(dest, target.relpath), permMode(target.perms)); err != nil {
					return fmt.Errorf("chmod %s: %w", target.relpath, err)
				}
			}
			mu.Lock()
			counters.Downloaded += len(entry.dests)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return counters, err
	}

	return counters, nil
}

func placeEmptyFile(path string, perms int) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", path, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating empty file %s: %w", path, err)
	}
	f.Close()
	return os.Chmod(path, permMode(perms))
}

func permMode(perms int) os.FileMode {
	return os.FileMode(perms & 0o777)
}

func jobsOrDefault(j int) int {
	if j <= 0 {
		return api.DefaultJobs
	}
	return j
}
