// Package uploadplan implements the upload planner: walk a local tree,
// dedupe against the known-blobs set, upload missing or due-for-refresh
// blobs through a bounded worker pool, and emit a manifest.
package uploadplan

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/tweag/objectsync/pkg/api"
	"github.com/tweag/objectsync/pkg/blobtransfer"
	"github.com/tweag/objectsync/pkg/digestwalk"
	"github.com/tweag/objectsync/pkg/logging"
	"github.com/tweag/objectsync/pkg/manifest"
	"github.com/tweag/objectsync/pkg/objectlist"
	"github.com/tweag/objectsync/pkg/objectstore"
)

// Options configures a planner run.
type Options struct {
	// Jobs is the upload worker-pool size.
	Jobs int
	// DryRun skips the known-blobs load (an empty set is used instead)
	// and performs no uploads or manifest writes.
	DryRun bool
	// RefreshEveryNth is the denominator of the forced-refresh lottery.
	RefreshEveryNth int
	// MaxUploadTime bounds a single upload task.
	MaxUploadTime time.Duration
	// DuplicateReport, when true, additionally computes a report of bytes
	// wasted by files sharing a digest.
	DuplicateReport bool
}

// DefaultOptions returns the planner's default tunables.
func DefaultOptions() Options {
	return Options{
		Jobs:            api.DefaultJobs,
		RefreshEveryNth: api.RefreshEveryNthObjects,
		MaxUploadTime:   api.MaxUploadTime,
	}
}

// Counters aggregates per-outcome counts and byte-sums across a run.
type Counters struct {
	Uploaded, Refreshed, Skipped, Inlined, SkippedKnown int
	BytesUploaded                                       int64
}

// DuplicateGroup reports wasted bytes for one digest seen at two or more
// relpaths with the same size.
type DuplicateGroup struct {
	Digest      digest.Digest
	Size        int64
	Occurrences int
	WastedBytes int64
}

// Result is returned by Run.
type Result struct {
	Manifest   manifest.Manifest
	Counters   Counters
	Duplicates []DuplicateGroup
}

// Planner runs upload plans against a remote store and a known-blobs set.
type Planner struct {
	transfer  *blobtransfer.Transfer
	store     objectstore.Store
	cachePath string
	log       *logging.Logger
	opts      Options
}

// New returns a Planner.
func New(transfer *blobtransfer.Transfer, store objectstore.Store, cachePath string, log *logging.Logger, opts Options) *Planner {
	return &Planner{transfer: transfer, store: store, cachePath: cachePath, log: log, opts: opts}
}

// Run loads the known-blobs set, walks root, dedupes and enqueues work,
// runs the worker pool, accumulates the manifest, and (unless dry-run)
// persists it.
func (p *Planner) Run(ctx context.Context, root string, out io.Writer, gzipManifest bool) (Result, error) {
	known := objectlist.NewSet()
	if !p.opts.DryRun {
		loaded, err := objectlist.Load(ctx, p.store, p.cachePath)
		if err != nil {
			return Result{}, fmt.Errorf("loading known-blobs set: %w", err)
		}
		known = loaded
	}

	entries, err := digestwalk.Walk(root, func(path string, err error) {
		p.log.Warnf("skipping %s: %v", path, err)
	})
	if err != nil {
		return Result{}, fmt.Errorf("walking %s: %w", root, err)
	}

	var (
		mu       sync.Mutex
		result   Result
		enqueued = make(map[string]bool)
		sizes    = make(map[string]int64)
	)

	deadline := p.opts.MaxUploadTime
	if deadline <= 0 {
		deadline = api.MaxUploadTime
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobsOrDefault(p.opts.Jobs))

	for _, entry := range entries {
		info, statErr := os.Stat(entry.Path)
		if statErr != nil {
			p.log.Warnf("skipping %s: %v", entry.Path, statErr)
			continue
		}
		relpath := digestwalk.StripPrefix(root, entry.Path)
		perms := int(info.Mode().Perm())

		mu.Lock()
		result.Manifest = append(result.Manifest, manifestEntry(entry.Digest, relpath, perms))
		sizes[entry.Digest] = info.Size()
		mu.Unlock()

		if info.Size() == 0 {
			mu.Lock()
			result.Counters.Inlined++
			mu.Unlock()
			continue
		}

		mu.Lock()
		alreadyEnqueued := enqueued[entry.Digest]
		forceRefresh := rand.Intn(refreshEveryNthOrDefault(p.opts.RefreshEveryNth)) == 0
		if alreadyEnqueued {
			mu.Unlock()
			continue
		}
		if known.Contains(entry.Digest) && !forceRefresh {
			result.Counters.SkippedKnown++
			mu.Unlock()
			continue
		}
		enqueued[entry.Digest] = true
		known.Add(entry.Digest)
		mu.Unlock()

		if p.opts.DryRun {
			continue
		}

		path := entry.Path
		digest := entry.Digest
		size := info.Size()
		g.Go(func() error {
			taskCtx, cancel := context.WithTimeout(gctx, deadline)
			defer cancel()
			outcome, err := p.transfer.UploadBlob(taskCtx, path, api.ObjectKey(digest))
			if err != nil {
				return fmt.Errorf("uploading %s: %w", path, err)
			}
			mu.Lock()
			recordOutcome(&result.Counters, outcome, size)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if p.opts.DuplicateReport {
		result.Duplicates = duplicateGroups(result.Manifest, sizes)
	}

	if p.opts.DryRun {
		return result, nil
	}

	if err := manifest.Save(result.Manifest, out, gzipManifest); err != nil {
		return Result{}, fmt.Errorf("saving manifest: %w", err)
	}
	if err := objectlist.Save(ctx, p.store, known); err != nil {
		return Result{}, fmt.Errorf("saving known-blobs set: %w", err)
	}

	return result, nil
}

func manifestEntry(digest, relpath string, perms int) manifest.Entry {
	return manifest.Entry{Digest: digest, RelPath: relpath, Perms: perms & 0o777}
}

func recordOutcome(c *Counters, outcome api.Outcome, size int64) {
	switch outcome {
	case api.Uploaded:
		c.Uploaded++
		c.BytesUploaded += size
	case api.Refreshed:
		c.Refreshed++
	case api.Skipped:
		c.Skipped++
	case api.Inlined:
		c.Inlined++
	}
}

// duplicateGroups reports, for each digest that appears at two or more
// relpaths in m, the bytes wasted by all but one copy.
func duplicateGroups(m manifest.Manifest, sizes map[string]int64) []DuplicateGroup {
	counts := make(map[string]int)
	for _, e := range m {
		counts[e.Digest]++
	}
	var groups []DuplicateGroup
	seen := make(map[string]bool)
	for _, e := range m {
		if seen[e.Digest] || counts[e.Digest] < 2 {
			continue
		}
		seen[e.Digest] = true
		n := counts[e.Digest]
		size := sizes[e.Digest]
		groups = append(groups, DuplicateGroup{
			Digest:      digest.NewDigestFromEncoded("sha1", e.Digest),
			Size:        size,
			Occurrences: n,
			WastedBytes: int64(n-1) * size,
		})
	}
	return groups
}

func jobsOrDefault(j int) int {
	if j <= 0 {
		return api.DefaultJobs
	}
	return j
}

func refreshEveryNthOrDefault(n int) int {
	if n <= 0 {
		return api.RefreshEveryNthObjects
	}
	return n
}
