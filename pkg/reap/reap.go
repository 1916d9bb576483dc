// Package reap implements the reaper / known-blobs curator: enumerate
// every object version, classify it as live, purgeable old, or
// superseded duplicate, batch-delete the losers under a crude rate
// limit, and rewrite the known-blobs snapshot from the survivors.
package reap

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/tweag/objectsync/pkg/api"
	"github.com/tweag/objectsync/pkg/logging"
	"github.com/tweag/objectsync/pkg/objectlist"
	"github.com/tweag/objectsync/pkg/objectstore"
)

// Options configures a reaper run.
type Options struct {
	// CutTime is the live/old boundary: versions at or after this time are
	// unconditionally kept and their digest is added to the rebuilt
	// known-blobs set. This must be supplied by the caller — it has no
	// sensible library default — and should trail "now" by a safety margin
	// so uploads still in flight when ListVersions ran, and long-lived
	// blobs that simply haven't been touched recently, are not treated as
	// purge candidates; cmd/reap defaults it to seven days before the run
	// started.
	CutTime time.Time
	// PurgeTime is how long an unknown-digest version survives before it
	// becomes eligible for deletion.
	PurgeTime time.Duration
	// BatchSize is how many (key, version) pairs are buffered before a
	// batch is handed to a deletion worker.
	BatchSize int
	// PoolSize is the number of concurrent deletion workers.
	PoolSize int
	// DeleteSleep is the per-batch rate-limit sleep before each worker
	// issues its bulk delete call.
	DeleteSleep time.Duration
}

// DefaultOptions returns sensible defaults for everything except
// CutTime, which has no sensible library default and must be set by the
// caller.
func DefaultOptions() Options {
	return Options{
		PurgeTime:   api.PurgeTime,
		BatchSize:   api.ReaperBatchSize,
		PoolSize:    api.ReaperPoolSize,
		DeleteSleep: api.ReaperDeleteSleep,
	}
}

// Counters summarizes a run.
type Counters struct {
	Live, DeletedOld, DeletedDuplicate, FailedBatches int
}

// Reaper curates a remote store's object versions and known-blobs set.
type Reaper struct {
	store objectstore.Store
	log   *logging.Logger
	opts  Options
}

// New returns a Reaper.
func New(store objectstore.Store, log *logging.Logger, opts Options) *Reaper {
	return &Reaper{store: store, log: log, opts: opts}
}

type versionRef struct {
	date time.Time
	vid  string
}

// Run performs a single ListVersions pass that classifies every
// version, deletes in rate-limited batches, and rewrites the
// known-blobs set from the survivors once deletions complete.
func (r *Reaper) Run(ctx context.Context, cachePath string) (Counters, error) {
	known, err := objectlist.Load(ctx, r.store, cachePath)
	if err != nil {
		return Counters{}, fmt.Errorf("loading known-blobs set: %w", err)
	}

	versions, err := r.store.ListVersions(ctx)
	if err != nil {
		return Counters{}, fmt.Errorf("listing object versions: %w", err)
	}

	newKnown := objectlist.NewSet()
	var counters Counters
	var pending []objectstore.VersionDeletion
	byKey := make(map[string][]versionRef)

	now := time.Now()
	purgeBefore := now.Add(-r.opts.PurgeTime)

	var batches [][]objectstore.VersionDeletion
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batches = append(batches, pending)
		pending = nil
	}

	for _, v := range versions {
		if v.DeleteMarker {
			continue
		}
		key := v.Key
		if isObjectListKey(key) {
			continue
		}
		digest := path.Base(key)
		byKey[key] = append(byKey[key], versionRef{date: v.LastModified, vid: v.VersionID})

		switch {
		case !v.LastModified.Before(r.opts.CutTime):
			newKnown.Add(digest)
			counters.Live++
		case !known.Contains(digest) && !v.LastModified.After(purgeBefore):
			pending = append(pending, objectstore.VersionDeletion{Key: key, VersionID: v.VersionID})
			counters.DeletedOld++
			if len(pending) >= r.opts.BatchSize {
				flush()
			}
		}
	}

	for key, refs := range byKey {
		sort.SliceStable(refs, func(i, j int) bool { return refs[i].date.Before(refs[j].date) })
		for _, ref := range refs[:len(refs)-1] {
			pending = append(pending, objectstore.VersionDeletion{Key: key, VersionID: ref.vid})
			counters.DeletedDuplicate++
			if len(pending) >= r.opts.BatchSize {
				flush()
			}
		}
	}
	flush()

	if err := r.deleteBatches(ctx, batches, &counters); err != nil {
		return counters, err
	}

	if err := objectlist.Save(ctx, r.store, newKnown); err != nil {
		return counters, fmt.Errorf("saving known-blobs set: %w", err)
	}

	return counters, nil
}

// deleteBatches hands each batch to the deletion pool; an individual
// batch's failure is logged and counted but never prevents the
// known-blobs rewrite, since newKnown was computed from survivors before
// any deletion ran.
func (r *Reaper) deleteBatches(ctx context.Context, batches [][]objectstore.VersionDeletion, counters *Counters) error {
	poolSize := r.opts.PoolSize
	if poolSize <= 0 {
		poolSize = api.ReaperPoolSize
	}

	sem := make(chan struct{}, poolSize)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, batch := range batches {
		batch := batch
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-time.After(r.opts.DeleteSleep):
			case <-ctx.Done():
				return
			}

			if err := r.store.DeleteBatch(ctx, batch); err != nil {
				r.log.Errorf("batch delete of %d versions failed: %v", len(batch), err)
				mu.Lock()
				counters.FailedBatches++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return nil
}

func isObjectListKey(key string) bool {
	return len(key) >= len(api.ObjectListKey) && key[:len(api.ObjectListKey)] == api.ObjectListKey
}
