package objectlist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tweag/objectsync/pkg/objectstore/objectstoretest"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := objectstoretest.New()

	set := NewSet()
	set.Add("aaa")
	set.Add("bbb")
	if err := Save(ctx, store, set); err != nil {
		t.Fatal(err)
	}

	cachePath := filepath.Join(t.TempDir(), "objectlist.json")
	got, err := Load(ctx, store, cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Contains("aaa") || !got.Contains("bbb") || got.Len() != 2 {
		t.Fatalf("unexpected set: %+v", got)
	}
}

func TestLoadMissingObjectReturnsEmptySet(t *testing.T) {
	ctx := context.Background()
	store := objectstoretest.New()
	got, err := Load(ctx, store, filepath.Join(t.TempDir(), "objectlist.json"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 0 {
		t.Fatalf("expected empty set, got %+v", got)
	}
}

func TestLoadUsesLocalCacheWhenEtagMatches(t *testing.T) {
	ctx := context.Background()
	store := objectstoretest.New()

	set := NewSet()
	set.Add("ccc")
	if err := Save(ctx, store, set); err != nil {
		t.Fatal(err)
	}

	cachePath := filepath.Join(t.TempDir(), "objectlist.json")
	if _, err := Load(ctx, store, cachePath); err != nil {
		t.Fatal(err)
	}
	getsAfterFirstLoad := store.Gets

	got, err := Load(ctx, store, cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if store.Gets != getsAfterFirstLoad {
		t.Fatalf("expected second load to hit local cache, not remote Get")
	}
	if !got.Contains("ccc") {
		t.Fatalf("unexpected set: %+v", got)
	}
}

func TestLoadSoftMissesCorruptCache(t *testing.T) {
	ctx := context.Background()
	store := objectstoretest.New()

	set := NewSet()
	set.Add("ddd")
	if err := Save(ctx, store, set); err != nil {
		t.Fatal(err)
	}

	cachePath := filepath.Join(t.TempDir(), "objectlist.json")
	if err := os.WriteFile(cachePath, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(ctx, store, cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Contains("ddd") {
		t.Fatalf("expected fallback to remote fetch, got %+v", got)
	}
}
