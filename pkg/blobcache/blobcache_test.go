package blobcache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPathForTwoLevelFanOut(t *testing.T) {
	c := New("/cache")
	got := c.PathFor("abcdef")
	want := filepath.Join("/cache", "a", "b", "abcdef")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestContainsAndMaterialize(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	digest := "abcdef0123"

	if c.Contains(digest) {
		t.Fatalf("expected miss before store")
	}

	if err := c.Store(digest, strings.NewReader("payload")); err != nil {
		t.Fatal(err)
	}
	if !c.Contains(digest) {
		t.Fatalf("expected hit after store")
	}

	dest := filepath.Join(root, "out", "nested", "file.txt")
	if err := c.Materialize(digest, dest); err != nil {
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

func TestMaterializeMissingDigest(t *testing.T) {
	c := New(t.TempDir())
	if err := c.Materialize("missing", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatalf("expected error for missing cache entry")
	}
}
