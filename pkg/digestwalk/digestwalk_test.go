package digestwalk

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDigestFileStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := DigestFile(path)
	if err != nil {
		t.Fatal(err)
	}
	const want = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d" // sha1("hello")
	if got != want {
		t.Fatalf("DigestFile() = %s, want %s", got, want)
	}

	copyPath := filepath.Join(dir, "copy.txt")
	if err := os.WriteFile(copyPath, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	got2, err := DigestFile(copyPath)
	if err != nil {
		t.Fatal(err)
	}
	if got != got2 {
		t.Fatalf("digest not stable across identical content: %s != %s", got, got2)
	}
}

func TestWalkOrderAndSkips(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "b.txt"), "b")
	mustWrite(t, filepath.Join(dir, "a.txt"), "a")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(dir, "sub", "c.txt"), "c")

	if err := os.Symlink(filepath.Join(dir, "a.txt"), filepath.Join(dir, "link.txt")); err != nil {
		t.Skip("symlinks unsupported on this platform")
	}

	var skipped []string
	entries, err := Walk(dir, func(path string, err error) {
		skipped = append(skipped, path)
	})
	if err != nil {
		t.Fatal(err)
	}

	var paths []string
	for _, e := range entries {
		paths = append(paths, StripPrefix(dir, e.Path))
	}
	want := []string{"a.txt", "b.txt", "sub/c.txt"}
	if len(paths) != len(want) {
		t.Fatalf("got %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("got %v, want %v", paths, want)
		}
	}
	if len(skipped) != 1 {
		t.Fatalf("expected symlink to be skipped, got skipped=%v", skipped)
	}
}

func TestStripPrefix(t *testing.T) {
	got := StripPrefix("/tmp/root", "/tmp/root/dir/file.txt")
	if got != "dir/file.txt" {
		t.Fatalf("got %q", got)
	}
}

func TestParseHTTPDate(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"2015-01-02T03:04:05.000Z", 1420167845},
		{"Fri, 02 Jan 2015 03:04:05 GMT", 1420167845},
	}
	for _, c := range cases {
		got, err := ParseHTTPDate(c.in)
		if err != nil {
			t.Fatalf("ParseHTTPDate(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseHTTPDate(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
