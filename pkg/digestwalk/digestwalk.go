// Package digestwalk provides streaming digest and tree-walking
// utilities: a stable per-file digest, an in-order directory walk,
// relative-path stripping, and a tolerant HTTP-date parser used to
// interpret remote last-modified timestamps.
package digestwalk

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// blockSize is the chunk size used when streaming file contents through
// the digest.
const blockSize = 1024 * 1024

// DigestFile streams the file at path through SHA-1 in blockSize chunks and
// returns its lowercase hex digest. It never loads the whole file into
// memory.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digesting %s: %w", path, err)
	}
	defer f.Close()

	h := sha1.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("digesting %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Entry is one (absolute path, digest) pair produced by Walk.
type Entry struct {
	Path   string
	Digest string
}

// Walk performs an in-order walk of root: directory entries and file
// entries are sorted lexicographically at each level before descending,
// so that two walks of identical trees visit files in the same order.
// Symlinks and other non-regular files are skipped; onSkip, if non-nil,
// is called with the path and the reason for each skip. Unreadable files
// are skipped the same way rather than aborting the walk.
func Walk(root string, onSkip func(path string, err error)) ([]Entry, error) {
	var entries []Entry
	if err := walkDir(root, root, onSkip, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func walkDir(root, dir string, onSkip func(string, error), out *[]Entry) error {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", dir, err)
	}
	sort.Slice(dirEntries, func(i, j int) bool {
		return dirEntries[i].Name() < dirEntries[j].Name()
	})

	var subdirs []string
	var files []string
	for _, de := range dirEntries {
		full := filepath.Join(dir, de.Name())
		info, err := de.Info()
		if err != nil {
			if onSkip != nil {
				onSkip(full, err)
			}
			continue
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() && !de.IsDir():
			if onSkip != nil {
				onSkip(full, fmt.Errorf("not a regular file or directory"))
			}
		case de.IsDir():
			subdirs = append(subdirs, full)
		default:
			files = append(files, full)
		}
	}

	for _, f := range files {
		digest, err := DigestFile(f)
		if err != nil {
			if onSkip != nil {
				onSkip(f, err)
			}
			continue
		}
		*out = append(*out, Entry{Path: f, Digest: digest})
	}
	for _, d := range subdirs {
		if err := walkDir(root, d, onSkip, out); err != nil {
			return err
		}
	}
	return nil
}

// StripPrefix removes root (plus a path separator) from abs, returning a
// forward-slash relative path.
func StripPrefix(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		rel = strings.TrimPrefix(abs, root)
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
	}
	return filepath.ToSlash(rel)
}

// ParseHTTPDate accepts either an ISO-8601 timestamp ("YYYY-MM-DDTHH:MM:SS",
// using only the first 19 characters) or an RFC-2822 timestamp, and
// returns the corresponding Unix time in seconds, matching
// hashsync.utils.parse_date's two accepted formats.
func ParseHTTPDate(s string) (int64, error) {
	if len(s) >= 19 {
		if t, err := time.Parse("2006-01-02T15:04:05", s[:19]); err == nil {
			return t.UTC().Unix(), nil
		}
	}
	addr, err := mail.ParseDate(s)
	if err == nil {
		return addr.UTC().Unix(), nil
	}
	// Fall back to a fixed list of RFC 1123/822 layouts tried in turn
	// with time.Parse.
	if t, err2 := parseLooseRFC2822(s); err2 == nil {
		return t.UTC().Unix(), nil
	}
	return 0, fmt.Errorf("parsing date %q: %w", s, err)
}

func parseLooseRFC2822(s string) (time.Time, error) {
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
	}
	var firstErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
