// Package manifest implements the manifest codec: a sequence of
// (digest, relpath, perms) triples serialized as a JSON array,
// optionally wrapped in a gzip envelope auto-detected by its magic bytes
// on read.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tweag/objectsync/pkg/blobcompress"
)

// Entry is one manifest triple.
type Entry struct {
	Digest  string
	RelPath string
	Perms   int
}

// Manifest is an ordered sequence of entries. Order is stable for
// diffing but callers must not depend on it for correctness.
type Manifest []Entry

// jsonTuple is the on-disk 3-element array form of an Entry.
type jsonTuple [3]any

func (e Entry) toTuple() jsonTuple {
	return jsonTuple{e.Digest, e.RelPath, e.Perms}
}

// Save serializes m as a JSON array of 3-tuples, optionally gzip-wrapping
// the result.
func Save(m Manifest, w io.Writer, gzipEnvelope bool) error {
	tuples := make([]jsonTuple, len(m))
	for i, e := range m {
		tuples[i] = e.toTuple()
	}
	data, err := json.Marshal(tuples)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if !gzipEnvelope {
		_, err := w.Write(data)
		if err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
		return nil
	}
	if err := blobcompress.EncodeStream(bytes.NewReader(data), w); err != nil {
		return fmt.Errorf("compressing manifest: %w", err)
	}
	return nil
}

// Load reads all of r, auto-detects a gzip envelope by probing the first
// two bytes for the gzip magic number, decodes if present, and parses the
// JSON array of 3-tuples.
func Load(r io.Reader) (Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if blobcompress.HasGzipMagic(data) {
		data, err = blobcompress.DecodeFromBlob(data)
		if err != nil {
			return nil, fmt.Errorf("decompressing manifest: %w", err)
		}
	}

	var raw [][3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing manifest JSON: %w", err)
	}

	m := make(Manifest, 0, len(raw))
	for _, tuple := range raw {
		var digest, relpath string
		var perms int
		if err := json.Unmarshal(tuple[0], &digest); err != nil {
			return nil, fmt.Errorf("parsing manifest entry digest: %w", err)
		}
		if err := json.Unmarshal(tuple[1], &relpath); err != nil {
			return nil, fmt.Errorf("parsing manifest entry relpath: %w", err)
		}
		if err := json.Unmarshal(tuple[2], &perms); err != nil {
			return nil, fmt.Errorf("parsing manifest entry perms: %w", err)
		}
		m = append(m, Entry{Digest: digest, RelPath: relpath, Perms: perms})
	}
	return m, nil
}

// ToMap builds a lookup from relpath to the last entry with that
// relpath: duplicate relpaths with differing digests mean the later
// entry wins at materialization time.
func (m Manifest) ToMap() map[string]Entry {
	out := make(map[string]Entry, len(m))
	for _, e := range m {
		out[e.RelPath] = e
	}
	return out
}
