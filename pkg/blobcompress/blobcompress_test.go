package blobcompress

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestStreamRoundTrip(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeated. " +
		"the quick brown fox jumps over the lazy dog, repeated.")
	var compressed bytes.Buffer
	if err := EncodeStream(bytes.NewReader(data), &compressed); err != nil {
		t.Fatal(err)
	}
	var decompressed bytes.Buffer
	if err := DecodeStream(&compressed, &decompressed); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, decompressed.Bytes()) {
		t.Fatalf("round trip mismatch")
	}
}

func TestBlobRoundTrip(t *testing.T) {
	data := []byte("hello, world")
	enc, err := EncodeToBlob(data)
	if err != nil {
		t.Fatal(err)
	}
	if !HasGzipMagic(enc) {
		t.Fatalf("encoded blob missing gzip magic")
	}
	dec, err := DecodeFromBlob(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, dec) {
		t.Fatalf("round trip mismatch")
	}
}

func TestMaybeCompressSmallFileNeverCompressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.txt")
	if err := os.WriteFile(path, []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := MaybeCompress(path, 1024)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Close()
	if res.Compressed {
		t.Fatalf("expected small file not to be compressed")
	}
	data, err := io.ReadAll(res.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "short" {
		t.Fatalf("got %q", data)
	}
}

func TestMaybeCompressHighEntropyStaysUncompressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "random.bin")
	data := make([]byte, 4096)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := MaybeCompress(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Close()
	if res.Compressed {
		t.Fatalf("expected high-entropy data to stay uncompressed")
	}
}

func TestMaybeCompressCompressibleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "text.txt")
	data := bytes.Repeat([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 200)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := MaybeCompress(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Close()
	if !res.Compressed {
		t.Fatalf("expected compressible data to be compressed")
	}
	compressed, err := io.ReadAll(res.Reader)
	if err != nil {
		t.Fatal(err)
	}
	decompressed, err := DecodeFromBlob(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatalf("round trip mismatch")
	}
}
