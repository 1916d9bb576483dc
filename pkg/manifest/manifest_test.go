package manifest

import (
	"bytes"
	"testing"
)

func TestRoundTripPlain(t *testing.T) {
	m := Manifest{
		{Digest: "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", RelPath: "a.txt", Perms: 0o644},
		{Digest: "1b3a3fc4a1d1f89f1f9d3c0c21b3a3fc4a1d1f89", RelPath: "dir/snow ☃.txt", Perms: 0o755},
	}
	var buf bytes.Buffer
	if err := Save(m, &buf, false); err != nil {
		t.Fatal(err)
	}
	got, err := Load(&buf)
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, m, got)
}

func TestRoundTripGzip(t *testing.T) {
	m := Manifest{
		{Digest: "da39a3ee5e6b4b0d3255bfef95601890afd80709", RelPath: "empty", Perms: 0o600},
	}
	var buf bytes.Buffer
	if err := Save(m, &buf, true); err != nil {
		t.Fatal(err)
	}
	if buf.Bytes()[0] != 0x1f || buf.Bytes()[1] != 0x8b {
		t.Fatalf("expected gzip envelope")
	}
	got, err := Load(&buf)
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, m, got)
}

func TestLoadAutoDetectsEither(t *testing.T) {
	m := Manifest{{Digest: "d", RelPath: "r", Perms: 420}}

	var plain bytes.Buffer
	Save(m, &plain, false)
	gotPlain, err := Load(&plain)
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, m, gotPlain)

	var gz bytes.Buffer
	Save(m, &gz, true)
	gotGz, err := Load(&gz)
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, m, gotGz)
}

func TestToMapLaterEntryWins(t *testing.T) {
	m := Manifest{
		{Digest: "old", RelPath: "f", Perms: 0o644},
		{Digest: "new", RelPath: "f", Perms: 0o600},
	}
	got := m.ToMap()
	if got["f"].Digest != "new" {
		t.Fatalf("expected later entry to win, got %+v", got["f"])
	}
}

func assertEqual(t *testing.T, want, got Manifest) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("length mismatch: want %d got %d", len(want), len(got))
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("entry %d: want %+v got %+v", i, want[i], got[i])
		}
	}
}
