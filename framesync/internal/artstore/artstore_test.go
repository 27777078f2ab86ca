package artstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func TestPutAndCurrent(t *testing.T) {
	// WHAT: Put replaces the artifact on disk and in memory.
	// WHY: The status endpoint serves from memory, the next run restores from disk.
	path := filepath.Join(t.TempDir(), "art.jpg")
	s := New(path, nil)

	if _, ok := s.Current(); ok {
		t.Fatal("expected no artifact before first Put")
	}

	now := time.Now()
	a, err := s.Put([]byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2}, "image/jpeg", now)
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash == "" {
		t.Fatal("hash not set")
	}

	cur, ok := s.Current()
	if !ok {
		t.Fatal("expected artifact")
	}
	if cur.ContentType != "image/jpeg" || len(cur.Data) != 6 {
		t.Fatalf("unexpected artifact: %+v", cur)
	}

	disk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(disk) != 6 {
		t.Fatalf("disk size: got %d", len(disk))
	}
}

func TestCurrent_CopyOnRead(t *testing.T) {
	// WHAT: Mutating a returned artifact does not affect the store.
	// WHY: Readers copy; the store owns the artifact exclusively.
	s := New(filepath.Join(t.TempDir(), "art.jpg"), nil)
	s.Put([]byte("abc"), "image/jpeg", time.Now())

	a, _ := s.Current()
	a.Data[0] = 'z'

	b, _ := s.Current()
	if string(b.Data) != "abc" {
		t.Fatalf("store mutated through reader copy: %q", b.Data)
	}
}

func TestPut_EmptyRejected(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "art.jpg"), nil)
	if _, err := s.Put(nil, "image/png", time.Now()); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestPut_FailedWriteKeepsPrevious(t *testing.T) {
	// WHAT: A failed disk write leaves the previous artifact in place.
	// WHY: Acquisition failures must never clear what is displayed.
	dir := t.TempDir()
	s := New(filepath.Join(dir, "art.jpg"), nil)
	if _, err := s.Put([]byte("old"), "image/jpeg", time.Now()); err != nil {
		t.Fatal(err)
	}

	// Point the store at a path whose parent is a regular file.
	blocker := filepath.Join(dir, "blocker")
	os.WriteFile(blocker, []byte("x"), 0o644)
	s.path = filepath.Join(blocker, "art.jpg")

	if _, err := s.Put([]byte("new"), "image/jpeg", time.Now()); err == nil {
		t.Fatal("expected write error")
	}
	cur, _ := s.Current()
	if string(cur.Data) != "old" {
		t.Fatalf("previous artifact lost: %q", cur.Data)
	}
}

func TestLoad_RestoresFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "art.jpg")
	os.WriteFile(path, pngHeader, 0o644)

	s := New(path, nil)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	a, ok := s.Current()
	if !ok {
		t.Fatal("expected restored artifact")
	}
	if a.ContentType != "image/png" {
		t.Fatalf("content type: got %q", a.ContentType)
	}
	if a.FileType() != "png" {
		t.Fatalf("file type: got %q", a.FileType())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "none.jpg"), nil)
	if err := s.Load(); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if _, ok := s.Current(); ok {
		t.Fatal("expected no artifact")
	}
}

func TestHash_Stable(t *testing.T) {
	if Hash([]byte("a")) != Hash([]byte("a")) {
		t.Fatal("hash not deterministic")
	}
	if Hash([]byte("a")) == Hash([]byte("b")) {
		t.Fatal("distinct inputs collide")
	}
	if len(Hash(nil)) != 64 {
		t.Fatalf("hex length: got %d", len(Hash(nil)))
	}
}

func TestPut_UnsupportedTypeRejected(t *testing.T) {
	// WHAT: Only JPEG and PNG artifacts are stored.
	// WHY: The display only accepts those two; anything else would be
	// uploaded under the wrong file type.
	path := filepath.Join(t.TempDir(), "art.jpg")
	s := New(path, nil)
	if _, err := s.Put([]byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg; charset=binary", time.Now()); err != nil {
		t.Fatal(err)
	}
	for _, ct := range []string{"image/gif", "image/webp", "application/json"} {
		if _, err := s.Put([]byte("GIF89a"), ct, time.Now()); !errors.Is(err, ErrUnsupportedType) {
			t.Fatalf("%s: expected ErrUnsupportedType, got %v", ct, err)
		}
	}
	a, _ := s.Current()
	if a.ContentType != "image/jpeg" || a.FileType() != "jpeg" {
		t.Fatalf("previous artifact replaced: %+v", a.ContentType)
	}

	os.WriteFile(path, []byte("GIF89a\x01\x00"), 0o644)
	if err := New(path, nil).Load(); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("load: expected ErrUnsupportedType, got %v", err)
	}
}
