// CLAUDE:SUMMARY Small file primitives shared by framesync stores: atomic replace, trimmed single-line reads, bounded reads, safe joins.
// Package fileutil holds the file and I/O primitives shared by the framesync
// stores and collaborators: atomic replacement of small state files, bounded
// reads of untrusted bodies, and path-traversal guards for uploaded names.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a user-supplied name escapes its base.
var ErrPathTraversal = errors.New("fileutil: path traversal detected")

// ErrTooLarge is returned by LimitedReadAll when the reader exceeds the cap.
var ErrTooLarge = errors.New("fileutil: content exceeds size limit")

// WriteAtomic writes data to a temporary file in the destination directory
// and renames it over path. Readers observe either the old or the new
// content, never a partial write.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fileutil: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("fileutil: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("fileutil: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fileutil: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fileutil: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("fileutil: chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("fileutil: rename: %w", err)
	}
	return nil
}

// ReadTrimmed returns the whitespace-trimmed content of a small text file.
// A missing file yields "" and no error.
func ReadTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fileutil: read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// LimitedReadAll reads at most maxBytes from r and returns ErrTooLarge when
// the reader holds more.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// SafeJoin joins base and a user-supplied file name, rejecting names that
// contain separators or parent references.
func SafeJoin(base, name string) (string, error) {
	if name == "" || name == "." || strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) {
		return "", ErrPathTraversal
	}
	return filepath.Join(base, name), nil
}
