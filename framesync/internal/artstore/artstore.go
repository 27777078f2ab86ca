// CLAUDE:SUMMARY Holds the single current artifact (bytes + content type) in memory and on disk; replaced atomically, copied on read.
// Package artstore owns the current artifact: the last image acquired for
// the display. There is exactly one; each cycle overwrites it. The bytes
// are mirrored to a file so the previous artifact survives restarts and can
// be served before the first cycle of a new process completes.
package artstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/hazyhaar/artsync/framesync/internal/fileutil"
)

// Artifact is an acquired image ready for the device.
type Artifact struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
	Hash        string // BLAKE3-256, hex
}

// FileType returns the device upload type derived from the content type.
// Put and Load only admit JPEG and PNG.
func (a Artifact) FileType() string {
	if a.ContentType == "image/png" {
		return "png"
	}
	return "jpeg"
}

// supported reports whether the display accepts contentType.
func supported(contentType string) bool {
	return contentType == "image/jpeg" || contentType == "image/png"
}

func (a Artifact) clone() Artifact {
	c := a
	c.Data = append([]byte(nil), a.Data...)
	return c
}

// ErrEmpty is returned by Put for zero-length data.
var ErrEmpty = errors.New("artstore: empty artifact")

// ErrUnsupportedType is returned for artifacts that are neither JPEG nor PNG.
var ErrUnsupportedType = errors.New("artstore: unsupported content type")

// Store is the artifact holder. Safe for concurrent use.
type Store struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	cur *Artifact
}

// New creates a Store that mirrors the artifact to path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the on-disk location of the artifact.
func (s *Store) Path() string { return s.path }

// Load restores the artifact left on disk by a previous run. A missing file
// is not an error.
func (s *Store) Load() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("artstore: stat: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("artstore: read: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	ct := http.DetectContentType(data)
	if !supported(ct) {
		return fmt.Errorf("%w: %s holds %q", ErrUnsupportedType, s.path, ct)
	}
	a := &Artifact{
		Data:        data,
		ContentType: ct,
		CapturedAt:  info.ModTime(),
		Hash:        Hash(data),
	}
	s.mu.Lock()
	s.cur = a
	s.mu.Unlock()

	s.logger.Debug("artstore: restored artifact", "path", s.path, "size", len(data))
	return nil
}

// Put replaces the current artifact. The file is written first; the
// in-memory copy only changes once the file is in place, so a failed write
// leaves the previous artifact intact in both.
func (s *Store) Put(data []byte, contentType string, capturedAt time.Time) (Artifact, error) {
	if len(data) == 0 {
		return Artifact{}, ErrEmpty
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if !supported(contentType) {
		return Artifact{}, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	a := Artifact{
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		CapturedAt:  capturedAt,
		Hash:        Hash(data),
	}

	if err := fileutil.WriteAtomic(s.path, a.Data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("artstore: persist: %w", err)
	}

	s.mu.Lock()
	s.cur = &a
	s.mu.Unlock()

	return a.clone(), nil
}

// Current returns a copy of the current artifact, or false if none exists.
func (s *Store) Current() (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return Artifact{}, false
	}
	return s.cur.clone(), true
}

// Hash returns the hex BLAKE3-256 digest of data.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
