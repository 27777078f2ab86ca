package device

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/artsync/framesync/internal/fileutil"
)

// Record is the content last confirmed selected on the device.
type Record struct {
	ContentID  string
	UploadedAt time.Time
}

// RecordStore persists the last selected content id.
type RecordStore interface {
	Load() (Record, error)
	Save(Record) error
}

var chtimes = os.Chtimes

// FileRecords keeps the record as a single-line text file. A missing or
// empty file means no record. UploadedAt is the file's modification time.
type FileRecords struct {
	Path   string
	Logger *slog.Logger
}

func (f FileRecords) Load() (Record, error) {
	id, err := fileutil.ReadTrimmed(f.Path)
	if err != nil || id == "" {
		return Record{}, err
	}
	rec := Record{ContentID: id}
	if info, err := os.Stat(f.Path); err == nil {
		rec.UploadedAt = info.ModTime()
	}
	return rec, nil
}

func (f FileRecords) Save(rec Record) error {
	if rec.ContentID == "" {
		return errors.New("device: refusing to save empty content id")
	}
	if err := fileutil.WriteAtomic(f.Path, []byte(rec.ContentID+"\n"), 0o644); err != nil {
		return err
	}
	if !rec.UploadedAt.IsZero() {
		// The id is saved; only UploadedAt is lost, and Load falls back to
		// the write time.
		if err := chtimes(f.Path, rec.UploadedAt, rec.UploadedAt); err != nil {
			f.logger().Warn("device: record mtime not set", "path", f.Path, "error", err)
		}
	}
	return nil
}

func (f FileRecords) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
