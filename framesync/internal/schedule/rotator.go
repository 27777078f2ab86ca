package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ImageExtensions are the file extensions the screensaver rotates through.
var ImageExtensions = []string{".jpg", ".jpeg", ".png"}

// IsImageName reports whether name has a rotatable image extension.
func IsImageName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ListImages returns the image files in dir, sorted by name. A missing
// directory is empty.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsImageName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// SyncFunc pushes one image to the display.
type SyncFunc func(ctx context.Context, data []byte, fileType string) error

// ErrNoImages is returned by Step when the directory holds no images.
var ErrNoImages = errors.New("schedule: no screensaver images")

// RotatorStatus is a snapshot of the rotator.
type RotatorStatus struct {
	Running  bool   `json:"running"`
	Dir      string `json:"dir"`
	Interval string `json:"interval"`
	Images   int    `json:"images"`
	Current  string `json:"current,omitempty"`
}

// Rotator cycles the display through the images of a directory. The
// directory is listed again on every tick, so files added or removed while
// running are picked up.
type Rotator struct {
	dir      string
	interval time.Duration
	sync     SyncFunc
	logger   *slog.Logger

	mu      sync.Mutex
	idx     int
	current string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRotator creates a stopped Rotator.
func NewRotator(dir string, interval time.Duration, fn SyncFunc, logger *slog.Logger) *Rotator {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rotator{dir: dir, interval: interval, sync: fn, logger: logger}
}

// Dir returns the image directory.
func (r *Rotator) Dir() string { return r.dir }

// Step shows the next image and returns its name.
func (r *Rotator) Step(ctx context.Context) (string, error) {
	names, err := ListImages(r.dir)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNoImages
	}

	r.mu.Lock()
	name := names[r.idx%len(names)]
	r.idx++
	r.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		return name, fmt.Errorf("schedule: read %s: %w", name, err)
	}
	fileType := "jpeg"
	if strings.EqualFold(filepath.Ext(name), ".png") {
		fileType = "png"
	}
	if err := r.sync(ctx, data, fileType); err != nil {
		return name, err
	}

	r.mu.Lock()
	r.current = name
	r.mu.Unlock()
	return name, nil
}

// Start launches the rotation. It reports false if already running.
func (r *Rotator) Start(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
	r.logger.Info("screensaver: started", "dir", r.dir, "interval", r.interval)
	return true
}

// Stop halts the rotation and waits for the current tick to finish. It
// reports false if the rotator was not running.
func (r *Rotator) Stop() bool {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	r.logger.Info("screensaver: stopped")
	return true
}

// Running reports whether the rotation is active.
func (r *Rotator) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Status returns a snapshot for the status endpoint.
func (r *Rotator) Status() RotatorStatus {
	names, _ := ListImages(r.dir)
	r.mu.Lock()
	defer r.mu.Unlock()
	return RotatorStatus{
		Running:  r.cancel != nil,
		Dir:      r.dir,
		Interval: r.interval.String(),
		Images:   len(names),
		Current:  r.current,
	}
}

func (r *Rotator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		name, err := r.Step(ctx)
		switch {
		case errors.Is(err, ErrNoImages):
			r.logger.Warn("screensaver: no images, waiting", "dir", r.dir)
		case err != nil:
			r.logger.Warn("screensaver: sync failed", "image", name, "error", err)
		default:
			r.logger.Info("screensaver: shown", "image", name)
		}
		if Sleep(ctx, r.interval) != nil {
			return
		}
	}
}
