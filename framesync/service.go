// CLAUDE:SUMMARY Orchestrates a sync cycle (acquire, store, device sync, status, history, telemetry) on the drift-corrected loop, plus the screensaver.
// Package framesync keeps a smart display's art mode in step with a
// dashboard. Every interval it acquires the source (an image, or an HTML
// page rendered by headless Chrome), stores it as the current artifact and
// pushes it to the display, replacing the previous item.
package framesync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/artsync/framesync/internal/acquire"
	"github.com/hazyhaar/artsync/framesync/internal/artstore"
	"github.com/hazyhaar/artsync/framesync/internal/device"
	"github.com/hazyhaar/artsync/framesync/internal/history"
	"github.com/hazyhaar/artsync/framesync/internal/schedule"
	"github.com/hazyhaar/artsync/framesync/internal/status"
)

// ErrNoDevice is returned by screensaver syncs when no display is configured.
var ErrNoDevice = errors.New("framesync: no device configured")

// Acquirer fetches the source.
type Acquirer interface {
	Acquire(ctx context.Context, req acquire.Request) (*acquire.Content, error)
}

// Syncer pushes an image to the display.
type Syncer interface {
	Sync(ctx context.Context, req device.Request) (string, error)
}

// HistoryLog records finished cycles.
type HistoryLog interface {
	Record(ctx context.Context, c history.Cycle) (string, error)
	Recent(ctx context.Context, limit int) ([]history.Cycle, error)
}

// Options wires a Service. Acquirer and Store are required; a nil Syncer
// runs without a display, a nil History keeps no log.
type Options struct {
	Source   acquire.Request
	Acquirer Acquirer
	Store    *artstore.Store

	Syncer Syncer
	Matte  string
	Show   bool

	// SkipNavigation re-captures the loaded page after the first cycle
	// instead of reloading it.
	SkipNavigation bool
	Interval       time.Duration

	ScreensaverDir      string
	ScreensaverInterval time.Duration
	ScreensaverEnabled  bool

	Tracker  *status.Tracker
	Reporter *status.Reporter
	History  HistoryLog

	// Closers are released by Close in order (renderer, telemetry, db).
	Closers []func() error

	Logger *slog.Logger
}

// Service runs the sync cycle and the screensaver.
type Service struct {
	opts    Options
	logger  *slog.Logger
	rotator *schedule.Rotator
	now     func() time.Time

	// ctx bounds background work started outside Run (screensaver
	// started over HTTP). Cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// New creates a Service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracker == nil {
		opts.Tracker = status.NewTracker()
	}
	if opts.Reporter == nil {
		opts.Reporter = status.NewReporter(nil, "", opts.Logger)
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}

	s := &Service{opts: opts, logger: opts.Logger, now: time.Now}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if opts.ScreensaverDir != "" {
		s.rotator = schedule.NewRotator(opts.ScreensaverDir, opts.ScreensaverInterval, s.syncScreensaver, opts.Logger)
	}
	return s
}

// Tracker returns the status tracker.
func (s *Service) Tracker() *status.Tracker { return s.opts.Tracker }

// Store returns the artifact store.
func (s *Service) Store() *artstore.Store { return s.opts.Store }

// Rotator returns the screensaver rotator, nil without a directory.
func (s *Service) Rotator() *schedule.Rotator { return s.rotator }

// History returns the cycle log, possibly nil.
func (s *Service) History() HistoryLog { return s.opts.History }

// Run starts the screensaver when enabled and runs the sync loop until ctx
// is done. Without a source URL only the screensaver runs.
func (s *Service) Run(ctx context.Context) error {
	if s.opts.ScreensaverEnabled && s.rotator != nil {
		s.rotator.Start(s.ctx)
	}

	if s.opts.Source.URL == "" {
		s.logger.Warn("framesync: no source url, sync loop disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	s.logger.Info("framesync: sync loop starting",
		"url", s.opts.Source.URL, "interval", s.opts.Interval, "device", s.opts.Syncer != nil)

	loop := &schedule.Loop{Interval: s.opts.Interval, Logger: s.logger}
	return loop.Run(ctx, func(ctx context.Context, cycle int) {
		s.RunCycle(ctx, cycle)
	})
}

// RunCycle performs one acquire, store, sync pass and returns the recorded
// status. Failures are recorded, never returned: an acquisition failure
// keeps the previous artifact and skips the device.
func (s *Service) RunCycle(ctx context.Context, cycle int) status.Status {
	log := s.logger.With("cycle", cycle)
	start := s.now()
	s.opts.Tracker.Begin(cycle)

	req := s.opts.Source
	req.Render.SkipNavigation = s.opts.SkipNavigation && cycle > 1

	var out status.Outcome
	var size int
	err := func() error {
		content, err := s.opts.Acquirer.Acquire(ctx, req)
		if err != nil {
			return err
		}
		out.Source = content.Kind

		art, err := s.opts.Store.Put(content.Data, content.ContentType, s.now())
		if err != nil {
			return err
		}
		out.ArtifactHash = art.Hash
		size = len(art.Data)
		log.Info("framesync: artifact stored", "source", content.Kind, "content_type", art.ContentType, "size", size)

		if s.opts.Syncer == nil {
			return nil
		}
		id, err := s.opts.Syncer.Sync(ctx, device.Request{
			Data:     art.Data,
			FileType: art.FileType(),
			Matte:    s.opts.Matte,
			Show:     s.opts.Show,
		})
		if err != nil {
			return err
		}
		out.ContentID = id
		return nil
	}()
	out.Duration = s.now().Sub(start)

	var st status.Status
	if err != nil {
		log.Error("framesync: cycle failed", "error", err, "duration", out.Duration)
		st = s.opts.Tracker.Fail(err, out)
	} else {
		log.Info("framesync: cycle complete", "content_id", out.ContentID, "duration", out.Duration)
		st = s.opts.Tracker.Succeed(out)
	}

	if h := s.opts.History; h != nil {
		_, herr := h.Record(ctx, history.Cycle{
			Cycle:     cycle,
			StartedAt: start,
			Duration:  out.Duration,
			Source:    out.Source,
			Bytes:     size,
			ContentID: out.ContentID,
			Success:   err == nil,
			Error:     st.LastError,
		})
		if herr != nil {
			log.Warn("framesync: history record failed", "error", herr)
		}
	}
	s.opts.Reporter.Report(ctx, st)
	return st
}

func (s *Service) syncScreensaver(ctx context.Context, data []byte, fileType string) error {
	if s.opts.Syncer == nil {
		return ErrNoDevice
	}
	_, err := s.opts.Syncer.Sync(ctx, device.Request{
		Data:     data,
		FileType: fileType,
		Matte:    s.opts.Matte,
		Show:     true,
	})
	return err
}

// StartScreensaver starts the rotation. It reports false if it was already
// running or no directory is configured.
func (s *Service) StartScreensaver() bool {
	if s.rotator == nil {
		return false
	}
	return s.rotator.Start(s.ctx)
}

// Close stops the screensaver and releases the closers. Safe to call more
// than once.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.rotator != nil {
			s.rotator.Stop()
		}
		s.cancel()
		for _, c := range s.opts.Closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
