// CLAUDE:SUMMARY Persistent headless Chrome session (Rod) that snapshots a URL: lazy launch, liveness check, relaunch, network-idle navigation, zoom, capture.
// Package render produces raster snapshots of web pages with a long-lived
// headless Chrome session driven by Rod. The session is launched lazily,
// checked before each use, and relaunched when the check fails. Renders are
// serialised: one Chrome page cannot service concurrent navigations.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Capture formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// idleWindow is how long the page must stay without in-flight requests to
// count as network-idle.
const idleWindow = 500 * time.Millisecond

// DefaultCandidates are the platform Chromium paths tried before Rod's own
// lookup.
var DefaultCandidates = []string{"/usr/bin/chromium-browser", "/usr/bin/chromium"}

// RenderError is returned when the session cannot be established or a
// navigation or capture fails or exceeds its budget.
type RenderError struct {
	Op  string // launch | page | navigate | zoom | capture
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render: %s: %v", e.Op, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Request describes one snapshot.
type Request struct {
	URL     string
	Headers map[string]string

	Width  int     // default 1920
	Height int     // default 1080
	Scale  float64 // device scale factor, default 1
	Zoom   int     // page zoom percent, default 100

	Timeout        time.Duration // navigation and capture budget each, default 30s
	Settle         time.Duration // extra wait after navigation
	SkipNavigation bool          // reuse the loaded page, only re-capture
	FullPage       bool          // capture the full scrollable page instead of the viewport
	Format         string        // png | jpeg, default png
	Quality        int           // jpeg quality, default 90
}

func (r *Request) defaults() {
	if r.Width <= 0 {
		r.Width = 1920
	}
	if r.Height <= 0 {
		r.Height = 1080
	}
	if r.Scale <= 0 {
		r.Scale = 1
	}
	if r.Zoom <= 0 {
		r.Zoom = 100
	}
	if r.Timeout <= 0 {
		r.Timeout = 30 * time.Second
	}
	if r.Format != FormatJPEG {
		r.Format = FormatPNG
	}
	if r.Quality <= 0 || r.Quality > 100 {
		r.Quality = 90
	}
}

// ContentType returns the MIME type of snapshots in the given format.
func ContentType(format string) string {
	if format == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Config configures the Renderer.
type Config struct {
	// Bin is the preferred Chrome/Chromium executable. Empty = try
	// Candidates, then Rod's lookup, then Rod's managed download.
	Bin string

	// Candidates overrides DefaultCandidates.
	Candidates []string

	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local one.
	RemoteURL string

	// Stealth creates pages with go-rod/stealth evasions applied.
	Stealth bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Candidates == nil {
		c.Candidates = DefaultCandidates
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// session is the live browser, its launcher and the capture page.
type session struct {
	browser *rod.Browser
	lnch    *launcher.Launcher

	page          *rod.Page
	width, height int
	scale         float64
	url           string // last URL navigated to
	clearHeaders  func()
}

// Renderer owns the browsing session.
type Renderer struct {
	cfg Config

	mu       sync.Mutex
	sess     *session
	closed   bool
	failures int // consecutive failed renders
}

// maxFailures is the number of consecutive failed renders after which the
// whole browser session is torn down and relaunched on the next render.
const maxFailures = 3

// New creates a Renderer. Nothing is launched until the first Render.
func New(cfg Config) *Renderer {
	cfg.defaults()
	return &Renderer{cfg: cfg}
}

// Render snapshots req.URL and returns the encoded image.
func (r *Renderer) Render(ctx context.Context, req Request) ([]byte, error) {
	req.defaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, &RenderError{Op: "launch", Err: errors.New("renderer is closed")}
	}

	if err := r.ensure(); err != nil {
		return nil, err
	}
	if err := r.ensurePage(req); err != nil {
		r.recordFailure(err)
		return nil, err
	}

	img, err := r.snapshot(ctx, req)
	if err != nil {
		r.recordFailure(err)
		return nil, err
	}
	r.failures = 0
	return img, nil
}

// recordFailure discards the page after a failed render so the next one
// starts from a fresh page. A run of maxFailures tears down the browser
// too. mu held.
func (r *Renderer) recordFailure(err error) {
	r.failures++
	if r.failures < maxFailures {
		r.dropPage()
		return
	}
	r.cfg.Logger.Warn("render: repeated failures, relaunching browser", "failures", r.failures, "error", err)
	r.failures = 0
	r.teardown()
}

// Close releases the page, the browser and the launcher. Safe to call more
// than once.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.teardown()
	return nil
}

// ensure makes sure a live browser is connected, relaunching it when the
// liveness check fails.
func (r *Renderer) ensure() error {
	log := r.cfg.Logger

	if r.sess != nil {
		_, err := r.sess.browser.Timeout(5 * time.Second).Version()
		if err == nil {
			return nil
		}
		log.Warn("render: browser connection lost, relaunching", "error", err)
		r.teardown()
	}

	b, l, err := r.launch()
	if err != nil {
		return &RenderError{Op: "launch", Err: err}
	}
	r.sess = &session{browser: b, lnch: l}
	return nil
}

func (r *Renderer) launch() (*rod.Browser, *launcher.Launcher, error) {
	log := r.cfg.Logger

	if r.cfg.RemoteURL != "" {
		log.Info("render: connecting to remote browser", "url", r.cfg.RemoteURL)
		b := rod.New().ControlURL(r.cfg.RemoteURL)
		if err := b.Connect(); err != nil {
			return nil, nil, fmt.Errorf("connect remote: %w", err)
		}
		return b, nil, nil
	}

	bin := r.binary()

	l := newLauncher(bin, false)
	u, err := l.Launch()
	if err != nil {
		log.Warn("render: launch failed, retrying without sandbox", "bin", bin, "error", err)
		l.Kill()
		l.Cleanup()

		l = newLauncher(bin, true)
		u, err = l.Launch()
		if err != nil {
			l.Kill()
			l.Cleanup()
			return nil, nil, fmt.Errorf("launch: %w", err)
		}
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("render: ignore cert errors failed", "error", err)
	}

	log.Info("render: launched local chrome", "bin", bin, "url", u)
	return b, l, nil
}

// newLauncher is not bound to a request context: the browser outlives the
// render that launched it.
func newLauncher(bin string, noSandbox bool) *launcher.Launcher {
	l := launcher.New().Headless(true)
	if bin != "" {
		l = l.Bin(bin)
	}
	if noSandbox {
		l = l.NoSandbox(true)
	}
	return l
}

// binary picks the executable: configured, platform candidate, Rod lookup.
// "" lets Rod download its managed browser.
func (r *Renderer) binary() string {
	if r.cfg.Bin != "" {
		return r.cfg.Bin
	}
	for _, c := range r.cfg.Candidates {
		if fileExists(c) {
			return c
		}
	}
	if p, ok := launcher.LookPath(); ok {
		return p
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ensurePage creates the capture page if needed and binds it to the
// requested viewport.
func (r *Renderer) ensurePage(req Request) error {
	s := r.sess

	if s.page == nil {
		var p *rod.Page
		var err error
		if r.cfg.Stealth {
			p, err = stealth.Page(s.browser)
		} else {
			p, err = s.browser.Page(proto.TargetCreateTarget{URL: ""})
		}
		if err != nil {
			return &RenderError{Op: "page", Err: err}
		}
		s.page = p
		s.width, s.height, s.scale = 0, 0, 0
		s.url = ""
	}

	if s.width == req.Width && s.height == req.Height && s.scale == req.Scale {
		return nil
	}
	err := s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             req.Width,
		Height:            req.Height,
		DeviceScaleFactor: req.Scale,
	})
	if err != nil {
		return &RenderError{Op: "page", Err: fmt.Errorf("set viewport: %w", err)}
	}
	s.width, s.height, s.scale = req.Width, req.Height, req.Scale
	return nil
}

func (r *Renderer) snapshot(ctx context.Context, req Request) ([]byte, error) {
	s := r.sess

	// A fresh page has nothing to re-capture: navigate regardless.
	if !req.SkipNavigation || s.url != req.URL {
		if err := r.navigate(ctx, req); err != nil {
			return nil, err
		}
	} else {
		r.cfg.Logger.Debug("render: skipping navigation", "url", req.URL)
	}

	if req.Settle > 0 {
		select {
		case <-ctx.Done():
			return nil, &RenderError{Op: "navigate", Err: ctx.Err()}
		case <-time.After(req.Settle):
		}
	}

	capCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()
	page := s.page.Context(capCtx)

	if req.Zoom != 100 {
		if _, err := page.Eval(`z => { document.body.style.zoom = z }`, zoomValue(req.Zoom)); err != nil {
			return nil, &RenderError{Op: "zoom", Err: err}
		}
	}

	shot := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if req.Format == FormatJPEG {
		q := req.Quality
		shot.Format = proto.PageCaptureScreenshotFormatJpeg
		shot.Quality = &q
	}
	img, err := page.Screenshot(req.FullPage, shot)
	if err != nil {
		return nil, &RenderError{Op: "capture", Err: err}
	}
	return img, nil
}

// navigate loads req.URL and waits until the network is idle, all within
// req.Timeout.
func (r *Renderer) navigate(ctx context.Context, req Request) error {
	s := r.sess

	navCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()
	page := s.page.Context(navCtx)

	if s.clearHeaders != nil {
		s.clearHeaders()
		s.clearHeaders = nil
	}
	if len(req.Headers) > 0 {
		dict := make([]string, 0, 2*len(req.Headers))
		for k, v := range req.Headers {
			dict = append(dict, k, v)
		}
		cleanup, err := page.SetExtraHeaders(dict)
		if err != nil {
			return &RenderError{Op: "navigate", Err: fmt.Errorf("set headers: %w", err)}
		}
		s.clearHeaders = cleanup
	}

	r.cfg.Logger.Debug("render: navigating", "url", req.URL)

	wait := page.WaitRequestIdle(idleWindow, nil, nil, nil)
	if err := page.Navigate(req.URL); err != nil {
		return &RenderError{Op: "navigate", Err: err}
	}
	wait()
	if err := navCtx.Err(); err != nil {
		return &RenderError{Op: "navigate", Err: fmt.Errorf("network idle: %w", err)}
	}

	s.url = req.URL
	return nil
}

// dropPage closes the capture page but keeps the browser.
func (r *Renderer) dropPage() {
	s := r.sess
	if s == nil || s.page == nil {
		return
	}
	s.clearHeaders = nil
	s.page.Close()
	s.page = nil
	s.url = ""
}

func (r *Renderer) teardown() {
	s := r.sess
	if s == nil {
		return
	}
	r.dropPage()
	if s.browser != nil {
		s.browser.Close()
	}
	if s.lnch != nil {
		s.lnch.Kill()
		s.lnch.Cleanup()
	}
	r.sess = nil
}

func zoomValue(percent int) string {
	return fmt.Sprintf("%d%%", percent)
}
