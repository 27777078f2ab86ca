// CLAUDE:SUMMARY Fetches the source URL with the configured auth, classifies image vs HTML, and routes HTML through the renderer.
// Package acquire implements the content acquisition stage: a single HTTP
// GET against the source, classification of the response, and delegation
// to the renderer when the source is a page rather than an image.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/artsync/framesync/internal/fileutil"
	"github.com/hazyhaar/artsync/framesync/internal/render"
)

// maxBody caps the source response. Dashboards screenshots and photos fit
// comfortably; anything larger is a misconfigured source.
const maxBody int64 = 32 << 20

// FetchError is returned when the source cannot be fetched: a transport
// failure, a timeout, or a non-200 status.
type FetchError struct {
	URL        string
	StatusCode int // 0 for transport failures
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("acquire: fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("acquire: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout reports whether the fetch failed on its deadline.
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// Renderer produces a raster snapshot of a page.
type Renderer interface {
	Render(ctx context.Context, req render.Request) ([]byte, error)
}

// Content is the outcome of an acquisition.
type Content struct {
	Data        []byte
	ContentType string
	Kind        string // KindImage or KindHTML (rendered)
}

// Request describes one acquisition.
type Request struct {
	URL  string
	Auth Auth
	// Render carries viewport, zoom, capture and timing settings used when
	// the source turns out to be HTML. URL and Headers are filled in here.
	Render render.Request
}

// Acquirer fetches and classifies source content.
type Acquirer struct {
	client   *http.Client
	renderer Renderer
	ua       string
	logger   *slog.Logger
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(a *Acquirer) { a.client = c }
}

// WithTimeout sets the fetch budget. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(a *Acquirer) {
		if d > 0 {
			a.client = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Acquirer) { a.logger = l }
}

// New creates an Acquirer. renderer may be nil, in which case HTML sources
// fail with a RenderError.
func New(renderer Renderer, opts ...Option) *Acquirer {
	a := &Acquirer{
		client:   &http.Client{Timeout: 30 * time.Second},
		renderer: renderer,
		ua:       "framesync/1.0",
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Acquire fetches req.URL and returns image bytes: the body itself for
// image sources, a rendered snapshot for HTML sources.
func (a *Acquirer) Acquire(ctx context.Context, req Request) (*Content, error) {
	headers, basic := BuildHeaders(req.Auth, a.logger)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Err: err}
	}
	httpReq.Header.Set("User-Agent", a.ua)
	for k, vs := range headers {
		httpReq.Header[k] = vs
	}
	if basic != nil {
		httpReq.SetBasicAuth(basic.Username, basic.Password)
	}

	a.logger.Debug("acquire: fetching", "url", req.URL, "auth", req.Auth.Mode)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	body, err := fileutil.LimitedReadAll(resp.Body, maxBody)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Err: err}
	}

	ctype := resp.Header.Get("Content-Type")
	if !IsHTML(ctype, body) {
		ct, err := imageContentType(ctype, body)
		if err != nil {
			return nil, &FetchError{URL: req.URL, Err: err}
		}
		a.logger.Debug("acquire: image source", "content_type", ct, "size", len(body))
		return &Content{Data: body, ContentType: ct, Kind: KindImage}, nil
	}

	a.logger.Debug("acquire: html source, rendering", "content_type", ctype, "size", len(body))
	if a.renderer == nil {
		return nil, &render.RenderError{Op: "render", Err: errors.New("no renderer configured")}
	}

	rr := req.Render
	rr.URL = req.URL
	rr.Headers = browserHeaders(headers, basic)
	img, err := a.renderer.Render(ctx, rr)
	if err != nil {
		return nil, err
	}
	return &Content{Data: img, ContentType: render.ContentType(rr.Format), Kind: KindHTML}, nil
}
