// CLAUDE:SUMMARY Device sync protocol: capability check, upload, art-mode adjust, select, persist record, delete previous, close, all under one timeout.
// Package device drives a display's art store through an opaque Client.
// Adapters (see artbridge) own the wire protocol; this package owns the
// ordering: a new item is always uploaded and selected before the previous
// one is deleted, and the local record only moves once the device has
// confirmed the selection.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind classifies a DeviceError.
type Kind int

const (
	Unreachable Kind = iota + 1
	Unsupported
	Timeout
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Unsupported:
		return "unsupported"
	case Timeout:
		return "timeout"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// DeviceError is the error returned by every failed sync.
type DeviceError struct {
	Kind Kind
	Op   string // dial | capability | upload | select | sync
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("device: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsKind reports whether err is a DeviceError of kind k.
func IsKind(err error, k Kind) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Kind == k
}

// ErrCircuitOpen is wrapped in the Unreachable error returned while the
// dial breaker is open.
var ErrCircuitOpen = errors.New("device: circuit open")

// classify wraps err as a DeviceError of kind k unless it already is one.
// Deadline errors always classify as Timeout.
func classify(k Kind, op string, err error) error {
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		k = Timeout
	}
	return &DeviceError{Kind: k, Op: op, Err: err}
}

// UploadOptions qualifies an uploaded item.
type UploadOptions struct {
	FileType string // jpeg | png
	Matte    string // "" or "none" = no matte
}

// Client is one session with the device art store.
type Client interface {
	// Supported reports whether the device has an art store.
	Supported(ctx context.Context) (bool, error)
	// ArtModeState reports whether the device currently displays art.
	ArtModeState(ctx context.Context) (bool, error)
	// Upload stores a new item and returns its content id.
	Upload(ctx context.Context, data []byte, opts UploadOptions) (string, error)
	// Select makes contentID the displayed item. show switches the device
	// to art mode.
	Select(ctx context.Context, contentID string, show bool) error
	Delete(ctx context.Context, contentID string) error
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context) (Client, error)
}

// Request is one sync.
type Request struct {
	Data     []byte
	FileType string
	Matte    string
	Show     bool
}

// Syncer runs syncs against a Dialer. Syncs are serialized: the periodic
// cycle and the screensaver share one Syncer and never overlap on the
// device.
type Syncer struct {
	dialer  Dialer
	records RecordStore
	timeout time.Duration
	breaker *breaker
	logger  *slog.Logger
	now     func() time.Time

	sem chan struct{}
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithTimeout bounds a whole sync. Default: 60s.
func WithTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithBreaker sets the number of consecutive unreachable syncs that open
// the breaker, and how long it stays open. Default: 5 and 2m.
func WithBreaker(threshold int, reset time.Duration) Option {
	return func(s *Syncer) {
		if threshold > 0 && reset > 0 {
			s.breaker = newBreaker(threshold, reset)
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSyncer creates a Syncer.
func NewSyncer(d Dialer, records RecordStore, opts ...Option) *Syncer {
	s := &Syncer{
		dialer:  d,
		records: records,
		timeout: 60 * time.Second,
		breaker: newBreaker(5, 2*time.Minute),
		logger:  slog.Default(),
		now:     time.Now,
		sem:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BreakerState returns the state of the dial breaker.
func (s *Syncer) BreakerState() BreakerState {
	return s.breaker.State()
}

// Sync uploads req.Data as a new item, selects it, and deletes the
// previously selected item. It returns the new content id.
//
// The device calls run on their own goroutine. When the timeout expires
// Sync closes the session to abort the in-flight call and returns a
// Timeout error without waiting for it. The sync slot is only released
// once that goroutine has returned, so an adapter that ignores Close
// delays the next sync instead of overlapping it.
func (s *Syncer) Sync(ctx context.Context, req Request) (string, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return "", &DeviceError{Kind: Timeout, Op: "sync", Err: ctx.Err()}
	}

	if !s.breaker.Allow() {
		<-s.sem
		return "", &DeviceError{Kind: Unreachable, Op: "dial", Err: ErrCircuitOpen}
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess := &session{}
	type result struct {
		id  string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-s.sem }()
		id, err := s.run(opCtx, req, sess)
		done <- result{id, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-opCtx.Done():
		sess.close()
		s.logger.Warn("device: sync aborted, session closed", "timeout", s.timeout, "error", opCtx.Err())
		res.err = &DeviceError{Kind: Timeout, Op: "sync", Err: opCtx.Err()}
	}

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		// Shutdown, not a device failure.
	case res.err == nil:
		s.breaker.Success()
	case IsKind(res.err, Unreachable), IsKind(res.err, Timeout):
		s.breaker.Failure()
	default:
		// The device answered.
		s.breaker.Success()
	}
	return res.id, res.err
}

func (s *Syncer) run(ctx context.Context, req Request, sess *session) (string, error) {
	log := s.logger

	client, err := s.dialer.Dial(ctx)
	if err != nil {
		return "", classify(Unreachable, "dial", err)
	}
	sess.set(client)
	defer sess.close()

	ok, err := client.Supported(ctx)
	if err != nil {
		return "", classify(Unreachable, "capability", err)
	}
	if !ok {
		return "", &DeviceError{Kind: Unsupported, Op: "capability"}
	}

	prev, err := s.records.Load()
	if err != nil {
		log.Warn("device: cannot read last content id, previous item will be kept", "error", err)
		prev = Record{}
	}

	id, err := client.Upload(ctx, req.Data, UploadOptions{FileType: req.FileType, Matte: req.Matte})
	if err != nil {
		return "", classify(Rejected, "upload", err)
	}
	if id == "" {
		return "", &DeviceError{Kind: Rejected, Op: "upload", Err: errors.New("empty content id")}
	}
	log.Debug("device: uploaded", "content_id", id, "size", len(req.Data))

	// Select is the point of no return. A sync already reported as failed
	// must not change what the display shows.
	if err := ctx.Err(); err != nil {
		log.Warn("device: sync aborted after upload, item left unselected", "content_id", id)
		return "", classify(Timeout, "upload", err)
	}

	show := req.Show
	if on, err := client.ArtModeState(ctx); err != nil {
		log.Warn("device: art mode query failed", "error", err)
	} else if on {
		show = true
	}

	if err := client.Select(ctx, id, show); err != nil {
		return "", classify(Rejected, "select", err)
	}
	log.Info("device: selected", "content_id", id, "show", show)

	// The record follows the display even when the sync was aborted after
	// Select, so the next sync deletes the right item.
	if err := s.records.Save(Record{ContentID: id, UploadedAt: s.now()}); err != nil {
		// The record still names prev, which stays on the device so the
		// next sync can replace it.
		log.Error("device: save last content id", "content_id", id, "error", err)
		return id, nil
	}

	if err := ctx.Err(); err != nil {
		return "", classify(Timeout, "select", err)
	}
	if prev.ContentID != "" && prev.ContentID != id {
		if err := client.Delete(ctx, prev.ContentID); err != nil {
			log.Warn("device: delete previous item", "content_id", prev.ContentID, "error", err)
		} else {
			log.Debug("device: deleted previous item", "content_id", prev.ContentID)
		}
	}
	return id, nil
}

// session guards a client that may be closed from two goroutines.
type session struct {
	mu     sync.Mutex
	client Client
	closed bool
}

func (s *session) set(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.Close()
		return
	}
	s.client = c
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.client != nil {
		s.client.Close()
	}
}
