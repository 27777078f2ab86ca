// CLAUDE:SUMMARY device.Dialer speaking JSON over HTTP to an art-mode bridge service that owns the display protocol; persists the pairing token.
// Package artbridge adapts an art-mode bridge service to device.Client.
// The bridge holds the display's native protocol; this adapter POSTs one
// JSON document per operation to {endpoint}/art/{op} and maps the answers
// to device errors. The pairing token is read from a file at dial time and
// rewritten whenever the bridge hands back a new one (first pairing).
package artbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/artsync/framesync/internal/device"
	"github.com/hazyhaar/artsync/framesync/internal/fileutil"
)

// maxResponseBody caps bridge answers. They are small JSON documents.
const maxResponseBody int64 = 1 << 20

// Config describes the bridge and the display behind it.
type Config struct {
	Endpoint  string // bridge base URL, e.g. http://bridge:8080
	Host      string // display address
	Port      int    // display API port, default 8001
	Name      string // client name shown on the display when pairing
	TokenFile string // "" = no token persistence

	Client *http.Client
	Logger *slog.Logger
}

func (c *Config) defaults() {
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.Port == 0 {
		c.Port = 8001
	}
	if c.Name == "" {
		c.Name = "framesync"
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Dialer opens bridge sessions.
type Dialer struct {
	cfg Config
}

// New creates a Dialer.
func New(cfg Config) *Dialer {
	cfg.defaults()
	return &Dialer{cfg: cfg}
}

// bridgeError is the error body returned by the bridge on non-2xx answers.
type bridgeError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"` // unreachable | unsupported | timeout | rejected
}

type connectReq struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Name  string `json:"name"`
	Token string `json:"token,omitempty"`
}

type connectResp struct {
	Session string `json:"session"`
	Token   string `json:"token"`
}

// Dial opens a session with the display through the bridge.
func (d *Dialer) Dial(ctx context.Context) (device.Client, error) {
	cfg := d.cfg
	log := cfg.Logger

	token := ""
	if cfg.TokenFile != "" {
		t, err := fileutil.ReadTrimmed(cfg.TokenFile)
		if err != nil {
			log.Warn("artbridge: cannot read token file, pairing anew", "path", cfg.TokenFile, "error", err)
		}
		token = t
	}

	base, cancel := context.WithCancel(context.Background())
	c := &Client{cfg: cfg, base: base, cancel: cancel}

	var resp connectResp
	err := c.call(ctx, "connect", connectReq{Host: cfg.Host, Port: cfg.Port, Name: cfg.Name, Token: token}, &resp)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.Session == "" {
		cancel()
		return nil, &device.DeviceError{Kind: device.Unreachable, Op: "dial", Err: errors.New("artbridge: bridge returned no session")}
	}
	c.session = resp.Session

	if cfg.TokenFile != "" && resp.Token != "" && resp.Token != token {
		if err := fileutil.WriteAtomic(cfg.TokenFile, []byte(resp.Token+"\n"), 0o600); err != nil {
			log.Warn("artbridge: cannot persist token", "path", cfg.TokenFile, "error", err)
		} else {
			log.Info("artbridge: pairing token saved", "path", cfg.TokenFile)
		}
	}
	log.Debug("artbridge: connected", "host", cfg.Host, "port", cfg.Port)
	return c, nil
}

// Client is one bridge session.
type Client struct {
	cfg     Config
	session string

	// base is cancelled by Close and aborts any in-flight call.
	base   context.Context
	cancel context.CancelFunc
}

type sessionReq struct {
	Session string `json:"session"`
}

func (c *Client) Supported(ctx context.Context) (bool, error) {
	var resp struct {
		Supported bool `json:"supported"`
	}
	if err := c.call(ctx, "supported", sessionReq{c.session}, &resp); err != nil {
		return false, err
	}
	return resp.Supported, nil
}

// ArtModeState accepts "on", "true" and "1" as art mode on.
func (c *Client) ArtModeState(ctx context.Context) (bool, error) {
	var resp struct {
		ArtMode string `json:"art_mode"`
	}
	if err := c.call(ctx, "state", sessionReq{c.session}, &resp); err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(resp.ArtMode)) {
	case "on", "true", "1":
		return true, nil
	}
	return false, nil
}

type uploadReq struct {
	Session  string `json:"session"`
	Data     []byte `json:"data"`
	FileType string `json:"file_type"`
	Matte    string `json:"matte,omitempty"`
}

func (c *Client) Upload(ctx context.Context, data []byte, opts device.UploadOptions) (string, error) {
	req := uploadReq{Session: c.session, Data: data, FileType: opts.FileType}
	if opts.Matte != "" && !strings.EqualFold(opts.Matte, "none") {
		req.Matte = opts.Matte
	}
	if req.FileType == "" {
		req.FileType = "jpeg"
	}
	var resp struct {
		ContentID string `json:"content_id"`
	}
	if err := c.call(ctx, "upload", req, &resp); err != nil {
		return "", err
	}
	return resp.ContentID, nil
}

type selectReq struct {
	Session   string `json:"session"`
	ContentID string `json:"content_id"`
	Show      bool   `json:"show"`
}

func (c *Client) Select(ctx context.Context, contentID string, show bool) error {
	return c.call(ctx, "select", selectReq{c.session, contentID, show}, nil)
}

type deleteReq struct {
	Session    string   `json:"session"`
	ContentIDs []string `json:"content_ids"`
}

func (c *Client) Delete(ctx context.Context, contentID string) error {
	return c.call(ctx, "delete", deleteReq{c.session, []string{contentID}}, nil)
}

// Close ends the session. It aborts in-flight calls first, then tells the
// bridge on a short budget; the bridge expires abandoned sessions anyway.
func (c *Client) Close() error {
	c.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.post(ctx, "close", sessionReq{c.session}, nil)
	c.cfg.Client.CloseIdleConnections()
	return err
}

// call runs one operation bound to both ctx and the session lifetime.
func (c *Client) call(ctx context.Context, op string, in, out any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.base, cancel)
	defer stop()
	return c.post(ctx, op, in, out)
}

func (c *Client) post(ctx context.Context, op string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("artbridge: %s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/art/"+op, bytes.NewReader(body))
	if err != nil {
		return &device.DeviceError{Kind: device.Unreachable, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		kind := device.Unreachable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = device.Timeout
		}
		return &device.DeviceError{Kind: kind, Op: op, Err: fmt.Errorf("artbridge: %w", err)}
	}
	defer resp.Body.Close()

	data, err := fileutil.LimitedReadAll(resp.Body, maxResponseBody)
	if err != nil {
		return &device.DeviceError{Kind: device.Unreachable, Op: op, Err: fmt.Errorf("artbridge: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &device.DeviceError{Kind: device.Rejected, Op: op, Err: fmt.Errorf("artbridge: decode response: %w", err)}
	}
	return nil
}

// statusError maps a bridge failure to a device error. An explicit kind in
// the body wins; otherwise 502/503 mean the display is unreachable, 504 a
// timeout, and anything else a rejection.
func statusError(op string, status int, body []byte) error {
	var be bridgeError
	_ = json.Unmarshal(body, &be)
	msg := be.Error
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	err := fmt.Errorf("artbridge: status %d: %s", status, msg)

	kind := device.Rejected
	switch be.Kind {
	case "unreachable":
		kind = device.Unreachable
	case "unsupported":
		kind = device.Unsupported
	case "timeout":
		kind = device.Timeout
	case "rejected":
		kind = device.Rejected
	default:
		switch status {
		case http.StatusBadGateway, http.StatusServiceUnavailable:
			kind = device.Unreachable
		case http.StatusGatewayTimeout:
			kind = device.Timeout
		}
	}
	return &device.DeviceError{Kind: kind, Op: op, Err: err}
}
