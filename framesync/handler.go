// CLAUDE:SUMMARY chi router: health, status snapshot, current artifact with ETag, cycle history, screensaver control and upload.
package framesync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/artsync/framesync/internal/fileutil"
	"github.com/hazyhaar/artsync/framesync/internal/schedule"
)

// maxUpload caps screensaver uploads.
const maxUpload int64 = 32 << 20

type loggerKey struct{}

// NewHandler returns the HTTP surface of s.
func NewHandler(s *Service) http.Handler {
	h := &handler{svc: s}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(headToGet)
	r.Use(nosniff)
	r.Use(traceID(s.logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", h.status)
	r.Get("/art.jpg", h.art)
	r.Get("/art", h.art)
	r.Get("/api/history", h.history)

	r.Route("/screensaver", func(r chi.Router) {
		r.Post("/start", h.screensaverStart)
		r.Post("/stop", h.screensaverStop)
		r.Get("/status", h.screensaverStatus)
		r.Post("/upload", h.screensaverUpload)
	})
	return r
}

type handler struct {
	svc *Service
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	st, ok := h.svc.Tracker().Snapshot()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, errors.New("not yet available"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) art(w http.ResponseWriter, r *http.Request) {
	a, ok := h.svc.Store().Current()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("not yet available"))
		return
	}
	etag := `"` + a.Hash + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if !a.CapturedAt.IsZero() {
		w.Header().Set("Last-Modified", a.CapturedAt.UTC().Format(http.TimeFormat))
	}
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(a.Data)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	log := h.svc.History()
	if log == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	cycles, err := log.Recent(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if cycles == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (h *handler) rotator(w http.ResponseWriter) *schedule.Rotator {
	rot := h.svc.Rotator()
	if rot == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("screensaver directory not configured"))
	}
	return rot
}

func (h *handler) screensaverStart(w http.ResponseWriter, _ *http.Request) {
	if h.rotator(w) == nil {
		return
	}
	if !h.svc.StartScreensaver() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already running"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *handler) screensaverStop(w http.ResponseWriter, _ *http.Request) {
	rot := h.rotator(w)
	if rot == nil {
		return
	}
	if !rot.Stop() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not running"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *handler) screensaverStatus(w http.ResponseWriter, _ *http.Request) {
	rot := h.rotator(w)
	if rot == nil {
		return
	}
	writeJSON(w, http.StatusOK, rot.Status())
}

func (h *handler) screensaverUpload(w http.ResponseWriter, r *http.Request) {
	rot := h.rotator(w)
	if rot == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart field %q: %w", "file", err))
		return
	}
	defer file.Close()

	name := filepath.Base(hdr.Filename)
	if !schedule.IsImageName(name) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported file type %q", filepath.Ext(name)))
		return
	}
	dst, err := fileutil.SafeJoin(rot.Dir(), name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := fileutil.LimitedReadAll(file, maxUpload)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err := fileutil.WriteAtomic(dst, data, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	loggerFrom(r.Context()).Info("screensaver: image uploaded", "name", name, "size", len(data))
	writeJSON(w, http.StatusCreated, map[string]any{"saved": name, "size": len(data)})
}

// --- Middleware ---

// traceID tags each request with a random id, echoed in X-Trace-ID, and
// a request-scoped logger.
func traceID(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := make([]byte, 4)
			rand.Read(id)
			tid := hex.EncodeToString(id)
			w.Header().Set("X-Trace-ID", tid)

			logger := base.With("trace_id", tid, "method", r.Method, "path", r.URL.Path)
			start := time.Now()
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), loggerKey{}, logger)))
			logger.Debug("http: request", "duration", time.Since(start))
		})
	}
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// headToGet lets GET routes answer HEAD; net/http drops the body.
func headToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

func nosniff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	if v > 500 {
		return 500
	}
	return v
}
