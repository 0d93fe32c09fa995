package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MahdiBaghbani/circleinvite/internal/platform/appctx"
)

// recordingHandler captures records together with attrs attached via With.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]logRecord
	attrs   []slog.Attr
}

type logRecord struct {
	message string
	level   slog.Level
	attrs   map[string]any
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{mu: &sync.Mutex{}, records: &[]logRecord{}}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+rec.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, logRecord{message: rec.Message, level: rec.Level, attrs: attrs})
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{mu: h.mu, records: h.records, attrs: append(slices.Clone(h.attrs), attrs...)}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) find(t *testing.T, message string) logRecord {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range *h.records {
		if rec.message == message {
			return rec
		}
	}
	t.Fatalf("no %q record among %d", message, len(*h.records))
	return logRecord{}
}

func newChain(logger *slog.Logger, withRequestLogger, trustForwarded bool) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if withRequestLogger {
		r.Use(RequestLoggerMiddleware(logger, trustForwarded))
	}
	r.Use(AccessLogMiddleware(logger, trustForwarded))
	r.Use(chimw.Recoverer)
	return r
}

var accessLogFields = []string{"request_id", "method", "path", "client_ip", "status", "bytes", "duration_ms"}

func TestAccessLogMiddleware_Fields(t *testing.T) {
	for _, withRequestLogger := range []bool{true, false} {
		h := newRecordingHandler()
		r := newChain(slog.New(h), withRequestLogger, false)
		r.Post("/api/invitations", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("{}"))
		})

		req := httptest.NewRequest(http.MethodPost, "/api/invitations?debug=1", nil)
		req.RemoteAddr = "192.0.2.7:4711"
		r.ServeHTTP(httptest.NewRecorder(), req)

		rec := h.find(t, "request")
		for _, field := range accessLogFields {
			if _, ok := rec.attrs[field]; !ok {
				t.Errorf("requestLogger=%v: missing field %q", withRequestLogger, field)
			}
		}
		if rec.attrs["path"] != "/api/invitations" {
			t.Errorf("path = %v, want query stripped", rec.attrs["path"])
		}
		if rec.attrs["client_ip"] != "192.0.2.7" {
			t.Errorf("client_ip = %v", rec.attrs["client_ip"])
		}
		if status, _ := rec.attrs["status"].(int64); status != http.StatusCreated {
			t.Errorf("status = %v", rec.attrs["status"])
		}
		if rec.level != slog.LevelInfo {
			t.Errorf("level = %v, want info", rec.level)
		}
	}
}

func TestAccessLogMiddleware_PanicLogsErrorWith500(t *testing.T) {
	h := newRecordingHandler()
	r := newChain(slog.New(h), true, false)
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rr.Code)
	}
	rec := h.find(t, "request")
	if status, _ := rec.attrs["status"].(int64); status != http.StatusInternalServerError {
		t.Errorf("status = %v, want 500", rec.attrs["status"])
	}
	if rec.level != slog.LevelError {
		t.Errorf("level = %v, want error", rec.level)
	}
}

func TestAccessLogMiddleware_ImplicitOK(t *testing.T) {
	h := newRecordingHandler()
	r := newChain(slog.New(h), true, false)
	r.Get("/quiet", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/quiet", nil))

	if status, _ := h.find(t, "request").attrs["status"].(int64); status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
}

func TestRequestLoggerMiddleware_HandlerSeesScopedLogger(t *testing.T) {
	h := newRecordingHandler()
	r := newChain(slog.New(h), true, false)
	r.Get("/scoped", func(w http.ResponseWriter, r *http.Request) {
		appctx.GetLogger(r.Context()).Info("inside")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/scoped", nil))

	rec := h.find(t, "inside")
	if id, _ := rec.attrs["request_id"].(string); id == "" {
		t.Error("handler log is missing request_id")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name           string
		remoteAddr     string
		forwarded      string
		trustForwarded bool
		want           string
	}{
		{"remote addr", "198.51.100.1:1234", "", false, "198.51.100.1"},
		{"ipv6 remote addr", "[2001:db8::1]:443", "", false, "2001:db8::1"},
		{"forwarded ignored when untrusted", "10.0.0.1:1", "203.0.113.9", false, "10.0.0.1"},
		{"forwarded used when trusted", "10.0.0.1:1", "203.0.113.9, 10.0.0.2", true, "203.0.113.9"},
		{"garbage forwarded falls back", "10.0.0.1:1", "not-an-ip", true, "10.0.0.1"},
		{"no port", "10.0.0.3", "", false, "10.0.0.3"},
		{"empty", "", "", false, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientIP(req, tt.trustForwarded); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
