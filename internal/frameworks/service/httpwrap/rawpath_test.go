package httpwrap_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/circleinvite/internal/frameworks/service/httpwrap"
)

func TestClearRawPath_RoutesEncodedToken(t *testing.T) {
	var token string
	r := chi.NewRouter()
	r.Get("/link/{token}", func(w http.ResponseWriter, r *http.Request) {
		token = chi.URLParam(r, "token")
	})
	h := httpwrap.ClearRawPath(r)

	// "~" encoded as %7E forces a RawPath on the parsed URL.
	req := httptest.NewRequest(http.MethodGet, "/link/abc%7Edef?x=1", nil)
	if req.URL.RawPath == "" {
		t.Fatal("test setup: expected RawPath to be set")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if token != "abc~def" {
		t.Errorf("token = %q, want decoded abc~def", token)
	}
	if req.URL.RawQuery != "x=1" {
		t.Errorf("query was modified: %q", req.URL.RawQuery)
	}
}
