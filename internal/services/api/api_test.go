package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/MahdiBaghbani/circleinvite/internal/components/api"
	"github.com/MahdiBaghbani/circleinvite/internal/components/identity"
	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	invsvc "github.com/MahdiBaghbani/circleinvite/internal/components/invitations/service"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/cache/memory"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/config"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/deps"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/http/ratelimit"
	memstore "github.com/MahdiBaghbani/circleinvite/internal/store/memory"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	alice = invitations.Principal{ID: "alice", Name: "Alice", Email: "alice@example.com"}
	bob   = invitations.Principal{ID: "bob", Name: "Bob", Email: "bob@example.com"}
)

// setupTestDeps wires a memory-backed invitation service into SharedDeps.
// A nil limiter leaves the link routes unthrottled.
func setupTestDeps(t *testing.T, limiter ...*ratelimit.Limiter) {
	t.Helper()
	repo := memstore.New()
	d := &deps.Deps{
		Config:      config.DevConfig(),
		Store:       repo,
		Invitations: invsvc.New(invitations.NewEngine(), repo, invsvc.WithLogger(quietLogger)),
	}
	if len(limiter) > 0 {
		d.LinkLimiter = limiter[0]
	}
	deps.ResetDeps()
	deps.SetDeps(d)
	t.Cleanup(deps.ResetDeps)
}

func newService(t *testing.T, conf map[string]any) *Service {
	t.Helper()
	svc, err := New(conf, quietLogger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc.(*Service)
}

// do sends a request as p; a zero principal sends it anonymously.
func do(t *testing.T, svc *Service, p invitations.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if p.ID != "" {
		req = req.WithContext(identity.WithPrincipal(req.Context(), p))
	}
	rr := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rr, req)
	return rr
}

func TestNew_FailsWithoutSharedDeps(t *testing.T) {
	deps.ResetDeps()
	if _, err := New(map[string]any{}, quietLogger); err == nil {
		t.Error("expected error when SharedDeps not initialized")
	}
}

func TestService_Basics(t *testing.T) {
	setupTestDeps(t)
	svc := newService(t, map[string]any{"unknown_key": true})

	if svc.Prefix() != "api" {
		t.Errorf("Prefix() = %q", svc.Prefix())
	}
	if got := svc.Unprotected(); !slices.Equal(got, []string{"/healthz", "/invitations/link/*"}) {
		t.Errorf("Unprotected() = %v", got)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestService_HealthzEndpoint(t *testing.T) {
	setupTestDeps(t)
	svc := newService(t, nil)

	rr := do(t, svc, invitations.Principal{}, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var resp api.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Store != "memory" {
		t.Errorf("health = %+v", resp)
	}
}

func TestService_LinkURLFromPublicOrigin(t *testing.T) {
	setupTestDeps(t)
	d := deps.GetDeps()
	d.Config.PublicOrigin = "https://invites.test"
	d.Config.ExternalBasePath = "/circles"
	svc := newService(t, nil)

	rr := do(t, svc, alice, http.MethodPost, "/invitations", map[string]any{
		"target":         map[string]any{"type": "project", "id": "apollo", "name": "Apollo"},
		"recipientEmail": "bob@example.com",
		"role":           "member",
		"generateLink":   true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Invitation struct {
			Link string `json:"link"`
		} `json:"invitation"`
		LinkURL string `json:"linkUrl"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := "https://invites.test/circles/api/invitations/link/" + created.Invitation.Link
	if created.LinkURL != want {
		t.Errorf("linkUrl = %q, want %q", created.LinkURL, want)
	}
}

func TestService_InvitationRoundTrip(t *testing.T) {
	setupTestDeps(t)
	svc := newService(t, nil)

	rr := do(t, svc, alice, http.MethodPost, "/invitations", map[string]any{
		"target":         map[string]any{"type": "project", "id": "apollo", "name": "Apollo"},
		"recipientEmail": "bob@example.com",
		"role":           "member",
		"expirationDays": 7,
		"generateLink":   true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Invitation struct {
			ID   string `json:"id"`
			Link string `json:"link"`
		} `json:"invitation"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id, link := created.Invitation.ID, created.Invitation.Link
	if id == "" || link == "" {
		t.Fatalf("missing id or link: %s", rr.Body.String())
	}

	steps := []struct {
		name   string
		who    invitations.Principal
		method string
		path   string
		want   int
	}{
		{"sender lists sent", alice, http.MethodGet, "/invitations?sent=1", http.StatusOK},
		{"recipient lists inbox", bob, http.MethodGet, "/invitations", http.StatusOK},
		{"anonymous preview", invitations.Principal{}, http.MethodGet, "/invitations/link/" + link, http.StatusOK},
		{"recipient gets", bob, http.MethodGet, "/invitations/" + id, http.StatusOK},
		{"sender cannot accept", alice, http.MethodPost, "/invitations/" + id + "/accept", http.StatusForbidden},
		{"recipient accepts", bob, http.MethodPost, "/invitations/" + id + "/accept", http.StatusOK},
		{"second accept conflicts", bob, http.MethodPost, "/invitations/" + id + "/accept", http.StatusConflict},
		{"cancel after accept conflicts", alice, http.MethodPost, "/invitations/" + id + "/cancel", http.StatusConflict},
		{"trail readable", alice, http.MethodGet, "/invitations/" + id + "/activities", http.StatusOK},
		{"unknown id", alice, http.MethodGet, "/invitations/nope", http.StatusNotFound},
	}
	for _, s := range steps {
		rr := do(t, svc, s.who, s.method, s.path, nil)
		if rr.Code != s.want {
			t.Errorf("%s: %s %s = %d, want %d: %s", s.name, s.method, s.path, rr.Code, s.want, rr.Body.String())
		}
	}

	rr = do(t, svc, alice, http.MethodGet, "/invitations/"+id+"/activities", nil)
	var trail struct {
		Activities []invitations.Activity `json:"activities"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &trail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(trail.Activities) != 2 || trail.Activities[1].Type != invitations.ActivityAccepted {
		t.Errorf("trail = %+v", trail.Activities)
	}
}

func TestService_DisableLinkPreview(t *testing.T) {
	setupTestDeps(t)
	svc := newService(t, map[string]any{"disable_link_preview": true})

	if got := svc.Unprotected(); !slices.Equal(got, []string{"/healthz"}) {
		t.Errorf("Unprotected() = %v", got)
	}
	rr := do(t, svc, invitations.Principal{}, http.MethodGet, "/invitations/link/anything", nil)
	if rr.Code != http.StatusMethodNotAllowed && rr.Code != http.StatusNotFound {
		t.Errorf("preview route still served: %d", rr.Code)
	}
}

func TestService_LinkRoutesRateLimited(t *testing.T) {
	counters := memory.New(0)
	defer counters.Close()
	setupTestDeps(t, ratelimit.New(counters, ratelimit.Config{
		RequestsPerWindow: 2,
		Window:            time.Minute,
		Scope:             "links",
	}, quietLogger))
	svc := newService(t, nil)

	anon := invitations.Principal{}
	for i := 0; i < 2; i++ {
		if rr := do(t, svc, anon, http.MethodGet, "/invitations/link/guess", nil); rr.Code != http.StatusNotFound {
			t.Fatalf("guess %d = %d, want 404", i+1, rr.Code)
		}
	}
	if rr := do(t, svc, anon, http.MethodGet, "/invitations/link/guess", nil); rr.Code != http.StatusTooManyRequests {
		t.Errorf("third guess = %d, want 429", rr.Code)
	}
	if rr := do(t, svc, bob, http.MethodPost, "/invitations/link/guess/accept", nil); rr.Code != http.StatusTooManyRequests {
		t.Errorf("accept shares the window: %d, want 429", rr.Code)
	}

	// other routes are not throttled
	if rr := do(t, svc, anon, http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Errorf("healthz = %d", rr.Code)
	}
}

func TestService_RequiresPrincipal(t *testing.T) {
	setupTestDeps(t)
	svc := newService(t, nil)

	rr := do(t, svc, invitations.Principal{}, http.MethodGet, "/invitations", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous list = %d, want 401", rr.Code)
	}
}
