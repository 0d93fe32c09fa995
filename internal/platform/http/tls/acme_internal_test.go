package tls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MahdiBaghbani/circleinvite/internal/platform/config"
)

func TestChallengeHandler(t *testing.T) {
	m := NewACMEManager(config.ACMEConfig{}, nil, nil)
	m.tokens.Present("invites.example.org", "tok-1", "tok-1.thumb")

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{"known token", http.MethodGet, challengePrefix + "tok-1", http.StatusOK, "tok-1.thumb"},
		{"unknown token", http.MethodGet, challengePrefix + "tok-2", http.StatusNotFound, ""},
		{"empty token", http.MethodGet, challengePrefix, http.StatusNotFound, ""},
		{"other path", http.MethodGet, "/api/healthz", http.StatusNotFound, ""},
		{"post", http.MethodPost, challengePrefix + "tok-1", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			m.ChallengeHandler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	m.tokens.CleanUp("invites.example.org", "tok-1", "tok-1.thumb")
	rec := httptest.NewRecorder()
	m.ChallengeHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, challengePrefix+"tok-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("after CleanUp status = %d, want 404", rec.Code)
	}
}

func TestACMEManager_InitUsesStoredCertificate(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM, err := GenerateSelfSigned("invites.example.org", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "cert.pem"), certPEM, 0644)
	os.WriteFile(filepath.Join(dir, "key.pem"), keyPEM, 0600)

	m := NewACMEManager(config.ACMEConfig{
		Email: "ops@example.org", Domain: "invites.example.org", StorageDir: dir,
		// Unroutable; Init must not reach it.
		Directory: "https://127.0.0.1:1/directory",
	}, nil, nil)

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := m.GetCertificate(nil); err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
}

func TestACMEManager_StoredCertificateDueForRenewal(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM, err := GenerateSelfSigned("invites.example.org", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "cert.pem"), certPEM, 0644)
	os.WriteFile(filepath.Join(dir, "key.pem"), keyPEM, 0600)

	m := NewACMEManager(config.ACMEConfig{StorageDir: dir}, nil, nil)
	m.now = func() time.Time { return time.Now().Add(340 * 24 * time.Hour) }

	if _, err := m.loadStored(); err == nil {
		t.Fatal("expected certificate inside the renewal window to be rejected")
	}
}

func TestACMEManager_RequiresDomainAndEmail(t *testing.T) {
	m := NewACMEManager(config.ACMEConfig{Email: "ops@example.org", StorageDir: t.TempDir()}, nil, nil)
	if err := m.Init(context.Background()); err == nil {
		t.Fatal("expected error without domain")
	}
	if _, err := m.GetCertificate(nil); err == nil {
		t.Fatal("GetCertificate before a certificate exists should fail")
	}
}

func TestACMEManager_DirectoryURL(t *testing.T) {
	tests := []struct {
		cfg  config.ACMEConfig
		want string
	}{
		{config.ACMEConfig{}, letsEncryptProduction},
		{config.ACMEConfig{UseStaging: true}, letsEncryptStaging},
		{config.ACMEConfig{UseStaging: true, Directory: "https://pebble:14000/dir"}, "https://pebble:14000/dir"},
	}
	for _, tt := range tests {
		if got := NewACMEManager(tt.cfg, nil, nil).directoryURL(); got != tt.want {
			t.Errorf("directoryURL() = %q, want %q", got, tt.want)
		}
	}
}

func TestACMEManager_AccountRoundTrip(t *testing.T) {
	m := NewACMEManager(config.ACMEConfig{Email: "ops@example.org", StorageDir: t.TempDir()}, nil, nil)
	acct, err := m.loadAccount()
	if err != nil {
		t.Fatal(err)
	}
	if err := m.saveAccount(acct); err != nil {
		t.Fatal(err)
	}
	again, err := m.loadAccount()
	if err != nil {
		t.Fatal(err)
	}
	if again.GetEmail() != "ops@example.org" || again.GetPrivateKey() == nil {
		t.Fatalf("reloaded account = %+v", again)
	}

	m.cfg.Email = "other@example.org"
	fresh, err := m.loadAccount()
	if err != nil {
		t.Fatal(err)
	}
	if fresh.GetEmail() != "other@example.org" || fresh.GetRegistration() != nil {
		t.Error("changed email should start a new account")
	}
}
