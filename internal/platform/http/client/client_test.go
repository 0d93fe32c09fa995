package client_test

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	httpclient "github.com/MahdiBaghbani/circleinvite/internal/platform/http/client"
)

func TestClient_SSRFProtection(t *testing.T) {
	client := httpclient.New(&httpclient.Config{SSRFMode: "strict", TimeoutMS: 1000, ConnectTimeoutMS: 500})

	tests := []struct {
		name string
		url  string
	}{
		{"localhost blocked", "http://localhost/hook"},
		{"127.0.0.1 blocked", "http://127.0.0.1/hook"},
		{"loopback IPv6 blocked", "http://[::1]/hook"},
		{"private 192.168 blocked", "http://192.168.1.1/hook"},
		{"private 10.x blocked", "http://10.0.0.1/hook"},
		{"private 172.16 blocked", "http://172.16.0.1/hook"},
		{"link-local blocked", "http://169.254.1.1/hook"},
		{"unspecified blocked", "http://0.0.0.0/hook"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.PostJSON(context.Background(), tt.url, []byte(`{}`), nil)
			if !httpclient.IsSSRFError(err) {
				t.Errorf("expected SSRF error, got %v", err)
			}
		})
	}
}

type fakeResolver map[string][]net.IPAddr

func (f fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	addrs, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func TestClient_SSRFResolvedHost(t *testing.T) {
	client := httpclient.New(nil)
	client.SetResolver(fakeResolver{
		"internal.example": {{IP: net.ParseIP("10.1.2.3")}},
	})

	_, err := client.PostJSON(context.Background(), "https://internal.example/hook", nil, nil)
	if !errors.Is(err, httpclient.ErrSSRFBlocked) {
		t.Errorf("expected ErrSSRFBlocked for private resolution, got %v", err)
	}

	_, err = client.PostJSON(context.Background(), "https://missing.example/hook", nil, nil)
	if !errors.Is(err, httpclient.ErrHostUnresolvable) {
		t.Errorf("expected ErrHostUnresolvable, got %v", err)
	}
}

func TestClient_InvalidURL(t *testing.T) {
	client := httpclient.New(nil)
	for _, raw := range []string{"ftp://example.com/x", "not a url", "http://"} {
		if _, err := client.PostJSON(context.Background(), raw, nil, nil); !errors.Is(err, httpclient.ErrInvalidURL) {
			t.Errorf("%q: expected ErrInvalidURL, got %v", raw, err)
		}
	}
}

func TestClient_PostJSON(t *testing.T) {
	var gotBody, gotType, gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		gotSig = r.Header.Get("X-Signature")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// httptest listens on loopback, so SSRF protection must be off.
	client := httpclient.New(&httpclient.Config{SSRFMode: "off"})
	resp, err := client.PostJSON(context.Background(), srv.URL, []byte(`{"a":1}`), http.Header{"X-Signature": {"abc"}})
	if err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if string(resp) != "ok" || gotBody != `{"a":1}` || gotType != "application/json" || gotSig != "abc" {
		t.Errorf("unexpected exchange: resp=%q body=%q type=%q sig=%q", resp, gotBody, gotType, gotSig)
	}
}

func TestClient_RootCAs(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	untrusted := httpclient.New(&httpclient.Config{SSRFMode: "off"})
	if _, err := untrusted.PostJSON(context.Background(), srv.URL, []byte(`{}`), nil); err == nil {
		t.Fatal("expected certificate error without the test CA")
	}

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	trusted := httpclient.New(&httpclient.Config{SSRFMode: "off", RootCAs: pool})
	if _, err := trusted.PostJSON(context.Background(), srv.URL, []byte(`{}`), nil); err != nil {
		t.Fatalf("PostJSON with RootCAs: %v", err)
	}
}

func TestClient_StatusAndLimits(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr: httpclient.ErrUnexpectedStatus,
		},
		{
			name: "redirect not followed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/elsewhere", http.StatusFound)
			},
			wantErr: httpclient.ErrRedirectBlocked,
		},
		{
			name: "oversized body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(strings.Repeat("x", 64)))
			},
			wantErr: httpclient.ErrResponseTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := httpclient.New(&httpclient.Config{SSRFMode: "off", MaxResponseBytes: 16})
			if _, err := client.PostJSON(context.Background(), srv.URL, []byte(`{}`), nil); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
