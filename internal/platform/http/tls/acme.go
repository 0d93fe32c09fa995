package tls

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/MahdiBaghbani/circleinvite/internal/platform/config"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
)

const (
	letsEncryptStaging    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	letsEncryptProduction = "https://acme-v02.api.letsencrypt.org/directory"

	challengePrefix = "/.well-known/acme-challenge/"

	// A stored certificate closer than this to expiry is replaced on start.
	renewBefore = 30 * 24 * time.Hour
)

// account is the persisted ACME registration; it satisfies registration.User.
type account struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

func (a *account) GetEmail() string                        { return a.Email }
func (a *account) GetRegistration() *registration.Resource { return a.Registration }
func (a *account) GetPrivateKey() crypto.PrivateKey        { return a.key }

// challengeTokens is the lego HTTP-01 provider. Tokens live in memory and
// are served by ChallengeHandler, so lego never binds a port of its own.
type challengeTokens struct {
	m sync.Map // token -> key authorization
}

func (c *challengeTokens) Present(domain, token, keyAuth string) error {
	c.m.Store(token, keyAuth)
	return nil
}

func (c *challengeTokens) CleanUp(domain, token, keyAuth string) error {
	c.m.Delete(token)
	return nil
}

// ACMEManager obtains and holds the listener certificate for one domain.
type ACMEManager struct {
	cfg     config.ACMEConfig
	log     *slog.Logger
	rootCAs *x509.CertPool
	tokens  *challengeTokens

	mu   sync.RWMutex
	cert *cryptotls.Certificate

	now func() time.Time
}

// NewACMEManager creates a manager. rootCAs is used when talking to the ACME
// directory; nil means the system pool.
func NewACMEManager(cfg config.ACMEConfig, log *slog.Logger, rootCAs *x509.CertPool) *ACMEManager {
	return &ACMEManager{
		cfg:     cfg,
		log:     logutil.NoopIfNil(log),
		rootCAs: rootCAs,
		tokens:  &challengeTokens{},
		now:     time.Now,
	}
}

func (m *ACMEManager) certPath() string    { return filepath.Join(m.cfg.StorageDir, "cert.pem") }
func (m *ACMEManager) keyPath() string     { return filepath.Join(m.cfg.StorageDir, "key.pem") }
func (m *ACMEManager) accountPath() string { return filepath.Join(m.cfg.StorageDir, "account.json") }
func (m *ACMEManager) accountKey() string  { return filepath.Join(m.cfg.StorageDir, "account.key") }

// Init loads a stored certificate that is not due for renewal, or obtains a
// new one. The challenge handler must already be reachable before calling.
func (m *ACMEManager) Init(ctx context.Context) error {
	if m.cfg.Domain == "" {
		return errors.New("acme.domain is required")
	}
	if m.cfg.Email == "" {
		return errors.New("acme.email is required")
	}
	if err := os.MkdirAll(m.cfg.StorageDir, 0700); err != nil {
		return fmt.Errorf("failed to create acme storage dir: %w", err)
	}

	if cert, err := m.loadStored(); err == nil {
		m.setCert(cert)
		m.log.Info("loaded stored ACME certificate", "domain", m.cfg.Domain)
		return nil
	} else if !os.IsNotExist(err) {
		m.log.Info("stored ACME certificate unusable, requesting a new one", "domain", m.cfg.Domain, "reason", err)
	}

	client, err := m.newClient()
	if err != nil {
		return err
	}
	return m.obtain(ctx, client)
}

// loadStored returns the stored certificate unless it is missing, broken
// or inside the renewal window.
func (m *ACMEManager) loadStored() (*cryptotls.Certificate, error) {
	cert, err := cryptotls.LoadX509KeyPair(m.certPath(), m.keyPath())
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, err
	}
	if m.now().Add(renewBefore).After(leaf.NotAfter) {
		return nil, fmt.Errorf("certificate expires %s", leaf.NotAfter.Format(time.RFC3339))
	}
	cert.Leaf = leaf
	return &cert, nil
}

func (m *ACMEManager) directoryURL() string {
	switch {
	case m.cfg.Directory != "":
		return m.cfg.Directory
	case m.cfg.UseStaging:
		return letsEncryptStaging
	default:
		return letsEncryptProduction
	}
}

func (m *ACMEManager) newClient() (*lego.Client, error) {
	acct, err := m.loadAccount()
	if err != nil {
		return nil, err
	}

	legoCfg := lego.NewConfig(acct)
	legoCfg.CADirURL = m.directoryURL()
	legoCfg.Certificate.KeyType = certcrypto.EC256
	if m.rootCAs != nil {
		legoCfg.HTTPClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &cryptotls.Config{RootCAs: m.rootCAs, MinVersion: cryptotls.VersionTLS12},
			},
		}
	}

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create acme client: %w", err)
	}
	if err := client.Challenge.SetHTTP01Provider(m.tokens); err != nil {
		return nil, fmt.Errorf("failed to set http-01 provider: %w", err)
	}

	if acct.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("failed to register acme account: %w", err)
		}
		acct.Registration = reg
		if err := m.saveAccount(acct); err != nil {
			m.log.Warn("failed to persist ACME account", "error", err)
		}
	}
	return client, nil
}

func (m *ACMEManager) obtain(ctx context.Context, client *lego.Client) error {
	m.log.Info("requesting ACME certificate", "domain", m.cfg.Domain, "directory", m.directoryURL())

	res, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{m.cfg.Domain},
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to obtain certificate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cert, err := cryptotls.X509KeyPair(res.Certificate, res.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse obtained certificate: %w", err)
	}
	if err := os.WriteFile(m.certPath(), res.Certificate, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(m.keyPath(), res.PrivateKey, 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}

	m.setCert(&cert)
	m.log.Info("stored ACME certificate", "domain", m.cfg.Domain, "cert_file", m.certPath())
	return nil
}

// loadAccount reads the stored account, or returns a fresh unregistered
// one with a new key.
func (m *ACMEManager) loadAccount() (*account, error) {
	data, err := os.ReadFile(m.accountPath())
	if err == nil {
		keyPEM, keyErr := os.ReadFile(m.accountKey())
		var acct account
		if keyErr == nil && json.Unmarshal(data, &acct) == nil {
			if key, err := certcrypto.ParsePEMPrivateKey(keyPEM); err == nil && acct.Email == m.cfg.Email {
				acct.key = key
				return &acct, nil
			}
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate account key: %w", err)
	}
	return &account{Email: m.cfg.Email, key: key}, nil
}

func (m *ACMEManager) saveAccount(acct *account) error {
	data, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.accountPath(), data, 0600); err != nil {
		return err
	}
	return os.WriteFile(m.accountKey(), certcrypto.PEMEncode(acct.key), 0600)
}

func (m *ACMEManager) setCert(cert *cryptotls.Certificate) {
	m.mu.Lock()
	m.cert = cert
	m.mu.Unlock()
}

// GetCertificate is the tls.Config callback.
func (m *ACMEManager) GetCertificate(*cryptotls.ClientHelloInfo) (*cryptotls.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cert == nil {
		return nil, errors.New("no ACME certificate yet")
	}
	return m.cert, nil
}

// TLSConfig returns a listener config backed by GetCertificate.
func (m *ACMEManager) TLSConfig() *cryptotls.Config {
	return &cryptotls.Config{
		GetCertificate: m.GetCertificate,
		MinVersion:     cryptotls.VersionTLS12,
	}
}

// ChallengeHandler answers GET /.well-known/acme-challenge/{token}.
func (m *ACMEManager) ChallengeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		token, ok := strings.CutPrefix(r.URL.Path, challengePrefix)
		if !ok || token == "" {
			http.NotFound(w, r)
			return
		}
		keyAuth, ok := m.tokens.m.Load(token)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, keyAuth.(string))
	})
}

// ServeChallenges starts a plain HTTP listener on addr for ChallengeHandler.
// Closing the returned value stops it.
func (m *ACMEManager) ServeChallenges(addr string) (io.Closer, error) {
	if addr == "" {
		addr = ":80"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for acme challenges on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           m.ChallengeHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("acme challenge listener stopped", "error", err)
		}
	}()
	m.log.Info("serving ACME challenges", "addr", ln.Addr().String())
	return srv, nil
}
