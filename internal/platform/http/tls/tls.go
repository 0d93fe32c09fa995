// Package tls provisions the certificate for the HTTPS listener. Modes:
// off (plain HTTP, usually behind a terminating proxy), static (operator
// supplied pair), selfsigned (generated once and kept on disk) and acme
// (obtained with lego over HTTP-01).
package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/MahdiBaghbani/circleinvite/internal/platform/config"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
)

var (
	ErrInvalidMode = errors.New("invalid tls mode")
	ErrMissingCert = errors.New("tls.cert_file and tls.key_file are required in static mode")
)

const selfSignedValidity = 365 * 24 * time.Hour

// Provision returns the listener TLS config for cfg.Mode, or nil in mode
// off. In acme mode the returned Closer stops the HTTP-01 challenge
// listener; it is nil otherwise.
func Provision(ctx context.Context, cfg config.TLSConfig, log *slog.Logger) (*cryptotls.Config, io.Closer, error) {
	log = logutil.NoopIfNil(log)

	switch cfg.Mode {
	case "", "off":
		return nil, nil, nil

	case "static":
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, nil, ErrMissingCert
		}
		cert, err := cryptotls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		log.Info("loaded static TLS certificate", "cert_file", cfg.CertFile)
		return serverConfig(cert), nil, nil

	case "selfsigned":
		cert, err := loadOrCreateSelfSigned(cfg.SelfSignedDir, cfg.Hostname, log)
		if err != nil {
			return nil, nil, err
		}
		return serverConfig(cert), nil, nil

	case "acme":
		rootCAs, err := BuildRootCAPool(cfg.ACME.RootCAFile, cfg.ACME.RootCADir)
		if err != nil {
			return nil, nil, err
		}
		m := NewACMEManager(cfg.ACME, log, rootCAs)
		challenge, err := m.ServeChallenges(cfg.ACME.HTTPAddr)
		if err != nil {
			return nil, nil, err
		}
		if err := m.Init(ctx); err != nil {
			challenge.Close()
			return nil, nil, err
		}
		return m.TLSConfig(), challenge, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}
}

func serverConfig(cert cryptotls.Certificate) *cryptotls.Config {
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{cert},
		MinVersion:   cryptotls.VersionTLS12,
	}
}

// loadOrCreateSelfSigned reuses server.crt/server.key in dir when they
// load, and otherwise writes a fresh pair there.
func loadOrCreateSelfSigned(dir, hostname string, log *slog.Logger) (cryptotls.Certificate, error) {
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")

	if cert, err := cryptotls.LoadX509KeyPair(certFile, keyFile); err == nil {
		log.Info("loaded existing self-signed certificate", "cert_file", certFile)
		return cert, nil
	}

	certPEM, keyPEM, err := GenerateSelfSigned(hostname, time.Now())
	if err != nil {
		return cryptotls.Certificate{}, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to create cert directory: %w", err)
	}
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		return cryptotls.Certificate{}, fmt.Errorf("failed to write key: %w", err)
	}
	log.Info("generated self-signed certificate", "cert_file", certFile, "hostname", hostname)

	return cryptotls.X509KeyPair(certPEM, keyPEM)
}

// GenerateSelfSigned returns a PEM certificate and EC key valid for
// hostname plus localhost, 127.0.0.1 and ::1.
func GenerateSelfSigned(hostname string, now time.Time) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	if hostname == "" {
		hostname = "localhost"
	}
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"circleinvite"}, CommonName: hostname},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(selfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = append(template.IPAddresses, ip)
	} else if hostname != "localhost" {
		template.DNSNames = append(template.DNSNames, hostname)
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		nil
}
