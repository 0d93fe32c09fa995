// Package client provides the outbound HTTP client used for webhook
// delivery. Targets are operator-configured but still resolved at send
// time, so the client refuses private and loopback addresses unless SSRF
// protection is switched off.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrSSRFBlocked      = errors.New("request blocked by SSRF protection")
	ErrResponseTooLarge = errors.New("response body too large")
	ErrInvalidURL       = errors.New("invalid URL")
	ErrRedirectBlocked  = errors.New("redirects are not followed")
	ErrHostUnresolvable = errors.New("host could not be resolved")
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Config controls outbound behavior.
type Config struct {
	SSRFMode         string `toml:"ssrf_mode" mapstructure:"ssrf_mode"` // strict or off
	TimeoutMS        int    `toml:"timeout_ms" mapstructure:"timeout_ms"`
	ConnectTimeoutMS int    `toml:"connect_timeout_ms" mapstructure:"connect_timeout_ms"`
	MaxResponseBytes int64  `toml:"max_response_bytes" mapstructure:"max_response_bytes"`

	// RootCAs overrides the system trust roots when non-nil.
	RootCAs *x509.CertPool `toml:"-" mapstructure:"-"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.SSRFMode == "" {
		c.SSRFMode = "strict"
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = 5000
	}
	if c.ConnectTimeoutMS == 0 {
		c.ConnectTimeoutMS = 2000
	}
	if c.MaxResponseBytes == 0 {
		c.MaxResponseBytes = 64 * 1024
	}
}

// Resolver abstracts DNS resolution for testing.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Client is a bounded HTTP client with SSRF protections.
type Client struct {
	cfg        Config
	httpClient *http.Client
	resolver   Resolver // nil uses net.DefaultResolver
}

// New creates a client. A nil cfg uses defaults.
// The client ignores proxy environment variables (HTTP_PROXY, HTTPS_PROXY, NO_PROXY).
func New(cfg *Config) *Client {
	var c Client
	if cfg != nil {
		c.cfg = *cfg
	}
	c.cfg.ApplyDefaults()

	dialer := &net.Dialer{
		Timeout: time.Duration(c.cfg.ConnectTimeoutMS) * time.Millisecond,
	}

	transport := &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			// Re-check at dial time so DNS rebinding cannot slip past the
			// pre-flight check.
			if c.cfg.SSRFMode == "strict" {
				if err := c.checkSSRF(ctx, addr); err != nil {
					return nil, err
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
	}
	if c.cfg.RootCAs != nil {
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    c.cfg.RootCAs,
			MinVersion: tls.VersionTLS12,
		}
	}

	c.httpClient = &http.Client{
		Transport: transport,
		Timeout:   time.Duration(c.cfg.TimeoutMS) * time.Millisecond,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &c
}

// SetResolver sets a custom DNS resolver (for testing).
func (c *Client) SetResolver(r Resolver) {
	c.resolver = r
}

func (c *Client) getResolver() Resolver {
	if c.resolver != nil {
		return c.resolver
	}
	return net.DefaultResolver
}

func (c *Client) checkSSRF(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return c.checkSSRFHost(ctx, host)
}

// checkSSRFHost validates that host does not resolve to a blocked address.
func (c *Client) checkSSRFHost(ctx context.Context, host string) error {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	lowerHost := strings.ToLower(host)
	if lowerHost == "localhost" || lowerHost == "localhost.localdomain" {
		return fmt.Errorf("%w: localhost is blocked", ErrSSRFBlocked)
	}

	if ip := net.ParseIP(host); ip != nil {
		if !isAllowedIP(ip) {
			return fmt.Errorf("%w: IP %s is blocked", ErrSSRFBlocked, ip)
		}
		return nil
	}

	ipAddrs, err := c.getResolver().LookupIPAddr(ctx, host)
	if err != nil {
		// Fail closed.
		return fmt.Errorf("%w: %s: %v", ErrHostUnresolvable, host, err)
	}
	for _, ipAddr := range ipAddrs {
		if !isAllowedIP(ipAddr.IP) {
			return fmt.Errorf("%w: %s resolves to blocked IP %s", ErrSSRFBlocked, host, ipAddr.IP)
		}
	}
	return nil
}

func isAllowedIP(ip net.IP) bool {
	return !ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsUnspecified() &&
		!ip.IsMulticast()
}

// PostJSON posts body to rawURL and returns the (size-limited) response
// body. Any status outside 2xx is an error wrapping ErrUnexpectedStatus.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body []byte, header http.Header) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	if c.cfg.SSRFMode == "strict" {
		if err := c.checkSSRFHost(ctx, u.Hostname()); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return nil, fmt.Errorf("%w: received %d", ErrRedirectBlocked, resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(respBody)) > c.cfg.MaxResponseBytes {
		return nil, ErrResponseTooLarge
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return respBody, nil
}

// IsSSRFError returns true if the error is an SSRF blocking error.
func IsSSRFError(err error) bool {
	return errors.Is(err, ErrSSRFBlocked) || errors.Is(err, ErrHostUnresolvable)
}
