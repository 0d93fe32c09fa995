package tls

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BuildRootCAPool merges the system roots with the PEM certificates in
// caFile and every *.pem or *.crt regular file in caDir. Both empty returns
// (nil, nil) so callers keep the system defaults.
func BuildRootCAPool(caFile, caDir string) (*x509.CertPool, error) {
	if caFile == "" && caDir == "" {
		return nil, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if caFile != "" {
		if err := appendPEMFile(pool, caFile); err != nil {
			return nil, fmt.Errorf("root_ca_file: %w", err)
		}
	}

	if caDir != "" {
		entries, err := os.ReadDir(caDir)
		if err != nil {
			return nil, fmt.Errorf("root_ca_dir: %w", err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if ext != ".pem" && ext != ".crt" {
				continue
			}
			if err := appendPEMFile(pool, filepath.Join(caDir, e.Name())); err != nil {
				return nil, fmt.Errorf("root_ca_dir: %w", err)
			}
		}
	}

	return pool, nil
}

func appendPEMFile(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("%s: no valid PEM certificates found", path)
	}
	return nil
}
