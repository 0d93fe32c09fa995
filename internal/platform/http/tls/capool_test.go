package tls_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tlspkg "github.com/MahdiBaghbani/circleinvite/internal/platform/http/tls"
)

func writeCA(t *testing.T, dir, name string) string {
	t.Helper()
	certPEM, _, err := tlspkg.GenerateSelfSigned("ca.test", time.Now())
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, certPEM, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildRootCAPool(t *testing.T) {
	dir := t.TempDir()
	caFile := writeCA(t, dir, "root.pem")

	caDir := filepath.Join(dir, "bundle")
	if err := os.Mkdir(caDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeCA(t, caDir, "a.crt")
	writeCA(t, caDir, "b.PEM")
	os.WriteFile(filepath.Join(caDir, "README"), []byte("not a cert"), 0644)
	os.Mkdir(filepath.Join(caDir, "nested.pem"), 0755)

	badPEM := filepath.Join(dir, "bad.pem")
	os.WriteFile(badPEM, []byte("garbage"), 0644)

	tests := []struct {
		name    string
		file    string
		dir     string
		wantNil bool
		wantErr string
	}{
		{name: "both empty", wantNil: true},
		{name: "file", file: caFile},
		{name: "dir skips non-pem entries", dir: caDir},
		{name: "file and dir", file: caFile, dir: caDir},
		{name: "missing file", file: filepath.Join(dir, "nope.pem"), wantErr: "root_ca_file"},
		{name: "invalid pem", file: badPEM, wantErr: "no valid PEM"},
		{name: "missing dir", dir: filepath.Join(dir, "nope"), wantErr: "root_ca_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := tlspkg.BuildRootCAPool(tt.file, tt.dir)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil != (pool == nil) {
				t.Fatalf("pool nil = %v, want %v", pool == nil, tt.wantNil)
			}
		})
	}
}
