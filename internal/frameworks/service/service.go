// Package service defines the contract between the HTTP server and the
// services it mounts.
package service

import (
	"log/slog"
	"net/http"
)

// Service is an HTTP service mounted under /<Prefix>.
type Service interface {
	Handler() http.Handler
	Prefix() string
	Close() error

	// Unprotected lists paths, relative to the prefix, served without a
	// bearer token.
	Unprotected() []string
}

// NewService builds a service from its [http.services.<name>] table.
type NewService func(conf map[string]any, log *slog.Logger) (Service, error)
