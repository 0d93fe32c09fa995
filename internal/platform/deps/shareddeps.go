// Package deps provides shared dependencies for all services.
package deps

import (
	"sync"

	"github.com/MahdiBaghbani/circleinvite/internal/components/identity"
	invsvc "github.com/MahdiBaghbani/circleinvite/internal/components/invitations/service"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/config"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/http/ratelimit"
	"github.com/MahdiBaghbani/circleinvite/internal/store"
)

var (
	sharedDeps     *Deps
	sharedDepsOnce sync.Once
)

// Deps holds what main builds once and every mounted service shares.
type Deps struct {
	// Config (for handlers that need config values)
	Config *config.Config

	// Invitations orchestrates every lifecycle operation.
	Invitations *invsvc.Service

	// Store is the open repository; the health endpoint reports its driver.
	Store store.Repository

	// Tokens verifies bearer tokens for the auth gate.
	Tokens *identity.TokenIssuer

	// LinkLimiter throttles the link routes; nil disables throttling.
	LinkLimiter *ratelimit.Limiter
}

// SetDeps sets the shared dependencies. Must be called once at startup
// before any services are constructed.
func SetDeps(d *Deps) {
	sharedDepsOnce.Do(func() {
		sharedDeps = d
	})
}

// GetDeps returns the shared dependencies.
// Returns nil if SetDeps has not been called.
func GetDeps() *Deps {
	return sharedDeps
}

// ResetDeps is for testing only. Resets the singleton.
func ResetDeps() {
	sharedDeps = nil
	sharedDepsOnce = sync.Once{}
}
