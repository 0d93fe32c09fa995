// Package store provides invitation persistence primitives and driver
// abstractions.
package store

import (
	"context"
	"errors"

	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("concurrent update conflict")
	ErrClosed        = errors.New("store closed")
)

// Driver defines the lifecycle of a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, load data, etc).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (memory, json, sqlite, postgres, dynamodb).
	Name() string
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status         invitations.Status
	TargetType     invitations.TargetType
	TargetID       string
	SenderID       string
	RecipientEmail string // compared case-insensitively
}

// Match reports whether inv satisfies the filter.
func (f Filter) Match(inv invitations.Invitation) bool {
	if f.Status != "" && inv.Status() != f.Status {
		return false
	}
	if f.TargetType != "" && inv.Target.Type != f.TargetType {
		return false
	}
	if f.TargetID != "" && inv.Target.ID != f.TargetID {
		return false
	}
	if f.SenderID != "" && inv.SenderID != f.SenderID {
		return false
	}
	if f.RecipientEmail != "" && !equalFold(inv.RecipientEmail, f.RecipientEmail) {
		return false
	}
	return true
}

// Repository persists invitations and their activity trail.
//
// Every write commits the invitation and exactly one activity together or
// not at all. Transitions go through CompareAndSwap, which applies next only
// while the stored invitation still has expectStatus and expectVersion, so
// of two racing transitions exactly one wins and the other gets ErrConflict.
type Repository interface {
	Driver

	// Create stores a new invitation (Version 1) with its "sent" activity.
	// Returns ErrAlreadyExists for a duplicate id or link.
	Create(ctx context.Context, inv invitations.Invitation, act invitations.Activity) (invitations.Invitation, error)

	// Get returns the invitation with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (invitations.Invitation, error)

	// GetByLink returns the invitation minted with the given link token.
	GetByLink(ctx context.Context, link string) (invitations.Invitation, error)

	// List returns invitations matching f, newest first.
	List(ctx context.Context, f Filter) ([]invitations.Invitation, error)

	// ListPending returns every invitation still in pending status.
	ListPending(ctx context.Context) ([]invitations.Invitation, error)

	// CompareAndSwap replaces the stored invitation with next and appends
	// act if the stored status and version still match. On success the
	// returned invitation carries the incremented version.
	CompareAndSwap(ctx context.Context, expectStatus invitations.Status, expectVersion int64, next invitations.Invitation, act invitations.Activity) (invitations.Invitation, error)

	// Activities returns the activity trail of one invitation ordered by
	// timestamp.
	Activities(ctx context.Context, invitationID string) ([]invitations.Activity, error)
}
