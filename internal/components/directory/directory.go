// Package directory answers the two questions the invitation service asks
// about the surrounding platform: who is in a user's circle, and which
// teams belong to an organization or project.
package directory

import (
	"context"
	"slices"
	"sync"

	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
)

// Contacts lists the circle contacts of a user.
type Contacts interface {
	ContactsFor(ctx context.Context, userID string) ([]invitations.CircleContact, error)
}

// Teams lists the team ids that belong to a target. ok is false when the
// registry knows nothing about the target, in which case callers skip the
// subset check.
type Teams interface {
	TeamsOf(ctx context.Context, target invitations.Target) (teams []string, ok bool, err error)
}

// ContactEntry is one [[contacts]] table from config.
type ContactEntry struct {
	Owner string `toml:"owner"`
	ID    string `toml:"id"`
	Email string `toml:"email"`
	Name  string `toml:"name"`
}

// TeamEntry is one [[teams]] table from config.
type TeamEntry struct {
	TargetType string   `toml:"target_type"`
	TargetID   string   `toml:"target_id"`
	Teams      []string `toml:"teams"`
}

// Memory is an in-process directory implementing Contacts and Teams.
type Memory struct {
	mu       sync.RWMutex
	contacts map[string][]invitations.CircleContact // owner -> contacts
	teams    map[string][]string                    // target key -> team ids
}

// NewMemory creates an empty directory.
func NewMemory() *Memory {
	return &Memory{
		contacts: make(map[string][]invitations.CircleContact),
		teams:    make(map[string][]string),
	}
}

// NewMemoryFromConfig seeds a directory from config entries.
func NewMemoryFromConfig(contacts []ContactEntry, teams []TeamEntry) *Memory {
	m := NewMemory()
	for _, c := range contacts {
		m.AddContact(c.Owner, invitations.CircleContact{ID: c.ID, Email: c.Email, Name: c.Name})
	}
	for _, t := range teams {
		m.SetTeams(invitations.Target{Type: invitations.TargetType(t.TargetType), ID: t.TargetID}, t.Teams)
	}
	return m
}

// AddContact adds c to owner's circle, replacing an entry with the same id.
func (m *Memory) AddContact(owner string, c invitations.CircleContact) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.contacts[owner]
	for i := range list {
		if list[i].ID == c.ID {
			list[i] = c
			return
		}
	}
	m.contacts[owner] = append(list, c)
}

// SetTeams registers the teams of target.
func (m *Memory) SetTeams(target invitations.Target, teams []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[target.Key()] = slices.Clone(teams)
}

func (m *Memory) ContactsFor(ctx context.Context, userID string) ([]invitations.CircleContact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.contacts[userID]), nil
}

func (m *Memory) TeamsOf(ctx context.Context, target invitations.Target) ([]string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	teams, ok := m.teams[target.Key()]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(teams), true, nil
}
