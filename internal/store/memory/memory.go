// Package memory implements an in-process invitation store.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	"github.com/MahdiBaghbani/circleinvite/internal/store"
)

func init() {
	store.Register("memory", func(cfg *store.DriverConfig) (store.Repository, error) {
		return New(), nil
	})
}

// Snapshot is the full store content, used by drivers that persist the
// in-memory state elsewhere.
type Snapshot struct {
	Invitations []invitations.Invitation `json:"invitations"`
	Activities  []invitations.Activity   `json:"activities"`
}

// Store keeps invitations in maps guarded by a single RWMutex, which makes
// every CompareAndSwap trivially atomic.
type Store struct {
	mu          sync.RWMutex
	closed      bool
	invitations map[string]invitations.Invitation
	byLink      map[string]string                  // link -> id
	activities  map[string][]invitations.Activity // invitation id -> trail

	// commit, when set, runs under the write lock after each change. If it
	// fails the change is rolled back and the error returned.
	commit func(Snapshot) error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		invitations: make(map[string]invitations.Invitation),
		byLink:      make(map[string]string),
		activities:  make(map[string][]invitations.Activity),
	}
}

// SetCommitHook installs fn as the commit hook.
func (s *Store) SetCommitHook(fn func(Snapshot) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit = fn
}

// Restore replaces the store content with snap and rebuilds indexes.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invitations = make(map[string]invitations.Invitation, len(snap.Invitations))
	s.byLink = make(map[string]string)
	s.activities = make(map[string][]invitations.Activity)
	for _, inv := range snap.Invitations {
		s.invitations[inv.ID] = inv
		if inv.Link != "" {
			s.byLink[inv.Link] = inv.ID
		}
	}
	for _, act := range snap.Activities {
		s.activities[act.InvitationID] = append(s.activities[act.InvitationID], act)
	}
	for id := range s.activities {
		store.SortActivities(s.activities[id])
	}
}

// snapshotLocked must be called with s.mu held.
func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Invitations: make([]invitations.Invitation, 0, len(s.invitations)),
	}
	for _, inv := range s.invitations {
		snap.Invitations = append(snap.Invitations, inv)
	}
	store.SortNewestFirst(snap.Invitations)
	for _, trail := range s.activities {
		snap.Activities = append(snap.Activities, trail...)
	}
	store.SortActivities(snap.Activities)
	return snap
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Init(ctx context.Context) error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) Create(ctx context.Context, inv invitations.Invitation, act invitations.Activity) (invitations.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return invitations.Invitation{}, store.ErrClosed
	}
	if _, exists := s.invitations[inv.ID]; exists {
		return invitations.Invitation{}, store.ErrAlreadyExists
	}
	if inv.Link != "" {
		if _, exists := s.byLink[inv.Link]; exists {
			return invitations.Invitation{}, store.ErrAlreadyExists
		}
	}

	inv = inv.Clone()
	inv.Version = 1
	s.invitations[inv.ID] = inv
	if inv.Link != "" {
		s.byLink[inv.Link] = inv.ID
	}
	s.activities[inv.ID] = append(s.activities[inv.ID], act)

	if err := s.runCommit(); err != nil {
		delete(s.invitations, inv.ID)
		delete(s.byLink, inv.Link)
		delete(s.activities, inv.ID)
		return invitations.Invitation{}, err
	}
	return inv.Clone(), nil
}

func (s *Store) Get(ctx context.Context, id string) (invitations.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invitations[id]
	if !ok {
		return invitations.Invitation{}, store.ErrNotFound
	}
	return inv.Clone(), nil
}

func (s *Store) GetByLink(ctx context.Context, link string) (invitations.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byLink[link]
	if !ok || link == "" {
		return invitations.Invitation{}, store.ErrNotFound
	}
	inv, ok := s.invitations[id]
	if !ok {
		return invitations.Invitation{}, store.ErrNotFound
	}
	return inv.Clone(), nil
}

func (s *Store) List(ctx context.Context, f store.Filter) ([]invitations.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]invitations.Invitation, 0)
	for _, inv := range s.invitations {
		if f.Match(inv) {
			result = append(result, inv.Clone())
		}
	}
	store.SortNewestFirst(result)
	return result, nil
}

func (s *Store) ListPending(ctx context.Context) ([]invitations.Invitation, error) {
	return s.List(ctx, store.Filter{Status: invitations.StatusPending})
}

func (s *Store) CompareAndSwap(ctx context.Context, expectStatus invitations.Status, expectVersion int64, next invitations.Invitation, act invitations.Activity) (invitations.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return invitations.Invitation{}, store.ErrClosed
	}
	cur, ok := s.invitations[next.ID]
	if !ok {
		return invitations.Invitation{}, store.ErrNotFound
	}
	if cur.Status() != expectStatus || cur.Version != expectVersion {
		return invitations.Invitation{}, store.ErrConflict
	}

	next = next.Clone()
	next.Version = cur.Version + 1
	s.invitations[next.ID] = next
	s.activities[next.ID] = append(s.activities[next.ID], act)

	if err := s.runCommit(); err != nil {
		s.invitations[next.ID] = cur
		trail := s.activities[next.ID]
		s.activities[next.ID] = trail[:len(trail)-1]
		return invitations.Invitation{}, err
	}
	return next.Clone(), nil
}

func (s *Store) Activities(ctx context.Context, invitationID string) ([]invitations.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trail := slices.Clone(s.activities[invitationID])
	store.SortActivities(trail)
	return trail, nil
}

func (s *Store) runCommit() error {
	if s.commit == nil {
		return nil
	}
	return s.commit(s.snapshotLocked())
}
