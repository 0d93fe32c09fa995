// Package testutil provides the shared conformance suite for store drivers.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	"github.com/MahdiBaghbani/circleinvite/internal/store"
)

// Epoch is the creation time of fixture invitations.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// TestInvitation creates a pending invitation with the given id.
func TestInvitation(id string) invitations.Invitation {
	return invitations.Invitation{
		ID:             id,
		SenderID:       "u-alice",
		SenderName:     "Alice",
		SenderEmail:    "alice@example.com",
		RecipientEmail: "bob@example.com",
		Target:         invitations.Target{Type: invitations.TargetOrganization, ID: "org-a", Name: "Acme"},
		Role:           invitations.RoleMember,
		Teams:          []string{"t-1", "t-2"},
		Message:        "welcome aboard",
		CreatedAt:      Epoch,
		ExpiresAt:      Epoch.AddDate(0, 0, 7),
	}
}

// TestActivity creates an activity of the given type for inv.
func TestActivity(inv invitations.Invitation, typ invitations.ActivityType, at time.Time) invitations.Activity {
	return invitations.Activity{
		ID:             fmt.Sprintf("%s-%s-%d", inv.ID, typ, at.Unix()),
		Type:           typ,
		InvitationID:   inv.ID,
		TargetName:     inv.Target.Name,
		RecipientEmail: inv.RecipientEmail,
		Timestamp:      at,
	}
}

// RunDriverTests runs the standard test suite against a driver created
// through the registry.
func RunDriverTests(t *testing.T, driverName string, cfg *store.DriverConfig) {
	driver, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", driverName, err)
	}
	RunRepositoryTests(t, driverName, driver)
}

// RunRepositoryTests runs the standard test suite against an uninitialized
// repository.
func RunRepositoryTests(t *testing.T, driverName string, repo store.Repository) {
	ctx := context.Background()
	defer repo.Close()

	if err := repo.Init(ctx); err != nil {
		t.Fatalf("failed to init %s driver: %v", driverName, err)
	}

	if repo.Name() != driverName {
		t.Errorf("expected driver name %q, got %q", driverName, repo.Name())
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		TestCreateAndGet(t, ctx, repo)
	})

	t.Run("UniqueIDAndLink", func(t *testing.T) {
		TestUniqueIDAndLink(t, ctx, repo)
	})

	t.Run("ListFilters", func(t *testing.T) {
		TestListFilters(t, ctx, repo)
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		TestCompareAndSwap(t, ctx, repo)
	})

	t.Run("ConcurrentTransitions", func(t *testing.T) {
		TestConcurrentTransitions(t, ctx, repo)
	})
}

func mustCreate(t *testing.T, ctx context.Context, s store.Repository, inv invitations.Invitation) invitations.Invitation {
	t.Helper()
	created, err := s.Create(ctx, inv, TestActivity(inv, invitations.ActivitySent, inv.CreatedAt))
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", inv.ID, err)
	}
	return created
}

// TestCreateAndGet covers Create, Get, GetByLink and Activities.
func TestCreateAndGet(t *testing.T, ctx context.Context, s store.Repository) {
	inv := TestInvitation("crud-1")
	inv.Link = "crud-link-1"

	created := mustCreate(t, ctx, s, inv)
	if created.Version != 1 {
		t.Errorf("expected version 1 after create, got %d", created.Version)
	}

	got, err := s.Get(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != inv.ID || got.RecipientEmail != inv.RecipientEmail || got.Target != inv.Target {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.Status() != invitations.StatusPending {
		t.Errorf("expected pending, got %s", got.Status())
	}
	if !got.ExpiresAt.Equal(inv.ExpiresAt) || !got.CreatedAt.Equal(inv.CreatedAt) {
		t.Errorf("timestamps changed: created %v expires %v", got.CreatedAt, got.ExpiresAt)
	}
	if len(got.Teams) != 2 || got.Teams[0] != "t-1" || got.Teams[1] != "t-2" {
		t.Errorf("teams changed: %v", got.Teams)
	}
	if got.Version != 1 {
		t.Errorf("expected stored version 1, got %d", got.Version)
	}

	byLink, err := s.GetByLink(ctx, "crud-link-1")
	if err != nil {
		t.Fatalf("GetByLink failed: %v", err)
	}
	if byLink.ID != inv.ID {
		t.Errorf("GetByLink returned %q", byLink.ID)
	}

	if _, err := s.Get(ctx, "crud-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}
	if _, err := s.GetByLink(ctx, "no-such-link"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing link, got %v", err)
	}
	if _, err := s.GetByLink(ctx, ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty link, got %v", err)
	}

	acts, err := s.Activities(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Activities failed: %v", err)
	}
	if len(acts) != 1 || acts[0].Type != invitations.ActivitySent {
		t.Errorf("expected one sent activity, got %+v", acts)
	}
}

// TestUniqueIDAndLink verifies duplicate ids and links are refused.
func TestUniqueIDAndLink(t *testing.T, ctx context.Context, s store.Repository) {
	first := TestInvitation("uniq-1")
	first.Link = "uniq-link"
	mustCreate(t, ctx, s, first)

	dupID := TestInvitation("uniq-1")
	if _, err := s.Create(ctx, dupID, TestActivity(dupID, invitations.ActivitySent, Epoch)); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for duplicate id, got %v", err)
	}

	dupLink := TestInvitation("uniq-2")
	dupLink.Link = "uniq-link"
	if _, err := s.Create(ctx, dupLink, TestActivity(dupLink, invitations.ActivitySent, Epoch)); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for duplicate link, got %v", err)
	}
	if _, err := s.Get(ctx, "uniq-2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("refused create must leave nothing behind, got %v", err)
	}
}

// TestListFilters checks ordering and each filter field.
func TestListFilters(t *testing.T, ctx context.Context, s store.Repository) {
	older := TestInvitation("list-1")
	older.Target = invitations.Target{Type: invitations.TargetProject, ID: "list-proj", Name: "Rocket"}
	older.RecipientEmail = "Carol@example.com"
	older.CreatedAt = Epoch.Add(-2 * time.Hour)

	newer := TestInvitation("list-2")
	newer.Target = older.Target
	newer.SenderID = "u-dave"
	newer.CreatedAt = Epoch.Add(-1 * time.Hour)

	other := TestInvitation("list-3")
	other.Target = invitations.Target{Type: invitations.TargetTeam, ID: "list-team", Name: "Blue"}
	other.Teams = []string{"list-team"}

	mustCreate(t, ctx, s, older)
	mustCreate(t, ctx, s, newer)
	mustCreate(t, ctx, s, other)

	got, err := s.List(ctx, store.Filter{TargetType: invitations.TargetProject, TargetID: "list-proj"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "list-2" || got[1].ID != "list-1" {
		t.Errorf("expected [list-2 list-1] newest first, got %v", ids(got))
	}

	got, _ = s.List(ctx, store.Filter{TargetID: "list-proj", SenderID: "u-dave"})
	if len(got) != 1 || got[0].ID != "list-2" {
		t.Errorf("sender filter: got %v", ids(got))
	}

	got, _ = s.List(ctx, store.Filter{TargetID: "list-proj", RecipientEmail: "carol@EXAMPLE.com"})
	if len(got) != 1 || got[0].ID != "list-1" {
		t.Errorf("recipient filter must ignore case: got %v", ids(got))
	}

	got, _ = s.List(ctx, store.Filter{TargetType: invitations.TargetTeam, TargetID: "list-team"})
	if len(got) != 1 || got[0].ID != "list-3" {
		t.Errorf("team filter: got %v", ids(got))
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	for _, inv := range pending {
		if inv.Status() != invitations.StatusPending {
			t.Errorf("ListPending returned %s invitation %s", inv.Status(), inv.ID)
		}
	}
}

// TestCompareAndSwap covers a successful transition and each refusal.
func TestCompareAndSwap(t *testing.T, ctx context.Context, s store.Repository) {
	inv := mustCreate(t, ctx, s, TestInvitation("cas-1"))
	acceptedAt := Epoch.Add(time.Hour)

	next := inv.Clone()
	next.Resolution = invitations.Accepted{At: acceptedAt, RecipientID: "u-bob"}
	act := TestActivity(next, invitations.ActivityAccepted, acceptedAt)

	updated, err := s.CompareAndSwap(ctx, invitations.StatusPending, inv.Version, next, act)
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if updated.Version != inv.Version+1 {
		t.Errorf("expected version %d, got %d", inv.Version+1, updated.Version)
	}

	got, err := s.Get(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status() != invitations.StatusAccepted || got.RecipientID() != "u-bob" {
		t.Errorf("expected accepted by u-bob, got %s/%q", got.Status(), got.RecipientID())
	}
	if at := got.AcceptedAt(); at == nil || !at.Equal(acceptedAt) {
		t.Errorf("acceptedAt = %v, want %v", at, acceptedAt)
	}
	if got.Version != updated.Version {
		t.Errorf("stored version %d, returned %d", got.Version, updated.Version)
	}

	// Stale version and wrong status both lose.
	again := inv.Clone()
	again.Resolution = invitations.Rejected{At: acceptedAt}
	if _, err := s.CompareAndSwap(ctx, invitations.StatusPending, inv.Version, again, TestActivity(again, invitations.ActivityRejected, acceptedAt)); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for stale transition, got %v", err)
	}
	if _, err := s.CompareAndSwap(ctx, invitations.StatusPending, updated.Version, again, TestActivity(again, invitations.ActivityRejected, acceptedAt)); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for status mismatch, got %v", err)
	}

	missing := TestInvitation("cas-missing")
	missing.Resolution = invitations.Rejected{At: acceptedAt}
	if _, err := s.CompareAndSwap(ctx, invitations.StatusPending, 1, missing, TestActivity(missing, invitations.ActivityRejected, acceptedAt)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	acts, err := s.Activities(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Activities failed: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(acts))
	}
	if acts[0].Type != invitations.ActivitySent || acts[1].Type != invitations.ActivityAccepted {
		t.Errorf("activities out of order: %s, %s", acts[0].Type, acts[1].Type)
	}
}

// TestConcurrentTransitions races several transitions from the same
// pending version. Exactly one may win.
func TestConcurrentTransitions(t *testing.T, ctx context.Context, s store.Repository) {
	inv := mustCreate(t, ctx, s, TestInvitation("race-1"))
	at := Epoch.Add(time.Minute)

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := inv.Clone()
			typ := invitations.ActivityAccepted
			if i%2 == 0 {
				next.Resolution = invitations.Accepted{At: at, RecipientID: fmt.Sprintf("u-%d", i)}
			} else {
				next.Resolution = invitations.Cancelled{At: at, ActorID: "u-alice"}
				typ = invitations.ActivityCancelled
			}
			act := TestActivity(next, typ, at)
			act.ID = fmt.Sprintf("race-act-%d", i)

			_, err := s.CompareAndSwap(ctx, invitations.StatusPending, inv.Version, next, act)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("racer %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != racers-1 {
		t.Errorf("expected 1 win and %d conflicts, got %d and %d", racers-1, wins, conflicts)
	}

	acts, err := s.Activities(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Activities failed: %v", err)
	}
	if len(acts) != 2 {
		t.Errorf("losers must not append activities, got %d entries", len(acts))
	}
}

func ids(invs []invitations.Invitation) []string {
	out := make([]string, len(invs))
	for i, inv := range invs {
		out[i] = inv.ID
	}
	return out
}
