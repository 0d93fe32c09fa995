// Package service runs invitation lifecycle operations against a store.
//
// Every mutation follows the same path: load the current invitation, let
// the engine compute the transition, commit it with compare-and-swap and,
// if the transition asks for it, notify. A transition that loses a race
// surfaces as invitations.ErrInvalidTransition when the status moved, or
// store.ErrConflict when only the version did.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MahdiBaghbani/circleinvite/internal/components/directory"
	"github.com/MahdiBaghbani/circleinvite/internal/components/invitations"
	"github.com/MahdiBaghbani/circleinvite/internal/components/notify"
	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
	"github.com/MahdiBaghbani/circleinvite/internal/store"
)

// maxLinkAttempts bounds link re-minting when a store reports a collision.
const maxLinkAttempts = 3

// Service orchestrates the engine, the repository and the collaborators.
type Service struct {
	engine      *invitations.Engine
	repo        store.Repository
	contacts    directory.Contacts
	teams       directory.Teams
	notifier    notify.Notifier
	verifier    invitations.LinkVerifier
	defaultDays int
	now         func() time.Time
	log         *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithContacts sets the contacts directory used to resolve RecipientID.
func WithContacts(c directory.Contacts) Option {
	return func(s *Service) { s.contacts = c }
}

// WithTeams enables the team subset check for organization and project
// targets.
func WithTeams(t directory.Teams) Option {
	return func(s *Service) { s.teams = t }
}

// WithNotifier sets the notification collaborator.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithDefaultExpirationDays is used when a create form leaves
// ExpirationDays at zero.
func WithDefaultExpirationDays(days int) Option {
	return func(s *Service) { s.defaultDays = days }
}

// New creates a service. If the engine's link minter can verify its own
// tokens, link lookups are verified before they reach the store.
func New(engine *invitations.Engine, repo store.Repository, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		repo:   repo,
		now:    time.Now,
	}
	if v, ok := engine.Links().(invitations.LinkVerifier); ok {
		s.verifier = v
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logutil.NoopIfNil(s.log)
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	Target invitations.Target
	Form   invitations.FormData
}

// Create validates and stores a new invitation sent by sender.
func (s *Service) Create(ctx context.Context, sender invitations.Principal, req CreateRequest) (invitations.Transition, error) {
	form := req.Form
	if form.ExpirationDays == 0 {
		form.ExpirationDays = s.defaultDays
	}

	var contacts []invitations.CircleContact
	if strings.TrimSpace(form.RecipientID) != "" && s.contacts != nil {
		var err error
		contacts, err = s.contacts.ContactsFor(ctx, sender.ID)
		if err != nil {
			return invitations.Transition{}, fmt.Errorf("failed to load contacts: %w", err)
		}
	}

	now := s.clock()
	t, err := s.engine.Create(form, sender, req.Target, contacts, now)
	if err != nil {
		return invitations.Transition{}, err
	}
	if err := s.checkTeams(ctx, t.Invitation); err != nil {
		return invitations.Transition{}, err
	}

	for attempt := 1; ; attempt++ {
		created, err := s.repo.Create(ctx, t.Invitation, t.Activity)
		if err == nil {
			t.Invitation = created
			break
		}
		if !errors.Is(err, store.ErrAlreadyExists) || t.Invitation.Link == "" || attempt >= maxLinkAttempts {
			return invitations.Transition{}, err
		}
		s.log.WarnContext(ctx, "invitation link collision, re-minting", "attempt", attempt)
		if t, err = s.engine.RemintLink(t); err != nil {
			return invitations.Transition{}, err
		}
	}

	s.log.InfoContext(ctx, "invitation created",
		"invitation_id", t.Invitation.ID,
		"target", t.Invitation.Target.Key(),
		"role", t.Invitation.Role,
		"link", t.Invitation.Link != "",
	)
	s.notify(ctx, t)
	return t, nil
}

// checkTeams enforces that organization and project invitations only name
// teams registered under the target.
func (s *Service) checkTeams(ctx context.Context, inv invitations.Invitation) error {
	if s.teams == nil || inv.Target.Type == invitations.TargetTeam || len(inv.Teams) == 0 {
		return nil
	}
	known, ok, err := s.teams.TeamsOf(ctx, inv.Target)
	if err != nil {
		return fmt.Errorf("failed to load teams: %w", err)
	}
	if !ok {
		return nil
	}
	for _, team := range inv.Teams {
		if !slices.Contains(known, team) {
			return &invitations.ValidationError{
				Field:  "teams",
				Reason: fmt.Sprintf("team %q does not belong to %s", team, inv.Target.Key()),
			}
		}
	}
	return nil
}

// Accept accepts the invitation on behalf of p, whose email must match the
// recipient.
func (s *Service) Accept(ctx context.Context, p invitations.Principal, id string) (invitations.Transition, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return invitations.Transition{}, err
	}
	if !strings.EqualFold(p.Email, inv.RecipientEmail) {
		return invitations.Transition{}, fmt.Errorf("%w: invitation is addressed to another recipient", invitations.ErrUnauthorized)
	}
	return s.accept(ctx, p, inv)
}

// AcceptLink accepts through a shareable link. Holding the link is the
// authorization, so the recipient email is not compared.
func (s *Service) AcceptLink(ctx context.Context, p invitations.Principal, token string) (invitations.Transition, error) {
	inv, err := s.lookupLink(ctx, token)
	if err != nil {
		return invitations.Transition{}, err
	}
	return s.accept(ctx, p, inv)
}

func (s *Service) accept(ctx context.Context, p invitations.Principal, inv invitations.Invitation) (invitations.Transition, error) {
	t, err := s.engine.Accept(inv, p.ID, s.clock())
	if err != nil {
		if errors.Is(err, invitations.ErrExpired) {
			s.settle(ctx, inv)
		}
		return invitations.Transition{}, err
	}
	return s.commit(ctx, inv, t)
}

// Reject declines the invitation on behalf of its recipient.
func (s *Service) Reject(ctx context.Context, p invitations.Principal, id string) (invitations.Transition, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return invitations.Transition{}, err
	}
	if !strings.EqualFold(p.Email, inv.RecipientEmail) {
		return invitations.Transition{}, fmt.Errorf("%w: invitation is addressed to another recipient", invitations.ErrUnauthorized)
	}
	t, err := s.engine.Reject(inv, p.ID, s.clock())
	if err != nil {
		return invitations.Transition{}, err
	}
	return s.commit(ctx, inv, t)
}

// Cancel withdraws the invitation. The engine checks that p is the sender
// or an admin of the target.
func (s *Service) Cancel(ctx context.Context, p invitations.Principal, id string) (invitations.Transition, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return invitations.Transition{}, err
	}
	t, err := s.engine.Cancel(inv, p, s.clock())
	if err != nil {
		return invitations.Transition{}, err
	}
	return s.commit(ctx, inv, t)
}

// Resend extends a pending invitation. Only the sender or an admin of the
// target may resend.
func (s *Service) Resend(ctx context.Context, p invitations.Principal, id string, days int) (invitations.Transition, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return invitations.Transition{}, err
	}
	if !canManage(p, inv) {
		return invitations.Transition{}, fmt.Errorf("%w: only the sender or a target admin may resend", invitations.ErrUnauthorized)
	}
	if days == 0 {
		days = s.defaultDays
	}
	t, err := s.engine.Resend(inv, days, p.ID, s.clock())
	if err != nil {
		if errors.Is(err, invitations.ErrExpired) {
			s.settle(ctx, inv)
		}
		return invitations.Transition{}, err
	}
	return s.commit(ctx, inv, t)
}

// commit applies t on top of prev. A lost race is reported as an invalid
// transition when the status moved.
func (s *Service) commit(ctx context.Context, prev invitations.Invitation, t invitations.Transition) (invitations.Transition, error) {
	next, err := s.repo.CompareAndSwap(ctx, prev.Status(), prev.Version, t.Invitation, t.Activity)
	if err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return invitations.Transition{}, err
		}
		cur, getErr := s.repo.Get(ctx, prev.ID)
		if getErr == nil && cur.Status() != prev.Status() {
			return invitations.Transition{}, fmt.Errorf("%w: invitation is now %s", invitations.ErrInvalidTransition, cur.Status())
		}
		return invitations.Transition{}, err
	}
	t.Invitation = next

	s.log.InfoContext(ctx, "invitation transition",
		"invitation_id", next.ID,
		"activity", t.Activity.Type,
		"status", next.Status(),
		"actor_id", t.Activity.ActorID,
	)
	s.notify(ctx, t)
	return t, nil
}

func (s *Service) notify(ctx context.Context, t invitations.Transition) {
	if !t.Notify || s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, notify.Event{Invitation: t.Invitation, Activity: t.Activity}); err != nil {
		s.log.WarnContext(ctx, "invitation notification failed",
			"invitation_id", t.Invitation.ID,
			"activity", t.Activity.Type,
			"error", err,
		)
	}
}

// settle persists the expiry of an overdue pending invitation and returns
// the current value. Losing the race to another writer is fine: the
// winner's value is returned instead.
func (s *Service) settle(ctx context.Context, inv invitations.Invitation) invitations.Invitation {
	t, ok, err := s.engine.Expire(inv, s.clock())
	if err != nil || !ok {
		return inv
	}
	next, err := s.repo.CompareAndSwap(ctx, inv.Status(), inv.Version, t.Invitation, t.Activity)
	if err == nil {
		return next
	}
	if errors.Is(err, store.ErrConflict) {
		if cur, getErr := s.repo.Get(ctx, inv.ID); getErr == nil {
			return cur
		}
	}
	s.log.WarnContext(ctx, "lazy expiry failed", "invitation_id", inv.ID, "error", err)
	return inv
}

// Get returns an invitation visible to p, expiring it first if overdue.
func (s *Service) Get(ctx context.Context, p invitations.Principal, id string) (invitations.Invitation, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return invitations.Invitation{}, err
	}
	if !canView(p, inv) {
		return invitations.Invitation{}, fmt.Errorf("%w: not a party to this invitation", invitations.ErrUnauthorized)
	}
	return s.settle(ctx, inv), nil
}

// GetByLink resolves a link token for preview. No principal is needed.
func (s *Service) GetByLink(ctx context.Context, token string) (invitations.Invitation, error) {
	inv, err := s.lookupLink(ctx, token)
	if err != nil {
		return invitations.Invitation{}, err
	}
	return s.settle(ctx, inv), nil
}

func (s *Service) lookupLink(ctx context.Context, token string) (invitations.Invitation, error) {
	if token == "" {
		return invitations.Invitation{}, store.ErrNotFound
	}
	if s.verifier != nil {
		id, err := s.verifier.VerifyLink(token)
		if err != nil {
			return invitations.Invitation{}, err
		}
		inv, err := s.repo.GetByLink(ctx, token)
		if err != nil {
			return invitations.Invitation{}, err
		}
		if inv.ID != id {
			return invitations.Invitation{}, invitations.ErrInvalidLink
		}
		return inv, nil
	}
	return s.repo.GetByLink(ctx, token)
}

// ListQuery selects which invitations List returns.
type ListQuery struct {
	Status     invitations.Status
	TargetType invitations.TargetType
	TargetID   string

	// Sent lists invitations sent by the caller. Otherwise a target lists
	// everything for that target (admins only) and no target lists the
	// caller's own inbox.
	Sent bool
}

// List returns invitations for p, newest first.
func (s *Service) List(ctx context.Context, p invitations.Principal, q ListQuery) ([]invitations.Invitation, error) {
	f := store.Filter{TargetType: q.TargetType, TargetID: q.TargetID}
	switch {
	case q.Sent:
		f.SenderID = p.ID
	case q.TargetID != "":
		target := invitations.Target{Type: q.TargetType, ID: q.TargetID}
		if q.TargetType == "" || !p.RoleIn(target).Administers() {
			return nil, fmt.Errorf("%w: listing a target requires admin role", invitations.ErrUnauthorized)
		}
	default:
		if p.Email == "" {
			return nil, fmt.Errorf("%w: principal has no email", invitations.ErrUnauthorized)
		}
		f.RecipientEmail = p.Email
	}

	invs, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}

	// Settle first so a status filter sees post-expiry statuses.
	out := make([]invitations.Invitation, 0, len(invs))
	for _, inv := range invs {
		inv = s.settle(ctx, inv)
		if q.Status != "" && inv.Status() != q.Status {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

// Activities returns the trail of an invitation visible to p.
func (s *Service) Activities(ctx context.Context, p invitations.Principal, id string) ([]invitations.Activity, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(p, inv) {
		return nil, fmt.Errorf("%w: not a party to this invitation", invitations.ErrUnauthorized)
	}
	s.settle(ctx, inv)
	return s.repo.Activities(ctx, id)
}

// SweepExpired expires every overdue pending invitation and returns how
// many it committed. Invitations that moved concurrently are skipped.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	byID := make(map[string]invitations.Invitation, len(pending))
	for _, inv := range pending {
		byID[inv.ID] = inv
	}

	transitions, err := s.engine.SweepExpired(pending, s.clock())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, t := range transitions {
		prev := byID[t.Invitation.ID]
		_, err := s.repo.CompareAndSwap(ctx, prev.Status(), prev.Version, t.Invitation, t.Activity)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
			s.log.DebugContext(ctx, "sweep skipped invitation", "invitation_id", prev.ID, "error", err)
		default:
			return expired, err
		}
	}
	return expired, nil
}

func canManage(p invitations.Principal, inv invitations.Invitation) bool {
	return p.ID != "" && (p.ID == inv.SenderID || p.RoleIn(inv.Target).Administers())
}

func canView(p invitations.Principal, inv invitations.Invitation) bool {
	if canManage(p, inv) {
		return true
	}
	if p.ID != "" && p.ID == inv.RecipientID() {
		return true
	}
	return p.Email != "" && strings.EqualFold(p.Email, inv.RecipientEmail)
}
